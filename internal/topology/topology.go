package topology

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/anvall/lbsim/config"
	"github.com/anvall/lbsim/internal/app"
	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/metrics"
	"github.com/anvall/lbsim/internal/proxy"
	"github.com/anvall/lbsim/internal/simnet"
	"github.com/anvall/lbsim/internal/strategy"
)

const (
	serverPort = 9

	// Clients start after the infrastructure is up, staggered so they do
	// not all fire in the same tick.
	clientStartTime = time.Second
	clientStagger   = time.Millisecond
)

// Scenario is a fully wired simulation ready to run.
type Scenario struct {
	log     *slog.Logger
	cfg     *config.Config
	sched   *simnet.Scheduler
	net     *simnet.Network
	streams *simnet.Streams

	registry *backend.Registry
	strat    strategy.Strategy
	proxy    *proxy.Proxy
	servers  []*app.LatencyServer
	clients  []*app.LatencyClient
}

// Results aggregates what a run produced.
type Results struct {
	Latencies    []time.Duration
	Summary      metrics.Summary
	Distribution *metrics.Distribution
	RequestsSent int
	Responses    int
	ProxyStats   proxy.Stats
	ActiveTotal  uint64
}

// Build constructs the network, the load balancer with the configured
// strategy, one server per backend with its processing delay and weight,
// and the traffic clients.
func Build(cfg *config.Config, log *slog.Logger) (*Scenario, error) {
	sched := simnet.NewScheduler()
	net := simnet.NewNetwork(sched, log, cfg.LinkDelay(), cfg.Network.SendBuffer)
	streams := simnet.NewStreams(cfg.Simulation.Seed)

	registry := backend.NewRegistry(log)
	opts := strategy.Options{
		ActiveRequestBias: cfg.Strategy.ActiveRequestBias,
		MinRingSize:       cfg.Strategy.MinRingSize,
		MaxRingSize:       cfg.Strategy.MaxRingSize,
		TableSize:         cfg.Strategy.TableSize,
		DecayTime:         cfg.DecayTime(),
	}
	strat, err := strategy.New(cfg.Strategy.Algorithm, registry, opts, streams.Next(), sched, log)
	if err != nil {
		return nil, fmt.Errorf("building strategy: %w", err)
	}

	vip := fmt.Sprintf("%s:%d", cfg.Network.VIP, cfg.Network.LBPort)
	s := &Scenario{
		log:      log,
		cfg:      cfg,
		sched:    sched,
		net:      net,
		streams:  streams,
		registry: registry,
		strat:    strat,
		proxy:    proxy.New(net, vip, strat, log),
	}

	weights := fitToCount(config.ParseWeights(cfg.Backends.Weights), cfg.Simulation.Servers, uint32(1), log, "weights")
	delays := fitToCount(config.ParseDelays(cfg.Backends.Delays), cfg.Simulation.Servers, 0, log, "delays")

	for i := 0; i < cfg.Simulation.Servers; i++ {
		addr := fmt.Sprintf("10.0.1.%d:%d", i+1, serverPort)
		server := app.NewLatencyServer(net, addr, delays[i], log)
		s.servers = append(s.servers, server)
		strat.AddBackend(addr, weights[i])

		log.Info("server configured",
			slog.String("addr", addr),
			slog.Uint64("weight", uint64(weights[i])),
			slog.Duration("delay", delays[i]))
	}

	for i := 0; i < cfg.Simulation.Clients; i++ {
		client := app.NewLatencyClient(net, app.ClientConfig{
			LocalAddr:       fmt.Sprintf("10.0.2.%d:5000", i+1),
			RemoteAddr:      vip,
			RequestCount:    cfg.Traffic.RequestCount,
			RequestInterval: cfg.RequestInterval(),
			RequestSize:     cfg.Traffic.RequestSize,
		}, streams.Next(), log)
		s.clients = append(s.clients, client)
	}

	return s, nil
}

// Run starts every application, drives the event loop to the stop time,
// shuts everything down and collects the results.
func (s *Scenario) Run() (Results, error) {
	for _, server := range s.servers {
		if err := server.Start(); err != nil {
			return Results{}, fmt.Errorf("starting server %s: %w", server.Addr(), err)
		}
	}
	if err := s.proxy.Start(); err != nil {
		return Results{}, fmt.Errorf("starting load balancer: %w", err)
	}
	for i, client := range s.clients {
		c := client
		s.sched.Schedule(clientStartTime+time.Duration(i)*clientStagger, c.Start)
	}

	s.log.Info("running simulation",
		slog.Duration("stop_time", s.cfg.StopTime()),
		slog.String("algorithm", s.cfg.Strategy.Algorithm))
	s.sched.Run(s.cfg.StopTime())

	for _, client := range s.clients {
		client.Stop()
	}
	s.proxy.Stop()
	for _, server := range s.servers {
		server.Stop()
	}

	return s.collect(), nil
}

func (s *Scenario) collect() Results {
	res := Results{
		Distribution: metrics.NewDistribution(),
		ProxyStats:   s.proxy.Stats(),
		ActiveTotal:  s.registry.ActiveTotal(),
	}

	for _, client := range s.clients {
		res.Latencies = append(res.Latencies, client.Latencies()...)
		res.RequestsSent += client.RequestsSent()
		res.Responses += client.ResponsesReceived()
	}
	res.Summary = metrics.Summarize(res.Latencies)

	for _, server := range s.servers {
		res.Distribution.Record(server.Addr(), server.RequestsReceived())
	}
	return res
}

// Registry exposes the shared backend registry, mainly for inspection
// after a run.
func (s *Scenario) Registry() *backend.Registry {
	return s.registry
}

// Servers returns the backend servers in address order.
func (s *Scenario) Servers() []*app.LatencyServer {
	return s.servers
}

// Clients returns the traffic clients.
func (s *Scenario) Clients() []*app.LatencyClient {
	return s.clients
}

// Scheduler exposes the event loop, used by tests to inject mid-run
// events.
func (s *Scenario) Scheduler() *simnet.Scheduler {
	return s.sched
}

// fitToCount pads a parsed per-server list with the fallback value or
// truncates it so its length matches the server count.
func fitToCount[T any](values []T, count int, fallback T, log *slog.Logger, what string) []T {
	switch {
	case len(values) < count:
		log.Warn("fewer values than servers, padding with default",
			slog.String("list", what),
			slog.Int("have", len(values)),
			slog.Int("want", count))
		for len(values) < count {
			values = append(values, fallback)
		}
	case len(values) > count:
		log.Warn("more values than servers, ignoring extras",
			slog.String("list", what),
			slog.Int("have", len(values)),
			slog.Int("want", count))
		values = values[:count]
	}
	return values
}
