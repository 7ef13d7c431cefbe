package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anvall/lbsim/config"
	"github.com/anvall/lbsim/internal/topology"
	"github.com/anvall/lbsim/pkg/logger"
)

// flagBindings maps every command-line flag to its configuration key.
var flagBindings = map[string]string{
	"clients":             "simulation.clients",
	"servers":             "simulation.servers",
	"sim-time":            "simulation.stop_time",
	"seed":                "simulation.seed",
	"request-count":       "traffic.request_count",
	"request-interval":    "traffic.request_interval",
	"request-size":        "traffic.request_size",
	"vip":                 "network.vip",
	"lb-port":             "network.lb_port",
	"link-delay":          "network.link_delay",
	"send-buffer":         "network.send_buffer",
	"weights":             "backends.weights",
	"server-delays":       "backends.delays",
	"algorithm":           "strategy.algorithm",
	"active-request-bias": "strategy.active_request_bias",
	"min-ring-size":       "strategy.min_ring_size",
	"max-ring-size":       "strategy.max_ring_size",
	"table-size":          "strategy.table_size",
	"decay-time":          "strategy.decay_time",
	"log-level":           "logging.level",
	"environment":         "logging.environment",
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "lbsim",
		Short:         "Discrete-event simulation of a Layer-7 TCP load balancer",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(v)
		},
	}

	addFlags(cmd.Flags())
	for flag, key := range flagBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}

	return cmd
}

func addFlags(flags *pflag.FlagSet) {
	flags.Int("clients", 10, "number of client applications")
	flags.Int("servers", 10, "number of backend servers")
	flags.String("sim-time", "15s", "total simulation time")
	flags.Uint64("seed", 1, "base seed for every random stream")
	flags.Int("request-count", 100, "requests per client (0 for continuous)")
	flags.String("request-interval", "100ms", "interval between client requests")
	flags.Int("request-size", 100, "request payload size in bytes")
	flags.String("vip", "192.168.1.1", "load balancer virtual IP address")
	flags.Int("lb-port", 80, "load balancer listen port")
	flags.String("link-delay", "25us", "one-way link propagation delay")
	flags.Int("send-buffer", 65536, "per-socket send buffer size in bytes")
	flags.String("weights", "1,1,1,1,1,1,1,1,1,1", "comma-separated server weights")
	flags.String("server-delays", "5,5,5,5,5,5,5,5,5,50", "comma-separated server processing delays (ms)")
	flags.String("algorithm", "PeakEWMA", "load balancing algorithm (WRR, LR, Random, RingHash, Maglev, PeakEWMA)")
	flags.Float64("active-request-bias", 1.0, "least-request active request bias")
	flags.Uint64("min-ring-size", 1024, "ring hash minimum ring size")
	flags.Uint64("max-ring-size", 8*1024*1024, "ring hash maximum ring size")
	flags.Uint64("table-size", 65537, "maglev lookup table size (prime recommended)")
	flags.String("decay-time", "10s", "peak-EWMA decay window")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("environment", "dev", "environment name (dev, staging, prod)")
}

func runSimulation(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, false, cfg.Logging.Environment)

	scenario, err := topology.Build(cfg, log)
	if err != nil {
		log.Error("failed to build scenario", slog.Any("err", err))
		return err
	}

	results, err := scenario.Run()
	if err != nil {
		log.Error("simulation failed", slog.Any("err", err))
		return err
	}

	report(log, cfg, results)
	return nil
}
