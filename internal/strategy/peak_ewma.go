package strategy

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/anvall/lbsim/internal/backend"
)

// peakEWMA picks between two random backends by comparing their EwmaMetric
// load scores, preferring the one with the lower combination of decayed
// latency and in-flight requests.
type peakEWMA struct {
	reg   *backend.Registry
	log   *slog.Logger
	rng   *rand.Rand
	clock Clock

	decay   time.Duration
	metrics map[string]*EwmaMetric
}

func NewPeakEWMA(reg *backend.Registry, decay time.Duration, rng *rand.Rand, clock Clock, log *slog.Logger) Strategy {
	p := &peakEWMA{
		reg:     reg,
		log:     log,
		rng:     rng,
		clock:   clock,
		decay:   decay,
		metrics: make(map[string]*EwmaMetric),
	}
	p.syncMetrics()
	return p
}

func (p *peakEWMA) SetBackends(entries []backend.Entry) {
	p.reg.Set(entries)
	p.syncMetrics()
}

func (p *peakEWMA) AddBackend(addr string, weight uint32) {
	p.reg.Add(addr, weight)
	if _, ok := p.metrics[addr]; !ok {
		p.metrics[addr] = NewEwmaMetric(p.clock, p.decay)
	}
}

// syncMetrics rebuilds the metric map against the registry, keeping the
// accumulated state of every address that is still present.
func (p *peakEWMA) syncMetrics() {
	fresh := make(map[string]*EwmaMetric, p.reg.Len())
	for _, b := range p.reg.All() {
		if m, ok := p.metrics[b.Addr]; ok {
			fresh[b.Addr] = m
		} else {
			fresh[b.Addr] = NewEwmaMetric(p.clock, p.decay)
		}
	}
	p.metrics = fresh
}

func (p *peakEWMA) Choose(uint64) (string, bool) {
	all := p.reg.All()
	n := len(all)
	if n == 0 {
		return "", false
	}
	if n == 1 {
		return all[0].Addr, true
	}

	i, j := pickTwoDistinct(p.rng, n)
	if i == j {
		return all[i].Addr, true
	}

	loadI := p.load(all[i].Addr)
	loadJ := p.load(all[j].Addr)
	switch {
	case loadI < loadJ:
		return all[i].Addr, true
	case loadJ < loadI:
		return all[j].Addr, true
	case p.rng.Float64() < 0.5:
		return all[i].Addr, true
	default:
		return all[j].Addr, true
	}
}

func (p *peakEWMA) load(addr string) float64 {
	m, ok := p.metrics[addr]
	if !ok {
		p.log.Warn("no latency metric for backend, treating as fully loaded", slog.String("addr", addr))
		return math.MaxFloat64
	}
	return m.Load()
}

func (p *peakEWMA) RecordLatency(addr string, rtt time.Duration) {
	m, ok := p.metrics[addr]
	if !ok {
		p.log.Warn("latency observation for unknown backend", slog.String("addr", addr))
		return
	}
	m.Observe(rtt)
}

func (p *peakEWMA) NotifySent(addr string) {
	m, ok := p.metrics[addr]
	if !ok {
		p.log.Warn("request-sent notification for unknown backend", slog.String("addr", addr))
		return
	}
	m.IncrementPending()
}

func (p *peakEWMA) NotifyFinished(addr string) {
	m, ok := p.metrics[addr]
	if !ok {
		p.log.Warn("request-finished notification for unknown backend", slog.String("addr", addr))
		return
	}
	m.DecrementPending()
}
