package strategy

import (
	"log/slog"
	"time"

	"github.com/anvall/lbsim/internal/backend"
)

// weightedRoundRobin implements the Nginx-style smooth weighted rotation:
// a moving index and a current-weight marker stepped down by the GCD of the
// weights, so that higher-weighted backends are revisited proportionally
// more often without bursts.
type weightedRoundRobin struct {
	reg *backend.Registry
	log *slog.Logger

	index         int
	currentWeight int64
	maxWeight     uint32
	gcdWeight     uint32
}

func NewWeightedRoundRobin(reg *backend.Registry, log *slog.Logger) Strategy {
	w := &weightedRoundRobin{reg: reg, log: log}
	w.recalculate()
	return w
}

func (w *weightedRoundRobin) SetBackends(entries []backend.Entry) {
	w.reg.Set(entries)
	w.recalculate()
}

func (w *weightedRoundRobin) AddBackend(addr string, weight uint32) {
	w.reg.Add(addr, weight)
	w.recalculate()
}

func (w *weightedRoundRobin) recalculate() {
	w.maxWeight = 0
	w.gcdWeight = 0

	positives := 0
	for _, b := range w.reg.All() {
		if b.Weight == 0 {
			continue
		}
		positives++
		w.maxWeight = max(w.maxWeight, b.Weight)
		if w.gcdWeight == 0 {
			w.gcdWeight = b.Weight
		} else {
			w.gcdWeight = gcd(w.gcdWeight, b.Weight)
		}
	}

	if positives == 0 {
		if w.reg.Len() > 0 {
			w.log.Warn("all backends have zero weight")
		}
	} else if w.gcdWeight == 0 {
		w.gcdWeight = 1
	}

	// Start one position before the first backend so the first selection
	// lands on index 0.
	w.index = w.reg.Len() - 1
	if w.index < 0 {
		w.index = 0
	}
	w.currentWeight = 0
}

func (w *weightedRoundRobin) Choose(uint64) (string, bool) {
	all := w.reg.All()
	n := len(all)
	if n == 0 {
		return "", false
	}

	if w.maxWeight == 0 {
		// All weights are zero. Falling back to the first backend keeps
		// traffic flowing, questionable as selecting a zero-weight
		// backend is.
		w.log.Warn("no backend with positive weight, falling back to the first backend")
		return all[0].Addr, true
	}

	for {
		w.index = (w.index + 1) % n
		if w.index == 0 {
			w.currentWeight -= int64(w.gcdWeight)
			if w.currentWeight <= 0 {
				w.currentWeight = int64(w.maxWeight)
			}
		}

		b := all[w.index]
		if b.Weight > 0 && int64(b.Weight) >= w.currentWeight {
			return b.Addr, true
		}
	}
}

func (w *weightedRoundRobin) RecordLatency(string, time.Duration) {}

func (w *weightedRoundRobin) NotifySent(string) {}

func (w *weightedRoundRobin) NotifyFinished(string) {}
