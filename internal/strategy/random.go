package strategy

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/anvall/lbsim/internal/backend"
)

// random selects a backend uniformly, ignoring weights and load.
type random struct {
	reg *backend.Registry
	log *slog.Logger
	rng *rand.Rand
}

func NewRandom(reg *backend.Registry, rng *rand.Rand, log *slog.Logger) Strategy {
	return &random{reg: reg, log: log, rng: rng}
}

func (r *random) SetBackends(entries []backend.Entry) {
	r.reg.Set(entries)
}

func (r *random) AddBackend(addr string, weight uint32) {
	r.reg.Add(addr, weight)
}

func (r *random) Choose(uint64) (string, bool) {
	all := r.reg.All()
	if len(all) == 0 {
		return "", false
	}
	return all[r.rng.IntN(len(all))].Addr, true
}

func (r *random) RecordLatency(string, time.Duration) {}

func (r *random) NotifySent(string) {}

func (r *random) NotifyFinished(string) {}
