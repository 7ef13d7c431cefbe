package strategy

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/anvall/lbsim/internal/backend"
)

// leastRequest routes to lightly loaded backends. With equal weights it is
// pure power-of-two-choices on the in-flight counts; with unequal weights
// each backend gets an effective weight of weight/(active+1)^bias and a
// cumulative weighted draw decides.
type leastRequest struct {
	reg *backend.Registry
	log *slog.Logger
	rng *rand.Rand

	bias         float64
	weightsEqual bool
}

func NewLeastRequest(reg *backend.Registry, bias float64, rng *rand.Rand, log *slog.Logger) Strategy {
	l := &leastRequest{reg: reg, log: log, rng: rng, bias: bias}
	l.checkWeights()
	return l
}

func (l *leastRequest) SetBackends(entries []backend.Entry) {
	l.reg.Set(entries)
	l.checkWeights()
}

func (l *leastRequest) AddBackend(addr string, weight uint32) {
	l.reg.Add(addr, weight)
	l.checkWeights()
}

func (l *leastRequest) checkWeights() {
	all := l.reg.All()
	l.weightsEqual = true
	for i := 1; i < len(all); i++ {
		if all[i].Weight != all[0].Weight {
			l.weightsEqual = false
			return
		}
	}
}

func (l *leastRequest) Choose(uint64) (string, bool) {
	all := l.reg.All()
	n := len(all)
	if n == 0 {
		return "", false
	}

	if l.weightsEqual {
		if n == 1 {
			return all[0].Addr, true
		}
		idx := l.p2c(indexRange(n))
		return all[idx].Addr, true
	}

	effective := make([]float64, n)
	var eligible []int
	var total float64
	for i, b := range all {
		if b.Weight == 0 {
			continue
		}
		denom := math.Pow(float64(b.ActiveRequests())+1.0, l.bias)
		ew := float64(b.Weight)
		if denom > epsilon {
			ew = float64(b.Weight) / denom
		}
		effective[i] = math.Max(0, ew)
		total += effective[i]
		eligible = append(eligible, i)
	}

	if len(eligible) == 0 {
		l.log.Warn("no backend with positive weight available")
		return "", false
	}

	if total <= epsilon {
		// Effective weights collapsed to zero, fall back to P2C among
		// the eligible backends.
		if len(eligible) == 1 {
			return all[eligible[0]].Addr, true
		}
		idx := l.p2c(eligible)
		return all[idx].Addr, true
	}

	pick := l.rng.Float64() * total
	var sum float64
	for _, i := range eligible {
		sum += effective[i]
		if pick <= sum {
			return all[i].Addr, true
		}
	}
	// Floating point can leave pick marginally above the final sum; the
	// last eligible backend absorbs it.
	return all[eligible[len(eligible)-1]].Addr, true
}

// p2c picks between two random members of candidates by in-flight count,
// breaking ties with a coin flip.
func (l *leastRequest) p2c(candidates []int) int {
	all := l.reg.All()
	i, j := pickTwoDistinct(l.rng, len(candidates))
	if i == j {
		return candidates[i]
	}
	a, b := candidates[i], candidates[j]
	switch {
	case all[a].ActiveRequests() < all[b].ActiveRequests():
		return a
	case all[b].ActiveRequests() < all[a].ActiveRequests():
		return b
	case l.rng.Float64() < 0.5:
		return a
	default:
		return b
	}
}

func (l *leastRequest) RecordLatency(string, time.Duration) {}

func (l *leastRequest) NotifySent(addr string) {
	l.reg.MarkSent(addr)
}

func (l *leastRequest) NotifyFinished(addr string) {
	l.reg.MarkFinished(addr)
}

const epsilon = 2.220446049250313e-16

func indexRange(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
