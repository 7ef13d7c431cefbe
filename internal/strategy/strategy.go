package strategy

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/anvall/lbsim/internal/backend"
)

// Clock supplies the current virtual time. The simulation scheduler
// satisfies it in production; tests substitute a fake clock.
type Clock interface {
	Now() time.Time
}

// Strategy selects a backend for every request and receives the request
// lifecycle feedback the latency- and load-aware algorithms depend on.
//
// SetBackends and AddBackend mutate the shared registry and rebuild any
// derived state (ring, lookup table, weight flags, metric maps).
type Strategy interface {
	SetBackends(entries []backend.Entry)
	AddBackend(addr string, weight uint32)

	// Choose returns the address of the backend for a request, or false
	// when no backend can be selected.
	Choose(l7ID uint64) (string, bool)

	// RecordLatency reports an observed request round-trip time.
	RecordLatency(addr string, rtt time.Duration)

	// NotifySent and NotifyFinished bracket a request's time in flight.
	NotifySent(addr string)
	NotifyFinished(addr string)
}

// Algorithm names accepted by New.
const (
	NameWRR          = "WRR"
	NameLeastRequest = "LR"
	NameRandom       = "Random"
	NameRingHash     = "RingHash"
	NameMaglev       = "Maglev"
	NamePeakEWMA     = "PeakEWMA"
)

// Options carries per-algorithm tuning. Fields not used by the selected
// algorithm are ignored.
type Options struct {
	ActiveRequestBias float64
	MinRingSize       uint64
	MaxRingSize       uint64
	TableSize         uint64
	DecayTime         time.Duration
}

// DefaultOptions returns the documented defaults for every algorithm.
func DefaultOptions() Options {
	return Options{
		ActiveRequestBias: 1.0,
		MinRingSize:       1024,
		MaxRingSize:       8 * 1024 * 1024,
		TableSize:         65537,
		DecayTime:         10 * time.Second,
	}
}

// Validate rejects configurations the algorithms cannot run with.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.ActiveRequestBias, validation.Min(0.0)),
		validation.Field(&o.MinRingSize, validation.Required, validation.Min(uint64(1))),
		validation.Field(&o.MaxRingSize, validation.Required, validation.Min(uint64(1)), validation.By(func(any) error {
			if o.MinRingSize > o.MaxRingSize {
				return validation.NewError("validation_ring_size", "min ring size must not exceed max ring size")
			}
			return nil
		})),
		validation.Field(&o.TableSize, validation.Required, validation.Min(uint64(1))),
		validation.Field(&o.DecayTime, validation.Required, validation.Min(time.Millisecond)),
	)
}

// New builds the named strategy over the shared registry. The rng must come
// from the runtime's stream factory so runs stay reproducible.
func New(name string, reg *backend.Registry, opts Options, rng *rand.Rand, clock Clock, log *slog.Logger) (Strategy, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("strategy options: %w", err)
	}

	switch name {
	case NameWRR:
		return NewWeightedRoundRobin(reg, log), nil
	case NameLeastRequest:
		return NewLeastRequest(reg, opts.ActiveRequestBias, rng, log), nil
	case NameRandom:
		return NewRandom(reg, rng, log), nil
	case NameRingHash:
		return NewRingHash(reg, opts.MinRingSize, opts.MaxRingSize, rng, log), nil
	case NameMaglev:
		return NewMaglev(reg, opts.TableSize, rng, log), nil
	case NamePeakEWMA:
		return NewPeakEWMA(reg, opts.DecayTime, rng, clock, log), nil
	default:
		return nil, fmt.Errorf("unknown load balancing algorithm %q", name)
	}
}

// pickTwoDistinct draws two indices in [0, n), retrying up to ten times to
// make them distinct. Callers must handle the equal-index outcome.
func pickTwoDistinct(rng *rand.Rand, n int) (int, int) {
	i := rng.IntN(n)
	j := i
	for attempts := 0; j == i && n > 1 && attempts < 10; attempts++ {
		j = rng.IntN(n)
	}
	return i, j
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
