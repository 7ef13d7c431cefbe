package strategy

import (
	"math"
	"time"
)

// defaultPenaltyNs is the load attributed to a backend whose cost estimate
// is zero but which has requests in flight: a new backend, or one whose
// estimate was just reset by a latency peak.
const defaultPenaltyNs = float64(time.Second)

// EwmaMetric tracks one backend's latency as a peak-sensitive
// exponentially weighted moving average of observed round-trip times, in
// nanoseconds, together with the number of requests in flight.
//
// A sample above the current estimate zeroes the estimate before the EWMA
// update, which pushes the next Load query into the penalty branch and
// makes the metric react quickly to latency spikes.
type EwmaMetric struct {
	clock   Clock
	stamp   time.Time
	pending uint32
	cost    float64
	decay   float64
	penalty float64
}

// NewEwmaMetric creates a metric decaying over the given window. The decay
// is floored at one nanosecond.
func NewEwmaMetric(clock Clock, decay time.Duration) *EwmaMetric {
	if decay < time.Nanosecond {
		decay = time.Nanosecond
	}
	return &EwmaMetric{
		clock:   clock,
		stamp:   clock.Now(),
		decay:   float64(decay.Nanoseconds()),
		penalty: defaultPenaltyNs,
	}
}

// Observe folds a round-trip time sample into the estimate.
func (m *EwmaMetric) Observe(rtt time.Duration) {
	now := m.clock.Now()
	dt := now.Sub(m.stamp)
	if dt < 0 {
		dt = 0
	}
	m.stamp = now

	sample := float64(rtt.Nanoseconds())
	if sample > m.cost && m.cost > epsilon {
		m.cost = 0
	}

	w := math.Exp(-float64(dt.Nanoseconds()) / m.decay)
	m.cost = m.cost*w + sample*(1-w)
}

// Load returns the current load score: the decayed cost scaled by the
// in-flight count, or the penalty when the cost estimate is zero while
// requests are outstanding.
func (m *EwmaMetric) Load() float64 {
	now := m.clock.Now()
	dt := now.Sub(m.stamp)
	if dt > 0 {
		m.cost *= math.Exp(-float64(dt.Nanoseconds()) / m.decay)
		m.stamp = now
	}

	var load float64
	if m.cost <= epsilon && m.pending > 0 {
		load = m.penalty + float64(m.pending)
	} else {
		load = m.cost * float64(m.pending+1)
	}
	return math.Max(0, load)
}

func (m *EwmaMetric) IncrementPending() {
	m.pending++
}

func (m *EwmaMetric) DecrementPending() {
	if m.pending > 0 {
		m.pending--
	}
}

// Pending returns the in-flight count as this metric sees it.
func (m *EwmaMetric) Pending() uint32 {
	return m.pending
}

// Cost returns the raw EWMA estimate in nanoseconds.
func (m *EwmaMetric) Cost() float64 {
	return m.cost
}
