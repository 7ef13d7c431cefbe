package simnet

import (
	"math/rand/v2"
)

// Streams hands out independent random streams derived from one base seed,
// so every consumer gets its own reproducible sequence.
type Streams struct {
	seed uint64
	next uint64
}

func NewStreams(seed uint64) *Streams {
	return &Streams{seed: seed}
}

// Stream returns the RNG for a fixed stream id. The same (seed, id) pair
// always yields the same sequence.
func (s *Streams) Stream(id uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, id))
}

// Next returns a fresh stream with the next unused id.
func (s *Streams) Next() *rand.Rand {
	s.next++
	return s.Stream(s.next)
}
