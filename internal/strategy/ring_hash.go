package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/anvall/lbsim/internal/backend"
)

// defaultHashesPerHost is the baseline virtual-node count per backend
// before weight scaling and ring-size clamping.
const defaultHashesPerHost = 100

type ringEntry struct {
	hash uint64
	addr string
}

// ringHash implements Ketama-style consistent hashing: each backend owns a
// number of virtual nodes proportional to its weight, and a request maps to
// the first node at or after its own hash, wrapping around.
type ringHash struct {
	reg *backend.Registry
	log *slog.Logger
	rng *rand.Rand

	minRingSize uint64
	maxRingSize uint64
	ring        []ringEntry
}

func NewRingHash(reg *backend.Registry, minRingSize, maxRingSize uint64, rng *rand.Rand, log *slog.Logger) Strategy {
	r := &ringHash{
		reg:         reg,
		log:         log,
		rng:         rng,
		minRingSize: minRingSize,
		maxRingSize: maxRingSize,
	}
	r.rebuild()
	return r
}

func (r *ringHash) SetBackends(entries []backend.Entry) {
	r.reg.Set(entries)
	r.rebuild()
}

func (r *ringHash) AddBackend(addr string, weight uint32) {
	r.reg.Add(addr, weight)
	r.rebuild()
}

func (r *ringHash) rebuild() {
	r.ring = nil

	var totalWeight float64
	positives := uint64(0)
	for _, b := range r.reg.All() {
		if b.Weight > 0 {
			totalWeight += float64(b.Weight)
			positives++
		}
	}
	if positives == 0 {
		if r.reg.Len() > 0 {
			r.log.Warn("ring hash: no backend with positive weight, ring left empty")
		}
		return
	}

	target := positives * defaultHashesPerHost
	target = max(target, r.minRingSize)
	target = min(target, r.maxRingSize)

	// Hash collisions overwrite the earlier owner. 64-bit collisions are
	// vanishingly rare and the mapping stays consistent either way.
	points := make(map[uint64]string, target)
	for _, b := range r.reg.All() {
		if b.Weight == 0 {
			continue
		}
		share := float64(target) * float64(b.Weight) / totalWeight
		hashes := uint64(math.Round(share))
		if hashes < 1 {
			hashes = 1
		}
		for k := uint64(0); k < hashes; k++ {
			points[hashKey(fmt.Sprintf("%s_%d", b.Addr, k))] = b.Addr
		}
	}

	r.ring = make([]ringEntry, 0, len(points))
	for h, addr := range points {
		r.ring = append(r.ring, ringEntry{hash: h, addr: addr})
	}
	sort.Slice(r.ring, func(i, j int) bool { return r.ring[i].hash < r.ring[j].hash })

	r.log.Debug("ring hash rebuilt",
		slog.Uint64("virtual_nodes", uint64(len(r.ring))),
		slog.Uint64("target", target),
		slog.Uint64("backends", positives))
}

func (r *ringHash) Choose(l7ID uint64) (string, bool) {
	if len(r.ring) == 0 {
		return r.fallback()
	}

	h := hashRequest(l7ID)
	idx := sort.Search(len(r.ring), func(i int) bool { return r.ring[i].hash >= h })
	if idx == len(r.ring) {
		idx = 0
	}
	return r.ring[idx].addr, true
}

// fallback picks uniformly among positive-weight backends when the ring
// could not be built.
func (r *ringHash) fallback() (string, bool) {
	var eligible []string
	for _, b := range r.reg.All() {
		if b.Weight > 0 {
			eligible = append(eligible, b.Addr)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	r.log.Warn("ring hash: ring is empty, falling back to random selection")
	return eligible[r.rng.IntN(len(eligible))], true
}

func (r *ringHash) RecordLatency(string, time.Duration) {}

func (r *ringHash) NotifySent(string) {}

func (r *ringHash) NotifyFinished(string) {}
