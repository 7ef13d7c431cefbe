package strategy

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/anvall/lbsim/internal/backend"
)

// maglev builds the Maglev permutation lookup table: every backend walks
// its own permutation of the table (defined by a hashed offset and skip)
// claiming free slots, with a running score granting higher-weighted
// backends proportionally more turns.
type maglev struct {
	reg *backend.Registry
	log *slog.Logger
	rng *rand.Rand

	tableSize uint64
	table     []string
	built     bool
}

type maglevEntry struct {
	addr   string
	weight uint32
	offset uint64
	skip   uint64
	next   uint64
	score  float64
}

func NewMaglev(reg *backend.Registry, tableSize uint64, rng *rand.Rand, log *slog.Logger) Strategy {
	m := &maglev{reg: reg, log: log, rng: rng, tableSize: tableSize}
	m.rebuild()
	return m
}

func (m *maglev) SetBackends(entries []backend.Entry) {
	m.reg.Set(entries)
	m.rebuild()
}

func (m *maglev) AddBackend(addr string, weight uint32) {
	m.reg.Add(addr, weight)
	m.rebuild()
}

func isPrime(n uint64) bool {
	if n <= 1 {
		return false
	}
	if n <= 3 {
		return true
	}
	if n%2 == 0 || n%3 == 0 {
		return false
	}
	for i := uint64(5); i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

func (m *maglev) rebuild() {
	m.built = false
	m.table = nil

	if m.reg.Len() == 0 {
		return
	}
	if !isPrime(m.tableSize) {
		m.log.Warn("maglev table size is not prime, distribution properties degrade",
			slog.Uint64("table_size", m.tableSize))
	}

	var entries []maglevEntry
	var maxWeight uint32
	for _, b := range m.reg.All() {
		if b.Weight == 0 {
			continue
		}
		maxWeight = max(maxWeight, b.Weight)

		skip := uint64(1)
		if m.tableSize > 1 {
			skip = hashKey(b.Addr+"_skip")%(m.tableSize-1) + 1
		}
		entries = append(entries, maglevEntry{
			addr:   b.Addr,
			weight: b.Weight,
			offset: hashKey(b.Addr) % m.tableSize,
			skip:   skip,
		})
	}
	if len(entries) == 0 {
		m.log.Warn("maglev: no backend with positive weight, table not built")
		return
	}
	if uint64(len(entries)) > m.tableSize {
		m.log.Warn("maglev: more backends than table slots, some backends get no slots",
			slog.Int("backends", len(entries)),
			slog.Uint64("table_size", m.tableSize))
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.offset != b.offset {
			return a.offset < b.offset
		}
		if a.skip != b.skip {
			return a.skip < b.skip
		}
		return a.addr < b.addr
	})

	table := make([]string, m.tableSize)
	filled := uint64(0)
	for pass := uint64(1); filled < m.tableSize; pass++ {
		for i := range entries {
			e := &entries[i]
			if float64(pass)*float64(e.weight) < e.score {
				continue
			}
			e.score += float64(maxWeight)

			slot := (e.offset + e.skip*e.next) % m.tableSize
			for table[slot] != "" {
				e.next++
				slot = (e.offset + e.skip*e.next) % m.tableSize
			}
			table[slot] = e.addr
			e.next++
			filled++
			if filled == m.tableSize {
				break
			}
		}

		if pass > 2*m.tableSize && filled < m.tableSize {
			m.log.Error("maglev table build did not converge, table invalidated",
				slog.Uint64("pass", pass),
				slog.Uint64("filled", filled),
				slog.Uint64("table_size", m.tableSize))
			return
		}
	}

	m.table = table
	m.built = true
}

func (m *maglev) Choose(l7ID uint64) (string, bool) {
	if !m.built {
		return m.fallback()
	}

	addr := m.table[hashRequest(l7ID)%m.tableSize]
	if addr == "" {
		m.log.Error("maglev lookup hit an unassigned slot", slog.Uint64("l7_id", l7ID))
		return "", false
	}
	return addr, true
}

func (m *maglev) fallback() (string, bool) {
	var eligible []string
	for _, b := range m.reg.All() {
		if b.Weight > 0 {
			eligible = append(eligible, b.Addr)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	m.log.Warn("maglev: lookup table not built, falling back to random selection")
	return eligible[m.rng.IntN(len(eligible))], true
}

func (m *maglev) RecordLatency(string, time.Duration) {}

func (m *maglev) NotifySent(string) {}

func (m *maglev) NotifyFinished(string) {}
