package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/strategy"
)

var _ = Describe("Maglev", func() {
	const tableSize = 65537

	newStrat := func(entries ...backend.Entry) strategy.Strategy {
		return strategy.NewMaglev(newRegistry(entries...), tableSize, testRNG(), silentLogger())
	}

	It("should fail with no backends", func() {
		strat := newStrat()
		_, ok := strat.Choose(1)
		Expect(ok).To(BeFalse())
	})

	It("should map the same identifier to the same backend", func() {
		strat := newStrat(ringBackends(10)...)
		first, ok := strat.Choose(7)
		Expect(ok).To(BeTrue())
		for i := 0; i < 10; i++ {
			addr, _ := strat.Choose(7)
			Expect(addr).To(Equal(first))
		}
	})

	It("should fill every slot with equal-weight slot counts differing by at most one", func() {
		const n = 100
		strat := newStrat(ringBackends(n)...)

		table := strategy.MaglevTableForTest(strat)
		Expect(table).To(HaveLen(tableSize))

		counts := map[string]int{}
		for _, addr := range table {
			Expect(addr).NotTo(BeEmpty())
			counts[addr]++
		}
		Expect(counts).To(HaveLen(n))

		minCount, maxCount := tableSize, 0
		for _, c := range counts {
			minCount = min(minCount, c)
			maxCount = max(maxCount, c)
		}
		Expect(maxCount - minCount).To(BeNumerically("<=", 1))
	})

	It("should give higher-weighted backends proportionally more slots", func() {
		strat := strategy.NewMaglev(newRegistry(
			backend.Entry{Addr: "heavy:9", Weight: 3},
			backend.Entry{Addr: "light:9", Weight: 1},
		), tableSize, testRNG(), silentLogger())

		counts := map[string]int{}
		for _, addr := range strategy.MaglevTableForTest(strat) {
			counts[addr]++
		}
		ratio := float64(counts["heavy:9"]) / float64(counts["light:9"])
		Expect(ratio).To(BeNumerically("~", 3.0, 0.2))
	})

	It("should disturb only a bounded share of the table when a backend is removed", func() {
		const n = 10
		entries := ringBackends(n)

		strat := newStrat(entries...)
		before := append([]string(nil), strategy.MaglevTableForTest(strat)...)

		strat.SetBackends(entries[:n-1])
		after := strategy.MaglevTableForTest(strat)

		removed := entries[n-1].Addr
		changed := 0
		for i := range after {
			if after[i] != before[i] {
				changed++
			}
		}
		// The removed backend owned about tableSize/n slots; allow a few
		// multiples of that for knock-on moves.
		Expect(changed).To(BeNumerically("<", 3*tableSize/n))

		for _, addr := range after {
			Expect(addr).NotTo(Equal(removed))
		}
	})

	It("should fail when the table is not built and no backend has positive weight", func() {
		strat := newStrat(
			backend.Entry{Addr: "a:9", Weight: 0},
			backend.Entry{Addr: "b:9", Weight: 0},
		)
		Expect(strategy.MaglevTableForTest(strat)).To(BeNil())

		_, ok := strat.Choose(1)
		Expect(ok).To(BeFalse())
	})

	It("should build a single-slot table", func() {
		strat := strategy.NewMaglev(newRegistry(
			backend.Entry{Addr: "a:9", Weight: 1},
		), 1, testRNG(), silentLogger())

		addr, ok := strat.Choose(99)
		Expect(ok).To(BeTrue())
		Expect(addr).To(Equal("a:9"))
	})
})
