package strategy_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/strategy"
)

func ringBackends(n int) []backend.Entry {
	entries := make([]backend.Entry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, backend.Entry{Addr: fmt.Sprintf("10.0.1.%d:9", i), Weight: 1})
	}
	return entries
}

var _ = Describe("RingHash", func() {
	newStrat := func(entries ...backend.Entry) strategy.Strategy {
		return strategy.NewRingHash(newRegistry(entries...), 1024, 8*1024*1024, testRNG(), silentLogger())
	}

	It("should fail with no backends", func() {
		strat := newStrat()
		_, ok := strat.Choose(1)
		Expect(ok).To(BeFalse())
	})

	It("should map the same identifier to the same backend", func() {
		strat := newStrat(ringBackends(10)...)
		first, ok := strat.Choose(424242)
		Expect(ok).To(BeTrue())
		for i := 0; i < 10; i++ {
			addr, _ := strat.Choose(424242)
			Expect(addr).To(Equal(first))
		}
	})

	It("should size the ring from min-ring-size when few backends are configured", func() {
		strat := newStrat(ringBackends(3)...)
		// The clamped target of 1024 is split per backend and rounded:
		// 3 x round(1024/3) = 3 x 341.
		Expect(strategy.RingSizeForTest(strat)).To(Equal(3 * 341))
	})

	It("should spread identifiers over every backend", func() {
		strat := newStrat(ringBackends(10)...)
		counts := map[string]int{}
		for id := uint64(0); id < 5000; id++ {
			addr, ok := strat.Choose(id)
			Expect(ok).To(BeTrue())
			counts[addr]++
		}
		Expect(counts).To(HaveLen(10))
	})

	It("should remap only a small fraction of identifiers when a backend is added", func() {
		const n = 10
		const ids = 5000

		// A min ring size of 1 keeps the target at 100 nodes per backend
		// both before and after the addition, so the existing nodes stay
		// where they are. With the 1024 minimum the per-backend count would
		// drop from 102 to 100 and some identifiers would move between old
		// backends.
		strat := strategy.NewRingHash(newRegistry(ringBackends(n)...), 1, 8*1024*1024, testRNG(), silentLogger())
		before := make([]string, ids)
		for id := 0; id < ids; id++ {
			before[id], _ = strat.Choose(uint64(id))
		}

		strat.AddBackend("10.0.1.99:9", 1)

		moved := 0
		for id := 0; id < ids; id++ {
			after, _ := strat.Choose(uint64(id))
			if after != before[id] {
				// Every remapped identifier must land on the new backend.
				Expect(after).To(Equal("10.0.1.99:9"))
				moved++
			}
		}
		// Expected churn is ids/(n+1); allow a generous constant.
		Expect(moved).To(BeNumerically("<", 3*ids/(n+1)))
		Expect(moved).To(BeNumerically(">", 0))
	})

	It("should give higher-weighted backends more of the keyspace", func() {
		strat := strategy.NewRingHash(newRegistry(
			backend.Entry{Addr: "heavy:9", Weight: 3},
			backend.Entry{Addr: "light:9", Weight: 1},
		), 1024, 8*1024*1024, testRNG(), silentLogger())

		counts := map[string]int{}
		for id := uint64(0); id < 8000; id++ {
			addr, _ := strat.Choose(id)
			counts[addr]++
		}
		Expect(counts["heavy:9"]).To(BeNumerically(">", 2*counts["light:9"]))
	})

	It("should fail when the ring is empty and no backend has positive weight", func() {
		strat := newStrat(backend.Entry{Addr: "a:9", Weight: 0})
		_, ok := strat.Choose(1)
		Expect(ok).To(BeFalse())

		strat.AddBackend("b:9", 0)
		_, ok = strat.Choose(1)
		Expect(ok).To(BeFalse())
	})
})
