package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/strategy"
)

var _ = Describe("WeightedRoundRobin", func() {
	It("should fail with no backends", func() {
		strat := strategy.NewWeightedRoundRobin(newRegistry(), silentLogger())
		_, ok := strat.Choose(0)
		Expect(ok).To(BeFalse())
	})

	Context("with equal weights", func() {
		var strat strategy.Strategy

		BeforeEach(func() {
			strat = strategy.NewWeightedRoundRobin(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 1},
				backend.Entry{Addr: "b:9", Weight: 1},
				backend.Entry{Addr: "c:9", Weight: 1},
			), silentLogger())
		})

		It("should rotate through every backend", func() {
			var picks []string
			for i := 0; i < 6; i++ {
				addr, ok := strat.Choose(0)
				Expect(ok).To(BeTrue())
				picks = append(picks, addr)
			}
			Expect(picks).To(Equal([]string{"a:9", "b:9", "c:9", "a:9", "b:9", "c:9"}))
		})
	})

	Context("with unequal weights", func() {
		It("should distribute proportionally to weights within each cycle", func() {
			strat := strategy.NewWeightedRoundRobin(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 5},
				backend.Entry{Addr: "b:9", Weight: 3},
				backend.Entry{Addr: "c:9", Weight: 1},
			), silentLogger())

			counts := map[string]int{}
			cycles := 10
			for i := 0; i < cycles*9; i++ {
				addr, ok := strat.Choose(0)
				Expect(ok).To(BeTrue())
				counts[addr]++
			}
			Expect(counts["a:9"]).To(Equal(5 * cycles))
			Expect(counts["b:9"]).To(Equal(3 * cycles))
			Expect(counts["c:9"]).To(Equal(1 * cycles))
		})

		It("should never pick a zero-weight backend while positive weights exist", func() {
			strat := strategy.NewWeightedRoundRobin(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 2},
				backend.Entry{Addr: "idle:9", Weight: 0},
			), silentLogger())

			for i := 0; i < 20; i++ {
				addr, ok := strat.Choose(0)
				Expect(ok).To(BeTrue())
				Expect(addr).To(Equal("a:9"))
			}
		})
	})

	Context("when all weights are zero", func() {
		It("should fall back to the first backend", func() {
			strat := strategy.NewWeightedRoundRobin(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 0},
				backend.Entry{Addr: "b:9", Weight: 0},
			), silentLogger())

			addr, ok := strat.Choose(0)
			Expect(ok).To(BeTrue())
			Expect(addr).To(Equal("a:9"))
		})
	})

	It("should restart the rotation after a backend-set change", func() {
		strat := strategy.NewWeightedRoundRobin(newRegistry(
			backend.Entry{Addr: "a:9", Weight: 1},
			backend.Entry{Addr: "b:9", Weight: 1},
		), silentLogger())

		strat.Choose(0)
		strat.AddBackend("c:9", 1)

		addr, ok := strat.Choose(0)
		Expect(ok).To(BeTrue())
		Expect(addr).To(Equal("a:9"))
	})
})
