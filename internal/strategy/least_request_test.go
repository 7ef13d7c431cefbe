package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/strategy"
)

var _ = Describe("LeastRequest", func() {
	It("should fail with no backends", func() {
		strat := strategy.NewLeastRequest(newRegistry(), 1.0, testRNG(), silentLogger())
		_, ok := strat.Choose(0)
		Expect(ok).To(BeFalse())
	})

	It("should pick the single backend", func() {
		strat := strategy.NewLeastRequest(newRegistry(
			backend.Entry{Addr: "a:9", Weight: 1},
		), 1.0, testRNG(), silentLogger())

		addr, ok := strat.Choose(0)
		Expect(ok).To(BeTrue())
		Expect(addr).To(Equal("a:9"))
	})

	Context("with equal weights", func() {
		var strat strategy.Strategy

		BeforeEach(func() {
			strat = strategy.NewLeastRequest(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 1},
				backend.Entry{Addr: "b:9", Weight: 1},
			), 1.0, testRNG(), silentLogger())
		})

		It("should avoid the loaded backend", func() {
			for i := 0; i < 5; i++ {
				strat.NotifySent("a:9")
			}

			counts := map[string]int{}
			for i := 0; i < 100; i++ {
				addr, ok := strat.Choose(0)
				Expect(ok).To(BeTrue())
				counts[addr]++
			}
			Expect(counts["b:9"]).To(BeNumerically(">", counts["a:9"]))
		})

		It("should balance when nothing is in flight", func() {
			counts := map[string]int{}
			for i := 0; i < 1000; i++ {
				addr, _ := strat.Choose(0)
				counts[addr]++
			}
			Expect(counts["a:9"]).To(BeNumerically("~", 500, 100))
			Expect(counts["b:9"]).To(BeNumerically("~", 500, 100))
		})
	})

	Context("with unequal weights", func() {
		It("should weight the draw by weight/(active+1)^bias", func() {
			strat := strategy.NewLeastRequest(newRegistry(
				backend.Entry{Addr: "heavy:9", Weight: 4},
				backend.Entry{Addr: "light:9", Weight: 1},
			), 1.0, testRNG(), silentLogger())

			counts := map[string]int{}
			for i := 0; i < 5000; i++ {
				addr, ok := strat.Choose(0)
				Expect(ok).To(BeTrue())
				counts[addr]++
			}
			Expect(counts["heavy:9"]).To(BeNumerically("~", 4000, 300))
		})

		It("should shift traffic away as in-flight counts grow", func() {
			strat := strategy.NewLeastRequest(newRegistry(
				backend.Entry{Addr: "heavy:9", Weight: 4},
				backend.Entry{Addr: "light:9", Weight: 1},
			), 1.0, testRNG(), silentLogger())

			// 7 in flight on the heavy backend halves its effective
			// weight below the light one: 4/8 < 1/1.
			for i := 0; i < 7; i++ {
				strat.NotifySent("heavy:9")
			}

			counts := map[string]int{}
			for i := 0; i < 5000; i++ {
				addr, _ := strat.Choose(0)
				counts[addr]++
			}
			Expect(counts["light:9"]).To(BeNumerically(">", counts["heavy:9"]))
		})

		It("should skip zero-weight backends", func() {
			strat := strategy.NewLeastRequest(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 2},
				backend.Entry{Addr: "idle:9", Weight: 0},
			), 1.0, testRNG(), silentLogger())

			for i := 0; i < 50; i++ {
				addr, ok := strat.Choose(0)
				Expect(ok).To(BeTrue())
				Expect(addr).To(Equal("a:9"))
			}
		})

		It("should treat all-zero weights as equal and pick by P2C", func() {
			// Identical weights, zero included, select the equal-weights
			// P2C path, which picks among every registered backend.
			strat := strategy.NewLeastRequest(newRegistry(
				backend.Entry{Addr: "a:9", Weight: 0},
				backend.Entry{Addr: "b:9", Weight: 0},
			), 1.0, testRNG(), silentLogger())

			addr, ok := strat.Choose(0)
			Expect(ok).To(BeTrue())
			Expect(addr).To(BeElementOf("a:9", "b:9"))
		})
	})

	It("should keep the shared in-flight counts balanced", func() {
		reg := newRegistry(backend.Entry{Addr: "a:9", Weight: 1})
		strat := strategy.NewLeastRequest(reg, 1.0, testRNG(), silentLogger())

		strat.NotifySent("a:9")
		strat.NotifySent("a:9")
		strat.NotifyFinished("a:9")
		Expect(reg.Find("a:9").ActiveRequests()).To(Equal(uint32(1)))

		strat.NotifyFinished("a:9")
		strat.NotifyFinished("a:9")
		Expect(reg.Find("a:9").ActiveRequests()).To(BeZero())
	})
})
