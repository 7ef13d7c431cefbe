package strategy_test

import (
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/strategy"
)

var _ = Describe("PeakEWMA", func() {
	var clock clockwork.FakeClock

	BeforeEach(func() {
		clock = clockwork.NewFakeClock()
	})

	newStrat := func(entries ...backend.Entry) strategy.Strategy {
		return strategy.NewPeakEWMA(newRegistry(entries...), 10*time.Second, testRNG(), clock, silentLogger())
	}

	It("should fail with no backends", func() {
		strat := newStrat()
		_, ok := strat.Choose(0)
		Expect(ok).To(BeFalse())
	})

	It("should pick the single backend", func() {
		strat := newStrat(backend.Entry{Addr: "a:9", Weight: 1})
		addr, ok := strat.Choose(0)
		Expect(ok).To(BeTrue())
		Expect(addr).To(Equal("a:9"))
	})

	It("should prefer the faster backend after warm-up", func() {
		strat := newStrat(
			backend.Entry{Addr: "fast:9", Weight: 1},
			backend.Entry{Addr: "slow:9", Weight: 1},
		)

		for i := 0; i < 20; i++ {
			clock.Advance(100 * time.Millisecond)
			strat.RecordLatency("fast:9", 5*time.Millisecond)
			strat.RecordLatency("slow:9", 50*time.Millisecond)
		}

		counts := map[string]int{}
		for i := 0; i < 500; i++ {
			addr, ok := strat.Choose(0)
			Expect(ok).To(BeTrue())
			counts[addr]++
		}
		Expect(counts["fast:9"]).To(BeNumerically(">", counts["slow:9"]))
	})

	It("should steer around a backend with many requests pending", func() {
		strat := newStrat(
			backend.Entry{Addr: "a:9", Weight: 1},
			backend.Entry{Addr: "b:9", Weight: 1},
		)

		clock.Advance(time.Second)
		strat.RecordLatency("a:9", 5*time.Millisecond)
		strat.RecordLatency("b:9", 5*time.Millisecond)

		for i := 0; i < 10; i++ {
			strat.NotifySent("a:9")
		}

		counts := map[string]int{}
		for i := 0; i < 500; i++ {
			addr, _ := strat.Choose(0)
			counts[addr]++
		}
		Expect(counts["b:9"]).To(BeNumerically(">", counts["a:9"]))
	})

	It("should keep pending counts balanced across sent and finished", func() {
		strat := newStrat(backend.Entry{Addr: "a:9", Weight: 1})
		m := strategy.MetricForTest(strat, "a:9")

		strat.NotifySent("a:9")
		strat.NotifySent("a:9")
		Expect(m.Pending()).To(Equal(uint32(2)))

		strat.NotifyFinished("a:9")
		strat.NotifyFinished("a:9")
		strat.NotifyFinished("a:9")
		Expect(m.Pending()).To(BeZero())
	})

	Describe("backend-set changes", func() {
		It("should preserve metric state for addresses still present", func() {
			strat := newStrat(
				backend.Entry{Addr: "a:9", Weight: 1},
				backend.Entry{Addr: "b:9", Weight: 1},
			)

			clock.Advance(time.Second)
			strat.RecordLatency("a:9", 25*time.Millisecond)
			before := strategy.MetricForTest(strat, "a:9")

			strat.SetBackends([]backend.Entry{
				{Addr: "a:9", Weight: 2},
				{Addr: "c:9", Weight: 1},
			})

			Expect(strategy.MetricForTest(strat, "a:9")).To(BeIdenticalTo(before))
			Expect(strategy.MetricForTest(strat, "b:9")).To(BeNil())
			Expect(strategy.MetricForTest(strat, "c:9")).NotTo(BeNil())
		})

		It("should keep the existing metric when a backend is re-added", func() {
			strat := newStrat(backend.Entry{Addr: "a:9", Weight: 1})
			before := strategy.MetricForTest(strat, "a:9")

			strat.AddBackend("a:9", 5)
			Expect(strategy.MetricForTest(strat, "a:9")).To(BeIdenticalTo(before))
		})
	})
})
