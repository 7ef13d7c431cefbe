package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvall/lbsim/internal/backend"
	"github.com/anvall/lbsim/internal/strategy"
)

var _ = Describe("Random", func() {
	It("should fail with no backends", func() {
		strat := strategy.NewRandom(newRegistry(), testRNG(), silentLogger())
		_, ok := strat.Choose(0)
		Expect(ok).To(BeFalse())
	})

	It("should spread selections roughly uniformly, ignoring weights", func() {
		strat := strategy.NewRandom(newRegistry(
			backend.Entry{Addr: "a:9", Weight: 100},
			backend.Entry{Addr: "b:9", Weight: 1},
			backend.Entry{Addr: "c:9", Weight: 0},
		), testRNG(), silentLogger())

		counts := map[string]int{}
		for i := 0; i < 3000; i++ {
			addr, ok := strat.Choose(0)
			Expect(ok).To(BeTrue())
			counts[addr]++
		}
		Expect(counts).To(HaveLen(3))
		for _, c := range counts {
			Expect(c).To(BeNumerically("~", 1000, 150))
		}
	})
})
