package hierarchy_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tracesim/cache"
	"github.com/sarchlab/tracesim/config"
	"github.com/sarchlab/tracesim/hierarchy"
)

func TestHierarchy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Hierarchy Suite")
}

// dirtyLines counts the dirty lines across a whole level.
func dirtyLines(c *cache.Cache) int {
	count := 0
	for _, set := range c.Sets() {
		for _, ln := range set.Lines {
			if ln.Valid && ln.Dirty {
				count++
			}
		}
	}
	return count
}

// noDirtyLines asserts that no level holds a dirty line.
func noDirtyLines(h *hierarchy.Hierarchy) {
	Expect(dirtyLines(h.L1I())).To(Equal(0))
	Expect(dirtyLines(h.L1D())).To(Equal(0))
	Expect(dirtyLines(h.L2())).To(Equal(0))
}

var _ = Describe("Hierarchy", func() {
	var h *hierarchy.Hierarchy

	BeforeEach(func() {
		var err error
		h, err = hierarchy.New(config.Default())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("construction", func() {
		It("should reject bad geometry naming the level", func() {
			cfg := config.Default()
			cfg.L1D.Size = 500
			_, err := hierarchy.New(cfg)
			Expect(err).To(MatchError(ContainSubstring("L1D")))
		})

		It("should reject an unknown replacement policy", func() {
			cfg := config.Default()
			cfg.L2.ReplacementPolicy = "clock"
			_, err := hierarchy.New(cfg)
			Expect(err).To(MatchError(ContainSubstring("L2")))
			Expect(err).To(MatchError(ContainSubstring("clock")))
		})

		It("should reject an unknown mapping", func() {
			cfg := config.Default()
			cfg.L1I.Mapping = "skewed"
			_, err := hierarchy.New(cfg)
			Expect(err).To(MatchError(ContainSubstring("L1I")))
		})

		It("should reject an unknown write policy", func() {
			cfg := config.Default()
			cfg.L1D.WritePolicy = "write-around"
			_, err := hierarchy.New(cfg)
			Expect(err).To(MatchError(ContainSubstring("L1D")))
		})
	})

	Describe("fetch", func() {
		It("should miss every level on a cold hierarchy", func() {
			data := h.Fetch(0x0000)
			Expect(data).To(Equal(uint64(0)))

			Expect(cmp.Diff(cache.Counters{ReadMiss: 1}, h.L1I().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{ReadMiss: 1}, h.L2().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{}, h.L1D().Counters())).To(BeEmpty())
		})

		It("should hit L1I on a refetch", func() {
			h.Fetch(0x0000)
			h.Fetch(0x0000)

			Expect(cmp.Diff(cache.Counters{ReadHit: 1, ReadMiss: 1},
				h.L1I().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{ReadMiss: 1},
				h.L2().Counters())).To(BeEmpty())
		})

		It("should fill L1D from an L2 hit without touching L1I", func() {
			h.Fetch(0x40)
			h.Read(0x40)

			Expect(cmp.Diff(cache.Counters{ReadMiss: 1}, h.L1I().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{ReadMiss: 1}, h.L1D().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{ReadHit: 1, ReadMiss: 1},
				h.L2().Counters())).To(BeEmpty())
		})
	})

	Describe("read", func() {
		It("should hit L1D within the same block", func() {
			h.Read(0x00)
			h.Read(0x08)

			Expect(cmp.Diff(cache.Counters{ReadHit: 1, ReadMiss: 1},
				h.L1D().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{ReadMiss: 1}, h.L2().Counters())).To(BeEmpty())
		})

		It("should always return zero data", func() {
			h.Write(0x80, 0xDEADBEEF)
			Expect(h.Read(0x80)).To(Equal(uint64(0)))
		})
	})

	Describe("write-back writes", func() {
		It("should install dirty on a write miss and hit on the following read", func() {
			h.Write(0x80, 0)

			Expect(h.L1D().Counters().WriteMiss).To(Equal(uint64(1)))
			Expect(dirtyLines(h.L1D())).To(Equal(1))

			// The L2 copy stays clean until the dirty line is evicted.
			Expect(dirtyLines(h.L2())).To(Equal(0))

			h.Read(0x80)
			Expect(h.L1D().Counters().ReadHit).To(Equal(uint64(1)))
		})

		It("should mark the line dirty on a write hit", func() {
			h.Read(0x80)
			Expect(dirtyLines(h.L1D())).To(Equal(0))

			h.Write(0x80, 0)
			Expect(h.L1D().Counters().WriteHit).To(Equal(uint64(1)))
			Expect(dirtyLines(h.L1D())).To(Equal(1))
		})

		It("should write back dirty victims when a set overflows", func() {
			// L1D is 2-way with 4 sets; these four addresses share set 0
			// with distinct tags.
			for _, addr := range []uint64{0x000, 0x400, 0x800, 0xC00} {
				h.Write(addr, 0)
			}

			l1d := h.L1D().Counters()
			Expect(l1d.WriteMiss).To(Equal(uint64(4)))
			Expect(l1d.Evictions).To(Equal(uint64(2)))
			Expect(l1d.Writebacks).To(Equal(uint64(2)))
			Expect(dirtyLines(h.L1D())).To(Equal(2))

			l2 := h.L2().Counters()
			Expect(l2.WriteHit).To(Equal(uint64(1)))
			Expect(l2.WriteMiss).To(Equal(uint64(5)))
		})
	})

	Describe("write-through writes", func() {
		BeforeEach(func() {
			cfg := config.Default()
			cfg.L1D.WritePolicy = "write-through"
			var err error
			h, err = hierarchy.New(cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should probe both levels on a write miss", func() {
			h.Write(0x100, 0)

			Expect(cmp.Diff(cache.Counters{WriteMiss: 1}, h.L1D().Counters())).To(BeEmpty())
			Expect(cmp.Diff(cache.Counters{WriteMiss: 1}, h.L2().Counters())).To(BeEmpty())
			noDirtyLines(h)
		})

		It("should keep every line clean under repeated writes", func() {
			for i := 0; i < 5; i++ {
				h.Write(0x100, 0)
			}

			l1d := h.L1D().Counters()
			Expect(l1d.WriteMiss).To(Equal(uint64(1)))
			Expect(l1d.WriteHit).To(Equal(uint64(4)))
			noDirtyLines(h)
		})

		It("should ensure the block is present in L2 on an L1D hit", func() {
			h.Write(0x100, 0)
			h.Write(0x100, 0)

			l2 := h.L2().Counters()
			Expect(l2.WriteMiss).To(Equal(uint64(1)))
			Expect(l2.WriteHit).To(Equal(uint64(1)))

			_, ok := h.L2().Lookup(0x100)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("accounting", func() {
		It("should count every event as an executed instruction", func() {
			h.Fetch(0x00)
			h.Read(0x40)
			h.Write(0x80, 0)

			Expect(h.InstructionCount()).To(Equal(uint64(3)))
		})

		It("should keep counters monotonic and consistent with probes", func() {
			addrs := []uint64{0x00, 0x400, 0x800, 0xC00, 0x00, 0x40, 0x1000}
			var prev uint64
			for _, addr := range addrs {
				h.Read(addr)
				h.Write(addr, 0)

				total := h.L1D().Counters().Probes() + h.L2().Counters().Probes()
				Expect(total).To(BeNumerically(">=", prev))
				prev = total
			}

			// Each event probes L1D exactly once.
			Expect(h.L1D().Counters().Probes()).To(Equal(uint64(2 * len(addrs))))
		})
	})

	Describe("report", func() {
		It("should snapshot counters for every level", func() {
			h.Fetch(0x00)
			h.Read(0x00)
			h.Write(0x00, 0)

			report := h.Report()
			Expect(report.Instructions).To(Equal(uint64(3)))
			Expect(report.Levels).To(HaveLen(3))
			Expect(report.Levels[0].Name).To(Equal("L1I"))
			Expect(report.Levels[1].Name).To(Equal("L1D"))
			Expect(report.Levels[2].Name).To(Equal("L2"))

			Expect(report.Levels[0].ReadMiss).To(Equal(uint64(1)))
			Expect(report.Levels[1].ReadMiss).To(Equal(uint64(1)))
			Expect(report.Levels[1].WriteHit).To(Equal(uint64(1)))
		})

		It("should note a substituted replacement policy", func() {
			cfg := config.Default()
			cfg.L2.ReplacementPolicy = "temporal-spatial"
			var err error
			h, err = hierarchy.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			report := h.Report()
			Expect(report.Levels[2].Note).To(ContainSubstring("temporal-spatial"))
			Expect(report.Levels[0].Note).To(BeEmpty())
		})
	})
})
