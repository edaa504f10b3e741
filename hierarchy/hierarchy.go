// Package hierarchy orchestrates a three-level cache hierarchy (L1I,
// L1D, L2) over a conceptual main memory that never misses.
//
// The hierarchy is strictly single-threaded: each access, including any
// cascade of evictions it triggers, runs to completion before the next
// one is accepted. Hosts that want to parallelize multi-trace runs must
// build one hierarchy per worker.
package hierarchy

import (
	"fmt"
	"math/rand"

	"github.com/sarchlab/tracesim/cache"
	"github.com/sarchlab/tracesim/config"
	"github.com/sarchlab/tracesim/stats"
)

// Hierarchy owns the three cache levels for the lifetime of a run.
// L1I sees instruction fetches, L1D sees data reads and writes, and
// both miss upward into the unified L2.
type Hierarchy struct {
	l1i *cache.Cache
	l1d *cache.Cache
	l2  *cache.Cache

	instrCount uint64
}

// Option configures a Hierarchy.
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithRand sets the random number generator shared by all levels that
// use Random replacement. Tests use this for deterministic victims.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

// New builds a hierarchy from cfg. Every level is validated; a
// configuration error names the offending level and parameter.
func New(cfg *config.Config, opts ...Option) (*Hierarchy, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var cacheOpts []cache.Option
	if o.rng != nil {
		cacheOpts = append(cacheOpts, cache.WithRand(o.rng))
	}

	h := &Hierarchy{}

	var err error
	if h.l1i, err = build("L1I", cfg.L1I, cacheOpts); err != nil {
		return nil, err
	}
	if h.l1d, err = build("L1D", cfg.L1D, cacheOpts); err != nil {
		return nil, err
	}
	if h.l2, err = build("L2", cfg.L2, cacheOpts); err != nil {
		return nil, err
	}

	return h, nil
}

// build translates one config level into a cache.
func build(name string, lv config.Level, opts []cache.Option) (*cache.Cache, error) {
	mapping, err := cache.ParseMapping(lv.Mapping)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	replacement, err := cache.ParseReplacementPolicy(lv.ReplacementPolicy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	write, err := cache.ParseWritePolicy(lv.WritePolicy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	c, err := cache.New(cache.Config{
		Name:          name,
		Size:          lv.Size,
		Associativity: lv.Associativity,
		LineSize:      lv.LineSize,
		BusWidth:      lv.BusWidth,
		Mapping:       mapping,
		Replacement:   replacement,
		Write:         write,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// Fetch performs an instruction read. The returned data is always zero;
// the simulator does not model memory contents.
func (h *Hierarchy) Fetch(addr uint64) uint64 {
	h.access(h.l1i, addr)
	h.instrCount++
	return 0
}

// Read performs a data read. The returned data is always zero.
func (h *Hierarchy) Read(addr uint64) uint64 {
	h.access(h.l1d, addr)
	h.instrCount++
	return 0
}

// access runs the shared read flow: probe the L1, then L2, installing
// the block on the way back up.
func (h *Hierarchy) access(l1 *cache.Cache, addr uint64) {
	if l1.ProbeRead(addr) {
		return
	}

	if h.l2.ProbeRead(addr) {
		l1.Insert(addr, false, h.l2)
		return
	}

	h.l2.Insert(addr, false)
	l1.Insert(addr, false, h.l2)
}

// Write performs a data write. data is accepted for interface
// completeness and ignored; the simulator does not model contents.
func (h *Hierarchy) Write(addr uint64, data uint64) {
	_ = data

	switch h.l1d.Config().Write {
	case cache.WriteThrough:
		h.writeThrough(addr)
	case cache.WriteBack:
		h.writeBack(addr)
	}

	h.instrCount++
}

// writeThrough forwards every write to L2, so no level ever holds a
// dirty line.
func (h *Hierarchy) writeThrough(addr uint64) {
	if h.l1d.ProbeWrite(addr) {
		if !h.l2.ProbeWrite(addr) {
			h.l2.Insert(addr, false)
		}
		return
	}

	if h.l2.ProbeWrite(addr) {
		h.l1d.Insert(addr, false, h.l2)
		return
	}

	h.l2.Insert(addr, false)
	h.l1d.Insert(addr, false, h.l2)
}

// writeBack dirties the L1D copy and defers propagation until the line
// is evicted. The L2 copy installed on a miss stays clean until a dirty
// L1D eviction arrives.
func (h *Hierarchy) writeBack(addr uint64) {
	if h.l1d.ProbeWrite(addr) {
		h.l1d.MarkDirty(addr)
		return
	}

	h.l1d.Insert(addr, true, h.l2)
	if !h.l2.ProbeWrite(addr) {
		h.l2.Insert(addr, false)
	}
}

// L1I returns the instruction cache.
func (h *Hierarchy) L1I() *cache.Cache { return h.l1i }

// L1D returns the data cache.
func (h *Hierarchy) L1D() *cache.Cache { return h.l1d }

// L2 returns the unified second-level cache.
func (h *Hierarchy) L2() *cache.Cache { return h.l2 }

// InstructionCount returns the number of trace events executed.
func (h *Hierarchy) InstructionCount() uint64 {
	return h.instrCount
}

// Report snapshots the final statistics of the run.
func (h *Hierarchy) Report() stats.Report {
	return stats.Report{
		Levels: []stats.Level{
			levelStats(h.l1i),
			levelStats(h.l1d),
			levelStats(h.l2),
		},
		Instructions: h.instrCount,
	}
}

func levelStats(c *cache.Cache) stats.Level {
	counters := c.Counters()
	l := stats.Level{
		Name:       c.Config().Name,
		ReadHit:    counters.ReadHit,
		ReadMiss:   counters.ReadMiss,
		WriteHit:   counters.WriteHit,
		WriteMiss:  counters.WriteMiss,
		Evictions:  counters.Evictions,
		Writebacks: counters.Writebacks,
	}
	if c.PolicySubstituted() {
		l.Note = fmt.Sprintf("replacement policy %s not implemented; used lru",
			c.Config().Replacement)
	}
	return l
}
