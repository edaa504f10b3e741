// Package cache models a single level of a CPU cache hierarchy: the
// line/set data structures, address decomposition, lookup, insertion,
// and victim replacement with dirty writeback propagation.
package cache

import (
	"fmt"
	"math/bits"
	"math/rand"
	"time"
)

// Config holds the geometry and policies for one cache level.
type Config struct {
	// Name identifies the level in error messages and reports (e.g. "L1D").
	Name string
	// Size in bytes.
	Size int
	// Associativity (number of ways per set).
	Associativity int
	// LineSize in bytes (unit of transfer between levels).
	LineSize int
	// BusWidth in bits. Carried for completeness; it does not affect
	// hit/miss behavior.
	BusWidth int
	// Mapping selects direct, set-associative, or fully-associative
	// placement.
	Mapping Mapping
	// Replacement selects the victim policy for full sets.
	Replacement ReplacementPolicy
	// Write selects write-through or write-back behavior.
	Write WritePolicy
}

// NumSets returns the number of sets implied by the geometry.
func (c Config) NumSets() int {
	return c.Size / (c.LineSize * c.Associativity)
}

// Validate checks the geometry so that index and offset bits extract
// cleanly with masks. It reports the first violation found.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("size must be positive, got %d", c.Size)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("associativity must be positive, got %d", c.Associativity)
	}
	if !isPowerOfTwo(c.LineSize) {
		return fmt.Errorf("line_size must be a power of two, got %d", c.LineSize)
	}
	if c.BusWidth <= 0 {
		return fmt.Errorf("bus_width must be positive, got %d", c.BusWidth)
	}
	if c.Mapping == DirectMapped && c.Associativity != 1 {
		return fmt.Errorf("direct mapping requires associativity 1, got %d",
			c.Associativity)
	}
	if c.Mapping == FullyAssociative && c.Associativity != c.Size/c.LineSize {
		return fmt.Errorf("fully-associative mapping requires associativity %d, got %d",
			c.Size/c.LineSize, c.Associativity)
	}
	if c.Size%(c.LineSize*c.Associativity) != 0 {
		return fmt.Errorf("size %d is not divisible by line_size*associativity (%d*%d)",
			c.Size, c.LineSize, c.Associativity)
	}
	if !isPowerOfTwo(c.NumSets()) {
		return fmt.Errorf("set count must be a power of two, got %d", c.NumSets())
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Line is a single slot in a set. A line with Valid false holds no
// block; its Tag is meaningless and Dirty is always false.
type Line struct {
	Valid bool
	Dirty bool
	Tag   uint64

	// lastUse is the recency stamp consulted by LRU replacement.
	lastUse uint64
}

// Set is a fixed group of Associativity lines sharing one index.
type Set struct {
	Lines []Line
}

// Counters accumulates the probe and eviction statistics of one level.
// Exactly one of the four probe counters advances per probe.
type Counters struct {
	ReadHit   uint64
	ReadMiss  uint64
	WriteHit  uint64
	WriteMiss uint64

	Evictions  uint64
	Writebacks uint64
}

// Probes returns the total number of probes submitted to the level.
func (c Counters) Probes() uint64 {
	return c.ReadHit + c.ReadMiss + c.WriteHit + c.WriteMiss
}

// Cache is one level of the hierarchy. All storage is allocated by New;
// the access path only scans and mutates the pre-allocated lines.
type Cache struct {
	cfg        Config
	numSets    int
	offsetBits uint
	indexBits  uint

	sets     []Set
	counters Counters

	// clock is a monotonic stamp source for LRU recency.
	clock uint64

	rng *rand.Rand

	// effective is the replacement policy actually applied; it differs
	// from cfg.Replacement when temporal-spatial falls back to LRU.
	effective ReplacementPolicy
}

// Option configures a Cache beyond its Config.
type Option func(*Cache)

// WithRand sets the random number generator used by Random replacement.
// Tests use this to make victim selection deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(c *Cache) {
		c.rng = rng
	}
}

// New builds a cache level, pre-allocating every set and line. The
// configuration is validated first; a geometry error is fatal to the
// simulation and is returned before any allocation happens.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	numSets := cfg.NumSets()
	c := &Cache{
		cfg:        cfg,
		numSets:    numSets,
		offsetBits: uint(bits.TrailingZeros(uint(cfg.LineSize))),
		indexBits:  uint(bits.TrailingZeros(uint(numSets))),
		sets:       make([]Set, numSets),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		effective:  cfg.Replacement,
	}
	if cfg.Replacement == TemporalSpatial {
		c.effective = LRU
	}

	for i := range c.sets {
		c.sets[i].Lines = make([]Line, cfg.Associativity)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the level's configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// NumSets returns the number of sets.
func (c *Cache) NumSets() int {
	return c.numSets
}

// Sets exposes the live set array for inspection.
func (c *Cache) Sets() []Set {
	return c.sets
}

// Counters returns a snapshot of the level's statistics.
func (c *Cache) Counters() Counters {
	return c.counters
}

// PolicySubstituted reports whether the configured replacement policy
// was unavailable and LRU was applied instead.
func (c *Cache) PolicySubstituted() bool {
	return c.effective != c.cfg.Replacement
}

// Lookup reports whether the block containing addr is resident. On a
// hit it returns a handle to the matching line so the caller can record
// recency or adjust the dirty state. Lookup itself mutates nothing.
func (c *Cache) Lookup(addr uint64) (*Line, bool) {
	parts := c.Decompose(addr)
	set := &c.sets[parts.Index]
	for i := range set.Lines {
		ln := &set.Lines[i]
		if ln.Valid && ln.Tag == parts.Tag {
			return ln, true
		}
	}
	return nil, false
}

// Visit stamps ln as most recently used.
func (c *Cache) Visit(ln *Line) {
	c.clock++
	ln.lastUse = c.clock
}

// ProbeRead looks up addr, advances the read hit or miss counter, and
// refreshes recency on a hit.
func (c *Cache) ProbeRead(addr uint64) bool {
	if ln, ok := c.Lookup(addr); ok {
		c.counters.ReadHit++
		c.Visit(ln)
		return true
	}
	c.counters.ReadMiss++
	return false
}

// ProbeWrite looks up addr, advances the write hit or miss counter, and
// refreshes recency on a hit.
func (c *Cache) ProbeWrite(addr uint64) bool {
	if ln, ok := c.Lookup(addr); ok {
		c.counters.WriteHit++
		c.Visit(ln)
		return true
	}
	c.counters.WriteMiss++
	return false
}

// MarkDirty sets the dirty bit of the resident block containing addr,
// if any. Only meaningful under write-back.
func (c *Cache) MarkDirty(addr uint64) {
	if c.cfg.Write != WriteBack {
		return
	}
	if ln, ok := c.Lookup(addr); ok {
		ln.Dirty = true
	}
}

// Invalidate drops the resident block containing addr without writing
// it back. No-op when the block is not resident.
func (c *Cache) Invalidate(addr uint64) {
	if ln, ok := c.Lookup(addr); ok {
		ln.Valid = false
		ln.Dirty = false
	}
}

// Insert installs the block containing addr into its set. dirty marks
// the new line dirty, which is only honored under write-back. down is
// the chain of lower levels; evicting a dirty victim pushes a writeback
// into down[0], and an empty chain means main memory absorbs the block.
//
// Inserting a block that is already resident never allocates a second
// line: the existing line keeps its slot, its dirty bit ORs with dirty,
// and its recency refreshes.
func (c *Cache) Insert(addr uint64, dirty bool, down ...*Cache) {
	dirty = dirty && c.cfg.Write == WriteBack

	parts := c.Decompose(addr)
	set := &c.sets[parts.Index]

	for i := range set.Lines {
		ln := &set.Lines[i]
		if ln.Valid && ln.Tag == parts.Tag {
			ln.Dirty = ln.Dirty || dirty
			c.Visit(ln)
			return
		}
	}

	for i := range set.Lines {
		ln := &set.Lines[i]
		if !ln.Valid {
			c.install(ln, parts.Tag, dirty)
			return
		}
	}

	c.replace(set, parts, dirty, down)
}

// replace overwrites a policy-chosen victim with the incoming block,
// writing a dirty victim back to the next level first.
func (c *Cache) replace(set *Set, parts AddressParts, dirty bool, down []*Cache) {
	victim := c.selectVictim(set)

	if victim.Valid {
		c.counters.Evictions++
		if victim.Dirty {
			c.writeBack(victim, parts.Index, down)
		}
	}

	c.install(victim, parts.Tag, dirty)
}

// selectVictim picks the line to overwrite in a full set.
func (c *Cache) selectVictim(set *Set) *Line {
	if c.effective == Random {
		return &set.Lines[c.rng.Intn(len(set.Lines))]
	}

	// LRU: oldest stamp wins, ties broken by lowest way index.
	victim := &set.Lines[0]
	for i := 1; i < len(set.Lines); i++ {
		if set.Lines[i].lastUse < victim.lastUse {
			victim = &set.Lines[i]
		}
	}
	return victim
}

// writeBack reconstructs the victim's block address and pushes it into
// the next lower level. The push probes that level (counted as a write
// hit or miss there) before the insert. At the bottom of the chain the
// block is absorbed by main memory.
func (c *Cache) writeBack(victim *Line, setIndex uint64, down []*Cache) {
	c.counters.Writebacks++

	if len(down) == 0 {
		return
	}

	addr := (victim.Tag<<c.indexBits | setIndex) << c.offsetBits
	next := down[0]
	next.ProbeWrite(addr)
	next.Insert(addr, true, down[1:]...)
}

func (c *Cache) install(ln *Line, tag uint64, dirty bool) {
	ln.Valid = true
	ln.Tag = tag
	ln.Dirty = dirty
	c.Visit(ln)
}
