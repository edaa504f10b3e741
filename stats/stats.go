// Package stats turns raw hierarchy counters into hit rates and the
// final simulation report.
package stats

import (
	"fmt"
	"io"
)

// Level holds the final counters of one cache level.
type Level struct {
	// Name identifies the level (e.g. "L1D").
	Name string

	ReadHit   uint64
	ReadMiss  uint64
	WriteHit  uint64
	WriteMiss uint64

	Evictions  uint64
	Writebacks uint64

	// Note carries a policy remark, such as a replacement-policy
	// substitution. Empty for most levels.
	Note string
}

// ReadHitRate returns the read hit percentage, or 0 with no reads.
func (l Level) ReadHitRate() float64 {
	return rate(l.ReadHit, l.ReadHit+l.ReadMiss)
}

// WriteHitRate returns the write hit percentage, or 0 with no writes.
func (l Level) WriteHitRate() float64 {
	return rate(l.WriteHit, l.WriteHit+l.WriteMiss)
}

// HitRate returns the combined hit percentage, or 0 with no probes.
func (l Level) HitRate() float64 {
	return rate(l.ReadHit+l.WriteHit,
		l.ReadHit+l.ReadMiss+l.WriteHit+l.WriteMiss)
}

func rate(hits, total uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return 100.0 * float64(hits) / float64(total)
}

// Report aggregates the per-level statistics of a finished run.
type Report struct {
	Levels       []Level
	Instructions uint64
}

// WriteText writes the human-readable report.
func (r Report) WriteText(w io.Writer) error {
	for _, l := range r.Levels {
		_, err := fmt.Fprintf(w,
			"%-4s read hits: %8d  read misses: %8d  write hits: %8d  write misses: %8d  [hit rate: %6.2f%%]\n",
			l.Name, l.ReadHit, l.ReadMiss, l.WriteHit, l.WriteMiss, l.HitRate())
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(w,
			"     (read hit rate: %6.2f%%  write hit rate: %6.2f%%)\n",
			l.ReadHitRate(), l.WriteHitRate())
		if err != nil {
			return err
		}

		if l.Note != "" {
			if _, err := fmt.Fprintf(w, "     note: %s\n", l.Note); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "Executed %d instructions.\n", r.Instructions)
	return err
}

// WriteVerboseText writes the report plus eviction and writeback
// counts per level.
func (r Report) WriteVerboseText(w io.Writer) error {
	if err := r.WriteText(w); err != nil {
		return err
	}
	for _, l := range r.Levels {
		_, err := fmt.Fprintf(w, "%-4s evictions: %d  writebacks: %d\n",
			l.Name, l.Evictions, l.Writebacks)
		if err != nil {
			return err
		}
	}
	return nil
}
