// Package trace accumulates per-phase wall-clock timing for one Solve call,
// grounded on the Optima/Timing.hpp phase breakdown of original_source/ —
// the distilled spec.md drops this, but Result carries it (§7 of
// SPEC_FULL.md). Phases are a fixed small set, so this is a plain map
// behind a tiny stopwatch rather than a general-purpose metrics library:
// the solver never runs concurrently (spec.md §5), so no synchronization
// is needed.
package trace

import "time"

// Phase names charged by Solver. Factor is declared but never charged:
// Solver times decomposition under Echelonize.
const (
	Evaluate    = "evaluate"
	Classify    = "classify"
	Echelonize  = "echelonize"
	Factor      = "factor"
	Solve       = "solve"
	Step        = "step"
)

// Breakdown accumulates durations per phase across every outer iteration
// of a single Solve call.
type Breakdown struct {
	totals map[string]time.Duration
}

// NewBreakdown returns an empty Breakdown.
func NewBreakdown() *Breakdown {
	return &Breakdown{totals: make(map[string]time.Duration)}
}

// Track runs fn, adding its elapsed wall-clock time to the named phase.
func (b *Breakdown) Track(phase string, fn func()) {
	start := time.Now()
	fn()
	b.totals[phase] += time.Since(start)
}

// Totals returns a copy of the accumulated per-phase durations.
func (b *Breakdown) Totals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(b.totals))
	for k, v := range b.totals {
		out[k] = v
	}
	return out
}
