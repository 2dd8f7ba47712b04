// Package stepper implements the C6 component: turning a Newton direction
// into an accepted iterate. Fraction-to-boundary and the Aggressive step
// mode generalize the bound-clamping loop in slsqp.LSQ's final
// restore-to-bounds step; backtracking and the line-search trigger ratios
// are grounded on slsqp.sqpSolver.inexactSearch (bound-clamped retry after
// scaling the step by α) and slsqp.sqpSolver.lineSearch (halve α when a
// merit value increases beyond a configured ratio, retry up to a capped
// number of times).
package stepper

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/logging"
)

// Mode selects how the fraction-to-boundary limit is applied once the
// Newton direction is computed.
type Mode int

const (
	// Aggressive accepts the full Newton step, then clamps only the
	// components that would cross a bound.
	Aggressive Mode = iota
	// Conservative multiplies the entire step by α_max before applying it.
	Conservative
)

// LineSearchOptions configures the optional merit-increase backtracking of
// spec.md §4.6 step 6.
type LineSearchOptions struct {
	MaxIters               int
	TriggerRatioVsInitial  float64
	TriggerRatioVsPrevious float64
}

// BacktrackOptions configures retry-on-non-finite-objective backtracking.
type BacktrackOptions struct {
	Factor   float64
	MaxIters int
}

// MeritFunc evaluates the monitored error norm (spec.md's "C5's merit") at
// a candidate iterate. A non-finite return, or a non-nil error, signals an
// evaluation failure the Stepper backtracks on: a non-nil error halves α
// before the retry, a non-finite value scales α by BacktrackOptions.Factor.
type MeritFunc func(x *mat.VecDense) (float64, error)

// Result is one Stepper.Step outcome.
type Result struct {
	X               *mat.VecDense
	Alpha           float64
	Merit           float64
	BacktrackIters  int
	LineSearchIters int
}

// Stepper is stateless across calls; all its configuration is fixed at
// construction and every Step call is independent.
type Stepper struct {
	mode   Mode
	tau    float64
	ls     LineSearchOptions
	bt     BacktrackOptions
	logger logging.Logger
}

// New returns a Stepper for the given step mode, fraction-to-boundary
// parameter τ, and retry policies. A nil logger disables logging; only
// Stepper and optima.Solver hold a logger, per SPEC_FULL.md §2.1.
func New(mode Mode, tau float64, ls LineSearchOptions, bt BacktrackOptions, logger logging.Logger) *Stepper {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Stepper{mode: mode, tau: tau, ls: ls, bt: bt, logger: logger}
}

// FractionToBoundary computes α_max ∈ [0,1], the largest α such that
// x + α·dx lies in the τ-shrunk box
// [lower+(1-τ)(x-lower), upper-(1-τ)(upper-x)] componentwise. It is 0 when
// a component already sits on a finite bound and dx points outward.
func FractionToBoundary(x, dx, lower, upper *mat.VecDense, tau float64) float64 {
	alpha := 1.0
	n := x.Len()
	for i := 0; i < n; i++ {
		d := dx.AtVec(i)
		if d == 0 {
			continue
		}
		xi := x.AtVec(i)
		if d < 0 {
			lo := lower.AtVec(i)
			if math.IsInf(lo, -1) {
				continue
			}
			bound := lo + (1-tau)*(xi-lo)
			if a := (bound - xi) / d; a < alpha {
				alpha = a
			}
		} else {
			hi := upper.AtVec(i)
			if math.IsInf(hi, 1) {
				continue
			}
			bound := hi - (1-tau)*(hi-xi)
			if a := (bound - xi) / d; a < alpha {
				alpha = a
			}
		}
	}
	if alpha < 0 {
		alpha = 0
	}
	return alpha
}

func trialAt(x, dx *mat.VecDense, alpha float64) *mat.VecDense {
	n := x.Len()
	next := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		next.SetVec(i, x.AtVec(i)+alpha*dx.AtVec(i))
	}
	return next
}

func clampToBox(x, lower, upper *mat.VecDense) *mat.VecDense {
	n := x.Len()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v := x.AtVec(i)
		if lo := lower.AtVec(i); v < lo {
			v = lo
		} else if hi := upper.AtVec(i); v > hi {
			v = hi
		}
		out.SetVec(i, v)
	}
	return out
}

// apply produces the initial trial iterate for the configured step mode.
func (s *Stepper) apply(x, dx, lower, upper *mat.VecDense, alphaMax float64) (*mat.VecDense, float64) {
	switch s.mode {
	case Conservative:
		return clampToBox(trialAt(x, dx, alphaMax), lower, upper), alphaMax
	default: // Aggressive
		return clampToBox(trialAt(x, dx, 1), lower, upper), 1.0
	}
}

// triggered reports whether merit m has increased enough over initMerit or
// prevMerit to warrant halving α and retrying.
func triggered(m, initMerit, prevMerit float64, ls LineSearchOptions) bool {
	if ls.TriggerRatioVsInitial > 0 && initMerit > 0 && m > initMerit*ls.TriggerRatioVsInitial {
		return true
	}
	if ls.TriggerRatioVsPrevious > 0 && prevMerit > 0 && m > prevMerit*ls.TriggerRatioVsPrevious {
		return true
	}
	return false
}

// Step computes α_max, applies the configured step mode, then runs the
// backtracking (on non-finite merit) and line-search (on merit increase)
// retry loops of spec.md §4.6 steps 4-6.
func (s *Stepper) Step(x, dx, lower, upper *mat.VecDense, initMerit, prevMerit float64, merit MeritFunc) (*Result, error) {
	alphaMax := FractionToBoundary(x, dx, lower, upper, s.tau)
	next, alpha := s.apply(x, dx, lower, upper, alphaMax)

	btIters := 0
	m, err := merit(next)
	for err != nil || math.IsNaN(m) || math.IsInf(m, 0) {
		btIters++
		if btIters > s.bt.MaxIters {
			return nil, errors.New("stepper: backtracking exhausted without a finite objective")
		}
		if err != nil {
			alpha *= 0.5
		} else {
			alpha *= s.bt.Factor
		}
		next = clampToBox(trialAt(x, dx, alpha), lower, upper)
		m, err = merit(next)
	}

	lsIters := 0
	for triggered(m, initMerit, prevMerit, s.ls) {
		lsIters++
		if lsIters > s.ls.MaxIters {
			s.logger.Warnw("line-search retry cap reached, accepting step despite merit increase",
				"lsIters", lsIters, "merit", m, "initMerit", initMerit, "prevMerit", prevMerit)
			break
		}
		alpha *= 0.5
		next = clampToBox(trialAt(x, dx, alpha), lower, upper)
		newM, merr := merit(next)
		if merr != nil || math.IsNaN(newM) || math.IsInf(newM, 0) {
			// a line-search retry that breaks feasibility of the objective
			// falls back to backtracking's smaller, already-verified step.
			alpha /= 0.5
			next = clampToBox(trialAt(x, dx, alpha), lower, upper)
			break
		}
		m = newM
	}

	return &Result{X: next, Alpha: alpha, Merit: m, BacktrackIters: btIters, LineSearchIters: lsIters}, nil
}
