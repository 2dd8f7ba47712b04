package optima

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/residual"
)

// EvalOptions selects which derivatives a callback must compute. Each flag
// is independent: the outer solver asks for only what the current phase
// needs (spec §4.5's Update vs. UpdateSkipJacobian split is built from
// these two flags). Defined canonically in package residual, which owns
// the evaluation contract; aliased here for callers of the root façade.
type EvalOptions = residual.EvalOptions

// ObjectiveResult is what the user's f callback fills in.
type ObjectiveResult = residual.ObjectiveResult

// ConstraintResult is what the user's h or v callback fills in.
type ConstraintResult = residual.ConstraintResult

// ObjectiveFunc evaluates f(x,p) and, when requested, its derivatives.
// A failed evaluation is signalled by returning a non-nil error. At a
// trial point inside a step, the Stepper discards the trial and halves α
// (spec §7.4); a failure of the evaluation that opens an outer iteration
// ends Solve with Succeeded false.
type ObjectiveFunc = residual.ObjectiveFunc

// ConstraintFunc evaluates h(x,p) or v(x,p) and, when requested, Jacobians.
type ConstraintFunc = residual.ConstraintFunc

// Problem is the external collaborator's problem descriptor (spec §6).
type Problem struct {
	Dims Dims

	// Ax, Ap are the fixed coefficient blocks of the linear equality
	// constraints Ax·x + Ap·p = b. Ax is NY×NX, Ap is NY×NP.
	Ax, Ap *mat.Dense
	// B is the fixed right-hand side, length NY.
	B *mat.VecDense

	// Lower, Upper are the componentwise bounds on x, ±Inf meaning absent.
	Lower, Upper *mat.VecDense

	// Object evaluates f(x,p) and its derivatives.
	Object ObjectiveFunc
	// H evaluates the nonlinear equality residual h(x,p), length NZ.
	H ConstraintFunc
	// V evaluates the parameter-coupling residual v(x,p), length NP. May
	// be nil when Dims.NP == 0.
	V ConstraintFunc
}

// Validate checks every precondition-violation class error up front
// (spec §7.1) and reports all of them together via multierr, rather than
// stopping at the first one, so a caller sees the whole picture at once.
func (p *Problem) Validate() error {
	var errs error

	if err := p.Dims.validate(); err != nil {
		errs = multierr.Append(errs, err)
		return errs // dimensions gate every other check
	}

	d := p.Dims

	if p.Object == nil {
		errs = multierr.Append(errs, errMissingObject)
	}

	if p.Lower != nil && p.Lower.Len() != d.NX {
		errs = multierr.Append(errs, errors.Wrap(errBoundsMismatch, "lower"))
	}
	if p.Upper != nil && p.Upper.Len() != d.NX {
		errs = multierr.Append(errs, errors.Wrap(errBoundsMismatch, "upper"))
	}
	if p.Lower != nil && p.Upper != nil && p.Lower.Len() == d.NX && p.Upper.Len() == d.NX {
		for i := 0; i < d.NX; i++ {
			lo, hi := p.Lower.AtVec(i), p.Upper.AtVec(i)
			if lo > hi {
				errs = multierr.Append(errs, errors.Wrapf(errBoundsInverted, "index %d (lower=%v > upper=%v)", i, lo, hi))
			}
		}
	}

	if p.Ax != nil {
		r, c := p.Ax.Dims()
		if r != d.NY || c != d.NX {
			errs = multierr.Append(errs, errAxDimMismatch)
		}
	} else if d.NY > 0 {
		errs = multierr.Append(errs, errAxDimMismatch)
	}

	if d.NP > 0 {
		if p.Ap != nil {
			r, c := p.Ap.Dims()
			if r != d.NY || c != d.NP {
				errs = multierr.Append(errs, errApDimMismatch)
			}
		} else if d.NY > 0 {
			errs = multierr.Append(errs, errApDimMismatch)
		}
	}

	if p.B != nil && p.B.Len() != d.NY {
		errs = multierr.Append(errs, errBDimMismatch)
	}

	return errs
}

// boundsOrDefault returns explicit ±Inf bounds when the caller left Lower
// or Upper nil.
func (p *Problem) boundsOrDefault() Bounds {
	n := p.Dims.NX
	lo, hi := p.Lower, p.Upper
	if lo == nil {
		lo = mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			lo.SetVec(i, math.Inf(-1))
		}
	}
	if hi == nil {
		hi = mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			hi.SetVec(i, math.Inf(1))
		}
	}
	return Bounds{Lower: lo, Upper: hi}
}

func isFiniteVec(v *mat.VecDense) bool {
	if v == nil {
		return true
	}
	for i := 0; i < v.Len(); i++ {
		if math.IsNaN(v.AtVec(i)) || math.IsInf(v.AtVec(i), 0) {
			return false
		}
	}
	return true
}
