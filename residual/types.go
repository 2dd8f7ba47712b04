// Package residual implements the C5 component: assembling the residual
// vector and Jacobian in canonical form from the user's f/h/v evaluations.
// Grounded on slsqp.sqpSolver.evalLoc's evalFunc/evalGrad split
// (function-only vs. function+gradient evaluation). User callbacks report
// failure through their returned error; a panicking callback is not
// recovered.
package residual

import "gonum.org/v1/gonum/mat"

// Sizes are the dimensions a Function needs to size its buffers. Owned
// here rather than imported from the root package to keep this a leaf
// package with no dependency on the solver façade.
type Sizes struct {
	NX, NP, NY, NZ int
}

// NW is the number of dual-of-equality variables, NY+NZ.
func (s Sizes) NW() int { return s.NY + s.NZ }

// EvalOptions selects which derivatives a callback must compute.
type EvalOptions struct {
	NeedJacobian bool
	NeedHessian  bool
}

// ObjectiveResult is what the user's f callback fills in.
type ObjectiveResult struct {
	F   float64
	Fx  *mat.VecDense // length NX, required
	Fp  *mat.VecDense // length NP, required when NP > 0
	Hxx mat.Symmetric // NX×NX, required when opts.NeedHessian
	Hxp *mat.Dense    // NX×NP, required when opts.NeedHessian and NP > 0
}

// ConstraintResult is what the user's h or v callback fills in.
type ConstraintResult struct {
	Val *mat.VecDense // length NZ (h) or NP (v)
	Jx  *mat.Dense    // NZ×NX (h) or NP×NX (v), required when opts.NeedJacobian
	Jp  *mat.Dense    // NZ×NP (h) or NP×NP (v), required when opts.NeedJacobian and NP > 0
}

// ObjectiveFunc evaluates f(x,p) and, when requested, its derivatives.
type ObjectiveFunc func(x, p *mat.VecDense, opts EvalOptions, out *ObjectiveResult) error

// ConstraintFunc evaluates h(x,p) or v(x,p) and, when requested, Jacobians.
type ConstraintFunc func(x, p *mat.VecDense, opts EvalOptions, out *ConstraintResult) error

// Callback is the per-evaluation outcome status reported to the caller,
// per spec.md §4.5 ("either entry returns a per-callback status").
type Callback int

const (
	OK Callback = iota
	ObjectiveFailed
	ConstraintHFailed
	ConstraintVFailed
)

func (c Callback) String() string {
	switch c {
	case OK:
		return "ok"
	case ObjectiveFailed:
		return "objective-failed"
	case ConstraintHFailed:
		return "constraint-h-failed"
	case ConstraintVFailed:
		return "constraint-v-failed"
	default:
		return "unknown"
	}
}
