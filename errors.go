package optima

import "github.com/pkg/errors"

// Precondition-violation sentinel errors (spec §7.1): programming bugs,
// reported synchronously before any iteration runs.
var (
	errNXNonPositive  = errors.New("optima: number of primal variables (NX) must be positive")
	errNPNegative     = errors.New("optima: number of parameters (NP) must not be negative")
	errNYNegative     = errors.New("optima: number of linear equalities (NY) must not be negative")
	errNZNegative     = errors.New("optima: number of nonlinear equalities (NZ) must not be negative")
	errBoundsMismatch = errors.New("optima: bounds length does not match NX")
	errBoundsInverted = errors.New("optima: xlower exceeds xupper for some index")
	errMissingObject  = errors.New("optima: objective function f is required")
	errAxDimMismatch  = errors.New("optima: Ax block dimensions do not match NY × NX")
	errApDimMismatch  = errors.New("optima: Ap block dimensions do not match NY × NP")
	errBDimMismatch   = errors.New("optima: b length does not match NY")
	errNonFiniteGuess = errors.New("optima: initial guess contains non-finite values")
)
