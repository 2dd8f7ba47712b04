package optima

// StepMode selects how the Stepper applies the fraction-to-boundary limit
// once a Newton step is computed (spec §4.6).
type StepMode int

const (
	// Aggressive accepts the full Newton step, then clamps only the
	// components that would cross a bound.
	Aggressive StepMode = iota
	// Conservative multiplies the entire step by the fraction-to-boundary
	// factor α_max before applying it.
	Conservative
)

// KKTMethod selects the saddle-point solver strategy (spec §4.4).
type KKTMethod int

const (
	// Rangespace eliminates the stable primal block to form an SPD Schur
	// complement of size nb; the default (the zero value). It reads only
	// the diagonal of H; off-diagonal Hessian entries are not used, and the
	// solver does not inspect H when choosing the method.
	Rangespace KKTMethod = iota
	// Fullspace factors the complete KKT block directly; robust, more
	// expensive.
	Fullspace
	// Nullspace eliminates the dual block using a basis of ker(W).
	Nullspace
)

// LineSearchOptions configures the Stepper's backtracking line search.
type LineSearchOptions struct {
	// MaxIters caps the number of backtracking halvings.
	MaxIters int
	// TriggerRatioVsInitial/TriggerRatioVsPrevious gate when a merit-norm
	// increase is large enough to trigger backtracking.
	TriggerRatioVsInitial  float64
	TriggerRatioVsPrevious float64
}

// BacktrackOptions configures retry-on-non-finite-objective backtracking
// (spec §7.2/§7.4).
type BacktrackOptions struct {
	Factor   float64
	MaxIters int
}

// Options are the solver's tunables (spec §6). Zero-value Options is
// meaningful: WithDefaults fills in every field left at its zero value.
type Options struct {
	Tolerance float64
	// ToleranceX and ToleranceF are not read by Solver: convergence is
	// tested against Tolerance alone, whatever their values.
	ToleranceX float64
	ToleranceF float64

	MaxIterations int

	// Mu is the barrier parameter.
	Mu float64
	// Tau is the fraction-to-boundary parameter, close to 1.
	Tau float64

	// ReechelonizeThreshold gates C2 re-echelonization on the largest
	// column-wise change in the nonlinear constraint Jacobian since the
	// last re-echelonization. <= 0 (the default) means always
	// re-echelonize every outer iteration (spec §4.5's default policy).
	ReechelonizeThreshold float64

	StepMode StepMode

	KKT struct {
		Method KKTMethod
	}

	LineSearch LineSearchOptions
	Backtrack  BacktrackOptions
}

// WithDefaults returns a copy of o with every zero-valued tunable replaced
// by its documented default (spec §6), in the style of the teacher's
// Problem.New default-filling.
func (o Options) WithDefaults() Options {
	if o.Tolerance == 0 {
		o.Tolerance = 1e-6
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = 200
	}
	if o.Mu == 0 {
		o.Mu = 1e-20
	}
	if o.Tau == 0 {
		o.Tau = 0.99
	}
	if o.LineSearch.MaxIters == 0 {
		o.LineSearch.MaxIters = 5
	}
	if o.LineSearch.TriggerRatioVsInitial == 0 {
		o.LineSearch.TriggerRatioVsInitial = 1.0
	}
	if o.LineSearch.TriggerRatioVsPrevious == 0 {
		o.LineSearch.TriggerRatioVsPrevious = 10.0
	}
	if o.Backtrack.Factor == 0 {
		o.Backtrack.Factor = 0.1
	}
	if o.Backtrack.MaxIters == 0 {
		o.Backtrack.MaxIters = 10
	}
	return o
}
