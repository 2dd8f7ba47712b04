package optima

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/echelon"
	"github.com/ESSS/optima/internal/trace"
	"github.com/ESSS/optima/logging"
	"github.com/ESSS/optima/residual"
	"github.com/ESSS/optima/saddle"
	"github.com/ESSS/optima/sensitivity"
	"github.com/ESSS/optima/stability"
	"github.com/ESSS/optima/stepper"
)

// defaultRelTol scales every internal rank threshold (echelon and LU
// alike). Not exposed via Options: spec.md §6 does not list it, and it is
// a numerical implementation detail rather than a user-facing tunable.
const defaultRelTol = 1e-12

// Solver orchestrates C1-C7 into the strict evaluate → classify →
// echelonize → factor → solve → step ordering of spec.md §5. Not safe for
// concurrent Solve calls sharing one instance.
type Solver struct {
	opts   Options
	dims   Dims
	bounds Bounds
	logger logging.Logger

	problem *Problem
	fn      *residual.Function
	kkt     *saddle.Solver
	step    *stepper.Stepper

	state *State
	last  *residual.Assembly
}

// NewSolver returns a Solver configured with opts (zero values replaced by
// their spec.md §6 defaults). A nil logger disables logging.
func NewSolver(opts Options, logger logging.Logger) *Solver {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Solver{opts: opts.WithDefaults(), logger: logger}
}

func toSaddleMethod(m KKTMethod) saddle.Method {
	switch m {
	case Fullspace:
		return saddle.Fullspace
	case Nullspace:
		return saddle.Nullspace
	default:
		return saddle.Rangespace
	}
}

func toStepperMode(m StepMode) stepper.Mode {
	if m == Conservative {
		return stepper.Conservative
	}
	return stepper.Aggressive
}

// AttachProblem validates problem, sizes the solver's workspace for it,
// and runs the one-time strict-instability scan of SPEC_FULL.md §7 at the
// initial guess (or at defaultInteriorGuess's point, when guess is nil).
func (s *Solver) AttachProblem(problem *Problem, guess *MasterVector) error {
	if err := problem.Validate(); err != nil {
		return err
	}

	s.problem = problem
	s.dims = problem.Dims
	s.bounds = problem.boundsOrDefault()

	u := guess
	if u == nil {
		u = defaultInteriorGuess(s.dims, s.bounds)
	} else {
		u = u.Clone()
	}
	if !isFiniteVec(u.X) || !isFiniteVec(u.P) || !isFiniteVec(u.W) {
		return errNonFiniteGuess
	}

	s.fn = residual.New(s.dims.toSizes(), problem.Ax, problem.Ap, problem.B, problem.Object, problem.H, problem.V, s.opts.ReechelonizeThreshold)
	s.kkt = saddle.New(toSaddleMethod(s.opts.KKT.Method), defaultRelTol)
	s.step = stepper.New(toStepperMode(s.opts.StepMode), s.opts.Tau,
		stepper.LineSearchOptions{
			MaxIters:               s.opts.LineSearch.MaxIters,
			TriggerRatioVsInitial:  s.opts.LineSearch.TriggerRatioVsInitial,
			TriggerRatioVsPrevious: s.opts.LineSearch.TriggerRatioVsPrevious,
		},
		stepper.BacktrackOptions{
			Factor:   s.opts.Backtrack.Factor,
			MaxIters: s.opts.Backtrack.MaxIters,
		}, s.logger)

	a, err := s.fn.Update(u.X, u.P, true)
	if err != nil {
		return errors.Wrap(err, "optima: AttachProblem's initial evaluation failed")
	}
	s.last = a

	part := s.detectStrict(u, a)
	s.state = &State{U: u, Stability: part}
	return nil
}

// defaultInteriorGuess picks, for each x component, the bound midpoint (or
// one unit off whichever single bound is finite, or 1 with none finite),
// nudged away from exactly zero. The rangespace/nullspace strategies scale
// rows and columns by the current x (spec.md §4.4's diag(X) policy), which
// is singular at x=0; starting strictly interior avoids that on the very
// first iteration, the same role a nonzero starting point plays in any
// interior-point method.
func defaultInteriorGuess(dims Dims, bounds Bounds) *MasterVector {
	u := newMasterVector(dims)
	for i := 0; i < dims.NX; i++ {
		lo, hi := bounds.Lower.AtVec(i), bounds.Upper.AtVec(i)
		v := 1.0
		switch {
		case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
			v = (lo + hi) / 2
		case !math.IsInf(lo, 0):
			v = lo + 1
		case !math.IsInf(hi, 0):
			v = hi - 1
		}
		if v == 0 {
			v = 1e-2
		}
		u.X.SetVec(i, v)
	}
	return u
}

// detectStrict echelonizes the current constraint Jacobian and flags the
// primal indices a.W structurally pins regardless of which non-basic
// variables move, per stability.DetectStrict's contract.
func (s *Solver) detectStrict(u *MasterVector, a *residual.Assembly) *stability.Partition {
	nx := s.dims.NX
	weights := make([]float64, nx)
	for i := 0; i < nx; i++ {
		weights[i] = math.Max(math.Abs(u.X.AtVec(i)), 1e-10)
	}

	ech := echelon.Compute(a.W, defaultRelTol)
	ech.UpdateWeights(weights)

	if dep := ech.DependentRows(); len(dep) > 0 {
		s.logger.Warnw("rank-deficient constraint row detected at attach, dual frozen to 0", "rows", dep)
	}

	basic := ech.Basic()
	basicValue := make([]float64, len(basic))
	for i, idx := range basic {
		basicValue[i] = u.X.AtVec(idx)
	}
	sRow := make([][]float64, ech.Rank())
	for i := 0; i < ech.Rank(); i++ {
		sRow[i] = mat.Row(nil, i, ech.S)
	}

	part := stability.DetectStrict(basic, basicValue, sRow, s.bounds.Lower, s.bounds.Upper, s.opts.Mu)
	if unstable := part.Unstable(); len(unstable) > 0 {
		s.logger.Warnw("strictly unstable variables detected at attach, Newton steps will be frozen to 0", "indices", unstable)
	}
	return part
}

// instabilityMeasure computes z = g + Wᵀ·w, spec.md §4.3's per-variable
// instability measure.
func instabilityMeasure(g *mat.VecDense, w *mat.Dense, dual *mat.VecDense) *mat.VecDense {
	nx, _ := g.Dims()
	nw, _ := dual.Dims()
	z := mat.NewVecDense(nx, nil)
	for i := 0; i < nx; i++ {
		sum := g.AtVec(i)
		for k := 0; k < nw; k++ {
			sum += w.At(k, i) * dual.AtVec(k)
		}
		z.SetVec(i, sum)
	}
	return z
}

// hessianDiag extracts diag(Hxx), adding the barrier parameter Mu as a
// floor on every entry. For problems with a linear (zero-curvature)
// objective the rangespace Schur complement's diagonal term
// reduces to the primal-dual complementarity product x·z, which can reach
// exactly zero as a variable converges to its KKT point; the Mu floor
// keeps that term strictly positive, the same regularization role the
// barrier parameter plays in a classical interior-point method.
func hessianDiag(hxx mat.Symmetric, mu float64) *mat.VecDense {
	n := hxx.SymmetricDim()
	d := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		d.SetVec(i, hxx.At(i, i)+mu)
	}
	return d
}

func negVec(v *mat.VecDense) *mat.VecDense {
	n := v.Len()
	out := mat.NewVecDense(n, nil)
	out.ScaleVec(-1, v)
	return out
}

func infNorm(v *mat.VecDense) float64 {
	max := 0.0
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > max {
			max = a
		}
	}
	return max
}

func hasNaN(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		if math.IsNaN(v.AtVec(i)) {
			return true
		}
	}
	return false
}

func replaceNaN(v *mat.VecDense, val float64) *mat.VecDense {
	n := v.Len()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) {
			x = val
		}
		out.SetVec(i, x)
	}
	return out
}

// Solve runs the outer Newton loop until convergence, iteration cap, or
// cancellation, per spec.md §5's strict per-iteration ordering.
func (s *Solver) Solve(ctx context.Context) (*State, *Result, error) {
	if s.state == nil {
		return nil, nil, errors.New("optima: Solve called before AttachProblem")
	}

	tb := trace.NewBreakdown()
	u := s.state.U
	part := s.state.Stability

	a := s.last
	var rxNorm, ryNorm float64
	var initMerit, prevMerit float64
	iter := 0

	fail := func(reason string) (*State, *Result, error) {
		s.state.Stability = part
		return s.state, &Result{Succeeded: false, FailureReason: reason, Iterations: iter, RxNorm: rxNorm, RyNorm: ryNorm, Timing: tb.Totals()}, nil
	}

	for ; iter < s.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return fail("cancelled")
		}

		if iter > 0 {
			var evalErr error
			tb.Track(trace.Evaluate, func() {
				a, evalErr = s.fn.Update(u.X, u.P, true)
			})
			if evalErr != nil {
				return fail(evalErr.Error())
			}
		}

		z := instabilityMeasure(a.Fx, a.W, u.W)

		tb.Track(trace.Classify, func() {
			part = stability.Classify(part, u.X, z, s.bounds.Lower, s.bounds.Upper, s.opts.Mu)
		})

		rx := negVec(z)
		ry := negVec(a.Ry)
		rxNorm, ryNorm = infNorm(rx), infNorm(ry)
		if math.Max(rxNorm, ryNorm) < s.opts.Tolerance {
			s.state.Stability = part
			return s.state, &Result{Succeeded: true, Iterations: iter, RxNorm: rxNorm, RyNorm: ryNorm, Timing: tb.Totals()}, nil
		}

		blocks := saddle.Blocks{
			Hdiag:        hessianDiag(a.Hxx, s.opts.Mu),
			H:            a.Hxx,
			W:            a.W,
			X:            u.X,
			Z:            z,
			Unstable:     part.Unstable(),
			Reechelonize: a.NeedsReechelonize,
		}

		var decomposeErr error
		tb.Track(trace.Echelonize, func() {
			decomposeErr = s.kkt.Decompose(blocks)
		})
		if decomposeErr != nil {
			return fail(decomposeErr.Error())
		}

		var dx, dy *mat.VecDense
		var solveErr error
		tb.Track(trace.Solve, func() {
			dx, dy, solveErr = s.kkt.Solve(rx, ry)
		})
		if solveErr != nil {
			return fail(solveErr.Error())
		}
		if hasNaN(dy) {
			s.logger.Warnw("dependent-row dual step frozen to 0", "iteration", iter)
		}
		dy = replaceNaN(dy, 0)

		merit := func(x *mat.VecDense) (float64, error) {
			trial, err := s.fn.UpdateSkipJacobian(x, u.P, false)
			if err != nil {
				return math.NaN(), err
			}
			return infNorm(trial.Ry), nil
		}

		if iter == 0 {
			initMerit = infNorm(a.Ry)
			prevMerit = initMerit
		}

		var stepRes *stepper.Result
		var stepErr error
		tb.Track(trace.Step, func() {
			stepRes, stepErr = s.step.Step(u.X, dx, s.bounds.Lower, s.bounds.Upper, initMerit, prevMerit, merit)
		})
		if stepErr != nil {
			return fail(stepErr.Error())
		}

		u.X = stepRes.X
		for i := 0; i < u.W.Len(); i++ {
			u.W.SetVec(i, u.W.AtVec(i)+stepRes.Alpha*dy.AtVec(i))
		}
		prevMerit = stepRes.Merit

		s.logger.Debugw("outer iteration",
			"iteration", iter, "rxNorm", rxNorm, "ryNorm", ryNorm,
			"stepMode", s.opts.StepMode, "alpha", stepRes.Alpha, "lineSearchIters", stepRes.LineSearchIters)
	}

	return fail("iteration cap reached without convergence")
}

// Sensitivities asks C4's cached factorization (from the last Solve call)
// for ∂x/∂p, ∂y/∂p, ∂z/∂p, filling State.Dxdp/Dydp/Dzdp, per spec.md §4.7.
// No new factorization is performed.
func (s *Solver) Sensitivities(dgdp, dbdp, dhdp *mat.Dense) error {
	if s.state == nil || s.last == nil {
		return errors.New("optima: Sensitivities called before AttachProblem")
	}
	res, err := sensitivity.Compute(s.kkt, dgdp, dbdp, dhdp, s.state.Stability.Unstable(), s.last.W)
	if err != nil {
		return err
	}
	s.state.Dxdp, s.state.Dydp, s.state.Dzdp = res.Dxdp, res.Dydp, res.Dzdp
	return nil
}
