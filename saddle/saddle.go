// Package saddle implements the C4 component: the saddle-point (KKT)
// solver
//
//	[ H   Wᵀ ] [dx]   [rx]
//	[ W   0  ] [dy] = [ry]
//
// as a closed tagged union of three strategies (spec.md §9's explicit
// guidance), each owning its own factorization workspace. Rangespace is
// grounded directly on original_source/Optima/Core/SaddlePointSolver.cpp's
// diagonal-scaled canonical elimination; Fullspace and Nullspace are
// grounded on dense.FullPivLU applied to, respectively, the full KKT block
// and the null-space-reduced Hessian, generalizing slsqp/lsei.go's
// reduce-then-solve shape for eliminating equality constraints before
// solving the remaining reduced system.
package saddle

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/echelon"
)

// Method selects the saddle-point strategy.
type Method int

const (
	// Rangespace eliminates the stable primal block to form an SPD Schur
	// complement of size nb = rank(W); the zero value. It reads only
	// Blocks.Hdiag, so off-diagonal Hessian entries are not used.
	Rangespace Method = iota
	// Fullspace factors the complete KKT block directly.
	Fullspace
	// Nullspace eliminates dy using a basis of ker(W).
	Nullspace
)

// Blocks is the per-Decompose input: the KKT coefficient blocks plus the
// affine-scaling and stability data the canonical reduction needs.
type Blocks struct {
	// Hdiag is diag(H), length nx. Required for Rangespace; Nullspace uses
	// it only when H is nil.
	Hdiag *mat.VecDense
	// H is the full Hessian block, nx×nx. Required for Fullspace; if nil
	// there, diag(Hdiag) is used instead.
	H mat.Symmetric
	// W is the ny×nx constraint Jacobian (typically J_x, stacked per
	// residual.Update's assembly).
	W *mat.Dense
	// X is the current primal iterate, length nx, used for the
	// affine/interior-point scaling of spec.md §4.4's numerical policy.
	X *mat.VecDense
	// Z is the instability measure g + Wᵀy, length nx, used the same way
	// X is: as the complementary scaling factor in the canonical system.
	Z *mat.VecDense
	// Unstable holds the original indices frozen by the stability
	// classifier; their dx components are forced to 0.
	Unstable []int
	// Reechelonize gates Rangespace/Nullspace's C2 step: when false (and a
	// prior Decompose on this Solver already ran), the cached echelon.State
	// is reused via Reset+UpdateWeights instead of a fresh echelon.Compute,
	// per spec.md §4.5's configurable re-echelonization threshold. Ignored
	// by Fullspace, which has no echelon step to skip. The first Decompose
	// call on a Solver always computes fresh regardless of this flag.
	Reechelonize bool
}

func (b Blocks) nx() int { return b.W.RawMatrix().Cols }
func (b Blocks) ny() int { return b.W.RawMatrix().Rows }

// Solver is the strategy-dispatching façade: one Solver is built for a
// fixed Method and reused across outer iterations, caching whatever
// factorization its strategy produced at the last Decompose call.
type Solver struct {
	method Method
	relTol float64

	rangespace *rangespaceSolver
	fullspace  *fullspaceSolver
	nullspace  *nullspaceSolver

	rangespaceEch *echelon.State
	nullspaceEch  *echelon.State
}

// New returns a Solver for the given strategy. relTol scales every
// internal rank threshold (echelon and LU alike).
func New(method Method, relTol float64) *Solver {
	return &Solver{method: method, relTol: relTol}
}

// Method reports the strategy this Solver was built for.
func (s *Solver) Method() Method { return s.method }

// Decompose re-echelonizes W (with priority weights ∝ |x|) and computes
// the strategy-specific factorization, caching it for Solve/Sensitivities.
func (s *Solver) Decompose(b Blocks) error {
	switch s.method {
	case Rangespace:
		rs, ech, err := decomposeRangespace(b, s.relTol, s.rangespaceEch)
		if err != nil {
			return err
		}
		s.rangespace = rs
		s.rangespaceEch = ech
	case Fullspace:
		fs, err := decomposeFullspace(b, s.relTol)
		if err != nil {
			return err
		}
		s.fullspace = fs
	case Nullspace:
		ns, ech, err := decomposeNullspace(b, s.relTol, s.nullspaceEch)
		if err != nil {
			return err
		}
		s.nullspace = ns
		s.nullspaceEch = ech
	default:
		return errors.Errorf("saddle: unknown method %d", s.method)
	}
	return nil
}

// Solve forward/back-substitutes against the cached factorization. NaN
// sentinels in dy mark rows tied to a linearly dependent constraint; the
// caller (stepper) replaces them with 0 to freeze the associated
// variables for this step, per spec.md §4.4.
func (s *Solver) Solve(rx, ry *mat.VecDense) (dx, dy *mat.VecDense, err error) {
	switch s.method {
	case Rangespace:
		if s.rangespace == nil {
			return nil, nil, errors.New("saddle: Solve called before Decompose")
		}
		return s.rangespace.solve(rx, ry)
	case Fullspace:
		if s.fullspace == nil {
			return nil, nil, errors.New("saddle: Solve called before Decompose")
		}
		return s.fullspace.solve(rx, ry)
	case Nullspace:
		if s.nullspace == nil {
			return nil, nil, errors.New("saddle: Solve called before Decompose")
		}
		return s.nullspace.solve(rx, ry)
	default:
		return nil, nil, errors.Errorf("saddle: unknown method %d", s.method)
	}
}

// Sensitivities re-uses the cached factorization to solve one linear
// system per parameter column of (dgdp, dbdp, dhdp), returning ∂x/∂p,
// ∂y/∂p, ∂z/∂p. For unstable variables ∂x_i/∂p = 0 and ∂z_i/∂p is
// recovered from the residual rather than solved for.
func (s *Solver) Sensitivities(dgdp, dbdp, dhdp *mat.Dense, unstable []int, w *mat.Dense) (dxdp, dydp, dzdp *mat.Dense, err error) {
	npar := dgdp.RawMatrix().Cols
	nx, _ := dgdp.Dims()
	ny, _ := dbdp.Dims()

	dxdp = mat.NewDense(nx, npar, nil)
	dydp = mat.NewDense(ny, npar, nil)
	dzdp = mat.NewDense(nx, npar, nil)

	unstableSet := make(map[int]bool, len(unstable))
	for _, u := range unstable {
		unstableSet[u] = true
	}

	for p := 0; p < npar; p++ {
		// Stationarity reads g(x,p) + Wᵀy = 0, so differentiating it w.r.t.
		// p gives H·dx/dp + Wᵀ·dy/dp = -∂g/∂p: the same sign flip the outer
		// Newton loop applies when it passes rx = -z into Solve.
		rx := mat.NewVecDense(nx, nil)
		for i := 0; i < nx; i++ {
			rx.SetVec(i, -dgdp.At(i, p))
		}
		ry := mat.NewVecDense(ny, nil)
		for i := 0; i < ny; i++ {
			v := dbdp.At(i, p)
			if dhdp != nil {
				v -= dhdp.At(i, p)
			}
			ry.SetVec(i, v)
		}

		dx, dy, serr := s.Solve(rx, ry)
		if serr != nil {
			return nil, nil, nil, serr
		}
		for i := 0; i < nx; i++ {
			dxdp.Set(i, p, dx.AtVec(i))
		}
		for i := 0; i < ny; i++ {
			dydp.Set(i, p, dy.AtVec(i))
		}
		for i := 0; i < nx; i++ {
			if !unstableSet[i] {
				continue
			}
			// ∂z_i/∂p = ∂g_i/∂p + Wᵢᵀ·∂y/∂p
			sum := dgdp.At(i, p)
			for k := 0; k < ny; k++ {
				sum += w.At(k, i) * dy.AtVec(k)
			}
			dzdp.Set(i, p, sum)
		}
	}
	return dxdp, dydp, dzdp, nil
}

func freezeUnstable(dx *mat.VecDense, unstable []int) {
	for _, i := range unstable {
		dx.SetVec(i, 0)
	}
}
