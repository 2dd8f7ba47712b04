// Package sensitivity implements the C7 component: a thin post-convergence
// driver that asks the already-decomposed saddle-point solver for
// ∂(x,y,z)/∂p by re-solving KKT with differentiated right-hand sides, per
// spec.md §4.7. It performs no new factorization, the same reuse-a-fixed-
// factor shape as slsqp.LSQ solving repeated least-squares systems against
// one cached LDLT/LU decomposition.
package sensitivity

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// KKTSolver is the subset of saddle.Solver's contract sensitivity depends
// on, kept narrow so this package never imports saddle directly and stays
// a leaf consumer of whatever cached factorization the caller owns.
type KKTSolver interface {
	Sensitivities(dgdp, dbdp, dhdp *mat.Dense, unstable []int, w *mat.Dense) (dxdp, dydp, dzdp *mat.Dense, err error)
}

// Result holds the three sensitivity blocks, per spec.md §6's State
// `dxdp, dydp, dzdp` fields.
type Result struct {
	Dxdp *mat.Dense
	Dydp *mat.Dense
	Dzdp *mat.Dense
}

// Compute asks kkt (an already-decomposed saddle-point solver) for the
// parameter sensitivities, differentiating the objective gradient (dgdp),
// linear constraint RHS (dbdp), and nonlinear constraint residual (dhdp)
// with respect to p. unstable holds the original x-indices the stability
// classifier has frozen; w is the combined constraint Jacobian at the
// converged iterate, needed to recover ∂z/∂p for those frozen indices.
func Compute(kkt KKTSolver, dgdp, dbdp, dhdp *mat.Dense, unstable []int, w *mat.Dense) (*Result, error) {
	if dgdp == nil {
		return nil, errors.New("sensitivity: dgdp is required")
	}
	dxdp, dydp, dzdp, err := kkt.Sensitivities(dgdp, dbdp, dhdp, unstable, w)
	if err != nil {
		return nil, errors.Wrap(err, "sensitivity: re-solve with differentiated RHS failed")
	}
	return &Result{Dxdp: dxdp, Dydp: dydp, Dzdp: dzdp}, nil
}
