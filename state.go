package optima

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/stability"
)

// State is the solver's in/out iterate object (spec §6). Stability is
// exposed read-only for inspection; Dxdp/Dydp/Dzdp are filled only after
// an explicit Solver.Sensitivities call.
type State struct {
	U *MasterVector

	Stability *stability.Partition

	Dxdp *mat.Dense
	Dydp *mat.Dense
	Dzdp *mat.Dense
}

// Result reports the outcome of one Solver.Solve call (spec §6, plus the
// timing breakdown and residual norms of SPEC_FULL.md §7).
type Result struct {
	Succeeded     bool
	FailureReason string
	Iterations    int

	RxNorm float64
	RyNorm float64

	Timing map[string]time.Duration
}
