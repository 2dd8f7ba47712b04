package saddle

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/dense"
)

// fullspaceSolver forms and LU-factors the complete KKT block directly,
// the robust O((nx+ny)³) strategy of spec.md §4.4.
type fullspaceSolver struct {
	lu       *dense.FullPivLU
	nx, ny   int
	unstable []int
}

func decomposeFullspace(b Blocks, relTol float64) (*fullspaceSolver, error) {
	nx, ny := b.nx(), b.ny()
	n := nx + ny

	full := mat.NewDense(n, n, nil)
	if b.H != nil {
		for i := 0; i < nx; i++ {
			for j := 0; j < nx; j++ {
				full.Set(i, j, b.H.At(i, j))
			}
		}
	} else if b.Hdiag != nil {
		for i := 0; i < nx; i++ {
			full.Set(i, i, b.Hdiag.AtVec(i))
		}
	}
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			full.Set(nx+i, j, b.W.At(i, j))
			full.Set(j, nx+i, b.W.At(i, j))
		}
	}

	lu := dense.Decompose(full, relTol)
	return &fullspaceSolver{lu: lu, nx: nx, ny: ny, unstable: append([]int(nil), b.Unstable...)}, nil
}

func (f *fullspaceSolver) solve(rx, ry *mat.VecDense) (dx, dy *mat.VecDense, err error) {
	n := f.nx + f.ny
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < f.nx; i++ {
		rhs.SetVec(i, rx.AtVec(i))
	}
	for i := 0; i < f.ny; i++ {
		rhs.SetVec(f.nx+i, ry.AtVec(i))
	}

	sol := mat.NewVecDense(n, nil)
	f.lu.SolveVecInto(sol, rhs)

	dx = mat.NewVecDense(f.nx, nil)
	for i := 0; i < f.nx; i++ {
		dx.SetVec(i, sol.AtVec(i))
	}
	freezeUnstable(dx, f.unstable)

	dy = mat.NewVecDense(f.ny, nil)
	for i := 0; i < f.ny; i++ {
		dy.SetVec(i, sol.AtVec(f.nx+i))
	}
	return dx, dy, nil
}
