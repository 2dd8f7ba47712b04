package saddle

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/dense"
	"github.com/ESSS/optima/echelon"
)

// nullspaceSolver eliminates dy using a basis of ker(W) built directly from
// the echelon form's S block — since [I|S]·[xb;xn]=0 on ker(W) implies
// xb = -S·xn, the basis columns are [-S; I] re-mapped through Q, the same
// reduce-then-solve shape as slsqp/lsei.go's null-space elimination of
// equality constraints ahead of its reduced inequality solve. dy recovery
// reuses C1's rank-deficient NaN machinery directly on Wᵀ, rather than
// re-deriving the same rank-deficiency handling a second time.
type nullspaceSolver struct {
	k        *mat.Dense // nx×nn basis of ker(W)
	h        *mat.Dense // nx×nx dense Hessian
	wtLU     *dense.FullPivLU
	reduced  *dense.FullPivLU
	r        *mat.Dense // echelon row-mixer, needed to build a particular solution from ry
	basic    []int      // orig column indices basic in the echelon form
	nb       int
	nx, ny   int
	unstable []int
}

// decomposeNullspace builds the nullspace factorization for b. cachedEch,
// when non-nil and b.Reechelonize is false, is reused (reset to its
// snapshot, then re-weighted) instead of re-running a full echelon.Compute;
// the echelon.State actually used is returned for the caller to cache. The
// Hessian-dependent reduced system and Wᵗ factorization are always rebuilt,
// since H can change every outer iteration even when W does not.
func decomposeNullspace(b Blocks, relTol float64, cachedEch *echelon.State) (*nullspaceSolver, *echelon.State, error) {
	nx, ny := b.nx(), b.ny()

	ech := cachedEch
	if b.Reechelonize || ech == nil {
		ech = echelon.Compute(b.W, relTol)
	} else {
		ech.Reset()
	}
	weights := make([]float64, nx)
	for i := 0; i < nx; i++ {
		weights[i] = 1
		if b.X != nil {
			v := b.X.AtVec(i)
			if v < 0 {
				v = -v
			}
			if v > 1e-10 {
				weights[i] = v
			}
		}
	}
	ech.UpdateWeights(weights)

	nb := ech.Rank()
	nn := nx - nb
	basic := ech.Basic()
	nonBasic := ech.NonBasic()

	k := mat.NewDense(nx, nn, nil)
	for l, orig := range nonBasic {
		k.Set(orig, l, 1)
	}
	for i, orig := range basic {
		for l := 0; l < nn; l++ {
			k.Set(orig, l, -ech.S.At(i, l))
		}
	}

	h := mat.NewDense(nx, nx, nil)
	if b.H != nil {
		for i := 0; i < nx; i++ {
			for j := 0; j < nx; j++ {
				h.Set(i, j, b.H.At(i, j))
			}
		}
	} else if b.Hdiag != nil {
		for i := 0; i < nx; i++ {
			h.Set(i, i, b.Hdiag.AtVec(i))
		}
	}

	var hk mat.Dense
	hk.Mul(h, k)
	var reduced mat.Dense
	reduced.Mul(k.T(), &hk)

	reducedLU := dense.Decompose(&reduced, relTol)

	wt := mat.DenseCopyOf(b.W.T())
	wtLU := dense.Decompose(wt, relTol)

	return &nullspaceSolver{
		k: k, h: h, wtLU: wtLU, reduced: reducedLU,
		r: ech.R, basic: basic, nb: nb,
		nx: nx, ny: ny, unstable: append([]int(nil), b.Unstable...),
	}, ech, nil
}

// solve builds a particular solution dx_p with W·dx_p = ry from the
// echelon form's basic block (canonical xn = 0, xb = (R·ry)[:nb]), then
// corrects it by a homogeneous term K·z chosen to satisfy the first KKT
// block equation: Kᵗ·H·K·z = Kᵗ·(rx - H·dx_p).
func (n *nullspaceSolver) solve(rx, ry *mat.VecDense) (dx, dy *mat.VecDense, err error) {
	_, nn := n.k.Dims()

	var rCanon mat.VecDense
	rCanon.MulVec(n.r, ry)

	dxp := mat.NewVecDense(n.nx, nil)
	for i, orig := range n.basic {
		dxp.SetVec(orig, rCanon.AtVec(i))
	}

	var hdxp mat.VecDense
	hdxp.MulVec(n.h, dxp)

	rhsZ := mat.NewVecDense(n.nx, nil)
	for i := 0; i < n.nx; i++ {
		rhsZ.SetVec(i, rx.AtVec(i)-hdxp.AtVec(i))
	}
	var ktRhs mat.VecDense
	ktRhs.MulVec(n.k.T(), rhsZ)

	z := mat.NewVecDense(nn, nil)
	n.reduced.SolveVecInto(z, &ktRhs)

	var kz mat.VecDense
	kz.MulVec(n.k, z)

	dx = mat.NewVecDense(n.nx, nil)
	for i := 0; i < n.nx; i++ {
		dx.SetVec(i, dxp.AtVec(i)+kz.AtVec(i))
	}
	freezeUnstable(dx, n.unstable)

	var hdx mat.VecDense
	hdx.MulVec(n.h, dx)

	rhsDy := mat.NewVecDense(n.nx, nil)
	for i := 0; i < n.nx; i++ {
		rhsDy.SetVec(i, rx.AtVec(i)-hdx.AtVec(i))
	}

	dy = mat.NewVecDense(n.ny, nil)
	n.wtLU.SolveVecInto(dy, rhsDy)

	return dx, dy, nil
}
