package saddle

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/dense"
	"github.com/ESSS/optima/echelon"
)

// rangespaceSolver is grounded directly on
// original_source/Optima/Core/SaddlePointSolver.cpp's Impl::decompose and
// Impl::solve: the canonical, diagonally-scaled elimination of the stable
// primal block into an SPD Schur complement of size nb. The dual-bound
// rhs component ("c"/"t" in the original) is always zero here, since
// spec.md's two-part (rx, ry) contract has no third block — every term
// that multiplies t collapses, which is why the z-path (zb/zs/zu) never
// appears below.
type rangespaceSolver struct {
	ech *echelon.State

	nb, ns, nu int
	basic      []int // orig idx, len nb
	stableOrig []int // orig idx, len ns
	unstOrig   []int // orig idx, len nu

	x, zscale []float64 // full-length (nx), original indexing

	gbEb, gsEs, guEu []float64
	bb               []float64 // len nb
	bsp, bup         *mat.Dense

	ldlt *dense.LDLT

	nx, ny int
}

// decomposeRangespace builds the rangespace factorization for b. cachedEch,
// when non-nil and b.Reechelonize is false, is reused (reset to its
// snapshot, then re-weighted) instead of re-running a full echelon.Compute;
// the echelon.State actually used is returned for the caller to cache.
func decomposeRangespace(b Blocks, relTol float64, cachedEch *echelon.State) (*rangespaceSolver, *echelon.State, error) {
	nx, ny := b.nx(), b.ny()
	if b.Hdiag == nil {
		return nil, nil, errors.New("saddle: Rangespace requires Blocks.Hdiag")
	}

	ech := cachedEch
	if b.Reechelonize || ech == nil {
		ech = echelon.Compute(b.W, relTol)
	} else {
		ech.Reset()
	}
	weights := make([]float64, nx)
	for i := 0; i < nx; i++ {
		weights[i] = math.Max(math.Abs(b.X.AtVec(i)), 1e-10)
	}
	ech.UpdateWeights(weights)

	nb := ech.Rank()
	basic := ech.Basic()
	nonBasic := ech.NonBasic()

	unstableSet := make(map[int]bool, len(b.Unstable))
	for _, u := range b.Unstable {
		unstableSet[u] = true
	}

	origToPos := make(map[int]int, len(nonBasic))
	for l, orig := range nonBasic {
		origToPos[orig] = l
	}

	var stableOrig, unstOrig []int
	for _, orig := range nonBasic {
		if unstableSet[orig] {
			unstOrig = append(unstOrig, orig)
		} else {
			stableOrig = append(stableOrig, orig)
		}
	}
	ns, nu := len(stableOrig), len(unstOrig)

	x := make([]float64, nx)
	zscale := make([]float64, nx)
	for i := 0; i < nx; i++ {
		x[i] = b.X.AtVec(i)
		zscale[i] = b.Z.AtVec(i)
	}

	gOf := func(orig int) float64 { return x[orig] * b.Hdiag.AtVec(orig) * x[orig] }
	eOf := func(orig int) float64 { return -x[orig] * zscale[orig] }

	gbEb := make([]float64, nb)
	for i, orig := range basic {
		gbEb[i] = gOf(orig) - eOf(orig)
	}
	gsEs := make([]float64, ns)
	for l, orig := range stableOrig {
		gsEs[l] = gOf(orig) - eOf(orig)
	}
	guEu := make([]float64, nu)
	for l, orig := range unstOrig {
		guEu[l] = gOf(orig) - eOf(orig)
	}

	bb := make([]float64, nb)
	for i, orig := range basic {
		bb[i] = x[orig]
	}

	// bsp/bup stay nil when their block is empty; every later read is
	// bounded by ns or nu.
	var bsp, bup *mat.Dense
	if ns > 0 {
		bsp = mat.NewDense(nb, ns, nil)
		for i := 0; i < nb; i++ {
			for l, orig := range stableOrig {
				bsp.Set(i, l, ech.S.At(i, origToPos[orig])*x[orig]/bb[i])
			}
		}
	}
	if nu > 0 {
		bup = mat.NewDense(nb, nu, nil)
		for i := 0; i < nb; i++ {
			for l, orig := range unstOrig {
				bup.Set(i, l, ech.S.At(i, origToPos[orig])*x[orig]/bb[i])
			}
		}
	}

	data := make([]float64, nb*nb)
	for i := 0; i < nb; i++ {
		for j := 0; j < nb; j++ {
			sum := 0.0
			if i == j {
				sum = 1 / gbEb[i]
			}
			for l := 0; l < ns; l++ {
				sum += bsp.At(i, l) * bsp.At(j, l) / gsEs[l]
			}
			for l := 0; l < nu; l++ {
				sum += bup.At(i, l) * bup.At(j, l) / guEu[l]
			}
			data[i*nb+j] = sum
		}
	}
	schur := mat.NewSymDense(nb, data)
	ldlt, _ := dense.DecomposeLDLT(schur)

	return &rangespaceSolver{
		ech: ech, nb: nb, ns: ns, nu: nu,
		basic: basic, stableOrig: stableOrig, unstOrig: unstOrig,
		x: x, zscale: zscale,
		gbEb: gbEb, gsEs: gsEs, guEu: guEu,
		bb: bb, bsp: bsp, bup: bup,
		ldlt: ldlt, nx: nx, ny: ny,
	}, ech, nil
}

func (r *rangespaceSolver) solve(rx, ry *mat.VecDense) (dx, dy *mat.VecDense, err error) {
	canonicalOrig := make([]int, 0, r.nx)
	canonicalOrig = append(canonicalOrig, r.basic...)
	canonicalOrig = append(canonicalOrig, r.stableOrig...)
	canonicalOrig = append(canonicalOrig, r.unstOrig...)

	rCanon := make([]float64, r.nx)
	for k, orig := range canonicalOrig {
		rCanon[k] = r.x[orig] * rx.AtVec(orig)
	}
	rb := rCanon[:r.nb]
	rs := rCanon[r.nb : r.nb+r.ns]
	ru := rCanon[r.nb+r.ns:]

	var sFull mat.VecDense
	sFull.MulVec(r.ech.R, ry)

	bsTrb := make([]float64, r.ns)
	for l := 0; l < r.ns; l++ {
		sum := 0.0
		for i := 0; i < r.nb; i++ {
			sum += r.bsp.At(i, l) * rb[i]
		}
		bsTrb[l] = sum
	}
	buTrb := make([]float64, r.nu)
	for l := 0; l < r.nu; l++ {
		sum := 0.0
		for i := 0; i < r.nb; i++ {
			sum += r.bup.At(i, l) * rb[i]
		}
		buTrb[l] = sum
	}

	rhsXb := mat.NewVecDense(r.nb, nil)
	for i := 0; i < r.nb; i++ {
		v := sFull.AtVec(i) / r.bb[i]
		for l := 0; l < r.ns; l++ {
			v += r.bsp.At(i, l) * (bsTrb[l] - rs[l]) / r.gsEs[l]
		}
		for l := 0; l < r.nu; l++ {
			v += r.bup.At(i, l) * (buTrb[l] - ru[l]) / r.guEu[l]
		}
		rhsXb.SetVec(i, v)
	}

	xb := mat.NewVecDense(r.nb, nil)
	r.ldlt.SolveVecInto(xb, rhsXb)

	y := make([]float64, r.nb)
	for i := 0; i < r.nb; i++ {
		y[i] = rb[i] - xb.AtVec(i)
	}
	for i := 0; i < r.nb; i++ {
		xb.SetVec(i, xb.AtVec(i)/r.gbEb[i])
	}

	xs := make([]float64, r.ns)
	for l := 0; l < r.ns; l++ {
		bspTy := 0.0
		for i := 0; i < r.nb; i++ {
			bspTy += r.bsp.At(i, l) * y[i]
		}
		xs[l] = (rs[l] - bspTy) / r.gsEs[l]
	}

	for i := 0; i < r.nb; i++ {
		y[i] /= r.bb[i]
	}

	dx = mat.NewVecDense(r.nx, nil)
	for i, orig := range r.basic {
		dx.SetVec(orig, r.x[orig]*xb.AtVec(i))
	}
	for l, orig := range r.stableOrig {
		dx.SetVec(orig, r.x[orig]*xs[l])
	}
	for _, orig := range r.unstOrig {
		dx.SetVec(orig, 0)
	}

	yFull := mat.NewVecDense(r.ny, nil)
	for i := 0; i < r.nb; i++ {
		yFull.SetVec(i, y[i])
	}
	var dyVec mat.VecDense
	dyVec.MulVec(r.ech.R.T(), yFull)
	for _, row := range r.ech.DependentRows() {
		dyVec.SetVec(row, math.NaN())
	}

	return dx, &dyVec, nil
}
