// Package dense implements the C1 component of the engine: the dense
// LU and LDLT primitives the rest of the engine treats as coming from a
// host numerical library. gonum.org/v1/gonum/mat supplies the matrix
// storage and the basic triangular-solve/matmul kernels; this package adds
// the full-pivoting rank detection and NaN-sentinel propagation that
// gonum's own mat.LU (row pivoting only) does not provide.
package dense

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// machineEps is the float64 machine epsilon used by the rank threshold.
const machineEps = 2.220446049250313e-16

// FullPivLU is a full (row- and column-) pivoting LU factorization
// P·A·Q = L·U of a rectangular m×n matrix, with unit-lower L and upper U.
//
// Rank is detected by thresholded inspection of |diag(U)|: the threshold
// is τ = maxPivot·relTol·max(m,n), falling back to an absolute threshold of
// 1 when the largest pivot found is below 10·ε. Columns/rows beyond the
// detected rank are left unreduced; solves against them report NaN so
// callers can freeze the corresponding variables, per the C1 contract.
type FullPivLU struct {
	m, n int
	rank int
	lu   *mat.Dense // packed L (below diag, unit diag implicit) and U (on/above diag)
	// rowPerm[i] is the original row now sitting at pivoted row i.
	rowPerm []int
	// colPerm[j] is the original column now sitting at pivoted column j.
	colPerm []int
	tau     float64
}

// Decompose computes the full-pivoting LU factorization of a, using relTol
// to scale the rank threshold. a is copied; the caller's matrix is untouched.
func Decompose(a mat.Matrix, relTol float64) *FullPivLU {
	m, n := a.Dims()
	lu := mat.DenseCopyOf(a)

	rowPerm := make([]int, m)
	colPerm := make([]int, n)
	for i := range rowPerm {
		rowPerm[i] = i
	}
	for j := range colPerm {
		colPerm[j] = j
	}

	kmax := min(m, n)
	maxPivot := 0.0
	tau := 0.0
	rank := 0

	for k := 0; k < kmax; k++ {
		pi, pj, pv := k, k, 0.0
		for i := k; i < m; i++ {
			for j := k; j < n; j++ {
				if v := math.Abs(lu.At(i, j)); v > pv {
					pv, pi, pj = v, i, j
				}
			}
		}
		if k == 0 {
			maxPivot = pv
			tau = pivotThreshold(maxPivot, relTol, m, n)
		}
		if pv <= tau {
			break
		}

		if pi != k {
			swapRows(lu, pi, k)
			rowPerm[pi], rowPerm[k] = rowPerm[k], rowPerm[pi]
		}
		if pj != k {
			swapCols(lu, pj, k)
			colPerm[pj], colPerm[k] = colPerm[k], colPerm[pj]
		}

		piv := lu.At(k, k)
		for i := k + 1; i < m; i++ {
			factor := lu.At(i, k) / piv
			lu.Set(i, k, factor)
			for j := k + 1; j < n; j++ {
				lu.Set(i, j, lu.At(i, j)-factor*lu.At(k, j))
			}
		}
		rank++
	}

	return &FullPivLU{m: m, n: n, rank: rank, lu: lu, rowPerm: rowPerm, colPerm: colPerm, tau: tau}
}

// pivotThreshold implements the τ rule from the C1 contract.
func pivotThreshold(maxPivot, relTol float64, m, n int) float64 {
	if maxPivot < 10*machineEps {
		return 1
	}
	return maxPivot * relTol * float64(max(m, n))
}

// Rank reports the detected rank.
func (f *FullPivLU) Rank() int { return f.rank }

// Dims reports the original (unpermuted) dimensions.
func (f *FullPivLU) Dims() (m, n int) { return f.m, f.n }

// RowPerm returns the row permutation: RowPerm()[i] is the original row
// index currently at pivoted position i.
func (f *FullPivLU) RowPerm() []int { return f.rowPerm }

// ColPerm returns the column permutation, analogous to RowPerm.
func (f *FullPivLU) ColPerm() []int { return f.colPerm }

// Threshold returns the pivot threshold τ used to detect rank deficiency.
func (f *FullPivLU) Threshold() float64 { return f.tau }

// L returns the unit-lower-triangular factor, sized m×rank.
func (f *FullPivLU) L() *mat.Dense {
	r := f.rank
	l := mat.NewDense(f.m, r, nil)
	for i := 0; i < f.m; i++ {
		for j := 0; j < r && j < i+1; j++ {
			if i == j {
				l.Set(i, j, 1)
			} else if i > j {
				l.Set(i, j, f.lu.At(i, j))
			}
		}
	}
	return l
}

// U returns the upper-triangular factor, sized rank×n.
func (f *FullPivLU) U() *mat.Dense {
	r := f.rank
	u := mat.NewDense(r, f.n, nil)
	for i := 0; i < r; i++ {
		for j := i; j < f.n; j++ {
			u.Set(i, j, f.lu.At(i, j))
		}
	}
	return u
}

// SolveVecInto solves A·x = b using the leading rank×rank block of the
// factorization: components of x for pivoted columns beyond the rank are
// set to NaN so the caller can freeze the associated variables. Every
// component is NaN when the rank is 0, or when the rows beyond the rank
// leave a residual above the rank threshold (an inconsistent system).
func (f *FullPivLU) SolveVecInto(dst *mat.VecDense, b mat.Vector) {
	m, n, r := f.m, f.n, f.rank

	// Permute b into pivoted row order.
	pb := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		pb.SetVec(i, b.AtVec(f.rowPerm[i]))
	}

	// Forward substitution L·y = pb for the first r rows.
	y := make([]float64, r)
	for i := 0; i < r; i++ {
		sum := pb.AtVec(i)
		for j := 0; j < i; j++ {
			sum -= f.lu.At(i, j) * y[j]
		}
		y[i] = sum
	}

	// Rows beyond rank must be (numerically) zero for a consistent system;
	// any residual there cannot be explained and is reported back as NaN
	// on the whole solution rather than silently dropped.
	inconsistent := false
	for i := r; i < m; i++ {
		sum := pb.AtVec(i)
		for j := 0; j < r; j++ {
			sum -= f.lu.At(i, j) * y[j]
		}
		if math.Abs(sum) > f.tau {
			inconsistent = true
		}
	}

	px := make([]float64, n)
	if inconsistent || r == 0 {
		for j := range px {
			px[j] = math.NaN()
		}
	} else {
		// Back substitution U·py = y using only the first r columns; the
		// remaining n-r columns are rank-deficient and set to NaN.
		for i := r - 1; i >= 0; i-- {
			sum := y[i]
			for j := i + 1; j < r; j++ {
				sum -= f.lu.At(i, j) * px[j]
			}
			px[i] = sum / f.lu.At(i, i)
		}
		for j := r; j < n; j++ {
			px[j] = math.NaN()
		}
	}

	// Undo column permutation.
	for j := 0; j < n; j++ {
		dst.SetVec(f.colPerm[j], px[j])
	}
}

func swapRows(d *mat.Dense, i, j int) {
	if i == j {
		return
	}
	_, n := d.Dims()
	for c := 0; c < n; c++ {
		vi, vj := d.At(i, c), d.At(j, c)
		d.Set(i, c, vj)
		d.Set(j, c, vi)
	}
}

func swapCols(d *mat.Dense, i, j int) {
	if i == j {
		return
	}
	m, _ := d.Dims()
	for r := 0; r < m; r++ {
		vi, vj := d.At(r, i), d.At(r, j)
		d.Set(r, i, vj)
		d.Set(r, j, vi)
	}
}
