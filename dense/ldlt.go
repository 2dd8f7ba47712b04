package dense

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LDLT is a symmetric L·D·Lᵀ factorization used by the saddle-point
// solver's Schur-complement system. When the matrix is positive definite
// (the common rangespace case) this wraps gonum's mat.Cholesky directly;
// otherwise it falls back to a hand-rolled LDLT without pivoting in the
// style of lbfgsb's dpofa, generalized to allow non-positive diagonal
// entries rather than aborting.
type LDLT struct {
	n     int
	chol  *mat.Cholesky // set when the matrix was positive definite
	l     *mat.Dense    // unit lower triangular, set on the fallback path
	d     []float64     // diagonal, set on the fallback path
	spd   bool
	rank  int
}

// DecomposeLDLT factors the symmetric matrix a. The second return value
// reports whether a was positive definite (the fast Cholesky path was
// used); false indicates the general indefinite fallback ran instead.
func DecomposeLDLT(a mat.Symmetric) (*LDLT, bool) {
	n := a.SymmetricDim()

	var chol mat.Cholesky
	if chol.Factorize(a) {
		return &LDLT{n: n, chol: &chol, spd: true, rank: n}, true
	}

	l := mat.NewDense(n, n, nil)
	d := make([]float64, n)
	rank := 0
	for j := 0; j < n; j++ {
		l.Set(j, j, 1)
		sum := a.At(j, j)
		for k := 0; k < j; k++ {
			sum -= l.At(j, k) * l.At(j, k) * d[k]
		}
		d[j] = sum
		if math.Abs(d[j]) > machineEps {
			rank++
		}
		for i := j + 1; i < n; i++ {
			sum := a.At(i, j)
			for k := 0; k < j; k++ {
				sum -= l.At(i, k) * l.At(j, k) * d[k]
			}
			if d[j] != 0 {
				l.Set(i, j, sum/d[j])
			}
		}
	}
	return &LDLT{n: n, l: l, d: d, spd: false, rank: rank}, false
}

// SolveVecInto solves A·x = b using the cached factorization. Components
// corresponding to a (near-)zero pivot on the indefinite fallback path are
// reported as NaN, matching the Schur-complement NaN-sentinel convention
// described for C4.
func (f *LDLT) SolveVecInto(dst *mat.VecDense, b mat.Vector) {
	if f.spd {
		// mat.Cholesky.SolveVecTo returns an error only on dimension
		// mismatch, which is a precondition violation upstream callers
		// are expected to have already checked via Dims().
		_ = f.chol.SolveVecTo(dst, b)
		return
	}

	n := f.n
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b.AtVec(i)
		for k := 0; k < i; k++ {
			sum -= f.l.At(i, k) * y[k]
		}
		y[i] = sum
	}
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.Abs(f.d[i]) <= machineEps {
			z[i] = math.NaN()
			continue
		}
		z[i] = y[i] / f.d[i]
	}
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for k := i + 1; k < n; k++ {
			sum -= f.l.At(k, i) * x[k]
		}
		x[i] = sum
	}
	for i := 0; i < n; i++ {
		dst.SetVec(i, x[i])
	}
}

// Rank reports the number of non-negligible pivots found.
func (f *LDLT) Rank() int { return f.rank }

// Dim reports the order of the factored matrix.
func (f *LDLT) Dim() int { return f.n }
