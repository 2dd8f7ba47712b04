// Package echelon implements the C2 component: an incrementally maintained
// canonical row-reduced form R·A·Q = [I | S] of a rectangular coefficient
// matrix, under weighted column re-ordering. It is grounded on the
// teacher's slsqp/hfti.go column-pivoting-by-largest-remaining-column
// logic (the greedy largest-weighted-entry rule in UpdateWeights mirrors
// HFTI's lmax column selection) and built on top of dense.FullPivLU for
// the initial factorization.
package echelon

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/dense"
)

// State is the echelon state of spec.md §3/§4.2: R (ny×ny, non-singular),
// S (rank×(nx-rank)), and the column partition (jb, jn) of length rank and
// nx-rank respectively. Columns of [I|S] are kept ordered within each
// partition by descending priority weight once UpdateWeights has run.
type State struct {
	ny, nx, rank int

	R *mat.Dense // ny×ny
	S *mat.Dense // rank×(nx-rank)

	// jb[i] is the original column index basic in row i.
	jb []int
	// jn[l] is the original column index non-basic at position l.
	jn []int

	tau   float64 // pivot-refusal threshold, from the originating LU
	sigma float64 // round-off scrub scale, per Compute's contract

	// dependentRows holds the original row indices the LU's pivoting
	// identified as linearly dependent on earlier rows (ny-rank of them).
	dependentRows []int

	// snapshot captured by Compute, restored by Reset.
	r0, s0   *mat.Dense
	jb0, jn0 []int
}

// Compute performs a full-pivoting LU of A (ny×nx), builds R from the
// pivot permutation and L⁻¹·U_bb⁻¹, computes S = U_bb⁻¹·U_bn, and records
// the (R₀, S₀, Q₀) snapshot Reset restores. relTol scales the LU's rank
// threshold, as in dense.Decompose.
func Compute(a *mat.Dense, relTol float64) *State {
	ny, nx := a.Dims()
	lu := dense.Decompose(a, relTol)
	rank := lu.Rank()

	st := &State{ny: ny, nx: nx, rank: rank, tau: lu.Threshold()}
	st.sigma = roundoffScale(a)

	l := lu.L() // ny×rank, unit lower triangular in its first `rank` rows
	u := lu.U() // rank×nx

	lb := sliceSquare(l, rank)     // rank×rank unit lower triangular
	ubb := sliceSquareCols(u, rank) // rank×rank upper triangular
	ubn := sliceColsFrom(u, rank)   // rank×(nx-rank)

	lbInv := invertUnitLowerTri(lb)
	ubbInv := invertUpperTri(ubb)

	// N = [[Lb⁻¹, 0], [-Lr·Lb⁻¹, I]] undoes L; D = [[Ubb⁻¹,0],[0,I]] then
	// scales the top rank rows. R = D·N·P where P is the row permutation
	// recorded by the LU (spec.md §4.2: "initialize R from P and
	// L⁻¹·U_bb⁻¹").
	n := mat.NewDense(ny, ny, nil)
	for i := 0; i < rank; i++ {
		for j := 0; j < rank; j++ {
			n.Set(i, j, lbInv.At(i, j))
		}
	}
	if ny > rank {
		lr := sliceRows(l, rank, ny) // (ny-rank)×rank
		var negLrLbInv mat.Dense
		negLrLbInv.Mul(lr, lbInv)
		negLrLbInv.Scale(-1, &negLrLbInv)
		for i := 0; i < ny-rank; i++ {
			for j := 0; j < rank; j++ {
				n.Set(rank+i, j, negLrLbInv.At(i, j))
			}
			n.Set(rank+i, rank+i, 1)
		}
	}

	d := mat.NewDense(ny, ny, nil)
	for i := 0; i < rank; i++ {
		for j := 0; j < rank; j++ {
			d.Set(i, j, ubbInv.At(i, j))
		}
	}
	for i := rank; i < ny; i++ {
		d.Set(i, i, 1)
	}

	var dn mat.Dense
	dn.Mul(d, n)

	r := mat.NewDense(ny, ny, nil)
	rowPerm := lu.RowPerm()
	for newRow := 0; newRow < ny; newRow++ {
		origRow := rowPerm[newRow]
		for i := 0; i < ny; i++ {
			r.Set(i, origRow, dn.At(i, newRow))
		}
	}
	st.R = r

	s := mat.NewDense(rank, nx-rank, nil)
	s.Mul(ubbInv, ubn)
	st.S = s

	colPerm := lu.ColPerm()
	st.jb = append([]int(nil), colPerm[:rank]...)
	st.jn = append([]int(nil), colPerm[rank:]...)
	st.dependentRows = append([]int(nil), rowPerm[rank:]...)

	st.snapshot()
	return st
}

// DependentRows returns the original row indices the initial factorization
// identified as linearly dependent on earlier rows — exactly the rows a
// saddle-point solver must report as indeterminate (NaN) in its dual
// solution when rank < ny.
func (s *State) DependentRows() []int { return append([]int(nil), s.dependentRows...) }

func (s *State) snapshot() {
	s.r0 = mat.DenseCopyOf(s.R)
	s.s0 = mat.DenseCopyOf(s.S)
	s.jb0 = append([]int(nil), s.jb...)
	s.jn0 = append([]int(nil), s.jn...)
}

// Reset restores (R, S, Q) to the snapshot captured at Compute. Idempotent.
func (s *State) Reset() {
	s.R = mat.DenseCopyOf(s.r0)
	s.S = mat.DenseCopyOf(s.s0)
	s.jb = append([]int(nil), s.jb0...)
	s.jn = append([]int(nil), s.jn0...)
}

// Rank, NY, NX report the echelon state's dimensions.
func (s *State) Rank() int { return s.rank }
func (s *State) NY() int   { return s.ny }
func (s *State) NX() int   { return s.nx }

// Basic returns the original column indices currently basic, row-ordered.
func (s *State) Basic() []int { return append([]int(nil), s.jb...) }

// NonBasic returns the original column indices currently non-basic.
func (s *State) NonBasic() []int { return append([]int(nil), s.jn...) }

// Q returns the full column permutation [jb..., jn...]: Q[k] is the
// original column index at canonical position k.
func (s *State) Q() []int {
	q := make([]int, s.nx)
	copy(q, s.jb)
	copy(q[s.rank:], s.jn)
	return q
}

// Swap exchanges basic row basicPos with non-basic column nonbasicPos via
// a single Gauss-Jordan pivot on S[basicPos][nonbasicPos]. Refused — a
// precondition violation, not a recoverable numerical outcome — when the
// pivot magnitude is at or below the threshold recorded at Compute.
func (s *State) Swap(basicPos, nonbasicPos int) error {
	if basicPos < 0 || basicPos >= s.rank || nonbasicPos < 0 || nonbasicPos >= s.nx-s.rank {
		return errors.Errorf("echelon: swap index out of range (basic=%d nonbasic=%d rank=%d)", basicPos, nonbasicPos, s.rank)
	}
	p := s.S.At(basicPos, nonbasicPos)
	if math.Abs(p) <= s.tau {
		return errors.Errorf("echelon: refusing swap, pivot %.3e at or below threshold %.3e", p, s.tau)
	}

	nNon := s.nx - s.rank
	oldSi := make([]float64, nNon)
	for l := 0; l < nNon; l++ {
		oldSi[l] = s.S.At(basicPos, l)
	}
	oldRi := make([]float64, s.ny)
	for l := 0; l < s.ny; l++ {
		oldRi[l] = s.R.At(basicPos, l)
	}

	for k := 0; k < s.rank; k++ {
		if k == basicPos {
			continue
		}
		factor := s.S.At(k, nonbasicPos) / p
		if factor == 0 {
			continue
		}
		for l := 0; l < nNon; l++ {
			s.S.Set(k, l, s.S.At(k, l)-factor*oldSi[l])
		}
		s.S.Set(k, nonbasicPos, -factor)
		for l := 0; l < s.ny; l++ {
			s.R.Set(k, l, s.R.At(k, l)-factor*oldRi[l])
		}
	}
	for l := 0; l < nNon; l++ {
		s.S.Set(basicPos, l, oldSi[l]/p)
	}
	s.S.Set(basicPos, nonbasicPos, 1/p)
	for l := 0; l < s.ny; l++ {
		s.R.Set(basicPos, l, oldRi[l]/p)
	}

	s.jb[basicPos], s.jn[nonbasicPos] = s.jn[nonbasicPos], s.jb[basicPos]
	return nil
}

// UpdateWeights performs the greedy re-ordering of spec.md §4.2: for each
// basic row, swap in the non-basic column with the largest |S_ij|·w_j when
// it strictly exceeds the row's current basic weight, then stable-sorts
// basic rows and non-basic columns by descending weight within their
// partitions. w is indexed by original column.
func (s *State) UpdateWeights(w []float64) {
	for i := 0; i < s.rank; i++ {
		best, bestVal := -1, w[s.jb[i]]
		for l, col := range s.jn {
			v := math.Abs(s.S.At(i, l)) * w[col]
			if v > bestVal {
				best, bestVal = l, v
			}
		}
		if best >= 0 {
			// Swap errors only on a refused (near-singular) pivot; a
			// refused candidate simply isn't re-ordered this pass.
			_ = s.Swap(i, best)
		}
	}

	basicOrder := make([]int, s.rank)
	for i := range basicOrder {
		basicOrder[i] = i
	}
	sort.SliceStable(basicOrder, func(a, b int) bool {
		return w[s.jb[basicOrder[a]]] > w[s.jb[basicOrder[b]]]
	})
	s.permuteRows(basicOrder)

	nNon := s.nx - s.rank
	nonOrder := make([]int, nNon)
	for i := range nonOrder {
		nonOrder[i] = i
	}
	sort.SliceStable(nonOrder, func(a, b int) bool {
		return w[s.jn[nonOrder[a]]] > w[s.jn[nonOrder[b]]]
	})
	s.permuteCols(nonOrder)
}

// permuteRows reorders the rank basic rows of R and S (and jb) according
// to order, where order[newPos] = oldPos.
func (s *State) permuteRows(order []int) {
	newR := mat.NewDense(s.ny, s.ny, nil)
	newS := mat.NewDense(s.rank, s.nx-s.rank, nil)
	newJb := make([]int, s.rank)
	for newPos, oldPos := range order {
		for j := 0; j < s.ny; j++ {
			newR.Set(newPos, j, s.R.At(oldPos, j))
		}
		for j := 0; j < s.nx-s.rank; j++ {
			newS.Set(newPos, j, s.S.At(oldPos, j))
		}
		newJb[newPos] = s.jb[oldPos]
	}
	// rows beyond rank in R are untouched (they stay zero/identity carry).
	for i := s.rank; i < s.ny; i++ {
		for j := 0; j < s.ny; j++ {
			newR.Set(i, j, s.R.At(i, j))
		}
	}
	s.R, s.S, s.jb = newR, newS, newJb
}

// permuteCols reorders the non-basic columns of S (and jn) according to
// order, where order[newPos] = oldPos.
func (s *State) permuteCols(order []int) {
	newS := mat.NewDense(s.rank, s.nx-s.rank, nil)
	newJn := make([]int, len(order))
	for newPos, oldPos := range order {
		for i := 0; i < s.rank; i++ {
			newS.Set(i, newPos, s.S.At(i, oldPos))
		}
		newJn[newPos] = s.jn[oldPos]
	}
	s.S, s.jn = newS, newJn
}

// CleanRoundoff adds then subtracts sigma from every entry of R and S to
// zero out residual errors below sigma·ε, per spec.md §4.2.
func (s *State) CleanRoundoff() {
	scrub := func(d *mat.Dense) {
		r, c := d.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				d.Set(i, j, (d.At(i, j)+s.sigma)-s.sigma)
			}
		}
	}
	scrub(s.R)
	scrub(s.S)
}

func roundoffScale(a *mat.Dense) float64 {
	max := 0.0
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := math.Abs(a.At(i, j)); v > max {
				max = v
			}
		}
	}
	if max == 0 {
		return 1
	}
	return math.Pow(10, 1+math.Ceil(math.Log10(max)))
}

func sliceSquare(m *mat.Dense, n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}

func sliceRows(m *mat.Dense, from, to int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(to-from, cols, nil)
	for i := from; i < to; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i-from, j, m.At(i, j))
		}
	}
	return out
}

func sliceSquareCols(m *mat.Dense, n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}

func sliceColsFrom(m *mat.Dense, from int) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols-from, nil)
	for i := 0; i < rows; i++ {
		for j := from; j < cols; j++ {
			out.Set(i, j-from, m.At(i, j))
		}
	}
	return out
}

// invertUnitLowerTri inverts an n×n unit-lower-triangular matrix by
// forward substitution, one identity column at a time.
func invertUnitLowerTri(l *mat.Dense) *mat.Dense {
	n, _ := l.Dims()
	inv := mat.NewDense(n, n, nil)
	e := make([]float64, n)
	for col := 0; col < n; col++ {
		for i := range e {
			e[i] = 0
		}
		e[col] = 1
		x := make([]float64, n)
		for i := 0; i < n; i++ {
			sum := e[i]
			for k := 0; k < i; k++ {
				sum -= l.At(i, k) * x[k]
			}
			x[i] = sum // unit diagonal
		}
		for i := 0; i < n; i++ {
			inv.Set(i, col, x[i])
		}
	}
	return inv
}

// invertUpperTri inverts an n×n upper-triangular matrix by back
// substitution, one identity column at a time.
func invertUpperTri(u *mat.Dense) *mat.Dense {
	n, _ := u.Dims()
	inv := mat.NewDense(n, n, nil)
	e := make([]float64, n)
	for col := 0; col < n; col++ {
		for i := range e {
			e[i] = 0
		}
		e[col] = 1
		x := make([]float64, n)
		for i := n - 1; i >= 0; i-- {
			sum := e[i]
			for k := i + 1; k < n; k++ {
				sum -= u.At(i, k) * x[k]
			}
			x[i] = sum / u.At(i, i)
		}
		for i := 0; i < n; i++ {
			inv.Set(i, col, x[i])
		}
	}
	return inv
}
