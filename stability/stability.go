// Package stability implements the C3 component: per-variable stability
// tagging that decides which primal variables are pinned to a bound
// (and excluded from the saddle-point system) versus free. Grounded on
// slsqp/optimize.go's Bound handling and on slsqp/solver.go's
// bound-clamping in inexactSearch/LSQ — the same lower/upper-active test
// shape, generalized here from a QP subproblem to the outer NLP bounds.
package stability

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tag classifies a single primal index.
type Tag int

const (
	Stable Tag = iota
	LowerUnstable
	UpperUnstable
	StrictlyLowerUnstable
	StrictlyUpperUnstable
)

func (t Tag) String() string {
	switch t {
	case Stable:
		return "stable"
	case LowerUnstable:
		return "lower-unstable"
	case UpperUnstable:
		return "upper-unstable"
	case StrictlyLowerUnstable:
		return "strictly-lower-unstable"
	case StrictlyUpperUnstable:
		return "strictly-upper-unstable"
	default:
		return "unknown"
	}
}

// Partition is the per-iteration classification output: a tag for each of
// the nx primal indices, plus the derived (js, ju) stable/unstable index
// lists downstream solvers consume directly.
type Partition struct {
	tags []Tag
}

// NewAllStable returns a Partition tagging every one of n indices Stable,
// the classifier's starting point before DetectStrict runs.
func NewAllStable(n int) *Partition {
	return &Partition{tags: make([]Tag, n)}
}

// Tag reports index i's current tag.
func (p *Partition) Tag(i int) Tag { return p.tags[i] }

// Len is the number of primal indices covered.
func (p *Partition) Len() int { return len(p.tags) }

// Stable returns js, the indices currently tagged Stable.
func (p *Partition) Stable() []int { return p.indicesWhere(func(t Tag) bool { return t == Stable }) }

// Unstable returns ju, every index not currently Stable (ordinary or strict).
func (p *Partition) Unstable() []int {
	return p.indicesWhere(func(t Tag) bool { return t != Stable })
}

// IsStrict reports whether index i was permanently pinned by DetectStrict.
func (p *Partition) IsStrict(i int) bool {
	return p.tags[i] == StrictlyLowerUnstable || p.tags[i] == StrictlyUpperUnstable
}

func (p *Partition) indicesWhere(pred func(Tag) bool) []int {
	out := make([]int, 0, len(p.tags))
	for i, t := range p.tags {
		if pred(t) {
			out = append(out, i)
		}
	}
	return out
}

// DetectStrict runs once at problem attachment. A variable is permanently
// pinned (StrictlyLower/StrictlyUpperUnstable) when its basic value in the
// echelon solution with every non-basic variable held at zero already
// violates its bound and the corresponding echelon row offers no non-basic
// freedom to correct it (every entry of that row's S block is within eps
// of zero) — the row structurally forces that value regardless of any
// other variable's choice.
func DetectStrict(basicIdx []int, basicValue []float64, sRow [][]float64, lower, upper *mat.VecDense, eps float64) *Partition {
	n := lower.Len()
	p := NewAllStable(n)
	for row, idx := range basicIdx {
		lo, hi := lower.AtVec(idx), upper.AtVec(idx)
		xb := basicValue[row]
		rigid := true
		for _, v := range sRow[row] {
			if math.Abs(v) > eps {
				rigid = false
				break
			}
		}
		if !rigid {
			continue
		}
		switch {
		case !math.IsInf(lo, 0) && xb < lo-eps:
			p.tags[idx] = StrictlyLowerUnstable
		case !math.IsInf(hi, 0) && xb > hi+eps:
			p.tags[idx] = StrictlyUpperUnstable
		}
	}
	return p
}

// Classify re-tags every non-strict index for the current iteration, given
// the instability measure z = g + Wᵀ·y. Strict tags from DetectStrict (or
// a prior Classify call) are carried forward unconditionally. An index is
// Lower-unstable when x is within eps·max(1,|x|) of its lower bound and
// z >= 0 (the sign a valid KKT lower-bound multiplier must have, including
// the degenerate z = 0 case); symmetrically Upper-unstable for z <= 0 near
// the upper bound. Both firing at once (degenerate box, not degenerate z)
// ties to Stable to avoid thrashing.
func Classify(prev *Partition, x, z, lower, upper *mat.VecDense, eps float64) *Partition {
	n := x.Len()
	tags := make([]Tag, n)
	for i := 0; i < n; i++ {
		if prev != nil && prev.IsStrict(i) {
			tags[i] = prev.tags[i]
			continue
		}
		lo, hi := lower.AtVec(i), upper.AtVec(i)
		xi, zi := x.AtVec(i), z.AtVec(i)

		nearLower := !math.IsInf(lo, 0) && math.Abs(xi-lo) <= eps*math.Max(1, math.Abs(xi))
		nearUpper := !math.IsInf(hi, 0) && math.Abs(xi-hi) <= eps*math.Max(1, math.Abs(xi))
		lowerFires := nearLower && zi >= 0
		upperFires := nearUpper && zi <= 0

		switch {
		case lowerFires && upperFires:
			tags[i] = Stable
		case lowerFires:
			tags[i] = LowerUnstable
		case upperFires:
			tags[i] = UpperUnstable
		default:
			tags[i] = Stable
		}
	}
	return &Partition{tags: tags}
}
