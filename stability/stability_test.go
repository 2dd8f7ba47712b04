package stability

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestClassifyLowerUnstable(t *testing.T) {
	x := mat.NewVecDense(2, []float64{0, 5})
	z := mat.NewVecDense(2, []float64{1, -1})
	lower := mat.NewVecDense(2, []float64{0, math.Inf(-1)})
	upper := mat.NewVecDense(2, []float64{math.Inf(1), math.Inf(1)})

	p := Classify(nil, x, z, lower, upper, 1e-8)
	if p.Tag(0) != LowerUnstable {
		t.Errorf("index 0 tag = %v, want LowerUnstable", p.Tag(0))
	}
	if p.Tag(1) != Stable {
		t.Errorf("index 1 tag = %v, want Stable", p.Tag(1))
	}
}

func TestClassifyUpperUnstable(t *testing.T) {
	x := mat.NewVecDense(1, []float64{10})
	z := mat.NewVecDense(1, []float64{-2})
	lower := mat.NewVecDense(1, []float64{math.Inf(-1)})
	upper := mat.NewVecDense(1, []float64{10})

	p := Classify(nil, x, z, lower, upper, 1e-8)
	if p.Tag(0) != UpperUnstable {
		t.Errorf("tag = %v, want UpperUnstable", p.Tag(0))
	}
}

func TestClassifyDegenerateBoxFiresOnlyMatchingSign(t *testing.T) {
	// x at both bounds simultaneously (lower == upper == x), with a
	// positive z: only the lower test fires, so the tag is not a tie.
	x := mat.NewVecDense(1, []float64{3})
	z := mat.NewVecDense(1, []float64{1}) // fires lower (z>0); upper needs z<0 so won't fire here
	lower := mat.NewVecDense(1, []float64{3})
	upper := mat.NewVecDense(1, []float64{3})

	p := Classify(nil, x, z, lower, upper, 1e-8)
	if p.Tag(0) != LowerUnstable {
		t.Errorf("tag = %v, want LowerUnstable (only lower test fires)", p.Tag(0))
	}
}

func TestClassifyCarriesStrictTagsForward(t *testing.T) {
	prev := NewAllStable(1)
	prev.tags[0] = StrictlyUpperUnstable

	x := mat.NewVecDense(1, []float64{0})
	z := mat.NewVecDense(1, []float64{0})
	lower := mat.NewVecDense(1, []float64{math.Inf(-1)})
	upper := mat.NewVecDense(1, []float64{math.Inf(1)})

	p := Classify(prev, x, z, lower, upper, 1e-8)
	if p.Tag(0) != StrictlyUpperUnstable {
		t.Errorf("tag = %v, want StrictlyUpperUnstable carried forward", p.Tag(0))
	}
}

func TestDetectStrictFlagsRigidInfeasibleRow(t *testing.T) {
	basicIdx := []int{0, 1}
	basicValue := []float64{-5, 2}
	sRow := [][]float64{
		{0, 0}, // row 0 is rigid: no non-basic freedom
		{1, 0}, // row 1 has freedom
	}
	lower := mat.NewVecDense(2, []float64{0, 0})
	upper := mat.NewVecDense(2, []float64{math.Inf(1), math.Inf(1)})

	p := DetectStrict(basicIdx, basicValue, sRow, lower, upper, 1e-9)
	if p.Tag(0) != StrictlyLowerUnstable {
		t.Errorf("index 0 tag = %v, want StrictlyLowerUnstable", p.Tag(0))
	}
	if p.Tag(1) != Stable {
		t.Errorf("index 1 tag = %v, want Stable (row has freedom)", p.Tag(1))
	}
}
