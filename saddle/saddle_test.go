package saddle

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// fixture builds a small equality-constrained QP: H = diag(2,3,4), W = [1 1
// 1], with unit affine scaling (X=1, Z=0) so the canonical system reduces
// to plain linear algebra and has a hand-checkable analytic solution.
func fixture() Blocks {
	return Blocks{
		Hdiag: mat.NewVecDense(3, []float64{2, 3, 4}),
		H:     mat.NewDiagDense(3, []float64{2, 3, 4}),
		W:     mat.NewDense(1, 3, []float64{1, 1, 1}),
		X:     mat.NewVecDense(3, []float64{1, 1, 1}),
		Z:     mat.NewVecDense(3, []float64{0, 0, 0}),
	}
}

func checkKKTResidual(t *testing.T, b Blocks, rx, ry, dx, dy *mat.VecDense, tol float64) {
	t.Helper()
	nx, _ := rx.Dims()
	ny, _ := ry.Dims()

	// H dx + Wᵗ dy - rx should vanish.
	for i := 0; i < nx; i++ {
		hdx := b.Hdiag.AtVec(i) * dx.AtVec(i)
		wtdy := 0.0
		for k := 0; k < ny; k++ {
			wtdy += b.W.At(k, i) * dy.AtVec(k)
		}
		res := hdx + wtdy - rx.AtVec(i)
		if math.Abs(res) > tol {
			t.Errorf("x-block residual[%d] = %v, want <= %v", i, res, tol)
		}
	}
	// W dx - ry should vanish.
	for k := 0; k < ny; k++ {
		sum := 0.0
		for i := 0; i < nx; i++ {
			sum += b.W.At(k, i) * dx.AtVec(i)
		}
		res := sum - ry.AtVec(k)
		if math.Abs(res) > tol {
			t.Errorf("y-block residual[%d] = %v, want <= %v", k, res, tol)
		}
	}
}

func TestRangespaceMatchesAnalyticSolution(t *testing.T) {
	b := fixture()
	rx := mat.NewVecDense(3, []float64{1, 2, 3})
	ry := mat.NewVecDense(1, []float64{0})

	s := New(Rangespace, 1e-9)
	if err := s.Decompose(b); err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	dx, dy, err := s.Solve(rx, ry)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	checkKKTResidual(t, b, rx, ry, dx, dy, 1e-9)

	wantDx := []float64{-0.384615385, 0.076923077, 0.307692308}
	for i, want := range wantDx {
		if got := dx.AtVec(i); math.Abs(got-want) > 1e-6 {
			t.Errorf("dx[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestFullspaceAgreesWithRangespace(t *testing.T) {
	b := fixture()
	rx := mat.NewVecDense(3, []float64{1, 2, 3})
	ry := mat.NewVecDense(1, []float64{0})

	rs := New(Rangespace, 1e-9)
	_ = rs.Decompose(b)
	dxR, dyR, _ := rs.Solve(rx, ry)

	fs := New(Fullspace, 1e-9)
	_ = fs.Decompose(b)
	dxF, dyF, _ := fs.Solve(rx, ry)

	for i := 0; i < 3; i++ {
		if math.Abs(dxR.AtVec(i)-dxF.AtVec(i)) > 1e-9 {
			t.Errorf("dx[%d]: rangespace=%v fullspace=%v differ", i, dxR.AtVec(i), dxF.AtVec(i))
		}
	}
	if math.Abs(dyR.AtVec(0)-dyF.AtVec(0)) > 1e-9 {
		t.Errorf("dy: rangespace=%v fullspace=%v differ", dyR.AtVec(0), dyF.AtVec(0))
	}
}

func TestNullspaceAgreesWithRangespace(t *testing.T) {
	b := fixture()
	rx := mat.NewVecDense(3, []float64{1, 2, 3})
	ry := mat.NewVecDense(1, []float64{0})

	rs := New(Rangespace, 1e-9)
	_ = rs.Decompose(b)
	dxR, _, _ := rs.Solve(rx, ry)

	ns := New(Nullspace, 1e-9)
	_ = ns.Decompose(b)
	dxN, _, err := ns.Solve(rx, ry)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	for i := 0; i < 3; i++ {
		if math.Abs(dxR.AtVec(i)-dxN.AtVec(i)) > 1e-8 {
			t.Errorf("dx[%d]: rangespace=%v nullspace=%v differ", i, dxR.AtVec(i), dxN.AtVec(i))
		}
	}
}

func TestSolveFreezesUnstableComponents(t *testing.T) {
	b := fixture()
	b.Unstable = []int{1}
	rx := mat.NewVecDense(3, []float64{1, 2, 3})
	ry := mat.NewVecDense(1, []float64{0})

	s := New(Rangespace, 1e-9)
	if err := s.Decompose(b); err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	dx, _, err := s.Solve(rx, ry)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if dx.AtVec(1) != 0 {
		t.Errorf("dx[1] = %v, want 0 (frozen unstable)", dx.AtVec(1))
	}
}

func TestSolveBeforeDecomposeErrors(t *testing.T) {
	s := New(Rangespace, 1e-9)
	_, _, err := s.Solve(mat.NewVecDense(1, nil), mat.NewVecDense(1, nil))
	if err == nil {
		t.Fatal("expected error calling Solve before Decompose")
	}
}

func TestDependentConstraintYieldsNaNDual(t *testing.T) {
	b := Blocks{
		Hdiag: mat.NewVecDense(2, []float64{1, 1}),
		W:     mat.NewDense(2, 2, []float64{1, 0, 2, 0}), // row 1 = 2 * row 0
		X:     mat.NewVecDense(2, []float64{1, 1}),
		Z:     mat.NewVecDense(2, []float64{0, 0}),
	}
	rx := mat.NewVecDense(2, []float64{1, 1})
	ry := mat.NewVecDense(2, []float64{1, 2})

	s := New(Rangespace, 1e-9)
	if err := s.Decompose(b); err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	_, dy, err := s.Solve(rx, ry)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	foundNaN := false
	for i := 0; i < 2; i++ {
		if math.IsNaN(dy.AtVec(i)) {
			foundNaN = true
		}
	}
	if !foundNaN {
		t.Errorf("expected at least one NaN dual for the dependent constraint, got dy = %v", mat.Formatted(dy))
	}
}
