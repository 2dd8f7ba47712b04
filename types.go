package optima

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ESSS/optima/residual"
)

// Dims are the problem dimensions, immutable once a Problem is attached to
// a Solver. NW is derived, never set directly.
type Dims struct {
	// NX is the number of primal variables.
	NX int
	// NP is the number of parameters solved jointly with x.
	NP int
	// NY is the number of linear equality constraints.
	NY int
	// NZ is the number of nonlinear equality constraints.
	NZ int
}

// NW is the number of dual-of-equality variables, NY+NZ.
func (d Dims) NW() int { return d.NY + d.NZ }

// toSizes adapts Dims to residual.Sizes for wiring a residual.Function.
func (d Dims) toSizes() residual.Sizes {
	return residual.Sizes{NX: d.NX, NP: d.NP, NY: d.NY, NZ: d.NZ}
}

func (d Dims) validate() error {
	switch {
	case d.NX <= 0:
		return errNXNonPositive
	case d.NP < 0:
		return errNPNegative
	case d.NY < 0:
		return errNYNegative
	case d.NZ < 0:
		return errNZNegative
	}
	return nil
}

// MasterVector is the engine's (x, p, w) state. Owned by the outer loop;
// views handed to callbacks are read-only.
type MasterVector struct {
	X *mat.VecDense // length NX
	P *mat.VecDense // length NP
	W *mat.VecDense // length NW
}

// newMasterVector allocates a zero MasterVector for the given dimensions.
func newMasterVector(d Dims) *MasterVector {
	return &MasterVector{
		X: mat.NewVecDense(d.NX, nil),
		P: mat.NewVecDense(max(d.NP, 0), nil),
		W: mat.NewVecDense(d.NW(), nil),
	}
}

// Clone makes an independent deep copy.
func (u *MasterVector) Clone() *MasterVector {
	c := &MasterVector{
		X: mat.NewVecDense(u.X.Len(), nil),
		P: mat.NewVecDense(u.P.Len(), nil),
		W: mat.NewVecDense(u.W.Len(), nil),
	}
	c.X.CopyVec(u.X)
	c.P.CopyVec(u.P)
	c.W.CopyVec(u.W)
	return c
}

// Bounds are the componentwise lower/upper bounds on x. ±Inf entries mean
// "absent" and are never active in the fraction-to-boundary or stability
// tests.
type Bounds struct {
	Lower *mat.VecDense // length NX
	Upper *mat.VecDense // length NX
}
