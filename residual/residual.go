package residual

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Assembly is the result of one Update/UpdateSkipJacobian call: the
// quantities spec.md §4.5 lists, plus the combined canonical constraint
// block W = [Ax; Jx] and residual Ry = [Ax·x+Ap·p-b; h] that downstream
// saddle.Blocks and stepper consume directly.
type Assembly struct {
	F   float64
	Fx  *mat.VecDense
	Fp  *mat.VecDense
	Hxx mat.Symmetric
	Hxp *mat.Dense

	H  *mat.VecDense
	Jx *mat.Dense
	Jp *mat.Dense

	V  *mat.VecDense
	Vx *mat.Dense
	Vp *mat.Dense

	W  *mat.Dense
	Ry *mat.VecDense

	NeedsReechelonize bool
	Status            Callback
}

// Function is the C5 assembler: one instance per attached problem, caching
// the last Jacobian evaluation so UpdateSkipJacobian can reuse it and so
// Update can detect whether re-echelonization is warranted.
type Function struct {
	sizes  Sizes
	ax, ap *mat.Dense
	b      *mat.VecDense

	object ObjectiveFunc
	hfun   ConstraintFunc
	vfun   ConstraintFunc

	// changeThreshold gates re-echelonization: Update triggers it when the
	// largest column-wise change in Jx exceeds this value. <= 0 means
	// "always re-echelonize", the default policy of spec.md §4.5.
	changeThreshold float64

	lastJx *mat.Dense
	last   *Assembly
}

// New builds a Function for a fixed set of problem dimensions and
// callbacks. ax, ap, b are the fixed linear-constraint blocks; either may
// be nil when NY == 0.
func New(sizes Sizes, ax, ap *mat.Dense, b *mat.VecDense, object ObjectiveFunc, hfun, vfun ConstraintFunc, changeThreshold float64) *Function {
	return &Function{
		sizes: sizes, ax: ax, ap: ap, b: b,
		object: object, hfun: hfun, vfun: vfun,
		changeThreshold: changeThreshold,
	}
}

// Update performs a full evaluation, including Jacobians, per spec.md
// §4.5's `update(problem, u)`.
func (f *Function) Update(x, p *mat.VecDense, needHessian bool) (*Assembly, error) {
	a := &Assembly{}

	objOut := &ObjectiveResult{}
	if err := f.object(x, p, EvalOptions{NeedJacobian: true, NeedHessian: needHessian}, objOut); err != nil {
		a.Status = ObjectiveFailed
		return a, errors.Wrap(err, "residual: objective evaluation failed")
	}
	a.F, a.Fx, a.Fp, a.Hxx, a.Hxp = objOut.F, objOut.Fx, objOut.Fp, objOut.Hxx, objOut.Hxp

	nz := f.sizes.NZ
	if nz > 0 {
		hOut := &ConstraintResult{}
		if err := f.hfun(x, p, EvalOptions{NeedJacobian: true}, hOut); err != nil {
			a.Status = ConstraintHFailed
			return a, errors.Wrap(err, "residual: h evaluation failed")
		}
		a.H, a.Jx, a.Jp = hOut.Val, hOut.Jx, hOut.Jp
	} else {
		a.H = mat.NewVecDense(0, nil)
		a.Jx = mat.NewDense(0, f.sizes.NX, nil)
		a.Jp = mat.NewDense(0, max(f.sizes.NP, 0), nil)
	}

	if f.sizes.NP > 0 && f.vfun != nil {
		vOut := &ConstraintResult{}
		if err := f.vfun(x, p, EvalOptions{NeedJacobian: true}, vOut); err != nil {
			a.Status = ConstraintVFailed
			return a, errors.Wrap(err, "residual: v evaluation failed")
		}
		a.V, a.Vx, a.Vp = vOut.Val, vOut.Jx, vOut.Jp
	}

	f.assembleWAndRy(a, x, p)

	a.NeedsReechelonize = f.changeThreshold <= 0 || f.lastJx == nil || maxColumnChange(f.lastJx, a.Jx) > f.changeThreshold
	a.Status = OK

	f.lastJx = mat.DenseCopyOf(a.Jx)
	f.last = a
	return a, nil
}

// UpdateSkipJacobian evaluates function values only, reusing the Jacobians
// cached by the most recent Update, per spec.md §4.5's
// `update_skip_jacobian(problem, u)`. Re-echelonization is never needed
// since the Jacobian, by construction, did not change.
func (f *Function) UpdateSkipJacobian(x, p *mat.VecDense, needHessian bool) (*Assembly, error) {
	if f.last == nil {
		return nil, errors.New("residual: UpdateSkipJacobian called before any Update")
	}

	a := &Assembly{Jx: f.last.Jx, Jp: f.last.Jp, Vx: f.last.Vx, Vp: f.last.Vp}

	objOut := &ObjectiveResult{}
	if err := f.object(x, p, EvalOptions{NeedJacobian: false, NeedHessian: needHessian}, objOut); err != nil {
		a.Status = ObjectiveFailed
		return a, errors.Wrap(err, "residual: objective evaluation failed")
	}
	a.F, a.Fx, a.Fp, a.Hxx, a.Hxp = objOut.F, objOut.Fx, objOut.Fp, objOut.Hxx, objOut.Hxp

	if f.sizes.NZ > 0 {
		hOut := &ConstraintResult{}
		if err := f.hfun(x, p, EvalOptions{NeedJacobian: false}, hOut); err != nil {
			a.Status = ConstraintHFailed
			return a, errors.Wrap(err, "residual: h evaluation failed")
		}
		a.H = hOut.Val
	} else {
		a.H = mat.NewVecDense(0, nil)
	}

	if f.sizes.NP > 0 && f.vfun != nil {
		vOut := &ConstraintResult{}
		if err := f.vfun(x, p, EvalOptions{NeedJacobian: false}, vOut); err != nil {
			a.Status = ConstraintVFailed
			return a, errors.Wrap(err, "residual: v evaluation failed")
		}
		a.V = vOut.Val
	}

	f.assembleWAndRy(a, x, p)
	a.NeedsReechelonize = false
	a.Status = OK

	f.last = a
	return a, nil
}

// assembleWAndRy builds W = [Ax; Jx] and Ry = [Ax·x+Ap·p-b; h].
func (f *Function) assembleWAndRy(a *Assembly, x, p *mat.VecDense) {
	ny, nz := f.sizes.NY, f.sizes.NZ
	nw := ny + nz
	nx := f.sizes.NX

	w := mat.NewDense(nw, nx, nil)
	ry := mat.NewVecDense(nw, nil)

	if ny > 0 {
		for i := 0; i < ny; i++ {
			for j := 0; j < nx; j++ {
				w.Set(i, j, f.ax.At(i, j))
			}
			sum := -f.b.AtVec(i)
			for j := 0; j < nx; j++ {
				sum += f.ax.At(i, j) * x.AtVec(j)
			}
			if f.ap != nil {
				for j := 0; j < f.sizes.NP; j++ {
					sum += f.ap.At(i, j) * p.AtVec(j)
				}
			}
			ry.SetVec(i, sum)
		}
	}
	for i := 0; i < nz; i++ {
		for j := 0; j < nx; j++ {
			w.Set(ny+i, j, a.Jx.At(i, j))
		}
		ry.SetVec(ny+i, a.H.AtVec(i))
	}

	a.W, a.Ry = w, ry
}

func maxColumnChange(prev, cur *mat.Dense) float64 {
	pr, pc := prev.Dims()
	cr, cc := cur.Dims()
	if pr != cr || pc != cc {
		return math.Inf(1)
	}
	max := 0.0
	for j := 0; j < pc; j++ {
		colMax := 0.0
		for i := 0; i < pr; i++ {
			if d := math.Abs(cur.At(i, j) - prev.At(i, j)); d > colMax {
				colMax = d
			}
		}
		if colMax > max {
			max = colMax
		}
	}
	return max
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
