package gam

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultK       = 10
	defaultTensorK = 5
)

// bspline is an evenly spaced B-spline basis of dimension k over [lo, hi].
// Knots extend degree steps past both ends so evaluation just outside the
// range stays smooth.
type bspline struct {
	knots  []float64
	degree int
	k      int
}

func newBSpline(lo, hi float64, k int) (bspline, error) {
	if k < 3 {
		return bspline{}, fmt.Errorf("basis dimension %d is below 3", k)
	}
	if !(hi > lo) {
		return bspline{}, fmt.Errorf("covariate range [%g, %g] is empty", lo, hi)
	}
	degree := 3
	if k-1 < degree {
		degree = k - 1
	}
	intervals := k - degree
	h := (hi - lo) / float64(intervals)
	knots := make([]float64, k+degree+1)
	for i := range knots {
		knots[i] = lo + float64(i-degree)*h
	}
	return bspline{knots: knots, degree: degree, k: k}, nil
}

// row evaluates the k basis functions at x into out using Cox-de Boor.
func (b bspline) row(x float64, out []float64) {
	nb := len(b.knots) - 1
	work := make([]float64, nb)
	for i := 0; i < nb; i++ {
		if x >= b.knots[i] && x < b.knots[i+1] {
			work[i] = 1
		}
	}
	for p := 1; p <= b.degree; p++ {
		for i := 0; i < nb-p; i++ {
			v := 0.0
			if d := b.knots[i+p] - b.knots[i]; d > 0 {
				v += (x - b.knots[i]) / d * work[i]
			}
			if d := b.knots[i+p+1] - b.knots[i+1]; d > 0 {
				v += (b.knots[i+p+1] - x) / d * work[i+1]
			}
			work[i] = v
		}
	}
	copy(out, work[:b.k])
}

func (b bspline) eval(x []float64) *mat.Dense {
	out := mat.NewDense(len(x), b.k, nil)
	for i, v := range x {
		b.row(v, out.RawRowView(i))
	}
	return out
}

// penalty is the second-order difference penalty D'D.
func (b bspline) penalty() *mat.Dense {
	d := mat.NewDense(b.k-2, b.k, nil)
	for i := 0; i < b.k-2; i++ {
		d.Set(i, i, 1)
		d.Set(i, i+1, -2)
		d.Set(i, i+2, 1)
	}
	var s mat.Dense
	s.Mul(d.T(), d)
	return &s
}

// sumToZero returns a k×(k-1) matrix Z whose columns span the null space
// of the column sums of x, so x·Z sums to zero over the fitted rows.
func sumToZero(x *mat.Dense) *mat.Dense {
	_, k := x.Dims()
	c := mat.NewDense(k, 1, nil)
	for j := 0; j < k; j++ {
		c.Set(j, 0, floats.Sum(mat.Col(nil, j, x)))
	}
	if mat.Norm(c, 2) == 0 {
		c.Set(0, 0, 1)
	}
	var qr mat.QR
	qr.Factorize(c)
	var q mat.Dense
	qr.QTo(&q)
	z := mat.DenseCopyOf(q.Slice(0, k, 1, k))
	return z
}

// marginal is a univariate basis, optionally absorbed into a sum-to-zero
// constraint.
type marginal struct {
	variable string
	bs       bspline
	z        *mat.Dense
}

func (m marginal) width() int {
	if m.z != nil {
		_, c := m.z.Dims()
		return c
	}
	return m.bs.k
}

func (m marginal) eval(x []float64) *mat.Dense {
	raw := m.bs.eval(x)
	if m.z == nil {
		return raw
	}
	var out mat.Dense
	out.Mul(raw, m.z)
	return &out
}

func (m marginal) penalty() *mat.Dense {
	s := m.bs.penalty()
	if m.z == nil {
		return s
	}
	return constrainPenalty(s, m.z)
}

func constrainPenalty(s, z *mat.Dense) *mat.Dense {
	var tmp, out mat.Dense
	tmp.Mul(s, z)
	out.Mul(z.T(), &tmp)
	return &out
}

// rowKronecker returns the row-wise Kronecker product: row i of the result
// is the Kronecker product of row i of a and row i of b.
func rowKronecker(a, b *mat.Dense) *mat.Dense {
	n, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(n, ca*cb, nil)
	for i := 0; i < n; i++ {
		ra, rb, ro := a.RawRowView(i), b.RawRowView(i), out.RawRowView(i)
		for p, av := range ra {
			floats.ScaleTo(ro[p*cb:(p+1)*cb], av, rb)
		}
	}
	return out
}

// tensorPenalties builds I⊗…⊗S_j⊗…⊗I for every margin j.
func tensorPenalties(margins []marginal) []*mat.Dense {
	out := make([]*mat.Dense, len(margins))
	for j := range margins {
		var acc *mat.Dense
		for i, m := range margins {
			var f *mat.Dense
			if i == j {
				f = m.penalty()
			} else {
				f = identity(m.width())
			}
			if acc == nil {
				acc = f
				continue
			}
			var next mat.Dense
			next.Kronecker(acc, f)
			acc = &next
		}
		out[j] = acc
	}
	return out
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
