package kern

import (
	"gonum.org/v1/gonum/mat"
)

// DefaultEps is the diagonal coordinate shift used for singular closed forms.
const DefaultEps = 1e-4

// Evaluator fills dense covariance matrices from a closed-form Func.
//
// When a closed form has a removable singularity at xi = xj, the diagonal
// entries of a self-covariance are evaluated at (xi, xi + Eps) in every
// coordinate instead of (xi, xi). Off-diagonal entries stay exact. The shift
// biases the diagonal: even-order derivative terms are evaluated at distance
// Eps instead of 0, a relative error of order (Eps/l)^2, odd-order terms pick
// up an error of order Eps/l in place of their exact value 0. A zero Eps means
// DefaultEps.
type Evaluator struct {
	Eps float64
}

func (e Evaluator) eps() float64 {
	if e.Eps == 0 {
		return DefaultEps
	}
	return e.Eps
}

// GramSym evaluates a symmetric closed form over one point set. Only the upper
// triangle is evaluated.
func (e Evaluator) GramSym(f Func, pts Points, theta []float64, singular bool) *mat.SymDense {
	n := pts.Len()
	out := mat.NewSymDense(n, nil)
	xi := make([]float64, pts.Dim())
	xj := make([]float64, pts.Dim())
	for i := 0; i < n; i++ {
		pts.Point(xi, i)
		out.SetSym(i, i, f(xi, e.diagonal(xj, xi, singular), theta))
		for j := i + 1; j < n; j++ {
			pts.Point(xj, j)
			out.SetSym(i, j, f(xi, xj, theta))
		}
	}
	return out
}

// Gram evaluates a general closed form over all pairs of one point set.
func (e Evaluator) Gram(f Func, pts Points, theta []float64, singular bool) *mat.Dense {
	n := pts.Len()
	out := mat.NewDense(n, n, nil)
	xi := make([]float64, pts.Dim())
	xj := make([]float64, pts.Dim())
	for i := 0; i < n; i++ {
		pts.Point(xi, i)
		for j := 0; j < n; j++ {
			if i == j {
				out.Set(i, i, f(xi, e.diagonal(xj, xi, singular), theta))
				continue
			}
			pts.Point(xj, j)
			out.Set(i, j, f(xi, xj, theta))
		}
	}
	return out
}

// Cross evaluates f between two distinct point sets. No entry is perturbed.
func (e Evaluator) Cross(f Func, a, b Points, theta []float64) *mat.Dense {
	out := mat.NewDense(a.Len(), b.Len(), nil)
	xi := make([]float64, a.Dim())
	xj := make([]float64, b.Dim())
	for i := 0; i < a.Len(); i++ {
		a.Point(xi, i)
		for j := 0; j < b.Len(); j++ {
			b.Point(xj, j)
			out.Set(i, j, f(xi, xj, theta))
		}
	}
	return out
}

// Second argument of a diagonal entry.
func (e Evaluator) diagonal(dst, xi []float64, singular bool) []float64 {
	copy(dst, xi)
	if singular {
		eps := e.eps()
		for d := range dst {
			dst[d] += eps
		}
	}
	return dst
}
