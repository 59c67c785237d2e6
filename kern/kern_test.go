package kern

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func TestSquaredExpDerivatives(t *testing.T) {
	k := NewSquaredExp()
	for _, l := range []float64{0.3, 1.0, 2.5} {
		for _, r := range []float64{-1.3, -0.2, 0, 0.4, 2.0} {
			for n := 0; n < 6; n++ {
				f := func(x float64) float64 { return k.Deriv(x, l, n) }
				num := fd.Derivative(f, r, &fd.Settings{Formula: fd.Central, Step: 1e-5})
				assert.InDelta(t, num, k.Deriv(r, l, n+1), 1e-4*(1+math.Abs(num)),
					"r=%v l=%v n=%v", r, l, n)

				g := func(x float64) float64 { return k.Deriv(r, x, n) }
				numL := fd.Derivative(g, l, &fd.Settings{Formula: fd.Central, Step: 1e-6})
				assert.InDelta(t, numL, k.DerivL(r, l, n), 1e-4*(1+math.Abs(numL)),
					"r=%v l=%v n=%v", r, l, n)
			}
		}
	}
}

func TestSquaredExpValue(t *testing.T) {
	k := NewSquaredExp()
	assert.Equal(t, 1.0, k.Deriv(0, 1.7, 0))
	assert.InDelta(t, math.Exp(-0.5), k.Deriv(2, 2, 0), 1e-15)
	// Second derivative at the origin is -1/l^2.
	assert.InDelta(t, -1/4.0, k.Deriv(0, 2, 2), 1e-15)
}

func TestMaternPolynomials(t *testing.T) {
	cases := []struct {
		p    int
		want []float64
	}{
		{0, []float64{1}},
		{1, []float64{1, 1}},
		{2, []float64{1, 1, 1.0 / 3}},
		{3, []float64{1, 1, 2.0 / 5, 1.0 / 15}},
	}
	for _, c := range cases {
		k := NewMatern(c.p)
		require.Len(t, k.poly[0], len(c.want))
		for i := range c.want {
			assert.InDelta(t, c.want[i], k.poly[0][i], 1e-14, "p=%d i=%d", c.p, i)
		}
		assert.Equal(t, 2*c.p, k.MaxOrder())
		assert.True(t, k.Singular())
	}
	assert.Equal(t, "matern52", NewMatern52().Name())
}

func TestMaternDerivatives(t *testing.T) {
	k := NewMatern72()
	for _, l := range []float64{0.5, 1.5} {
		for _, r := range []float64{-1.1, -0.3, 0.25, 0.9} {
			for n := 0; n < k.MaxOrder(); n++ {
				f := func(x float64) float64 { return k.Deriv(x, l, n) }
				num := fd.Derivative(f, r, &fd.Settings{Formula: fd.Central, Step: 1e-6})
				assert.InDelta(t, num, k.Deriv(r, l, n+1), 1e-4*(1+math.Abs(num)),
					"r=%v l=%v n=%v", r, l, n)
			}
			for n := 0; n <= k.MaxOrder(); n++ {
				g := func(x float64) float64 { return k.Deriv(r, x, n) }
				numL := fd.Derivative(g, l, &fd.Settings{Formula: fd.Central, Step: 1e-6})
				assert.InDelta(t, numL, k.DerivL(r, l, n), 1e-4*(1+math.Abs(numL)),
					"r=%v l=%v n=%v", r, l, n)
			}
		}
	}
}

func TestMaternAtOrigin(t *testing.T) {
	for _, k := range []*Matern{NewMatern32(), NewMatern52(), NewMatern72()} {
		for n := 1; n < k.MaxOrder(); n += 2 {
			for _, r := range []float64{0, math.Copysign(0, -1)} {
				assert.Equal(t, 0.0, k.Deriv(r, 0.7, n), "%s n=%d", k.Name(), n)
				assert.Equal(t, 0.0, k.DerivL(r, 0.7, n), "%s n=%d", k.Name(), n)
			}
			// Continuous limit from both sides.
			assert.InDelta(t, 0, k.Deriv(1e-9, 0.7, n), 1e-4)
			assert.InDelta(t, 0, k.Deriv(-1e-9, 0.7, n), 1e-4)
		}
		for n := 0; n <= k.MaxOrder(); n += 2 {
			assert.False(t, math.IsNaN(k.DerivL(0, 0.7, n)))
			v := k.Deriv(0, 0.7, n)
			assert.InDelta(t, k.Deriv(1e-9, 0.7, n), v, 1e-6*(1+math.Abs(v)))
		}
	}

	k := NewMatern32()
	// Even orders have a finite limit.
	assert.Equal(t, 1.0, k.Deriv(0, 1, 0))
	assert.InDelta(t, -3.0, k.Deriv(0, 1, 2), 1e-12)
	assert.Panics(t, func() { k.Deriv(0.1, 1, 3) })
}

func TestMatern12IsExponential(t *testing.T) {
	k := NewMatern12()
	assert.InDelta(t, math.Exp(-0.5), k.Deriv(-1, 2, 0), 1e-15)
}

func TestEvaluatorGram(t *testing.T) {
	pts := Coords{{0, 1, 3}}
	se := NewSquaredExp()
	f := func(xi, xj, theta []float64) float64 { return se.Deriv(xi[0]-xj[0], theta[0], 0) }
	e := Evaluator{}
	sym := e.GramSym(f, pts, []float64{1}, false)
	gen := e.Gram(f, pts, []float64{1}, false)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, sym.At(i, j), gen.At(i, j))
		}
	}
	assert.Equal(t, 1.0, sym.At(1, 1))
	assert.InDelta(t, math.Exp(-2), sym.At(1, 2), 1e-15)
}

func TestEvaluatorSinglePoint(t *testing.T) {
	pts := Coords{{0.5}, {2}}
	f := func(xi, xj, theta []float64) float64 { return theta[0] }
	m := Evaluator{}.GramSym(f, pts, []float64{3}, false)
	assert.Equal(t, 1, m.SymmetricDim())
	assert.Equal(t, 3.0, m.At(0, 0))
}

func TestEvaluatorDiagonalShift(t *testing.T) {
	pts := Coords{{0, 1}, {0, 5}}
	k := NewMatern32()
	// First derivative in x, odd at coincident x.
	f := func(xi, xj, theta []float64) float64 {
		return k.Deriv(xi[0]-xj[0], theta[0], 1) * k.Deriv(xi[1]-xj[1], theta[0], 0)
	}
	exact := Evaluator{}.Gram(f, pts, []float64{1}, false)
	assert.Equal(t, 0.0, exact.At(0, 0))

	e := Evaluator{Eps: 1e-3}
	shifted := e.Gram(f, pts, []float64{1}, true)
	for i := 0; i < 2; i++ {
		// Odd-order limit is 0; the bias is of order Eps.
		assert.InDelta(t, 0, shifted.At(i, i), 1e-2)
	}
	assert.Equal(t, exact.At(0, 1), shifted.At(0, 1))
	assert.Equal(t, exact.At(1, 0), shifted.At(1, 0))
}

func TestEvaluatorCross(t *testing.T) {
	a := Coords{{0, 1}}
	b := Coords{{2, 3, 4}}
	f := func(xi, xj, theta []float64) float64 { return xi[0]*10 + xj[0] }
	m := Evaluator{}.Cross(f, a, b, nil)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 14.0, m.At(1, 2))
}
