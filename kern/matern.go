package kern

import (
	"fmt"
	"math"
)

var (
	matern *Matern
	_      Profile = matern // Check that Matern respects the Profile interface.
)

// Matern is the half-integer Matérn profile of order nu = p + 1/2,
//
//	g(r; l) = exp(-t) P_p(t),  t = sqrt(2p+1) |r| / l.
//
// Derivatives are taken in s = |r| and carried back to r with the factor
// (r/|r|)^n. For the odd orders up to 2p-1 the limit at r = 0 is 0, which is
// returned there. The closed form is still flagged Singular, so diagonal
// entries are evaluated with the Evaluator shift.
type Matern struct {
	p    int
	c    float64     // sqrt(2p+1)
	poly [][]float64 // poly[n] holds Q_n, with Q_0 = P_p and Q_{n+1} = Q_n' - Q_n.
}

func NewMatern(p int) *Matern {
	if p < 0 {
		panic(fmt.Sprintf("kern: invalid Matérn order p=%d", p))
	}
	// P_p(t) = p!/(2p)! sum_i (p+i)!/(i!(p-i)!) (2t)^(p-i)
	base := make([]float64, p+1)
	for i := 0; i <= p; i++ {
		coef := factorial(p) / factorial(2*p) * factorial(p+i) /
			(factorial(i) * factorial(p-i)) * math.Pow(2, float64(p-i))
		base[p-i] = coef
	}
	poly := make([][]float64, 2*p+2)
	poly[0] = base
	for n := 1; n < len(poly); n++ {
		prev := poly[n-1]
		next := make([]float64, len(prev))
		for i := range prev {
			next[i] = -prev[i]
			if i+1 < len(prev) {
				next[i] += float64(i+1) * prev[i+1]
			}
		}
		poly[n] = next
	}
	return &Matern{
		p:    p,
		c:    math.Sqrt(float64(2*p + 1)),
		poly: poly,
	}
}

func NewMatern12() *Matern { return NewMatern(0) }
func NewMatern32() *Matern { return NewMatern(1) }
func NewMatern52() *Matern { return NewMatern(2) }
func NewMatern72() *Matern { return NewMatern(3) }

func (k *Matern) Name() string {
	return fmt.Sprintf("matern%d2", 2*k.p+1)
}

func (k *Matern) MaxOrder() int {
	return 2 * k.p
}

func (k *Matern) Singular() bool {
	return true
}

func (k *Matern) Deriv(r, l float64, n int) float64 {
	k.check(n)
	a := k.c / l
	s := math.Abs(r)
	t := a * s
	// h^(n)(s) = a^n exp(-t) Q_n(t)
	if n%2 == 1 && s == 0 {
		return 0
	}
	val := math.Pow(a, float64(n)) * math.Exp(-t) * horner(k.poly[n], t)
	if n%2 == 1 {
		val *= r / s
	}
	return val
}

func (k *Matern) DerivL(r, l float64, n int) float64 {
	k.check(n)
	a := k.c / l
	s := math.Abs(r)
	t := a * s
	// d/dl h^(n)(s) = -(a^n / l) exp(-t) (n Q_n(t) + t Q_{n+1}(t))
	if n%2 == 1 && s == 0 {
		return 0
	}
	inner := float64(n)*horner(k.poly[n], t) + t*horner(k.poly[n+1], t)
	val := -math.Pow(a, float64(n)) / l * math.Exp(-t) * inner
	if n%2 == 1 {
		val *= r / s
	}
	return val
}

func (k *Matern) check(n int) {
	if n < 0 || n > 2*k.p {
		panic(fmt.Sprintf("kern: %s has no derivative of order %d", k.Name(), n))
	}
}

func horner(coefs []float64, t float64) float64 {
	val := 0.0
	for i := len(coefs) - 1; i >= 0; i-- {
		val = val*t + coefs[i]
	}
	return val
}

func factorial(n int) float64 {
	out := 1.0
	for i := 2; i <= n; i++ {
		out *= float64(i)
	}
	return out
}
