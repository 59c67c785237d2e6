package kern

import (
	"math"
)

var (
	squaredExp *SquaredExp
	_          Profile = squaredExp // Check that SquaredExp respects the Profile interface.
)

// SquaredExp is g(r; l) = exp(-r^2 / (2 l^2)).
type SquaredExp struct{}

func NewSquaredExp() *SquaredExp {
	return &SquaredExp{}
}

func (k *SquaredExp) Name() string {
	return "squared-exponential"
}

func (k *SquaredExp) MaxOrder() int {
	return -1
}

func (k *SquaredExp) Singular() bool {
	return false
}

// d^n/dr^n g = (-1)^n l^-n He_n(z) exp(-z^2/2), z = r/l.
func (k *SquaredExp) Deriv(r, l float64, n int) float64 {
	z := r / l
	he, _ := hermite(z, n)
	return sign(n) * math.Pow(l, -float64(n)) * he * math.Exp(-z*z/2)
}

// d/dl d^n/dr^n g = (-1)^n l^-(n+1) (z He_{n+1}(z) - n He_n(z)) exp(-z^2/2).
func (k *SquaredExp) DerivL(r, l float64, n int) float64 {
	z := r / l
	he, he1 := hermite(z, n)
	return sign(n) * math.Pow(l, -float64(n+1)) * (z*he1 - float64(n)*he) * math.Exp(-z*z/2)
}

// Probabilists' Hermite polynomials He_n(z) and He_{n+1}(z).
func hermite(z float64, n int) (float64, float64) {
	prev, cur := 1.0, z
	if n == 0 {
		return prev, cur
	}
	for k := 1; k < n; k++ {
		// He_{k+1} = z He_k - k He_{k-1}
		prev, cur = cur, z*cur-float64(k)*prev
	}
	return cur, z*cur - float64(n)*prev
}

func sign(n int) float64 {
	if n%2 == 1 {
		return -1
	}
	return 1
}
