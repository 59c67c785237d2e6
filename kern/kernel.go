package kern

// Func is a closed-form covariance between the points xi and xj under the
// hyperparameters theta (natural parameterisation, no log transform).
type Func func(xi, xj, theta []float64) float64

// Points is an ordered point set.
type Points interface {
	Len() int
	Dim() int
	// Point writes the coordinates of point i into dst.
	Point(dst []float64, i int)
}

// Coords is a point set stored as one coordinate slice per dimension.
type Coords [][]float64

var _ Points = Coords(nil) // Check that Coords respects the Points interface.

func (c Coords) Len() int {
	if len(c) == 0 {
		return 0
	}
	return len(c[0])
}

func (c Coords) Dim() int {
	return len(c)
}

func (c Coords) Point(dst []float64, i int) {
	for d := range c {
		dst[d] = c[d][i]
	}
}

// Profile is a one-dimensional stationary kernel g(r; l), r = x - x'.
// Multi-dimensional base kernels are products of one profile per dimension.
type Profile interface {
	Name() string

	// n-th derivative of the profile with respect to r.
	Deriv(r, l float64, n int) float64

	// Partial derivative of Deriv(r, l, n) with respect to the length-scale l.
	DerivL(r, l float64, n int) float64

	// Largest derivative order n for which the profile is valid, -1 if unbounded.
	MaxOrder() int

	// Whether the closed form has a removable singularity at r = 0.
	Singular() bool
}
