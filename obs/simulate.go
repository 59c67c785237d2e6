package obs

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Field is a closed-form scalar function of the coordinates.
type Field func(x []float64) float64

// Simulate draws n points uniformly in the box [low, high] and observes the
// exact u and f fields there.
func Simulate(n int, low, high []float64, u, f Field, noise float64, src rand.Source) (*Dataset, error) {
	if n < 1 {
		return nil, ErrEmpty
	}
	if len(low) != len(high) {
		return nil, fmt.Errorf("%w: %d lower bounds, %d upper bounds",
			ErrDimensionMismatch, len(low), len(high))
	}
	dim := len(low)
	coords := make([][]float64, dim)
	for d := 0; d < dim; d++ {
		dist := distuv.Uniform{Min: low[d], Max: high[d], Src: src}
		coords[d] = make([]float64, n)
		for i := range coords[d] {
			coords[d][i] = dist.Rand()
		}
	}
	us := make([]float64, n)
	fs := make([]float64, n)
	x := make([]float64, dim)
	for i := 0; i < n; i++ {
		for d := 0; d < dim; d++ {
			x[d] = coords[d][i]
		}
		us[i] = u(x)
		fs[i] = f(x)
	}
	return NewDataset(coords, us, fs, noise)
}

// Mesh observes u and f on the tensor grid with per points along each axis
// of the box [low, high], the last coordinate varying fastest. Points share
// coordinates along every axis.
func Mesh(per int, low, high []float64, u, f Field, noise float64) (*Dataset, error) {
	if per < 1 {
		return nil, ErrEmpty
	}
	if len(low) != len(high) {
		return nil, fmt.Errorf("%w: %d lower bounds, %d upper bounds",
			ErrDimensionMismatch, len(low), len(high))
	}
	dim := len(low)
	axes := make([][]float64, dim)
	n := 1
	for d := range axes {
		axes[d] = make([]float64, per)
		if per == 1 {
			axes[d][0] = low[d]
		} else {
			floats.Span(axes[d], low[d], high[d])
		}
		n *= per
	}
	coords := make([][]float64, dim)
	for d := range coords {
		coords[d] = make([]float64, n)
	}
	us := make([]float64, n)
	fs := make([]float64, n)
	x := make([]float64, dim)
	for i := 0; i < n; i++ {
		rem := i
		for d := dim - 1; d >= 0; d-- {
			x[d] = axes[d][rem%per]
			coords[d][i] = x[d]
			rem /= per
		}
		us[i] = u(x)
		fs[i] = f(x)
	}
	return NewDataset(coords, us, fs, noise)
}
