package cov

import (
	"testing"

	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func phiFamily(t *testing.T) *kernels.Family {
	fam, err := kernels.NewFamily(kernels.PhiReaction(), kern.NewSquaredExp(), false)
	require.NoError(t, err)
	return fam
}

func TestBuildStructure(t *testing.T) {
	fam := phiFamily(t)
	pts := kern.Coords{{0.1, 0.4, 0.9}, {0.2, 0.7, 0.3}}
	theta := []float64{0.8, 1.1, 2.0}
	const s = 1e-3

	j, err := Builder{}.Build(fam, pts, theta, s)
	require.NoError(t, err)
	require.Equal(t, 3, j.N())

	k := j.Dense()
	require.Equal(t, 6, k.SymmetricDim())

	uu := fam.Kernel(kernels.UU)
	uf := fam.Kernel(kernels.UF)
	ff := fam.Kernel(kernels.FF)
	xi := make([]float64, 2)
	xj := make([]float64, 2)
	for i := 0; i < 3; i++ {
		pts.Point(xi, i)
		for jj := 0; jj < 3; jj++ {
			pts.Point(xj, jj)
			noise := 0.0
			if i == jj {
				noise = s
			}
			assert.InDelta(t, uu(xi, xj, theta)+noise, k.At(i, jj), 1e-14)
			assert.InDelta(t, ff(xi, xj, theta)+noise, k.At(3+i, 3+jj), 1e-12)
			assert.InDelta(t, uf(xi, xj, theta), k.At(i, 3+jj), 1e-14)
			// Lower-left block is the exact transpose.
			assert.Equal(t, k.At(i, 3+jj), k.At(3+jj, i))
		}
	}
}

func TestDerivativeHasNoNoise(t *testing.T) {
	fam := phiFamily(t)
	pts := kern.Coords{{0.1, 0.4}, {0.2, 0.7}}
	theta := []float64{0.8, 1.1, 2.0}
	dj, err := Builder{}.Derivative(fam, pts, theta, 2)
	require.NoError(t, err)
	// uu does not depend on phi.
	assert.True(t, mat.Equal(dj.A, mat.NewSymDense(2, nil)))

	dk := fam.Grad(kernels.FF, 2)
	x := []float64{0.1, 0.2}
	assert.InDelta(t, dk(x, x, theta), dj.C.At(0, 0), 1e-14)
}

func TestAssembleRejectsMismatchedBlocks(t *testing.T) {
	_, err := Assemble(mat.NewSymDense(2, nil), mat.NewDense(2, 3, nil), mat.NewSymDense(2, nil), 0)
	require.ErrorIs(t, err, ErrBlockSize)

	fam := phiFamily(t)
	_, err = Builder{}.Build(fam, kern.Coords{{0, 1}}, []float64{1, 1, 1}, 0)
	require.ErrorIs(t, err, ErrBlockSize)
}

func TestSingleSample(t *testing.T) {
	fam := phiFamily(t)
	j, err := Builder{}.Build(fam, kern.Coords{{0.5}, {0.5}}, []float64{1, 1, 2}, 1e-7)
	require.NoError(t, err)
	assert.Equal(t, 1, j.N())
	assert.InDelta(t, 1+1e-7, j.A.At(0, 0), 1e-15)
}
