// Package cov assembles the joint covariance matrix of u- and f-observations
//
//	K = [[K_uu + sI, K_uf], [K_fu, K_ff + sI]],  K_fu = K_uf^T.
package cov

import (
	"errors"
	"fmt"

	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/Slowpuncher24/improving-mlhiphy/utils"
	"gonum.org/v1/gonum/mat"
)

var ErrBlockSize = errors.New("cov: covariance blocks differ in size")

// Joint holds the three distinct blocks of K. The lower-left block is never
// stored, it is B^T.
type Joint struct {
	A *mat.SymDense // K_uu + sI
	B *mat.Dense    // K_uf
	C *mat.SymDense // K_ff + sI
}

// Assemble adds the noise s to the diagonal of the self-operator blocks.
func Assemble(uu *mat.SymDense, uf *mat.Dense, ff *mat.SymDense, s float64) (*Joint, error) {
	n := uu.SymmetricDim()
	r, c := uf.Dims()
	if ff.SymmetricDim() != n || r != n || c != n {
		return nil, fmt.Errorf("%w: uu %d, uf %dx%d, ff %d", ErrBlockSize, n, r, c, ff.SymmetricDim())
	}
	if s != 0 {
		for i := 0; i < n; i++ {
			uu.SetSym(i, i, uu.At(i, i)+s)
			ff.SetSym(i, i, ff.At(i, i)+s)
		}
	}
	return &Joint{A: uu, B: uf, C: ff}, nil
}

// N is the number of points; K is 2N x 2N.
func (j *Joint) N() int {
	return j.A.SymmetricDim()
}

// Dense returns the full 2N x 2N matrix.
func (j *Joint) Dense() *mat.SymDense {
	return utils.BlockSym(j.A, j.B, j.C)
}

// Builder evaluates the blocks of a kernel family over a point set.
type Builder struct {
	Eval kern.Evaluator
}

// Build evaluates K for natural hyperparameters theta and noise s.
func (b Builder) Build(fam *kernels.Family, pts kern.Points, theta []float64, s float64) (*Joint, error) {
	return b.build(fam, pts, theta, s, -1)
}

// Derivative evaluates dK/dtheta_i. The noise is not a hyperparameter, so
// the diagonal blocks get no noise term.
func (b Builder) Derivative(fam *kernels.Family, pts kern.Points, theta []float64, i int) (*Joint, error) {
	return b.build(fam, pts, theta, 0, i)
}

func (b Builder) build(fam *kernels.Family, pts kern.Points, theta []float64, s float64, wrt int) (*Joint, error) {
	if pts.Dim() != fam.Dim() {
		return nil, fmt.Errorf("%w: points have %d coordinates, kernel expects %d",
			ErrBlockSize, pts.Dim(), fam.Dim())
	}
	kernel := fam.Kernel
	if wrt >= 0 {
		kernel = func(blk kernels.Block) kern.Func { return fam.Grad(blk, wrt) }
	}
	singular := fam.Singular()
	uu := b.Eval.GramSym(kernel(kernels.UU), pts, theta, singular)
	uf := b.Eval.Gram(kernel(kernels.UF), pts, theta, singular)
	ff := b.Eval.GramSym(kernel(kernels.FF), pts, theta, singular)
	return Assemble(uu, uf, ff, s)
}
