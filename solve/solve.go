// Package solve inverts symmetric covariance matrices and computes their
// log-determinants. The Cholesky factorisation is tried first; a matrix that
// is not numerically positive definite falls back to a singular value
// decomposition. Everything is dense and O(n^3), meant for at most a few
// hundred points.
package solve

import (
	"errors"
	"math"

	"github.com/Slowpuncher24/improving-mlhiphy/utils"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotPositiveDefinite = errors.New("solve: matrix is not positive definite")
	ErrSingular            = errors.New("solve: matrix is singular")
)

// Method records which factorisation produced a Result.
type Method int

const (
	ViaCholesky Method = iota
	ViaSVD
)

func (m Method) String() string {
	if m == ViaSVD {
		return "svd"
	}
	return "cholesky"
}

// Result is the inverse and log |det| of a symmetric matrix.
type Result struct {
	Inv    *mat.SymDense
	LogDet float64
	Method Method
}

// DefaultRcond is the relative threshold below which a singular value counts
// as zero for an n x n matrix.
func DefaultRcond(n int) float64 {
	return float64(n) * 0x1p-52
}

// Cholesky inverts m = L L^T. It fails with ErrNotPositiveDefinite.
func Cholesky(m mat.Symmetric) (*Result, error) {
	n := m.SymmetricDim()
	a := blas64.Symmetric{
		N:      n,
		Stride: n,
		Data:   make([]float64, n*n),
		Uplo:   blas.Lower,
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			a.Data[i*n+j] = m.At(i, j)
		}
	}
	l, ok := lapack64.Potrf(a)
	if !ok {
		return nil, ErrNotPositiveDefinite
	}
	// log det = 2 sum(log(|diag(L)|))
	logDet := 0.0
	for i := 0; i < n; i++ {
		logDet += math.Log(math.Abs(l.Data[i*l.Stride+i]))
	}
	logDet *= 2

	// Solve L X = I by forward substitution, X = L^-1.
	x := utils.Eye(n).RawMatrix()
	blas64.Trsm(blas.Left, blas.NoTrans, 1.0, l, x)

	// M^-1 = dot(X.T, X)
	inv := blas64.Symmetric{
		N:      n,
		Stride: n,
		Data:   make([]float64, n*n),
		Uplo:   blas.Upper,
	}
	blas64.Syrk(blas.Trans, 1.0, x, 0.0, inv)
	return &Result{
		Inv:    mat.NewSymDense(n, inv.Data),
		LogDet: logDet,
		Method: ViaCholesky,
	}, nil
}

// SVD inverts m = U S V^T. Any singular value at or below rcond times the
// largest one makes m singular; rcond <= 0 selects DefaultRcond.
func SVD(m mat.Symmetric, rcond float64) (*Result, error) {
	n := m.SymmetricDim()
	if rcond <= 0 {
		rcond = DefaultRcond(n)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, ErrSingular
	}
	s := svd.Values(nil)
	if s[0] == 0 || math.IsNaN(s[0]) || math.IsInf(s[0], 0) {
		return nil, ErrSingular
	}
	tol := rcond * s[0]
	logDet := 0.0
	for _, v := range s {
		if v <= tol {
			return nil, ErrSingular
		}
		logDet += math.Log(v)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	// M^-1 = dot(V / s, U.T)
	for j, sv := range s {
		col := v.ColView(j).(*mat.VecDense)
		col.ScaleVec(1/sv, col)
	}
	var inv mat.Dense
	inv.Mul(&v, u.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(inv.At(i, j)+inv.At(j, i)))
		}
	}
	return &Result{Inv: out, LogDet: logDet, Method: ViaSVD}, nil
}

// Solver chooses between the factorisations.
type Solver struct {
	// Relative singular value threshold of the SVD tier, see SVD.
	Rcond float64
}

// Inverse tries Cholesky and falls back to SVD when m is not positive
// definite. ErrSingular means both tiers failed.
func (s Solver) Inverse(m mat.Symmetric) (*Result, error) {
	if utils.NonFinite(m) {
		return nil, ErrSingular
	}
	res, err := Cholesky(m)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrNotPositiveDefinite):
		return SVD(m, s.Rcond)
	default:
		return nil, err
	}
}

// BlockInverse inverts K = [[a, b], [b^T, c]] through the Schur complement
// S = c - b^T a^-1 b:
//
//	K^-1 = [[a^-1 + T W^T, -T], [-T^T, S^-1]],  W = a^-1 b,  T = W S^-1,
//	log det K = log det a + log det S.
//
// The two inversions are of half size, roughly a quarter of the work of
// factoring K. a must be invertible.
func (s Solver) BlockInverse(a mat.Symmetric, b mat.Matrix, c mat.Symmetric) (*Result, error) {
	n := a.SymmetricDim()
	m := c.SymmetricDim()
	if r, cc := b.Dims(); r != n || cc != m {
		panic(mat.ErrShape)
	}
	ra, err := s.Inverse(a)
	if err != nil {
		return nil, err
	}
	// W = dot(A^-1, B)
	var w mat.Dense
	w.Mul(ra.Inv, b)
	// S = C - dot(B.T, W)
	var btw mat.Dense
	btw.Mul(b.T(), &w)
	schur := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			schur.SetSym(i, j, c.At(i, j)-0.5*(btw.At(i, j)+btw.At(j, i)))
		}
	}
	rs, err := s.Inverse(schur)
	if err != nil {
		return nil, err
	}
	// T = dot(W, S^-1)
	var t mat.Dense
	t.Mul(&w, rs.Inv)
	// top-left = A^-1 + dot(T, W.T)
	var twt mat.Dense
	twt.Mul(&t, w.T())
	tl := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			tl.SetSym(i, j, ra.Inv.At(i, j)+0.5*(twt.At(i, j)+twt.At(j, i)))
		}
	}
	t.Scale(-1, &t)

	method := ra.Method
	if rs.Method > method {
		method = rs.Method
	}
	return &Result{
		Inv:    utils.BlockSym(tl, &t, rs.Inv),
		LogDet: ra.LogDet + rs.LogDet,
		Method: method,
	}, nil
}
