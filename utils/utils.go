package utils

import (
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// Concatenate multiple vectors.
func ConcatVecs(size int, vecs ...*mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(size, nil)
	offset := 0
	var slice *mat.VecDense
	for _, vec := range vecs {
		slice = out.SliceVec(offset, offset+vec.Len()).(*mat.VecDense)
		slice.CopyVec(vec)
		offset += vec.Len()
	}
	return out
}

// Make the symmetric 2x2 block matrix [[a, b], [b^T, c]].
//
// Only b is read for the off-diagonal blocks, the lower-left block is its
// transpose so the result is exactly symmetric.
func BlockSym(a mat.Symmetric, b mat.Matrix, c mat.Symmetric) *mat.SymDense {
	n := a.SymmetricDim()
	m := c.SymmetricDim()
	out := mat.NewSymDense(n+m, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, a.At(i, j))
		}
		for j := 0; j < m; j++ {
			out.SetSym(i, n+j, b.At(i, j))
		}
	}
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			out.SetSym(n+i, n+j, c.At(i, j))
		}
	}
	return out
}

// Identity Matrix.
func Eye(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// NonFinite reports whether the matrix holds any NaN or Inf entry.
func NonFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// Frobenius returns sum_ij a_ij * b_ij, i.e. tr(a^T b).
func Frobenius(a, b *mat.Dense) float64 {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		panic(mat.ErrShape)
	}
	rawA := a.RawMatrix()
	rawB := b.RawMatrix()
	if rawA.Stride == ca && rawB.Stride == cb {
		return vek.Dot(rawA.Data[:ra*ca], rawB.Data[:rb*cb])
	}
	sum := 0.0
	for i := 0; i < ra; i++ {
		sum += vek.Dot(rawA.Data[i*rawA.Stride:i*rawA.Stride+ca],
			rawB.Data[i*rawB.Stride:i*rawB.Stride+cb])
	}
	return sum
}

// SymToDense copies a symmetric matrix into a general one with both
// triangles filled.
func SymToDense(s mat.Symmetric) *mat.Dense {
	n := s.SymmetricDim()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := s.At(i, j)
			out.Set(i, j, v)
			out.Set(j, i, v)
		}
	}
	return out
}
