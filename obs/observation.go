package obs

import (
	"errors"
	"fmt"
	"math"

	"github.com/Slowpuncher24/improving-mlhiphy/utils"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimensionMismatch = errors.New("obs: coordinate and value arrays differ in length")
	ErrEmpty             = errors.New("obs: dataset needs at least one point")
	ErrNegativeNoise     = errors.New("obs: noise must be non-negative")
	ErrNonFinite         = errors.New("obs: NaN or Inf in sample data")
)

// Kind tells whether a value observes the latent field or the PDE residual.
type Kind int

const (
	U Kind = iota
	F
)

func (k Kind) String() string {
	switch k {
	case U:
		return "u"
	case F:
		return "f"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Observation struct {
	X     []float64
	Value float64
	Kind  Kind
}

// Dataset bundles the sample coordinates, the paired u- and f-observations
// and the noise level. It is never mutated after construction, so a single
// Dataset can be shared by concurrent objective evaluations.
type Dataset struct {
	coords [][]float64 // coords[d][i], one slice per dimension.
	u      []float64
	f      []float64
	noise  float64
}

// NewDataset copies its inputs. coords holds one slice per dimension; u and f
// are observed at the same points, index-wise.
func NewDataset(coords [][]float64, u, f []float64, noise float64) (*Dataset, error) {
	if len(coords) == 0 || len(u) == 0 {
		return nil, ErrEmpty
	}
	n := len(u)
	if len(f) != n {
		return nil, fmt.Errorf("%w: %d u-values, %d f-values", ErrDimensionMismatch, n, len(f))
	}
	for d, c := range coords {
		if len(c) != n {
			return nil, fmt.Errorf("%w: dimension %d has %d coordinates, want %d",
				ErrDimensionMismatch, d, len(c), n)
		}
	}
	if noise < 0 || math.IsNaN(noise) {
		return nil, ErrNegativeNoise
	}
	ds := &Dataset{
		coords: make([][]float64, len(coords)),
		u:      append([]float64(nil), u...),
		f:      append([]float64(nil), f...),
		noise:  noise,
	}
	for d, c := range coords {
		ds.coords[d] = append([]float64(nil), c...)
	}
	all := make([][]float64, 0, len(ds.coords)+2)
	all = append(all, ds.coords...)
	all = append(all, ds.u, ds.f)
	for _, vals := range all {
		for _, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ErrNonFinite
			}
		}
	}
	return ds, nil
}

// Len is the number of sample points n.
func (ds *Dataset) Len() int {
	return len(ds.u)
}

// Dim is the number of coordinates per point.
func (ds *Dataset) Dim() int {
	return len(ds.coords)
}

func (ds *Dataset) Noise() float64 {
	return ds.noise
}

// Point writes the coordinates of point i into dst.
func (ds *Dataset) Point(dst []float64, i int) {
	for d := range ds.coords {
		dst[d] = ds.coords[d][i]
	}
}

func (ds *Dataset) Coords(d int) []float64 {
	return append([]float64(nil), ds.coords[d]...)
}

func (ds *Dataset) U() []float64 {
	return append([]float64(nil), ds.u...)
}

func (ds *Dataset) F() []float64 {
	return append([]float64(nil), ds.f...)
}

// Targets returns y = [u; f], the u-block first to match the ordering of the
// joint covariance matrix.
func (ds *Dataset) Targets() *mat.VecDense {
	n := ds.Len()
	return utils.ConcatVecs(2*n,
		mat.NewVecDense(n, ds.U()),
		mat.NewVecDense(n, ds.F()))
}

func (ds *Dataset) Observation(i int, kind Kind) Observation {
	x := make([]float64, ds.Dim())
	ds.Point(x, i)
	o := Observation{X: x, Kind: kind}
	if kind == U {
		o.Value = ds.u[i]
	} else {
		o.Value = ds.f[i]
	}
	return o
}

// Observations lists every observation in canonical order: all u-type
// observations first, then all f-type ones.
func (ds *Dataset) Observations() []Observation {
	n := ds.Len()
	out := make([]Observation, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, ds.Observation(i, U))
	}
	for i := 0; i < n; i++ {
		out = append(out, ds.Observation(i, F))
	}
	return out
}
