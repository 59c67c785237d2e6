package kernels

import (
	"errors"
	"fmt"
	"math"

	"github.com/Slowpuncher24/improving-mlhiphy/kern"
)

var ErrOrderTooHigh = errors.New("kernels: operator needs derivatives the profile does not have")

// Block selects one of the covariance blocks of the joint (u, f) process.
type Block int

const (
	UU Block = iota // cov(u_i, u_j) = k(x_i, x_j)
	UF              // cov(u_i, f_j) = L_j k(x_i, x_j)
	FF              // cov(f_i, f_j) = L_i L_j k(x_i, x_j)
)

func (b Block) String() string {
	switch b {
	case UU:
		return "uu"
	case UF:
		return "uf"
	case FF:
		return "ff"
	default:
		return fmt.Sprintf("Block(%d)", int(b))
	}
}

// Family generates the covariance closed forms of the joint (u, f) process
// from a product base kernel
//
//	k(x, x') = sigma^2 prod_d g(x_d - x'_d; l_d)
//
// and a linear operator. The hyperparameters, in natural parameterisation,
// are laid out as [sigma^2 (if variance)] [l_1 ... l_dim] [c_1 ... c_m].
type Family struct {
	op       Operator
	profile  kern.Profile
	variance bool
	dim      int
	offL     int // index of l_1
	offC     int // index of c_1
}

func NewFamily(op Operator, profile kern.Profile, variance bool) (*Family, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if max := profile.MaxOrder(); max >= 0 {
		for d := 0; d < op.Dim(); d++ {
			if need := 2 * op.MaxOrder(d); need > max {
				return nil, fmt.Errorf("%w: %s needs order %d in %s, %s has %d",
					ErrOrderTooHigh, op.Name, need, op.Vars[d], profile.Name(), max)
			}
		}
	}
	offL := 0
	if variance {
		offL = 1
	}
	return &Family{
		op:       op,
		profile:  profile,
		variance: variance,
		dim:      op.Dim(),
		offL:     offL,
		offC:     offL + op.Dim(),
	}, nil
}

func (fam *Family) Operator() Operator {
	return fam.op
}

func (fam *Family) Profile() kern.Profile {
	return fam.profile
}

func (fam *Family) Dim() int {
	return fam.dim
}

func (fam *Family) Singular() bool {
	return fam.profile.Singular()
}

func (fam *Family) NumHyper() int {
	return fam.offC + len(fam.op.Coeffs)
}

// NumKernelHyper is the number of strictly positive kernel hyperparameters;
// they come first in the layout.
func (fam *Family) NumKernelHyper() int {
	return fam.offC
}

// Positive reports whether hyperparameter i is a strictly positive kernel
// hyperparameter (optimised in log-space) rather than a PDE coefficient.
func (fam *Family) Positive(i int) bool {
	return i < fam.offC
}

// Names of the hyperparameters in layout order.
func (fam *Family) Names() []string {
	names := make([]string, 0, fam.NumHyper())
	if fam.variance {
		names = append(names, "variance")
	}
	for _, v := range fam.op.Vars {
		names = append(names, "l_"+v)
	}
	return append(names, fam.op.Coeffs...)
}

// Natural maps a raw optimiser vector to natural parameters, exponentiating
// the positive entries.
func (fam *Family) Natural(dst, raw []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(raw))
	}
	for i, v := range raw {
		if fam.Positive(i) {
			dst[i] = math.Exp(v)
		} else {
			dst[i] = v
		}
	}
	return dst
}

// Raw is the inverse of Natural.
func (fam *Family) Raw(dst, natural []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(natural))
	}
	for i, v := range natural {
		if fam.Positive(i) {
			dst[i] = math.Log(v)
		} else {
			dst[i] = v
		}
	}
	return dst
}

// Kernel returns the closed form of block b. The returned function reuses a
// scratch table between calls and must not be shared between goroutines.
func (fam *Family) Kernel(b Block) kern.Func {
	tab := fam.table(b)
	return func(xi, xj, theta []float64) float64 {
		return fam.eval(tab, b, -1, xi, xj, theta)
	}
}

// Grad returns the partial derivative of block b with respect to natural
// hyperparameter i. Like Kernel, the result is for one goroutine.
func (fam *Family) Grad(b Block, i int) kern.Func {
	if i < 0 || i >= fam.NumHyper() {
		panic(fmt.Sprintf("kernels: hyperparameter %d out of range", i))
	}
	tab := fam.table(b)
	return func(xi, xj, theta []float64) float64 {
		return fam.eval(tab, b, i, xi, xj, theta)
	}
}

// table allocates the profile derivatives block b needs: orders 0 to 0, the
// operator order, or twice the operator order in each dimension.
func (fam *Family) table(b Block) [][]float64 {
	tab := make([][]float64, fam.dim)
	for d := range tab {
		var need int
		switch b {
		case UU:
			need = 0
		case UF:
			need = fam.op.MaxOrder(d)
		case FF:
			need = 2 * fam.op.MaxOrder(d)
		default:
			panic(fmt.Sprintf("kernels: unknown block %v", b))
		}
		tab[d] = make([]float64, need+1)
	}
	return tab
}

// eval computes block b, or its derivative with respect to hyperparameter wrt
// when wrt >= 0, filling tab in place.
func (fam *Family) eval(tab [][]float64, b Block, wrt int, xi, xj, theta []float64) float64 {
	sigma2 := 1.0
	if fam.variance {
		sigma2 = theta[0]
	}
	ls := theta[fam.offL:fam.offC]
	cs := theta[fam.offC:]

	wrtVariance := fam.variance && wrt == 0
	wrtDim := -1
	if wrt >= fam.offL && wrt < fam.offC {
		wrtDim = wrt - fam.offL
	}
	wrtCoeff := -1
	if wrt >= fam.offC {
		wrtCoeff = wrt - fam.offC
	}

	scale := sigma2
	if wrtVariance {
		scale = 1
	}

	// tab[d][n] = d^n/dr^n g(r_d; l_d), or its l-derivative in dimension wrtDim.
	for d, row := range tab {
		r := xi[d] - xj[d]
		for n := range row {
			if d == wrtDim {
				row[n] = fam.profile.DerivL(r, ls[d], n)
			} else {
				row[n] = fam.profile.Deriv(r, ls[d], n)
			}
		}
	}

	switch b {
	case UU:
		if wrtCoeff >= 0 {
			return 0
		}
		prod := 1.0
		for d := 0; d < fam.dim; d++ {
			prod *= tab[d][0]
		}
		return scale * prod
	case UF:
		// L_j k = sum_t c_t prod_d (-1)^a_td g^(a_td)(r_d)
		sum := 0.0
		for _, t := range fam.op.Terms {
			c, dc := coefficient(t, cs, wrtCoeff)
			w := c
			if wrtCoeff >= 0 {
				w = dc
			}
			if w == 0 {
				continue
			}
			prod := 1.0
			for d := 0; d < fam.dim; d++ {
				a := t.Orders[d]
				prod *= parity(a) * tab[d][a]
			}
			sum += w * prod
		}
		return scale * sum
	case FF:
		// L_i L_j k = sum_s sum_t c_s c_t prod_d (-1)^a_td g^(a_sd+a_td)(r_d)
		sum := 0.0
		for _, s := range fam.op.Terms {
			cS, dcS := coefficient(s, cs, wrtCoeff)
			for _, t := range fam.op.Terms {
				cT, dcT := coefficient(t, cs, wrtCoeff)
				w := cS * cT
				if wrtCoeff >= 0 {
					w = dcS*cT + cS*dcT
				}
				if w == 0 {
					continue
				}
				prod := 1.0
				for d := 0; d < fam.dim; d++ {
					prod *= parity(t.Orders[d]) * tab[d][s.Orders[d]+t.Orders[d]]
				}
				sum += w * prod
			}
		}
		return scale * sum
	}
	panic(fmt.Sprintf("kernels: unknown block %v", b))
}

// Value of a term's coefficient and its derivative with respect to
// coefficient wrt.
func coefficient(t Term, cs []float64, wrt int) (c, dc float64) {
	c = t.Scale
	if t.Coeff >= 0 {
		c *= cs[t.Coeff]
		if t.Coeff == wrt {
			dc = t.Scale
		}
	}
	return c, dc
}

func parity(n int) float64 {
	if n%2 == 1 {
		return -1
	}
	return 1
}
