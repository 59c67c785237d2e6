package kernels

import (
	"errors"
	"fmt"
)

var ErrInvalidOperator = errors.New("kernels: invalid operator")

// Term is one summand Scale * c * d^Orders u of a linear differential
// operator, where c is the unknown coefficient Coeff, or 1 when Coeff < 0.
type Term struct {
	Coeff  int
	Scale  float64
	Orders []int
}

// Operator is a linear differential operator L^phi with unknown coefficients
// phi = (c_1, ..., c_m), acting on functions of Dim variables.
type Operator struct {
	Name   string
	Vars   []string
	Coeffs []string
	Terms  []Term
}

func (op Operator) Dim() int {
	return len(op.Vars)
}

// MaxOrder is the highest derivative order of any term in dimension d.
func (op Operator) MaxOrder(d int) int {
	max := 0
	for _, t := range op.Terms {
		if t.Orders[d] > max {
			max = t.Orders[d]
		}
	}
	return max
}

func (op Operator) Validate() error {
	if op.Dim() == 0 {
		return fmt.Errorf("%w: %q has no variables", ErrInvalidOperator, op.Name)
	}
	if len(op.Terms) == 0 {
		return fmt.Errorf("%w: %q has no terms", ErrInvalidOperator, op.Name)
	}
	for k, t := range op.Terms {
		if len(t.Orders) != op.Dim() {
			return fmt.Errorf("%w: %q term %d has %d orders for %d variables",
				ErrInvalidOperator, op.Name, k, len(t.Orders), op.Dim())
		}
		for _, o := range t.Orders {
			if o < 0 {
				return fmt.Errorf("%w: %q term %d has a negative order", ErrInvalidOperator, op.Name, k)
			}
		}
		if t.Coeff < -1 || t.Coeff >= len(op.Coeffs) {
			return fmt.Errorf("%w: %q term %d refers to coefficient %d of %d",
				ErrInvalidOperator, op.Name, k, t.Coeff, len(op.Coeffs))
		}
	}
	return nil
}

// Apply evaluates L^phi u at a point from the partial derivatives of u; deriv
// receives the derivative orders of one term.
func (op Operator) Apply(coeffs []float64, deriv func(orders []int) float64) float64 {
	sum := 0.0
	for _, t := range op.Terms {
		c := t.Scale
		if t.Coeff >= 0 {
			c *= coeffs[t.Coeff]
		}
		sum += c * deriv(t.Orders)
	}
	return sum
}

// PhiReaction is phi u + u_x + u_yy.
func PhiReaction() Operator {
	return Operator{
		Name:   "phi-reaction",
		Vars:   []string{"x", "y"},
		Coeffs: []string{"phi"},
		Terms: []Term{
			{Coeff: 0, Scale: 1, Orders: []int{0, 0}},
			{Coeff: -1, Scale: 1, Orders: []int{1, 0}},
			{Coeff: -1, Scale: 1, Orders: []int{0, 2}},
		},
	}
}

// Heat is u_t - alpha u_xx.
func Heat() Operator {
	return Operator{
		Name:   "heat",
		Vars:   []string{"x", "t"},
		Coeffs: []string{"alpha"},
		Terms: []Term{
			{Coeff: -1, Scale: 1, Orders: []int{0, 1}},
			{Coeff: 0, Scale: -1, Orders: []int{2, 0}},
		},
	}
}

// AdvectionDiffusion is u_t + a u_x - b u_xx.
func AdvectionDiffusion() Operator {
	return Operator{
		Name:   "advection-diffusion",
		Vars:   []string{"x", "t"},
		Coeffs: []string{"a", "b"},
		Terms: []Term{
			{Coeff: -1, Scale: 1, Orders: []int{0, 1}},
			{Coeff: 0, Scale: 1, Orders: []int{1, 0}},
			{Coeff: 1, Scale: -1, Orders: []int{2, 0}},
		},
	}
}

// ReactionDiffusion is u_t - a u_xx - b u_yy + c u_x + d u.
func ReactionDiffusion() Operator {
	return Operator{
		Name:   "reaction-diffusion",
		Vars:   []string{"x", "y", "t"},
		Coeffs: []string{"a", "b", "c", "d"},
		Terms: []Term{
			{Coeff: -1, Scale: 1, Orders: []int{0, 0, 1}},
			{Coeff: 0, Scale: -1, Orders: []int{2, 0, 0}},
			{Coeff: 1, Scale: -1, Orders: []int{0, 2, 0}},
			{Coeff: 2, Scale: 1, Orders: []int{1, 0, 0}},
			{Coeff: 3, Scale: 1, Orders: []int{0, 0, 0}},
		},
	}
}

// LinearODE is u_xx + a u_x + b u.
func LinearODE() Operator {
	return Operator{
		Name:   "linear-ode",
		Vars:   []string{"x"},
		Coeffs: []string{"a", "b"},
		Terms: []Term{
			{Coeff: -1, Scale: 1, Orders: []int{2}},
			{Coeff: 0, Scale: 1, Orders: []int{1}},
			{Coeff: 1, Scale: 1, Orders: []int{0}},
		},
	}
}
