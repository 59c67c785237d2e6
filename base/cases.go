package base

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/Slowpuncher24/improving-mlhiphy/obs"
)

var ErrUnknownCase = errors.New("base: unknown case")

// Case is a synthetic inference problem: an operator, an exact solution u
// with its right-hand side f = L u, and the coefficients used to build f.
type Case struct {
	Name     string
	Operator kernels.Operator
	Profile  kern.Profile
	U, F     obs.Field
	Coeffs   []float64
	Low      []float64
	High     []float64
}

// Simulate observes u and f at n uniformly drawn points of the domain.
func (c Case) Simulate(n int, noise float64, seed uint64) (*obs.Dataset, error) {
	return obs.Simulate(n, c.Low, c.High, c.U, c.F, noise, rand.NewPCG(seed, seed))
}

// Mesh observes u and f on a grid of per points along each axis of the
// domain.
func (c Case) Mesh(per int, noise float64) (*obs.Dataset, error) {
	return obs.Mesh(per, c.Low, c.High, c.U, c.F, noise)
}

// Family is the kernel family of the case's operator and profile.
func (c Case) Family(variance bool) (*kernels.Family, error) {
	return kernels.NewFamily(c.Operator, c.Profile, variance)
}

var cases = map[string]func() Case{
	"phi-reaction":        PhiReaction,
	"heat":                Heat,
	"advection-diffusion": AdvectionDiffusion,
	"reaction-diffusion":  ReactionDiffusion,
	"linear-ode":          LinearODE,
}

// Cases lists the names of the built-in cases.
func Cases() []string {
	names := make([]string, 0, len(cases))
	for name := range cases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func LookupCase(name string) (Case, error) {
	mk, ok := cases[name]
	if !ok {
		return Case{}, fmt.Errorf("%w: %q", ErrUnknownCase, name)
	}
	return mk(), nil
}

// PhiReaction: phi u + u_x + u_yy = f with u = x^2 + y, phi = 2.
func PhiReaction() Case {
	return Case{
		Name:     "phi-reaction",
		Operator: kernels.PhiReaction(),
		Profile:  kern.NewSquaredExp(),
		U:        func(x []float64) float64 { return x[0]*x[0] + x[1] },
		F:        func(x []float64) float64 { return 2 * (x[0]*x[0] + x[0] + x[1]) },
		Coeffs:   []float64{2},
		Low:      []float64{0, 0},
		High:     []float64{1, 1},
	}
}

// Heat: u_t - alpha u_xx = f with u = exp(-t) sin(x), alpha = 2.
func Heat() Case {
	return Case{
		Name:     "heat",
		Operator: kernels.Heat(),
		Profile:  kern.NewSquaredExp(),
		U:        func(x []float64) float64 { return math.Exp(-x[1]) * math.Sin(x[0]) },
		F:        func(x []float64) float64 { return math.Exp(-x[1]) * math.Sin(x[0]) },
		Coeffs:   []float64{2},
		Low:      []float64{0, 0},
		High:     []float64{1, 1},
	}
}

// AdvectionDiffusion: u_t + a u_x - b u_xx = f with u = exp(-t) sin(x),
// a = 1, b = 0.5.
func AdvectionDiffusion() Case {
	return Case{
		Name:     "advection-diffusion",
		Operator: kernels.AdvectionDiffusion(),
		Profile:  kern.NewSquaredExp(),
		U:        func(x []float64) float64 { return math.Exp(-x[1]) * math.Sin(x[0]) },
		F: func(x []float64) float64 {
			return math.Exp(-x[1]) * (math.Cos(x[0]) - 0.5*math.Sin(x[0]))
		},
		Coeffs: []float64{1, 0.5},
		Low:    []float64{0, 0},
		High:   []float64{1, 1},
	}
}

// ReactionDiffusion: u_t - a u_xx - b u_yy + c u_x + d u = f with
// u = x^2 + y^2 + t, (a, b, c, d) = (1, 0.5, 1, 2).
func ReactionDiffusion() Case {
	const a, b, c, d = 1, 0.5, 1, 2
	return Case{
		Name:     "reaction-diffusion",
		Operator: kernels.ReactionDiffusion(),
		Profile:  kern.NewSquaredExp(),
		U:        func(x []float64) float64 { return x[0]*x[0] + x[1]*x[1] + x[2] },
		F: func(x []float64) float64 {
			u := x[0]*x[0] + x[1]*x[1] + x[2]
			return 1 - 2*a - 2*b + 2*c*x[0] + d*u
		},
		Coeffs: []float64{a, b, c, d},
		Low:    []float64{0, 0, 0},
		High:   []float64{1, 1, 1},
	}
}

// LinearODE: u_xx + a u_x + b u = f with u = sin(x), a = 3, b = 2.
func LinearODE() Case {
	return Case{
		Name:     "linear-ode",
		Operator: kernels.LinearODE(),
		Profile:  kern.NewSquaredExp(),
		U:        func(x []float64) float64 { return math.Sin(x[0]) },
		F:        func(x []float64) float64 { return math.Sin(x[0]) + 3*math.Cos(x[0]) },
		Coeffs:   []float64{3, 2},
		Low:      []float64{0},
		High:     []float64{3},
	}
}
