// Package base ties a dataset and a kernel family to an NLML objective and
// fits it.
package base

import (
	"context"

	"github.com/Slowpuncher24/improving-mlhiphy/fitters"
	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/Slowpuncher24/improving-mlhiphy/nlml"
	"github.com/Slowpuncher24/improving-mlhiphy/obs"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

type Model struct {
	data   *obs.Dataset
	fam    *kernels.Family
	obj    *nlml.Objective
	logger *zap.Logger
}

// NewModel builds the objective of data under fam. A nil logger discards
// output.
func NewModel(data *obs.Dataset, fam *kernels.Family, logger *zap.Logger, opts ...nlml.Option) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]nlml.Option{nlml.WithLogger(logger)}, opts...)
	obj, err := nlml.New(data, fam, opts...)
	if err != nil {
		return nil, err
	}
	return &Model{data: data, fam: fam, obj: obj, logger: logger}, nil
}

func (m *Model) Objective() *nlml.Objective {
	return m.obj
}

func (m *Model) Family() *kernels.Family {
	return m.fam
}

// Problem exposes the objective to gonum/optimize.
func (m *Model) Problem() optimize.Problem {
	return optimize.Problem{Func: m.obj.Func, Grad: m.obj.Grad}
}

// NLML at the raw hyperparameters x.
func (m *Model) NLML(x []float64) float64 {
	return m.obj.Func(x)
}

// Param is a hyperparameter in natural parameterisation.
type Param struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
}

// Params decodes the raw vector x.
func (m *Model) Params(x []float64) []Param {
	nat := m.fam.Natural(nil, x)
	names := m.fam.Names()
	out := make([]Param, len(nat))
	for i := range nat {
		out[i] = Param{Name: names[i], Value: nat[i]}
	}
	return out
}

// Coefficients returns the PDE coefficients in x.
func (m *Model) Coefficients(x []float64) []float64 {
	return append([]float64(nil), x[m.fam.NumKernelHyper():]...)
}

// Predict returns the posterior mean of u at pts.
func (m *Model) Predict(x []float64, pts kern.Points) (*mat.VecDense, error) {
	return m.obj.Predict(x, pts)
}

// Estimate is the outcome of Fit.
type Estimate struct {
	Run          *fitters.Result
	X            []float64
	NLML         float64
	Params       []Param
	Coefficients []float64
}

// Fit minimises the NLML from the starts described by settings.
func (m *Model) Fit(ctx context.Context, settings fitters.Settings) (*Estimate, error) {
	run, err := fitters.Fit(ctx, m.Problem(), m.obj.Dim(), settings, m.logger)
	if err != nil {
		return &Estimate{Run: run}, err
	}
	return &Estimate{
		Run:          run,
		X:            run.X,
		NLML:         run.F,
		Params:       m.Params(run.X),
		Coefficients: m.Coefficients(run.X),
	}, nil
}
