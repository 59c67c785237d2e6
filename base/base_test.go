package base

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/Slowpuncher24/improving-mlhiphy/fitters"
	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/Slowpuncher24/improving-mlhiphy/nlml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/diff/fd"
)

// residual evaluates L u - f at x with finite differences.
func residual(c Case, x []float64) float64 {
	lu := c.Operator.Apply(c.Coeffs, func(orders []int) float64 {
		dim, order := -1, 0
		for d, o := range orders {
			if o > 0 {
				dim, order = d, o
			}
		}
		if dim < 0 {
			return c.U(x)
		}
		y := append([]float64(nil), x...)
		line := func(v float64) float64 {
			y[dim] = v
			return c.U(y)
		}
		settings := &fd.Settings{Formula: fd.Central, Step: 1e-5}
		if order == 2 {
			settings = &fd.Settings{Formula: fd.Central2nd, Step: 1e-3}
		}
		return fd.Derivative(line, x[dim], settings)
	})
	return lu - c.F(x)
}

func TestCasesSolveTheirOperator(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for _, name := range Cases() {
		c, err := LookupCase(name)
		require.NoError(t, err)
		require.NoError(t, c.Operator.Validate())
		require.Len(t, c.Coeffs, len(c.Operator.Coeffs), name)
		require.Len(t, c.Low, c.Operator.Dim(), name)
		for k := 0; k < 5; k++ {
			x := make([]float64, len(c.Low))
			for d := range x {
				x[d] = c.Low[d] + rng.Float64()*(c.High[d]-c.Low[d])
			}
			assert.InDelta(t, 0, residual(c, x), 1e-4, "%s at %v", name, x)
		}
	}
}

func TestLookupCase(t *testing.T) {
	assert.Equal(t, []string{"advection-diffusion", "heat", "linear-ode", "phi-reaction", "reaction-diffusion"}, Cases())
	_, err := LookupCase("wave")
	assert.ErrorIs(t, err, ErrUnknownCase)
}

func TestSimulateUsesDomain(t *testing.T) {
	c := ReactionDiffusion()
	ds, err := c.Simulate(20, 1e-6, 9)
	require.NoError(t, err)
	assert.Equal(t, 20, ds.Len())
	assert.Equal(t, 3, ds.Dim())
	x := make([]float64, 3)
	for i := 0; i < ds.Len(); i++ {
		ds.Point(x, i)
		for d := range x {
			assert.True(t, x[d] >= c.Low[d] && x[d] <= c.High[d])
		}
		assert.Equal(t, c.U(x), ds.U()[i])
		assert.Equal(t, c.F(x), ds.F()[i])
	}

	again, err := c.Simulate(20, 1e-6, 9)
	require.NoError(t, err)
	assert.Equal(t, ds.U(), again.U())
}

func phiModel(t *testing.T, n int, variance bool, opts ...nlml.Option) *Model {
	t.Helper()
	c := PhiReaction()
	ds, err := c.Simulate(n, 1e-7, 42)
	require.NoError(t, err)
	fam, err := c.Family(variance)
	require.NoError(t, err)
	m, err := NewModel(ds, fam, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return m
}

func TestRecoverPhi(t *testing.T) {
	m := phiModel(t, 4, false)
	for _, method := range []fitters.Method{fitters.NelderMead, fitters.CG} {
		settings := fitters.DefaultSettings()
		settings.Method = method
		settings.Restarts = 6
		est, err := m.Fit(context.Background(), settings)
		require.NoError(t, err, method)
		require.Len(t, est.Coefficients, 1)
		assert.InDelta(t, 2, est.Coefficients[0], 0.1, method)
		assert.Equal(t, "phi", est.Params[2].Name)
		assert.Equal(t, est.NLML, m.NLML(est.X))
	}
}

func TestFormsRecoverSamePhi(t *testing.T) {
	settings := fitters.DefaultSettings()
	settings.Restarts = 6

	a, err := phiModel(t, 8, true).Fit(context.Background(), settings)
	require.NoError(t, err)
	b, err := phiModel(t, 8, false, nlml.WithForm(nlml.ScaledDeterminant)).Fit(context.Background(), settings)
	require.NoError(t, err)

	assert.InDelta(t, 2, a.Coefficients[0], 0.1)
	assert.InDelta(t, 2, b.Coefficients[0], 0.1)
	assert.InDelta(t, a.Coefficients[0], b.Coefficients[0], 0.02)
}

func TestFormsRecoverPhiAtForty(t *testing.T) {
	if testing.Short() {
		t.Skip("fits 80x80 covariances")
	}
	settings := fitters.DefaultSettings()
	settings.Restarts = 6

	for _, c := range []struct {
		name     string
		variance bool
		opts     []nlml.Option
	}{
		{"log-likelihood", true, nil},
		{"log-likelihood/unscaled", false, nil},
		{"scaled-determinant", false, []nlml.Option{nlml.WithForm(nlml.ScaledDeterminant)}},
	} {
		est, err := phiModel(t, 40, c.variance, c.opts...).Fit(context.Background(), settings)
		require.NoError(t, err, c.name)
		assert.InEpsilon(t, 2, est.Coefficients[0], 0.05, c.name)
		assert.Less(t, est.NLML, nlml.Sentinel, c.name)
	}
}

func TestMaternFitOnMesh(t *testing.T) {
	c := Heat()
	ds, err := c.Mesh(4, 1e-6)
	require.NoError(t, err)
	fam, err := kernels.NewFamily(c.Operator, kern.NewMatern52(), true)
	require.NoError(t, err)
	m, err := NewModel(ds, fam, zaptest.NewLogger(t))
	require.NoError(t, err)

	settings := fitters.DefaultSettings()
	settings.Restarts = 2
	est, err := m.Fit(context.Background(), settings)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(est.NLML))
	assert.Less(t, est.NLML, nlml.Sentinel)

	// Training points lie on the mesh.
	pts := kern.Coords{ds.Coords(0)[:2], ds.Coords(1)[:2]}
	mean, err := m.Predict(est.X, pts)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		assert.InDelta(t, ds.U()[i], mean.AtVec(i), 5e-2)
	}
}

func TestModelPredict(t *testing.T) {
	m := phiModel(t, 12, false)
	x := []float64{0, 0, 2}
	mean, err := m.Predict(x, kern.Coords{{0.4}, {0.4}})
	require.NoError(t, err)
	assert.InDelta(t, 0.56, mean.AtVec(0), 0.05)

	params := m.Params([]float64{math.Log(2), 0, -1})
	require.Len(t, params, 3)
	for i, want := range []Param{{"l_x", 2}, {"l_y", 1}, {"phi", -1}} {
		assert.Equal(t, want.Name, params[i].Name)
		assert.InDelta(t, want.Value, params[i].Value, 1e-12)
	}
	assert.Equal(t, []float64{-1}, m.Coefficients([]float64{math.Log(2), 0, -1}))
}

func TestFitFailureKeepsRun(t *testing.T) {
	m := phiModel(t, 4, false)
	settings := fitters.DefaultSettings()
	settings.RequireConvergence = true
	settings.MajorIterations = 1
	est, err := m.Fit(context.Background(), settings)
	require.ErrorIs(t, err, fitters.ErrNoConvergence)
	require.NotNil(t, est.Run)
	assert.Equal(t, settings.Restarts, est.Run.Failed())
}
