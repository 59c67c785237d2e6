package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Slowpuncher24/improving-mlhiphy/fitters"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "phi-reaction", cfg.Problem.Case)
	assert.Equal(t, "log-likelihood", cfg.Objective.Form)
	assert.Equal(t, "nelder-mead", cfg.Optimizer.Method)

	settings, err := cfg.Optimizer.Settings()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, settings.Runtime)
	assert.Equal(t, fitters.NelderMead, settings.Method)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
problem:
  case: heat
  samples: 12
  kernel: matern52
  variance: true
objective:
  form: scaled-determinant
optimizer:
  method: lbfgs
  runtime: 30s
  starts:
    - [0, 0, 0, 1]
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "heat", cfg.Problem.Case)
	assert.Equal(t, 12, cfg.Problem.Samples)
	assert.Equal(t, 1e-7, cfg.Problem.Noise)
	assert.True(t, cfg.Problem.Variance)

	settings, err := cfg.Optimizer.Settings()
	require.NoError(t, err)
	assert.Equal(t, fitters.LBFGS, settings.Method)
	assert.Equal(t, 30*time.Second, settings.Runtime)
	assert.Equal(t, [][]float64{{0, 0, 0, 1}}, settings.Starts)
	assert.Equal(t, 8, settings.Restarts)

	data, fam, err := cfg.Problem.Build()
	require.NoError(t, err)
	assert.Equal(t, 12, data.Len())
	assert.Equal(t, "matern52", fam.Profile().Name())
	assert.Equal(t, []string{"variance", "l_x", "l_t", "alpha"}, fam.Names())

	opts, err := cfg.Objective.Options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	logger, err := cfg.Log.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestCustomOperatorFromCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("x,u,f\n0.1,1,2\n0.5,2,3\n0.9,3,5\n"), 0o644))

	cfg, err := Parse([]byte(`
problem:
  data: ` + csvPath + `
  noise: 1e-6
  operator:
    name: damped
    vars: [x]
    coeffs: [k]
    terms:
      - {orders: [2]}
      - {coeff: k, scale: -2, orders: [0]}
`))
	require.NoError(t, err)
	data, fam, err := cfg.Problem.Build()
	require.NoError(t, err)
	assert.Equal(t, 3, data.Len())
	assert.Equal(t, []float64{2, 3, 5}, data.F())
	assert.Equal(t, []string{"l_x", "k"}, fam.Names())
	terms := fam.Operator().Terms
	assert.Equal(t, kernels.Term{Coeff: -1, Scale: 1, Orders: []int{2}}, terms[0])
	assert.Equal(t, kernels.Term{Coeff: 0, Scale: -2, Orders: []int{0}}, terms[1])
}

func TestOperatorCoefficientNames(t *testing.T) {
	for _, text := range []string{
		"{name: x, vars: [x], coeffs: [k], terms: [{coeff: q, orders: [1]}]}",
		// Indices are not names.
		"{name: x, vars: [x], coeffs: [k], terms: [{coeff: 0, orders: [1]}]}",
		"{name: x, vars: [x], coeffs: [k], terms: [{coeff: -1, orders: [1]}]}",
	} {
		var oc OperatorConfig
		require.NoError(t, yaml.Unmarshal([]byte(text), &oc))
		_, err := oc.Operator()
		assert.ErrorIs(t, err, ErrInvalidConfig, text)
	}

	var oc OperatorConfig
	require.NoError(t, yaml.Unmarshal([]byte("{name: x, vars: [x], coeffs: [k], terms: [{orders: [1]}]}"), &oc))
	op, err := oc.Operator()
	require.NoError(t, err)
	assert.Equal(t, -1, op.Terms[0].Coeff)
}

func TestMeshProblem(t *testing.T) {
	cfg, err := Parse([]byte("problem: {case: heat, samples: 3, mesh: true, kernel: matern52}"))
	require.NoError(t, err)
	data, _, err := cfg.Problem.Build()
	require.NoError(t, err)
	assert.Equal(t, 9, data.Len())
	assert.Equal(t, []float64{0, 0.5, 1, 0, 0.5, 1, 0, 0.5, 1}, data.Coords(1))
}

func TestInvalidConfig(t *testing.T) {
	bad := []string{
		"problem: {case: wave}",
		"problem: {samples: 0}",
		"problem: {kernel: rbf}",
		"problem: {noise: -1}",
		"problem: {operator: {name: x, vars: [x], terms: [{coeff: a, orders: [1]}]}}",
		"problem: {data: d.csv, operator: {name: x, vars: [x], terms: [{orders: [1, 0]}]}}",
		"objective: {form: c}",
		"objective: {gradient: symbolic}",
		"objective: {eps: -1}",
		"optimizer: {method: adam}",
		"optimizer: {runtime: soon}",
		"optimizer: {restarts: 0}",
		"optimizer: {init_low: 2, init_high: 1}",
		"log: {level: loud}",
	}
	for _, text := range bad {
		_, err := Parse([]byte(text))
		assert.ErrorIs(t, err, ErrInvalidConfig, text)
	}

	_, err := Parse([]byte("problem: [1, 2"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
