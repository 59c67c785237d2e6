// Package config loads the YAML description of an inference run.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/Slowpuncher24/improving-mlhiphy/base"
	"github.com/Slowpuncher24/improving-mlhiphy/fitters"
	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/Slowpuncher24/improving-mlhiphy/nlml"
	"github.com/Slowpuncher24/improving-mlhiphy/obs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Problem   ProblemConfig   `yaml:"problem"`
	Objective ObjectiveConfig `yaml:"objective"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Log       LogConfig       `yaml:"log"`
}

// ProblemConfig selects the data and the kernel family. Data, when set, is
// a CSV file of "coords..., u, f" rows and replaces simulation; Operator
// then overrides the operator of Case. Mesh simulates on a grid of Samples
// points per axis instead of Samples uniform draws.
type ProblemConfig struct {
	Case     string          `yaml:"case"`
	Samples  int             `yaml:"samples"`
	Mesh     bool            `yaml:"mesh"`
	Noise    float64         `yaml:"noise"`
	Seed     uint64          `yaml:"seed"`
	Data     string          `yaml:"data"`
	Operator *OperatorConfig `yaml:"operator"`
	Kernel   string          `yaml:"kernel"`
	Variance bool            `yaml:"variance"`
}

// OperatorConfig is a custom operator written as a list of terms.
type OperatorConfig struct {
	Name   string       `yaml:"name"`
	Vars   []string     `yaml:"vars"`
	Coeffs []string     `yaml:"coeffs"`
	Terms  []TermConfig `yaml:"terms"`
}

// TermConfig is one term Scale * Coeff * d^Orders u. Coeff names an entry of
// the operator's coeffs; a term without one has no unknown coefficient. A
// missing Scale is 1.
type TermConfig struct {
	Coeff  string   `yaml:"coeff"`
	Scale  *float64 `yaml:"scale"`
	Orders []int    `yaml:"orders"`
}

type ObjectiveConfig struct {
	Form           string  `yaml:"form"`
	Gradient       string  `yaml:"gradient"`
	BlockThreshold int     `yaml:"block_threshold"`
	Eps            float64 `yaml:"eps"`
	Rcond          float64 `yaml:"rcond"`
}

type OptimizerConfig struct {
	Method             string      `yaml:"method"`
	Restarts           int         `yaml:"restarts"`
	Workers            int         `yaml:"workers"`
	MajorIterations    int         `yaml:"major_iterations"`
	FuncEvaluations    int         `yaml:"func_evaluations"`
	Runtime            string      `yaml:"runtime"`
	Seed               uint64      `yaml:"seed"`
	InitLow            float64     `yaml:"init_low"`
	InitHigh           float64     `yaml:"init_high"`
	Starts             [][]float64 `yaml:"starts"`
	RequireConvergence bool        `yaml:"require_convergence"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	fit := fitters.DefaultSettings()
	return &Config{
		Problem: ProblemConfig{
			Case:    "phi-reaction",
			Samples: 20,
			Noise:   1e-7,
			Seed:    1,
			Kernel:  "squared-exponential",
		},
		Objective: ObjectiveConfig{
			Form:           nlml.LogLikelihood.String(),
			Gradient:       nlml.Analytic.String(),
			BlockThreshold: nlml.DefaultBlockThreshold,
			Eps:            kern.DefaultEps,
		},
		Optimizer: OptimizerConfig{
			Method:          string(fit.Method),
			Restarts:        fit.Restarts,
			Workers:         fit.Workers,
			MajorIterations: fit.MajorIterations,
			FuncEvaluations: fit.FuncEvaluations,
			Runtime:         "1m",
			Seed:            fit.Seed,
			InitLow:         fit.InitLow,
			InitHigh:        fit.InitHigh,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load overlays the YAML file at path on DefaultConfig and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Problem.Profile(); err != nil {
		return err
	}
	if c.Problem.Operator == nil {
		if _, err := base.LookupCase(c.Problem.Case); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.Problem.Data == "" {
		if c.Problem.Samples < 1 {
			return fmt.Errorf("%w: samples must be positive", ErrInvalidConfig)
		}
		if c.Problem.Operator != nil {
			return fmt.Errorf("%w: a custom operator needs a data file", ErrInvalidConfig)
		}
	}
	if c.Problem.Noise < 0 {
		return fmt.Errorf("%w: negative noise", ErrInvalidConfig)
	}
	if c.Problem.Operator != nil {
		if _, err := c.Problem.Operator.Operator(); err != nil {
			return err
		}
	}
	if _, err := c.Objective.Options(); err != nil {
		return err
	}
	if _, err := c.Optimizer.Settings(); err != nil {
		return err
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Profile returns the base kernel named by Kernel.
func (p ProblemConfig) Profile() (kern.Profile, error) {
	switch p.Kernel {
	case "squared-exponential", "se", "":
		return kern.NewSquaredExp(), nil
	case "matern12":
		return kern.NewMatern12(), nil
	case "matern32":
		return kern.NewMatern32(), nil
	case "matern52":
		return kern.NewMatern52(), nil
	case "matern72":
		return kern.NewMatern72(), nil
	}
	return nil, fmt.Errorf("%w: unknown kernel %q", ErrInvalidConfig, p.Kernel)
}

// Operator resolves coefficient names to indices and validates the result.
func (oc OperatorConfig) Operator() (kernels.Operator, error) {
	op := kernels.Operator{
		Name:   oc.Name,
		Vars:   oc.Vars,
		Coeffs: oc.Coeffs,
		Terms:  make([]kernels.Term, len(oc.Terms)),
	}
	for k, t := range oc.Terms {
		term := kernels.Term{Coeff: -1, Scale: 1, Orders: t.Orders}
		if t.Scale != nil {
			term.Scale = *t.Scale
		}
		if t.Coeff != "" {
			term.Coeff = slices.Index(oc.Coeffs, t.Coeff)
			if term.Coeff < 0 {
				return kernels.Operator{}, fmt.Errorf("%w: term %d of %q names unknown coefficient %q",
					ErrInvalidConfig, k, oc.Name, t.Coeff)
			}
		}
		op.Terms[k] = term
	}
	if err := op.Validate(); err != nil {
		return kernels.Operator{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return op, nil
}

// Build loads or simulates the dataset and builds the kernel family.
func (p ProblemConfig) Build() (*obs.Dataset, *kernels.Family, error) {
	profile, err := p.Profile()
	if err != nil {
		return nil, nil, err
	}
	var op kernels.Operator
	var c base.Case
	if p.Operator != nil {
		op, err = p.Operator.Operator()
		if err != nil {
			return nil, nil, err
		}
	} else {
		c, err = base.LookupCase(p.Case)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		op = c.Operator
	}
	fam, err := kernels.NewFamily(op, profile, p.Variance)
	if err != nil {
		return nil, nil, err
	}

	if p.Data == "" {
		if p.Mesh {
			data, err := c.Mesh(p.Samples, p.Noise)
			return data, fam, err
		}
		data, err := c.Simulate(p.Samples, p.Noise, p.Seed)
		return data, fam, err
	}
	f, err := os.Open(p.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data: %w", err)
	}
	defer f.Close()
	data, err := obs.ReadCSV(f, op.Dim(), p.Noise)
	if err != nil {
		return nil, nil, err
	}
	return data, fam, nil
}

func (o ObjectiveConfig) Options() ([]nlml.Option, error) {
	var opts []nlml.Option
	switch o.Form {
	case nlml.LogLikelihood.String(), "a":
		opts = append(opts, nlml.WithForm(nlml.LogLikelihood))
	case nlml.ScaledDeterminant.String(), "b":
		opts = append(opts, nlml.WithForm(nlml.ScaledDeterminant))
	default:
		return nil, fmt.Errorf("%w: unknown objective form %q", ErrInvalidConfig, o.Form)
	}
	switch o.Gradient {
	case nlml.Analytic.String(), "":
		opts = append(opts, nlml.WithGradient(nlml.Analytic))
	case nlml.FiniteDifference.String():
		opts = append(opts, nlml.WithGradient(nlml.FiniteDifference))
	default:
		return nil, fmt.Errorf("%w: unknown gradient %q", ErrInvalidConfig, o.Gradient)
	}
	if o.Eps < 0 || o.Rcond < 0 {
		return nil, fmt.Errorf("%w: eps and rcond must be non-negative", ErrInvalidConfig)
	}
	if o.BlockThreshold > 0 {
		opts = append(opts, nlml.WithBlockThreshold(o.BlockThreshold))
	}
	if o.Eps > 0 {
		opts = append(opts, nlml.WithEps(o.Eps))
	}
	if o.Rcond > 0 {
		opts = append(opts, nlml.WithRcond(o.Rcond))
	}
	return opts, nil
}

func (o OptimizerConfig) Settings() (fitters.Settings, error) {
	method, err := fitters.ParseMethod(o.Method)
	if err != nil {
		return fitters.Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var runtime time.Duration
	if o.Runtime != "" {
		runtime, err = time.ParseDuration(o.Runtime)
		if err != nil {
			return fitters.Settings{}, fmt.Errorf("%w: runtime: %w", ErrInvalidConfig, err)
		}
	}
	if o.Restarts < 1 && len(o.Starts) == 0 {
		return fitters.Settings{}, fmt.Errorf("%w: no restarts", ErrInvalidConfig)
	}
	if o.InitLow > o.InitHigh {
		return fitters.Settings{}, fmt.Errorf("%w: init_low above init_high", ErrInvalidConfig)
	}
	return fitters.Settings{
		Method:             method,
		Restarts:           o.Restarts,
		Workers:            o.Workers,
		MajorIterations:    o.MajorIterations,
		FuncEvaluations:    o.FuncEvaluations,
		Runtime:            runtime,
		Seed:               o.Seed,
		InitLow:            o.InitLow,
		InitHigh:           o.InitHigh,
		Starts:             o.Starts,
		RequireConvergence: o.RequireConvergence,
	}, nil
}

// Logger builds a zap logger at the configured level.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level: %w", ErrInvalidConfig, err)
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
