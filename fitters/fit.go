// Package fitters runs multi-start local optimisation of a scalar objective
// with the gonum optimisers.
package fitters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Slowpuncher24/improving-mlhiphy/nlml"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrNoConvergence   = errors.New("fitters: no restart converged")
	ErrInvalidSettings = errors.New("fitters: invalid settings")
)

// Method names a local optimiser.
type Method string

const (
	NelderMead      Method = "nelder-mead"
	CG              Method = "cg"
	BFGS            Method = "bfgs"
	LBFGS           Method = "lbfgs"
	GradientDescent Method = "gradient-descent"
)

// Methods lists the supported optimisers.
var Methods = []Method{NelderMead, CG, BFGS, LBFGS, GradientDescent}

func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrInvalidSettings, s)
}

// NeedsGradient reports whether the method calls the gradient.
func (m Method) NeedsGradient() bool {
	return m != NelderMead
}

// Optimisers carry state, each restart gets its own.
func (m Method) optimizer() optimize.Method {
	switch m {
	case NelderMead:
		return &optimize.NelderMead{}
	case CG:
		return &optimize.CG{}
	case BFGS:
		return &optimize.BFGS{}
	case LBFGS:
		return &optimize.LBFGS{}
	case GradientDescent:
		return &optimize.GradientDescent{}
	}
	panic(fmt.Sprintf("fitters: unknown method %q", string(m)))
}

// Settings of a multi-start fit. Zero budgets are unlimited.
type Settings struct {
	Method   Method
	Restarts int
	Workers  int

	// Per restart.
	MajorIterations int
	FuncEvaluations int
	Runtime         time.Duration

	// Random starts are drawn uniformly from [InitLow, InitHigh] in every
	// coordinate. Explicit Starts are used first.
	Seed     uint64
	InitLow  float64
	InitHigh float64
	Starts   [][]float64

	// RequireConvergence discards restarts stopped by a budget.
	RequireConvergence bool
}

func DefaultSettings() Settings {
	return Settings{
		Method:          NelderMead,
		Restarts:        8,
		Workers:         4,
		MajorIterations: 2000,
		FuncEvaluations: 20000,
		Seed:            1,
		InitLow:         -1,
		InitHigh:        1,
	}
}

func (s Settings) validate(dim int) error {
	if dim < 1 {
		return fmt.Errorf("%w: dimension %d", ErrInvalidSettings, dim)
	}
	if _, err := ParseMethod(string(s.Method)); err != nil {
		return err
	}
	if s.Restarts < 1 && len(s.Starts) == 0 {
		return fmt.Errorf("%w: no restarts", ErrInvalidSettings)
	}
	if s.MajorIterations < 0 || s.FuncEvaluations < 0 || s.Runtime < 0 {
		return fmt.Errorf("%w: negative budget", ErrInvalidSettings)
	}
	if !(s.InitLow <= s.InitHigh) {
		return fmt.Errorf("%w: init range [%v, %v]", ErrInvalidSettings, s.InitLow, s.InitHigh)
	}
	for i, x := range s.Starts {
		if len(x) != dim {
			return fmt.Errorf("%w: start %d has length %d, want %d", ErrInvalidSettings, i, len(x), dim)
		}
	}
	return nil
}

// starts returns the initial points of all restarts. Random starts depend on
// the seed only, not on scheduling.
func (s Settings) starts(dim int) [][]float64 {
	n := max(s.Restarts, len(s.Starts))
	out := make([][]float64, n)
	for i := range s.Starts {
		out[i] = append([]float64(nil), s.Starts[i]...)
	}
	dist := distuv.Uniform{Min: s.InitLow, Max: s.InitHigh, Src: rand.NewPCG(s.Seed, 0x5eed)}
	for i := len(s.Starts); i < n; i++ {
		out[i] = make([]float64, dim)
		for d := range out[i] {
			out[i][d] = dist.Rand()
		}
	}
	return out
}

// Restart is the outcome of one local optimisation.
type Restart struct {
	Index  int
	Start  []float64
	X      []float64
	F      float64
	Status optimize.Status
	Stats  optimize.Stats
	Err    error // nil for a usable restart
}

// Result of a multi-start fit. X and F are those of the best restart.
type Result struct {
	ID       uuid.UUID
	Method   Method
	X        []float64
	F        float64
	Best     int
	Restarts []Restart
	Runtime  time.Duration
}

// Failed counts the discarded restarts.
func (r *Result) Failed() int {
	n := 0
	for _, rs := range r.Restarts {
		if rs.Err != nil {
			n++
		}
	}
	return n
}

// Fit minimises problem from several starts in a pool of workers and keeps
// the best usable restart. A restart is discarded when the optimiser fails,
// when it ends at nlml.Sentinel or a non-finite value, or, with
// RequireConvergence, when it stops on a budget. Once ctx is done the
// remaining restarts are skipped.
//
// The result lists every restart; it is returned alongside ErrNoConvergence
// or the context error when no restart is usable.
func Fit(ctx context.Context, problem optimize.Problem, dim int, settings Settings, logger *zap.Logger) (*Result, error) {
	if err := settings.validate(dim); err != nil {
		return nil, err
	}
	if settings.Method.NeedsGradient() && problem.Grad == nil {
		return nil, fmt.Errorf("%w: %s needs a gradient", ErrInvalidSettings, settings.Method)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &Result{ID: uuid.New(), Method: settings.Method, Best: -1, F: math.Inf(1)}
	logger = logger.Named("fitters").With(zap.String("run", res.ID.String()))

	starts := settings.starts(dim)
	res.Restarts = make([]Restart, len(starts))
	logger.Info("starting fit",
		zap.String("method", string(settings.Method)),
		zap.Int("restarts", len(starts)),
		zap.Int("dim", dim))
	begin := time.Now()

	workers := settings.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan int, len(starts))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					res.Restarts[i] = Restart{Index: i, Start: starts[i], F: math.NaN(), Err: ctx.Err()}
					continue
				}
				res.Restarts[i] = run(ctx, problem, i, starts[i], settings)
				logRestart(logger, res.Restarts[i])
			}
		}()
	}
	for i := range starts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	res.Runtime = time.Since(begin)

	for i, rs := range res.Restarts {
		if rs.Err == nil && rs.F < res.F {
			res.Best, res.F = i, rs.F
		}
	}
	if res.Best < 0 {
		logger.Warn("no usable restart", zap.Int("restarts", len(starts)))
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, fmt.Errorf("%w: all %d restarts failed", ErrNoConvergence, len(starts))
	}
	res.X = res.Restarts[res.Best].X
	logger.Info("fit done",
		zap.Float64("f", res.F),
		zap.Float64s("x", res.X),
		zap.Int("best", res.Best),
		zap.Int("failed", res.Failed()),
		zap.Duration("runtime", res.Runtime))
	return res, nil
}

func run(ctx context.Context, problem optimize.Problem, i int, start []float64, settings Settings) Restart {
	rs := Restart{Index: i, Start: start, F: math.NaN()}
	out, err := optimize.Minimize(problem, append([]float64(nil), start...), &optimize.Settings{
		MajorIterations: settings.MajorIterations,
		FuncEvaluations: settings.FuncEvaluations,
		Runtime:         settings.Runtime,
		Recorder:        cancelRecorder{ctx},
	}, settings.Method.optimizer())
	if out != nil {
		rs.X, rs.F, rs.Status, rs.Stats = out.X, out.F, out.Status, out.Stats
	}
	switch {
	case err != nil:
		rs.Err = fmt.Errorf("%w: %v", ErrNoConvergence, err)
	case rs.F == nlml.Sentinel || math.IsNaN(rs.F) || math.IsInf(rs.F, 0):
		rs.Err = fmt.Errorf("%w: ended at f = %v", ErrNoConvergence, rs.F)
	case settings.RequireConvergence && budget(rs.Status):
		rs.Err = fmt.Errorf("%w: stopped by %v", ErrNoConvergence, rs.Status)
	}
	return rs
}

func budget(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.HessianEvaluationLimit,
		optimize.RuntimeLimit:
		return true
	}
	return false
}

func logRestart(logger *zap.Logger, rs Restart) {
	if rs.Err != nil {
		logger.Debug("restart discarded", zap.Int("restart", rs.Index), zap.Error(rs.Err))
		return
	}
	logger.Debug("restart done",
		zap.Int("restart", rs.Index),
		zap.Float64("f", rs.F),
		zap.Stringer("status", rs.Status),
		zap.Int("iterations", rs.Stats.MajorIterations),
		zap.Int("evaluations", rs.Stats.FuncEvaluations))
}

// cancelRecorder stops a running optimisation once its context is done.
type cancelRecorder struct {
	ctx context.Context
}

func (r cancelRecorder) Init() error {
	return r.ctx.Err()
}

func (r cancelRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
