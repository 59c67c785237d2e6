// Package nlml evaluates the negative log marginal likelihood of a
// physics-informed Gaussian process and its gradient with respect to the
// hyperparameters.
//
// Optimisers see the raw parameterisation: positive kernel hyperparameters
// are given as logarithms and exponentiated before the kernel is evaluated,
// PDE coefficients are used as they are. Evaluation never fails towards the
// optimiser: a covariance matrix that cannot be inverted yields Sentinel.
package nlml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Slowpuncher24/improving-mlhiphy/cov"
	"github.com/Slowpuncher24/improving-mlhiphy/kern"
	"github.com/Slowpuncher24/improving-mlhiphy/kernels"
	"github.com/Slowpuncher24/improving-mlhiphy/obs"
	"github.com/Slowpuncher24/improving-mlhiphy/solve"
	"github.com/Slowpuncher24/improving-mlhiphy/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimensionMismatch = errors.New("nlml: dimension mismatch")
	ErrNotPositive       = errors.New("nlml: quadratic form is not positive")
	ErrUnderflow         = errors.New("nlml: scaled determinant underflows")
)

// Sentinel is returned for hyperparameters whose covariance matrix cannot be
// inverted, so that an optimiser rejects them.
const Sentinel = math.MaxFloat64

// DefaultCacheSize is the number of solved covariance matrices kept per
// objective.
const DefaultCacheSize = 8

// DefaultBlockThreshold is the sample count from which the Schur-complement
// solve is used.
const DefaultBlockThreshold = 8

// Form selects the scalar objective.
type Form int

const (
	// log det K + y^T K^-1 y
	LogLikelihood Form = iota
	// det((y^T K^-1 y) K), the profile likelihood of a model whose signal
	// variance is concentrated out. Kept for compatibility with older fits.
	ScaledDeterminant
)

func (f Form) String() string {
	switch f {
	case LogLikelihood:
		return "log-likelihood"
	case ScaledDeterminant:
		return "scaled-determinant"
	default:
		return fmt.Sprintf("Form(%d)", int(f))
	}
}

// Gradient selects how Grad is computed.
type Gradient int

const (
	Analytic Gradient = iota
	// Central differences of Func; slow, for cross-checks.
	FiniteDifference
)

func (g Gradient) String() string {
	if g == FiniteDifference {
		return "finite-difference"
	}
	return "analytic"
}

type Option func(*Objective)

func WithForm(f Form) Option {
	return func(o *Objective) { o.form = f }
}

func WithGradient(g Gradient) Option {
	return func(o *Objective) { o.gradient = g }
}

// WithBlockThreshold uses the Schur-complement solve when the dataset has at
// least n points. 1 always uses it, math.MaxInt never does.
func WithBlockThreshold(n int) Option {
	return func(o *Objective) { o.blockMin = n }
}

// WithEps sets the diagonal shift for kernels with singular closed forms.
func WithEps(eps float64) Option {
	return func(o *Objective) { o.builder.Eval.Eps = eps }
}

// WithRcond sets the relative singular value threshold of the SVD fallback.
func WithRcond(rcond float64) Option {
	return func(o *Objective) { o.solver.Rcond = rcond }
}

// WithCacheSize keeps the solves of the last n hyperparameter vectors, so a
// gradient requested at the point just evaluated does not invert K again.
// 0 disables the cache.
func WithCacheSize(n int) Option {
	return func(o *Objective) { o.cacheSize = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Objective) { o.logger = logger }
}

// Objective is the NLML of a fixed dataset under a kernel family, as a
// function of the raw hyperparameter vector. It holds no mutable state and
// can be evaluated concurrently.
type Objective struct {
	data     *obs.Dataset
	fam      *kernels.Family
	y        *mat.VecDense
	builder  cov.Builder
	solver   solve.Solver
	form     Form
	gradient Gradient
	blockMin int
	logger   *zap.Logger

	cacheSize int
	cache     *lru.Cache[string, *state]
}

func New(data *obs.Dataset, fam *kernels.Family, opts ...Option) (*Objective, error) {
	if data.Dim() != fam.Dim() {
		return nil, fmt.Errorf("%w: data has %d coordinates, operator %q has %d",
			ErrDimensionMismatch, data.Dim(), fam.Operator().Name, fam.Dim())
	}
	o := &Objective{
		data:      data,
		fam:       fam,
		y:         data.Targets(),
		blockMin:  DefaultBlockThreshold,
		logger:    zap.NewNop(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("nlml")
	if o.cacheSize > 0 {
		cache, err := lru.New[string, *state](o.cacheSize)
		if err != nil {
			return nil, err
		}
		o.cache = cache
	}
	return o, nil
}

// Dim is the length of the hyperparameter vector.
func (o *Objective) Dim() int {
	return o.fam.NumHyper()
}

func (o *Objective) Family() *kernels.Family {
	return o.fam
}

func (o *Objective) Dataset() *obs.Dataset {
	return o.data
}

func (o *Objective) Form() Form {
	return o.form
}

// Evaluation is the outcome of one objective evaluation.
type Evaluation struct {
	Value  float64
	LogDet float64 // log |det K|
	Quad   float64 // y^T K^-1 y
	Method solve.Method
	Block  bool
}

// state is everything an evaluation at one point needs.
type state struct {
	theta []float64
	inv   *solve.Result
	w     *mat.VecDense // K^-1 y
	eval  Evaluation
}

func (o *Objective) check(x []float64) error {
	if len(x) != o.Dim() {
		return fmt.Errorf("%w: got %d hyperparameters, want %d", ErrDimensionMismatch, len(x), o.Dim())
	}
	return nil
}

// evaluate returns the solve at x, from the cache when possible. Failed
// solves are not cached. States are shared and must not be modified.
func (o *Objective) evaluate(x []float64) (*state, error) {
	if err := o.check(x); err != nil {
		return nil, err
	}
	if o.cache == nil {
		return o.solve(x)
	}
	key := cacheKey(x)
	if st, ok := o.cache.Get(key); ok {
		return st, nil
	}
	st, err := o.solve(x)
	if err != nil {
		return nil, err
	}
	o.cache.Add(key, st)
	return st, nil
}

// cacheKey is the bit pattern of x.
func cacheKey(x []float64) string {
	b := make([]byte, 8*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return string(b)
}

func (o *Objective) solve(x []float64) (*state, error) {
	theta := o.fam.Natural(nil, x)
	joint, err := o.builder.Build(o.fam, o.data, theta, o.data.Noise())
	if err != nil {
		return nil, err
	}

	n := o.data.Len()
	block := n >= o.blockMin
	var res *solve.Result
	if block {
		res, err = o.solver.BlockInverse(joint.A, joint.B, joint.C)
	} else {
		res, err = o.solver.Inverse(joint.Dense())
	}
	if err != nil {
		return nil, err
	}
	if res.Method == solve.ViaSVD {
		o.logger.Debug("covariance not positive definite, used svd",
			zap.Float64s("x", x), zap.Bool("block", block))
	}

	var w mat.VecDense
	w.MulVec(res.Inv, o.y)
	quad := mat.Dot(o.y, &w)

	ev := Evaluation{
		LogDet: res.LogDet,
		Quad:   quad,
		Method: res.Method,
		Block:  block,
	}
	switch o.form {
	case LogLikelihood:
		ev.Value = res.LogDet + quad
	case ScaledDeterminant:
		v, err := scaledDeterminant(n, quad, res.LogDet)
		if err != nil {
			return nil, err
		}
		ev.Value = v
	default:
		panic(fmt.Sprintf("nlml: unknown form %v", o.form))
	}
	if math.IsNaN(ev.Value) || math.IsInf(ev.Value, 0) {
		return nil, fmt.Errorf("%w: objective is %v", solve.ErrSingular, ev.Value)
	}
	return &state{theta: theta, inv: res, w: &w, eval: ev}, nil
}

// scaledDeterminant is det(q K) = q^(2n) det K for the n observations of
// each kind. A value that rounds to 0 carries no gradient information and is
// rejected like a singular matrix.
func scaledDeterminant(n int, quad, logDet float64) (float64, error) {
	if quad <= 0 {
		return 0, ErrNotPositive
	}
	v := math.Exp(float64(2*n)*math.Log(quad) + logDet)
	if v == 0 {
		return 0, fmt.Errorf("%w: log value %g", ErrUnderflow, float64(2*n)*math.Log(quad)+logDet)
	}
	return v, nil
}

// Evaluate computes the objective at the raw hyperparameters x and reports
// why an evaluation failed instead of returning Sentinel.
func (o *Objective) Evaluate(x []float64) (Evaluation, error) {
	st, err := o.evaluate(x)
	if err != nil {
		return Evaluation{}, err
	}
	return st.eval, nil
}

// Func is the objective in the form expected by optimisers. It panics on a
// hyperparameter vector of the wrong length.
func (o *Objective) Func(x []float64) float64 {
	st, err := o.evaluate(x)
	if err != nil {
		o.reject(x, err)
		return Sentinel
	}
	return st.eval.Value
}

// Grad stores the gradient of Func at x in grad.
func (o *Objective) Grad(grad, x []float64) {
	o.FuncGrad(grad, x)
}

// FuncGrad returns Func(x) and stores its gradient in grad. At rejected
// hyperparameters the value is Sentinel and the gradient zero.
func (o *Objective) FuncGrad(grad, x []float64) float64 {
	if len(grad) != len(x) {
		panic(ErrDimensionMismatch)
	}
	if o.gradient == FiniteDifference {
		val := o.Func(x)
		if val == Sentinel {
			zero(grad)
			return val
		}
		fd.Gradient(grad, o.Func, x, &fd.Settings{Formula: fd.Central})
		return val
	}

	st, err := o.evaluate(x)
	if err == nil {
		err = o.analyticGrad(grad, st)
	}
	if err != nil {
		o.reject(x, err)
		zero(grad)
		return Sentinel
	}
	return st.eval.Value
}

// analyticGrad uses, with w = K^-1 y and dK = dK/dtheta_i,
//
//	d(log det K + y^T w)/dtheta_i = tr(K^-1 dK) - w^T dK w
//	d det(q K)/dtheta_i = det(q K) [tr(K^-1 dK) - 2n w^T dK w / q],  q = y^T w
//
// and the chain rule d/dlog(theta) = theta d/dtheta for the positive
// hyperparameters.
func (o *Objective) analyticGrad(grad []float64, st *state) error {
	n := o.data.Len()
	kinv := utils.SymToDense(st.inv.Inv)
	var dkw mat.VecDense
	for i := range grad {
		dj, err := o.builder.Derivative(o.fam, o.data, st.theta, i)
		if err != nil {
			return err
		}
		dk := utils.SymToDense(dj.Dense())
		// tr(K^-1 dK) for symmetric matrices.
		tr := utils.Frobenius(kinv, dk)
		dkw.MulVec(dk, st.w)
		q := mat.Dot(st.w, &dkw)

		var g float64
		switch o.form {
		case LogLikelihood:
			g = tr - q
		case ScaledDeterminant:
			g = st.eval.Value * (tr - float64(2*n)*q/st.eval.Quad)
		}
		if o.fam.Positive(i) {
			g *= st.theta[i]
		}
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: gradient of %s is %v", solve.ErrSingular, o.fam.Names()[i], g)
		}
		grad[i] = g
	}
	return nil
}

// Weights returns K^-1 y at the raw hyperparameters x.
func (o *Objective) Weights(x []float64) (*mat.VecDense, error) {
	st, err := o.evaluate(x)
	if err != nil {
		return nil, err
	}
	return mat.VecDenseCopyOf(st.w), nil
}

// Predict returns the posterior mean of u at the points pts,
// [k_uu(X*, X), k_uf(X*, X)] K^-1 y.
func (o *Objective) Predict(x []float64, pts kern.Points) (*mat.VecDense, error) {
	if pts.Dim() != o.data.Dim() {
		return nil, fmt.Errorf("%w: prediction points have %d coordinates, want %d",
			ErrDimensionMismatch, pts.Dim(), o.data.Dim())
	}
	w, err := o.Weights(x)
	if err != nil {
		return nil, err
	}
	theta := o.fam.Natural(nil, x)
	eval := o.builder.Eval
	uu := eval.Cross(o.fam.Kernel(kernels.UU), pts, o.data, theta)
	uf := eval.Cross(o.fam.Kernel(kernels.UF), pts, o.data, theta)
	n := o.data.Len()
	var mean, part mat.VecDense
	mean.MulVec(uu, w.SliceVec(0, n))
	part.MulVec(uf, w.SliceVec(n, 2*n))
	mean.AddVec(&mean, &part)
	return &mean, nil
}

func (o *Objective) reject(x []float64, err error) {
	if errors.Is(err, ErrDimensionMismatch) {
		panic(err)
	}
	o.logger.Debug("rejected hyperparameters", zap.Float64s("x", x), zap.Error(err))
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
