// Package lmm fits random-intercept linear mixed models
//
//	y = Xβ + b[g] + ε,  b ~ N(0, θ²σ²),  ε ~ N(0, σ²)
//
// by maximum likelihood or REML. For a single random intercept the
// profiled deviance has a closed form per group, so only the relative
// standard deviation θ is optimized numerically.
package lmm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// maxCondition bounds the condition number of the fixed-effects system.
const maxCondition = 1e12

// Engine implements ports.MixedModelFitter.
type Engine struct {
	logger *internal.Logger
}

var _ ports.MixedModelFitter = (*Engine)(nil)

// NewEngine creates an engine; a nil logger uses the default logger.
func NewEngine(logger *internal.Logger) *Engine {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Engine{logger: logger.With("LMMEngine")}
}

// Fit is a fitted random-intercept model.
type Fit struct {
	Method     ports.Estimation
	Beta       []float64
	Theta      float64
	Sigma2     float64
	Iterations int

	deviance float64
	x        *mat.Dense
	groups   []int
	nGroups  int
}

var _ ports.MixedModel = (*Fit)(nil)

// Deviance is -2 times the maximised (restricted) log-likelihood.
func (f *Fit) Deviance() float64 { return f.deviance }

// LogLik is the maximised (restricted) log-likelihood
func (f *Fit) LogLik() float64 { return -f.deviance / 2 }

// InterceptVariance is the variance of the random intercepts.
func (f *Fit) InterceptVariance() float64 { return f.Theta * f.Theta * f.Sigma2 }

// Simulate draws a response from the fitted model: one intercept per
// group, then one residual per row, all from src.
func (f *Fit) Simulate(src rand.Source) []float64 {
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	sigma := math.Sqrt(f.Sigma2)
	u := make([]float64, f.nGroups)
	for g := range u {
		u[g] = f.Theta * sigma * std.Rand()
	}
	n, _ := f.x.Dims()
	mean := mat.NewVecDense(n, nil)
	mean.MulVec(f.x, mat.NewVecDense(len(f.Beta), f.Beta))
	y := make([]float64, n)
	for i := range y {
		y[i] = mean.AtVec(i) + u[f.groups[i]] + sigma*std.Rand()
	}
	return y
}

// FitMixed implements ports.MixedModelFitter.
func (e *Engine) FitMixed(ctx context.Context, x *mat.Dense, y []float64, groups []int, method ports.Estimation) (ports.MixedModel, error) {
	return e.Fit(ctx, x, y, groups, method)
}

// Fit estimates β, θ and σ². groups[i] is the unit index of row i.
func (e *Engine) Fit(ctx context.Context, x *mat.Dense, y []float64, groups []int, method ports.Estimation) (*Fit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ss, err := newSufficient(x, y, groups)
	if err != nil {
		return nil, err
	}
	if method == ports.REML && ss.n <= ss.p {
		return nil, core.NewInsufficientDataError(ss.n, ss.p+1)
	}

	objective := func(v []float64) float64 {
		d, _, _, err := ss.profile(math.Exp(v[0]), method)
		if err != nil {
			return math.Inf(1)
		}
		return d
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-12,
			Iterations: 30,
		},
		MajorIterations: 1000,
	}
	res, err := optimize.Minimize(optimize.Problem{Func: objective}, []float64{0}, settings, &optimize.NelderMead{SimplexSize: 1})
	if err == nil {
		err = res.Status.Err()
	}
	if err != nil {
		return nil, core.NewFitConvergenceError("random intercept model", err)
	}

	theta := math.Exp(res.X[0])
	// θ = 0 is on the boundary the log scale cannot reach
	if d0, _, _, err := ss.profile(0, method); err == nil && d0 <= res.F {
		theta = 0
	}
	d, beta, rss, err := ss.profile(theta, method)
	if err != nil {
		return nil, core.NewFitConvergenceError("random intercept model", err)
	}
	denom := float64(ss.n)
	if method == ports.REML {
		denom -= float64(ss.p)
	}
	fit := &Fit{
		Method:     method,
		Beta:       beta,
		Theta:      theta,
		Sigma2:     rss / denom,
		Iterations: res.MajorIterations,
		deviance:   d,
		x:          x,
		groups:     groups,
		nGroups:    ss.nGroups,
	}
	e.logger.Trace("%s fit: p=%d theta=%.4f sigma2=%.4f deviance=%.4f", method, ss.p, theta, fit.Sigma2, d)
	return fit, nil
}

// sufficient holds the per-group sums the profiled deviance needs.
type sufficient struct {
	n, p, nGroups int
	xtx           *mat.SymDense
	xty           *mat.VecDense
	yty           float64
	counts        []float64
	xsum          [][]float64
	ysum          []float64
}

func newSufficient(x *mat.Dense, y []float64, groups []int) (*sufficient, error) {
	n, p := x.Dims()
	if len(y) != n || len(groups) != n {
		return nil, fmt.Errorf("design has %d rows, response %d, groups %d", n, len(y), len(groups))
	}
	if n == 0 || p == 0 {
		return nil, core.NewInsufficientDataError(n, 1)
	}
	ng := 0
	for _, g := range groups {
		if g < 0 {
			return nil, fmt.Errorf("negative group index %d", g)
		}
		if g+1 > ng {
			ng = g + 1
		}
	}
	ss := &sufficient{
		n: n, p: p, nGroups: ng,
		xtx:    mat.NewSymDense(p, nil),
		xty:    mat.NewVecDense(p, nil),
		yty:    floats.Dot(y, y),
		counts: make([]float64, ng),
		xsum:   make([][]float64, ng),
		ysum:   make([]float64, ng),
	}
	ss.xtx.SymOuterK(1, x.T())
	ss.xty.MulVec(x.T(), mat.NewVecDense(n, y))
	for g := range ss.xsum {
		ss.xsum[g] = make([]float64, p)
	}
	for i, g := range groups {
		ss.counts[g]++
		floats.Add(ss.xsum[g], x.RawRowView(i))
		ss.ysum[g] += y[i]
	}
	return ss, nil
}

// profile returns the profiled deviance, β̂ and the penalized residual sum
// of squares at relative standard deviation theta.
func (ss *sufficient) profile(theta float64, method ports.Estimation) (float64, []float64, float64, error) {
	t2 := theta * theta
	a := mat.NewSymDense(ss.p, nil)
	a.CopySym(ss.xtx)
	b := mat.VecDenseCopyOf(ss.xty)
	c := ss.yty
	logDetL := 0.0
	for g, ng := range ss.counts {
		if ng == 0 {
			continue
		}
		w := t2 / (1 + ng*t2)
		if w != 0 {
			s := mat.NewVecDense(ss.p, ss.xsum[g])
			a.SymRankOne(a, -w, s)
			b.AddScaledVec(b, -w*ss.ysum[g], s)
			c -= w * ss.ysum[g] * ss.ysum[g]
		}
		logDetL += math.Log1p(ng * t2)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok || chol.Cond() > maxCondition {
		return 0, nil, 0, fmt.Errorf("fixed-effects design is rank deficient")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, b); err != nil {
		return 0, nil, 0, err
	}
	rss := c - mat.Dot(b, &beta)
	if rss <= 0 {
		return 0, nil, 0, fmt.Errorf("non-positive residual sum of squares %g", rss)
	}

	n := float64(ss.n)
	var d float64
	switch method {
	case ports.REML:
		df := n - float64(ss.p)
		d = df*(1+math.Log(2*math.Pi*rss/df)) + logDetL + chol.LogDet()
	default:
		d = n*(1+math.Log(2*math.Pi*rss/n)) + logDetL
	}
	return d, append([]float64(nil), beta.RawVector().Data...), rss, nil
}
