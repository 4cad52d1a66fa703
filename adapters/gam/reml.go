package gam

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// logLambdaBound limits log smoothing parameters relative to their
// starting values; beyond it the criterion is numerically flat.
const logLambdaBound = 20

// rankTolerance is relative to the largest eigenvalue of a penalty.
const rankTolerance = 1e-9

// penaltyBlock groups the penalties that act on the same columns.
type penaltyBlock struct {
	start, dim int
	members    []int
	rank       int
}

// problem is a penalized least squares problem ||y - Wb||² + Σ λ_j b'S_j b
// whose smoothing parameters are chosen by Laplace approximate REML.
type problem struct {
	w      *mat.Dense
	y      []float64
	wtw    *mat.SymDense
	wty    *mat.VecDense
	pens   []penalty
	blocks []penaltyBlock
	init   []float64
	n, q   int
}

// solution is the fit at one set of smoothing parameters.
type solution struct {
	lambda  []float64
	beta    []float64
	fitted  []float64
	chol    *mat.Cholesky
	rss     float64
	penalty float64
	nullDim int
	scale   float64
	reml    float64
	iters   int
}

func newProblem(w *mat.Dense, y []float64, pens []penalty) (*problem, error) {
	n, q := w.Dims()
	p := &problem{w: w, y: y, pens: pens, n: n, q: q}
	p.wtw = mat.NewSymDense(q, nil)
	p.wtw.SymOuterK(1, w.T())
	p.wty = mat.NewVecDense(q, nil)
	p.wty.MulVec(w.T(), mat.NewVecDense(n, y))

	byBlock := make(map[int]int)
	for j, pen := range pens {
		bi, ok := byBlock[pen.block]
		if !ok {
			bi = len(p.blocks)
			byBlock[pen.block] = bi
			p.blocks = append(p.blocks, penaltyBlock{start: pen.start, dim: pen.s.SymmetricDim()})
		}
		p.blocks[bi].members = append(p.blocks[bi].members, j)
	}
	unit := make([]float64, len(pens))
	for j := range unit {
		unit[j] = 1
	}
	for i := range p.blocks {
		vals, err := p.blockEigen(i, unit)
		if err != nil {
			return nil, err
		}
		p.blocks[i].rank = rankOf(vals)
	}

	// start each λ where the penalty and the data carry similar weight
	p.init = make([]float64, len(pens))
	for j, pen := range pens {
		d := pen.s.SymmetricDim()
		dataTrace := 0.0
		for i := pen.start; i < pen.start+d; i++ {
			dataTrace += p.wtw.At(i, i)
		}
		penTrace := 0.0
		for i := 0; i < d; i++ {
			penTrace += pen.s.At(i, i)
		}
		p.init[j] = 1
		if dataTrace > 0 && penTrace > 0 {
			p.init[j] = dataTrace / penTrace
		}
	}
	return p, nil
}

func (p *problem) lambdas(rho []float64) []float64 {
	out := make([]float64, len(rho))
	for j, r := range rho {
		r = math.Max(-logLambdaBound, math.Min(logLambdaBound, r))
		out[j] = p.init[j] * math.Exp(r)
	}
	return out
}

func (p *problem) blockEigen(bi int, lambda []float64) ([]float64, error) {
	b := p.blocks[bi]
	total := mat.NewSymDense(b.dim, nil)
	for _, j := range b.members {
		var scaled mat.SymDense
		scaled.ScaleSym(lambda[j], p.pens[j].s)
		total.AddSym(total, &scaled)
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(total, false); !ok {
		return nil, fmt.Errorf("eigendecomposition of penalty block failed")
	}
	vals := eig.Values(nil)
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	return vals, nil
}

func rankOf(desc []float64) int {
	if len(desc) == 0 || desc[0] <= 0 {
		return 0
	}
	r := 0
	for _, v := range desc {
		if v > rankTolerance*desc[0] {
			r++
		}
	}
	return r
}

// solve fits the model for fixed smoothing parameters.
func (p *problem) solve(lambda []float64) (*solution, error) {
	a := mat.NewSymDense(p.q, nil)
	a.CopySym(p.wtw)
	for j, pen := range p.pens {
		d := pen.s.SymmetricDim()
		for r := 0; r < d; r++ {
			for c := r; c < d; c++ {
				i, k := pen.start+r, pen.start+c
				a.SetSym(i, k, a.At(i, k)+lambda[j]*pen.s.At(r, c))
			}
		}
	}
	chol := &mat.Cholesky{}
	if ok := chol.Factorize(a); !ok {
		return nil, fmt.Errorf("penalized normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, p.wty); err != nil {
		return nil, err
	}

	s := &solution{lambda: lambda, chol: chol, beta: append([]float64(nil), beta.RawVector().Data...)}
	var fitted mat.VecDense
	fitted.MulVec(p.w, &beta)
	s.fitted = append([]float64(nil), fitted.RawVector().Data...)
	for i, yi := range p.y {
		r := yi - s.fitted[i]
		s.rss += r * r
	}
	for j, pen := range p.pens {
		d := pen.s.SymmetricDim()
		bj := mat.NewVecDense(d, s.beta[pen.start:pen.start+d])
		s.penalty += lambda[j] * mat.Inner(bj, pen.s, bj)
	}

	logDetS := 0.0
	rank := 0
	for bi, b := range p.blocks {
		vals, err := p.blockEigen(bi, lambda)
		if err != nil {
			return nil, err
		}
		for _, v := range vals[:b.rank] {
			if v <= 0 {
				return nil, fmt.Errorf("penalty block lost rank")
			}
			logDetS += math.Log(v)
		}
		rank += b.rank
	}
	s.nullDim = p.q - rank
	df := float64(p.n - s.nullDim)
	if df <= 0 {
		return nil, fmt.Errorf("%d observations cannot support %d unpenalized coefficients", p.n, s.nullDim)
	}
	s.scale = (s.rss + s.penalty) / df
	if s.scale <= 0 {
		s.scale = math.SmallestNonzeroFloat64
	}
	s.reml = df*(1+math.Log(2*math.Pi*s.scale)) + chol.LogDet() - logDetS
	return s, nil
}

// fit estimates the smoothing parameters by minimizing the REML criterion
// with Nelder-Mead over log λ, then returns the solution at the optimum.
func (p *problem) fit() (*solution, error) {
	if len(p.pens) == 0 {
		return p.solve(nil)
	}
	objective := func(rho []float64) float64 {
		s, err := p.solve(p.lambdas(rho))
		if err != nil {
			return math.Inf(1)
		}
		return s.reml
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Relative:   1e-10,
			Iterations: 40,
		},
		MajorIterations: 4000,
	}
	start := make([]float64, len(p.pens))
	if math.IsInf(objective(start), 1) {
		return nil, fmt.Errorf("initial smoothing parameters give no fit")
	}
	res, err := optimize.Minimize(optimize.Problem{Func: objective}, start, settings, &optimize.NelderMead{SimplexSize: 1})
	if err != nil {
		return nil, err
	}
	if err := res.Status.Err(); err != nil {
		return nil, err
	}
	s, err := p.solve(p.lambdas(res.X))
	if err != nil {
		return nil, err
	}
	s.iters = res.MajorIterations
	return s, nil
}

// covariance returns the Bayesian posterior covariance scale·A⁻¹.
func (s *solution) covariance() (*mat.SymDense, error) {
	var inv mat.SymDense
	if err := s.chol.InverseTo(&inv); err != nil {
		return nil, err
	}
	inv.ScaleSym(s.scale, &inv)
	return &inv, nil
}

// edf returns the per-coefficient effective degrees of freedom, the
// diagonal of A⁻¹W'W.
func (p *problem) edf(s *solution) ([]float64, error) {
	var f mat.Dense
	if err := s.chol.SolveTo(&f, p.wtw); err != nil {
		return nil, err
	}
	out := make([]float64, p.q)
	for i := range out {
		out[i] = f.At(i, i)
	}
	return out, nil
}
