// Package gam is a penalized regression spline engine for additive mixed
// models with a random intercept. Smoothing parameters are estimated by
// REML; smooths use cubic B-spline bases with difference penalties.
package gam

import (
	"context"
	"fmt"
	"math"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"gonum.org/v1/gonum/mat"
)

// randomBlock tags the random intercept penalty; smooth blocks are positive.
const randomBlock = -1

// Fitter implements ports.ModelFitter.
type Fitter struct {
	logger *internal.Logger
}

var _ ports.ModelFitter = (*Fitter)(nil)

// NewFitter creates a fitter; a nil logger uses the default logger.
func NewFitter(logger *internal.Logger) *Fitter {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Fitter{logger: logger.With("GAMFitter")}
}

// Fit estimates spec on the complete rows of data with a random intercept
// per unit of group.
func (f *Fitter) Fit(ctx context.Context, spec formula.ModelSpec, data *dataset.Dataset, group dataset.GroupKey) (*model.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	rows, err := completeCases(spec, data, group)
	if err != nil {
		return nil, err
	}
	y, err := continuousValues(rows, spec.Response)
	if err != nil {
		return nil, err
	}

	basis, err := compile(spec, rows)
	if err != nil {
		return nil, err
	}
	x, err := basis.Expand(rows)
	if err != nil {
		return nil, err
	}
	n, p := x.Dims()
	pens := basis.penalties()

	w := x
	groups := 0
	if group != "" {
		units, labels, err := rows.GroupIndex(group)
		if err != nil {
			return nil, err
		}
		groups = len(labels)
		if groups < 2 {
			return nil, core.NewInsufficientDataError(groups, 2)
		}
		w = mat.NewDense(n, p+groups, nil)
		w.Slice(0, n, 0, p).(*mat.Dense).Copy(x)
		for i, u := range units {
			w.Set(i, p+u, 1)
		}
		pens = append(pens, penalty{start: p, s: identitySym(groups), block: randomBlock})
	}
	if n <= p {
		return nil, core.NewInsufficientDataError(n, p+1)
	}

	prob, err := newProblem(w, y, pens)
	if err != nil {
		return nil, core.NewFitConvergenceError(spec.String(), err)
	}
	sol, err := prob.fit()
	if err != nil {
		return nil, core.NewFitConvergenceError(spec.String(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := sol.covariance()
	if err != nil {
		return nil, core.NewFitConvergenceError(spec.String(), err)
	}
	edf, err := prob.edf(sol)
	if err != nil {
		return nil, core.NewFitConvergenceError(spec.String(), err)
	}
	totalEDF := 0.0
	for _, e := range edf {
		totalEDF += e
	}

	cov := mat.NewSymDense(p, nil)
	cov.SubsetSym(full, seq(0, p))
	fm := &model.FittedModel{
		ID:         core.NewID(),
		Spec:       spec.Clone(),
		Method:     model.MethodFixed,
		Design:     x,
		Blocks:     basis.blocks(),
		Beta:       append([]float64(nil), sol.beta[:p]...),
		Covariance: cov,
		Lambda:     sol.lambda,
		Fitted:     sol.fitted,
		Data:       rows,
		Basis:      basis,
		Stats:      fitStats(y, sol, totalEDF),
	}
	if len(pens) > 0 {
		fm.Method = model.MethodREML
	}
	if group != "" {
		fm.RandomEffects = model.RandomEffects{
			GroupVar:          group,
			Groups:            groups,
			InterceptVariance: sol.scale / sol.lambda[len(sol.lambda)-1],
			ResidualVariance:  sol.scale,
		}
	}
	tables(fm, basis, edf, float64(n)-totalEDF)

	f.logger.Debug("fitted %s: n=%d edf=%.2f reml=%.3f iterations=%d", spec, n, totalEDF, fm.Stats.REML, sol.iters)
	return fm, nil
}

// Predict returns population-level predictions (random effects at zero).
func (f *Fitter) Predict(ctx context.Context, fm *model.FittedModel, newData *dataset.Dataset) ([]ports.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	xp, err := fm.PredictMatrix(newData)
	if err != nil {
		return nil, err
	}
	return predict(xp, fm.Beta, fm.Covariance), nil
}

func predict(xp *mat.Dense, beta []float64, cov *mat.SymDense) []ports.Prediction {
	n, p := xp.Dims()
	b := mat.NewVecDense(p, beta)
	out := make([]ports.Prediction, n)
	for i := 0; i < n; i++ {
		row := xp.RowView(i)
		out[i] = ports.Prediction{
			Estimate: mat.Dot(row, b),
			StdError: math.Sqrt(math.Max(mat.Inner(row, cov, row), 0)),
		}
	}
	return out
}

// DesignMatrix returns the fixed-effects basis expansion of spec on data.
// Rows are not filtered, so data must hold no missing values in the
// variables spec uses.
func (f *Fitter) DesignMatrix(ctx context.Context, spec formula.ModelSpec, data *dataset.Dataset) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	basis, err := compile(spec, data)
	if err != nil {
		return nil, err
	}
	return basis.Expand(data)
}

// completeCases drops rows with a missing response, covariate or group.
func completeCases(spec formula.ModelSpec, data *dataset.Dataset, group dataset.GroupKey) (*dataset.Dataset, error) {
	names := append([]string{spec.Response}, spec.Variables()...)
	if group != "" {
		names = append(names, string(group))
	}
	for _, name := range names {
		if !data.Has(name) {
			return nil, core.NewUnknownVariableError(name)
		}
	}
	rows := data.Without(dataset.ExcludeMissing(names...))
	if rows.Rows() == 0 {
		return nil, core.NewInsufficientDataError(0, 1)
	}
	return rows, nil
}

func identitySym(n int) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, 1)
	}
	return s
}

func (f *Fitter) basisOf(fm *model.FittedModel) (*designBasis, error) {
	b, ok := fm.Basis.(*designBasis)
	if !ok {
		return nil, fmt.Errorf("model %s was not fitted by the gam engine", fm.Spec)
	}
	return b, nil
}
