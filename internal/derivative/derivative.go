// Package derivative estimates the first derivative of a fitted smooth over
// its observed range and finds where it differs from zero.
package derivative

import (
	"fmt"
	"math"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Options configures the grid and interval width.
type Options struct {
	// GridSize is the number of evenly spaced evaluation points.
	GridSize int
	// Multiplier scales the standard error into the interval half-width.
	// 2 gives the usual normal-approximation 95% band.
	Multiplier float64
	// Epsilon is the finite-difference step as a fraction of the range.
	Epsilon float64
}

// DefaultOptions returns a 1000-point grid with ±2·SE intervals.
func DefaultOptions() Options {
	return Options{GridSize: 1000, Multiplier: 2, Epsilon: 1e-5}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.GridSize <= 0 {
		o.GridSize = d.GridSize
	}
	if o.Multiplier <= 0 {
		o.Multiplier = d.Multiplier
	}
	if o.Epsilon <= 0 {
		o.Epsilon = d.Epsilon
	}
	return o
}

// DerivativesOf differentiates the population prediction of p with respect
// to smoothVar. Other covariates are held at their representative values
// (median or first level). Standard errors come from the delta method,
// sqrt(diag(L V L')), where L is the central difference of the prediction
// matrix.
func DerivativesOf(p ports.Predictor, smoothVar string, opts Options) (*model.DerivativeCurve, error) {
	opts = opts.normalized()
	if opts.GridSize < 2 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("derivative grid needs at least 2 points, got %d", opts.GridSize))
	}
	data := p.TrainingData()
	if data == nil {
		return nil, fmt.Errorf("model has no training data")
	}
	col, ok := data.Column(smoothVar)
	if !ok {
		return nil, core.NewUnknownVariableError(smoothVar)
	}
	if col.Kind.IsFactor() {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("cannot differentiate with respect to %s variable %q", col.Kind, smoothVar))
	}
	lo, hi, err := data.Range(smoothVar)
	if err != nil {
		return nil, err
	}
	if !(hi > lo) {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("%q has no spread", smoothVar))
	}

	n := opts.GridSize
	grid := floats.Span(make([]float64, n), lo, hi)
	h := opts.Epsilon * (hi - lo)

	upper, err := shiftedMatrix(p, smoothVar, grid, h)
	if err != nil {
		return nil, err
	}
	lower, err := shiftedMatrix(p, smoothVar, grid, -h)
	if err != nil {
		return nil, err
	}
	var l mat.Dense
	l.Sub(upper, lower)
	l.Scale(1/(2*h), &l)

	beta := p.Coef()
	_, width := l.Dims()
	if width != len(beta) {
		return nil, fmt.Errorf("prediction matrix has %d columns for %d coefficients", width, len(beta))
	}
	var est mat.VecDense
	est.MulVec(&l, mat.NewVecDense(len(beta), beta))

	var lv mat.Dense
	lv.Mul(&l, p.Cov())

	curve := &model.DerivativeCurve{
		Var:        smoothVar,
		Multiplier: opts.Multiplier,
		Points:     make([]model.DerivativePoint, n),
	}
	for i, x := range grid {
		variance := floats.Dot(lv.RawRowView(i), l.RawRowView(i))
		se := math.Sqrt(math.Max(variance, 0))
		d := est.AtVec(i)
		pt := model.DerivativePoint{
			X:        x,
			Estimate: d,
			StdError: se,
			Lower:    d - opts.Multiplier*se,
			Upper:    d + opts.Multiplier*se,
		}
		pt.Significant = pt.Lower > 0 || pt.Upper < 0
		curve.Points[i] = pt
	}
	return curve, nil
}

// shiftedMatrix is the prediction matrix on a reference frame whose
// smoothVar column is grid+h.
func shiftedMatrix(p ports.Predictor, smoothVar string, grid []float64, h float64) (*mat.Dense, error) {
	frame, err := p.TrainingData().ReferenceFrame(len(grid))
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(grid))
	for i, x := range grid {
		values[i] = x + h
	}
	if err := frame.SetContinuous(smoothVar, values); err != nil {
		return nil, err
	}
	return p.PredictMatrix(frame)
}

// SignificantIntervals returns the maximal significant runs of curve. When
// there are none it returns an empty slice and a warning instead of
// inventing bounds.
func SignificantIntervals(curve *model.DerivativeCurve) ([]model.Interval, *core.Warning) {
	intervals := curve.SignificantIntervals()
	if len(intervals) == 0 {
		w := core.NewEmptySignificantRegionWarning(curve.Var)
		return intervals, &w
	}
	return intervals, nil
}
