package chart

import (
	"context"
	"fmt"
	"sort"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"gonum.org/v1/gonum/floats"
)

// continuousLevels are the percentiles at which a continuous by-variable
// is held when drawing one curve per value.
var continuousLevels = []float64{10, 50, 90}

// CurveOptions selects what SmoothCurves draws.
type CurveOptions struct {
	SmoothVar string
	// ByVar draws one curve per level (factor) or per percentile
	// (continuous). Empty draws a single curve.
	ByVar      string
	GridSize   int
	Multiplier float64
}

// SmoothCurves predicts fm over the observed range of SmoothVar with other
// covariates at their representative values. The returned kind is that of
// ByVar, or Continuous when there is none.
func SmoothCurves(ctx context.Context, fitter ports.ModelFitter, fm *model.FittedModel, opts CurveOptions) ([]ports.CurveBand, dataset.CovariateKind, error) {
	if opts.GridSize < 2 {
		opts.GridSize = 200
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2
	}
	data := fm.TrainingData()
	lo, hi, err := data.Range(opts.SmoothVar)
	if err != nil {
		return nil, dataset.Continuous, err
	}
	grid := floats.Span(make([]float64, opts.GridSize), lo, hi)

	type setting struct {
		label string
		apply func(*dataset.Dataset) error
	}
	settings := []setting{{label: "fit", apply: func(*dataset.Dataset) error { return nil }}}
	kind := dataset.Continuous

	if opts.ByVar != "" {
		col, ok := data.Column(opts.ByVar)
		if !ok {
			return nil, kind, core.NewUnknownVariableError(opts.ByVar)
		}
		kind = col.Kind
		settings = settings[:0]
		switch col.Kind {
		case dataset.Categorical, dataset.OrderedCategorical:
			for _, level := range col.Levels {
				settings = append(settings, setting{
					label: level,
					apply: func(f *dataset.Dataset) error { return f.SetLevel(opts.ByVar, level) },
				})
			}
		case dataset.Continuous:
			values, err := data.Percentiles(opts.ByVar, continuousLevels...)
			if err != nil {
				return nil, kind, err
			}
			for i, v := range values {
				constant := make([]float64, len(grid))
				for j := range constant {
					constant[j] = v
				}
				settings = append(settings, setting{
					label: fmt.Sprintf("%s = %.3g (p%.0f)", opts.ByVar, v, continuousLevels[i]),
					apply: func(f *dataset.Dataset) error { return f.SetContinuous(opts.ByVar, constant) },
				})
			}
		default:
			return nil, kind, fmt.Errorf("unsupported covariate kind %s", col.Kind)
		}
	}

	curves := make([]ports.CurveBand, 0, len(settings))
	for _, s := range settings {
		frame, err := data.ReferenceFrame(len(grid))
		if err != nil {
			return nil, kind, err
		}
		if err := frame.SetContinuous(opts.SmoothVar, grid); err != nil {
			return nil, kind, err
		}
		if err := s.apply(frame); err != nil {
			return nil, kind, err
		}
		preds, err := fitter.Predict(ctx, fm, frame)
		if err != nil {
			return nil, kind, err
		}
		band := ports.CurveBand{
			Label:    s.label,
			X:        append([]float64(nil), grid...),
			Estimate: make([]float64, len(preds)),
			Lower:    make([]float64, len(preds)),
			Upper:    make([]float64, len(preds)),
		}
		for i, p := range preds {
			band.Estimate[i] = p.Estimate
			band.Lower[i] = p.Estimate - opts.Multiplier*p.StdError
			band.Upper[i] = p.Estimate + opts.Multiplier*p.StdError
		}
		curves = append(curves, band)
	}
	return curves, kind, nil
}

// Trajectories collects the raw (x, y) path of every grouping unit, sorted
// by x. When byVar is a factor each path is tagged with its level so it can
// share its curve's colour.
func Trajectories(data *dataset.Dataset, group dataset.GroupKey, xVar, yVar, byVar string) ([]ports.Trajectory, error) {
	units, labels, err := data.GroupIndex(group)
	if err != nil {
		return nil, err
	}
	x, ok := data.Column(xVar)
	if !ok {
		return nil, core.NewUnknownVariableError(xVar)
	}
	y, ok := data.Column(yVar)
	if !ok {
		return nil, core.NewUnknownVariableError(yVar)
	}
	var by *dataset.Column
	if byVar != "" {
		if c, ok := data.Column(byVar); ok && c.Kind.IsFactor() {
			by = c
		}
	}

	out := make([]ports.Trajectory, len(labels))
	for u, label := range labels {
		out[u].Unit = label
	}
	for i, u := range units {
		if x.Missing(i) || y.Missing(i) {
			continue
		}
		t := &out[u]
		t.X = append(t.X, x.Values[i])
		t.Y = append(t.Y, y.Values[i])
		if by != nil && t.Level == "" {
			t.Level = by.Level(i)
		}
	}
	for i := range out {
		sort.Sort(byX(out[i]))
	}
	return out, nil
}

type byX ports.Trajectory

func (t byX) Len() int           { return len(t.X) }
func (t byX) Less(i, j int) bool { return t.X[i] < t.X[j] }
func (t byX) Swap(i, j int) {
	t.X[i], t.X[j] = t.X[j], t.X[i]
	t.Y[i], t.Y[j] = t.Y[j], t.Y[i]
}

// SmoothRequest assembles a plot request for the smooth of a fitted model,
// with raw trajectories from data and an optional derivative strip.
func SmoothRequest(ctx context.Context, fitter ports.ModelFitter, fm *model.FittedModel, data *dataset.Dataset, opts CurveOptions, deriv *model.DerivativeCurve) (ports.PlotRequest, error) {
	curves, kind, err := SmoothCurves(ctx, fitter, fm, opts)
	if err != nil {
		return ports.PlotRequest{}, err
	}
	req := ports.PlotRequest{
		Title:      fm.Spec.String(),
		XLabel:     opts.SmoothVar,
		YLabel:     fm.Spec.Response,
		Kind:       kind,
		Curves:     curves,
		Derivative: deriv,
	}
	if data != nil && fm.RandomEffects.GroupVar != "" {
		req.Trajectories, err = Trajectories(data, fm.RandomEffects.GroupVar, opts.SmoothVar, fm.Spec.Response, opts.ByVar)
		if err != nil {
			return ports.PlotRequest{}, err
		}
	}
	return req, nil
}
