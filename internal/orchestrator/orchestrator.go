// Package orchestrator runs one model-testing task: fit the full model,
// optionally test its last term, select, refit for inference and for
// plotting, and optionally derive significance regions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/bootstrap"
	"github.com/PennBBL/GAMM-Tutorial/internal/derivative"
	"github.com/PennBBL/GAMM-Tutorial/ports"
)

// Task describes one analysis, e.g. one brain region.
type Task struct {
	Label string
	Spec  formula.ModelSpec
	Group dataset.GroupKey

	// Exclude drops rows before every fit. Nil keeps all rows.
	Exclude dataset.RowPredicate
	// PlotExcluded draws trajectories from every row, excluded ones included.
	PlotExcluded bool

	// SmoothVar is the covariate whose derivative is analyzed.
	SmoothVar string
	// InteractionVar, when set, must appear only in the last term.
	InteractionVar string

	ModelTest   bool
	Bootstrap   bool
	Derivatives bool
}

// Validate checks the task before any fitting.
func (t Task) Validate() error {
	if err := t.Spec.Validate(); err != nil {
		return err
	}
	if t.Group == "" {
		return core.NewInvalidSpecError("task needs a grouping variable")
	}
	if t.InteractionVar != "" {
		if err := formula.CheckTermUnderTest(t.Spec, t.InteractionVar); err != nil {
			return err
		}
	}
	if t.ModelTest && len(t.Spec.Terms) < 2 {
		return core.NewInvalidSpecError(fmt.Sprintf("model test needs at least two terms, %s has %d", t.Spec, len(t.Spec.Terms)))
	}
	if t.ModelTest && !t.Bootstrap && t.InteractionVar == "" {
		return core.NewInvalidSpecError("model test without bootstrap needs an interaction variable")
	}
	if t.Derivatives && t.SmoothVar == "" {
		return core.NewInvalidSpecError("derivatives requested without a smooth variable")
	}
	if t.SmoothVar != "" && !t.Spec.HasVariable(t.SmoothVar) {
		return core.NewInvalidSpecError(fmt.Sprintf("smooth variable %s is not in %s", t.SmoothVar, t.Spec))
	}
	return nil
}

// Config holds the statistical settings shared by all tasks.
type Config struct {
	Alpha             float64
	BonferroniDivisor float64
	SimCount          int
	Seed              uint64
	Workers           int
	GridSize          int
	CIMultiplier      float64
}

// DefaultConfig matches the tutorial analysis: alpha 0.05 split over four
// regions, 1000 bootstrap replicates and a 1000-point derivative grid.
func DefaultConfig() Config {
	return Config{
		Alpha:             0.05,
		BonferroniDivisor: 4,
		SimCount:          1000,
		Seed:              1,
		Workers:           runtime.NumCPU(),
		GridSize:          1000,
		CIMultiplier:      2,
	}
}

// Orchestrator runs tasks against a fitter.
type Orchestrator struct {
	fitter ports.ModelFitter
	mixed  ports.MixedModelFitter
	rng    ports.RNGPort
	cfg    Config
	logger *internal.Logger
}

// New builds an orchestrator.
func New(fitter ports.ModelFitter, mixed ports.MixedModelFitter, rng ports.RNGPort, cfg Config, logger *internal.Logger) *Orchestrator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	d := DefaultConfig()
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = d.Alpha
	}
	if cfg.BonferroniDivisor <= 0 {
		cfg.BonferroniDivisor = d.BonferroniDivisor
	}
	return &Orchestrator{fitter: fitter, mixed: mixed, rng: rng, cfg: cfg, logger: logger.With("Orchestrator")}
}

// Config returns the effective configuration
func (o *Orchestrator) Config() Config { return o.cfg }

// run carries the state of one task through the machine.
type run struct {
	task   Task
	data   *dataset.Dataset
	result *model.TaskResult
}

func (r *run) enter(s State) {
	r.result.States = append(r.result.States, s.String())
}

// Run executes task on data. The first fatal error stops the machine and
// is returned as a *StateError naming the state that failed.
func (o *Orchestrator) Run(ctx context.Context, task Task, data *dataset.Dataset) (*model.TaskResult, error) {
	start := time.Now()
	if err := task.Validate(); err != nil {
		return nil, &StateError{State: StateFitting, Err: err}
	}
	r := &run{
		task: task,
		data: data,
		result: &model.TaskResult{
			TaskID:   core.NewTaskID(),
			Label:    task.Label,
			FullSpec: task.Spec.Clone(),
		},
	}
	if task.Exclude != nil {
		r.data = data.Without(task.Exclude)
	}

	steps := []struct {
		state State
		skip  bool
		fn    func(context.Context, *run) error
	}{
		{StateFitting, false, o.fit},
		{StateTestingTerm, !task.ModelTest, o.testTerm},
		{StateSelecting, false, o.selectSpec},
		{StateRefittingForInference, false, o.refitForInference},
		{StateRefittingForPlotting, false, o.refitForPlotting},
		{StateDerivingSignificance, !task.Derivatives, o.deriveSignificance},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, &StateError{State: step.state, Err: err}
		}
		r.enter(step.state)
		o.logger.Debug("%s: %s", task.Label, step.state)
		if err := step.fn(ctx, r); err != nil {
			o.logger.Error("%s: %s failed: %v", task.Label, step.state, err)
			return nil, &StateError{State: step.state, Err: err}
		}
	}
	r.enter(StateDone)

	res := r.result
	res.BIC = res.Inference.BIC()
	res.N = res.Inference.N()
	res.Duration = time.Since(start)
	o.logger.Info("%s: selected %s (n=%d, BIC=%.2f) in %s", task.Label, res.SelectedSpec, res.N, res.BIC, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) fit(ctx context.Context, r *run) error {
	fm, err := o.fitter.Fit(ctx, r.task.Spec, r.data, r.task.Group)
	if err != nil {
		return err
	}
	r.result.Full = fm
	return nil
}

func (o *Orchestrator) testTerm(ctx context.Context, r *run) error {
	if r.task.Bootstrap {
		cmp := bootstrap.NewComparator(o.fitter, o.mixed, o.rng, bootstrap.Options{
			SimCount: o.cfg.SimCount,
			Seed:     o.cfg.Seed,
			Workers:  o.cfg.Workers,
			Alpha:    o.cfg.Alpha,
		}, o.logger)
		res, err := cmp.Compare(ctx, r.task.Spec, r.data, r.task.Group)
		if err != nil {
			return err
		}
		r.result.Bootstrap = res
		return nil
	}
	test, err := o.interactionTest(r.result.Full)
	if err != nil {
		return err
	}
	r.result.Interaction = test
	return nil
}

// interactionTest reads the last term's smooth p-values from the full fit.
// A by-factor term has one row per level; the smallest p-value decides.
func (o *Orchestrator) interactionTest(fm *model.FittedModel) (*model.InteractionTest, error) {
	last, _ := fm.Spec.LastTerm()
	rows := fm.SmoothsFor(last)
	if len(rows) == 0 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("no smooth rows for %s in the fitted model", last.Label()))
	}
	p := math.Inf(1)
	for _, row := range rows {
		p = math.Min(p, row.PValue)
	}
	threshold := o.cfg.Alpha / o.cfg.BonferroniDivisor
	return &model.InteractionTest{
		Term:        last.Label(),
		PValue:      p,
		Threshold:   threshold,
		Significant: p < threshold,
	}, nil
}

func (o *Orchestrator) selectSpec(_ context.Context, r *run) error {
	res := r.result
	switch {
	case res.Bootstrap != nil:
		res.SelectedSpec = res.Bootstrap.BestSpec.Clone()
	case res.Interaction != nil && !res.Interaction.Significant:
		reduced, err := formula.DropLastTerm(r.task.Spec)
		if err != nil {
			return err
		}
		res.SelectedSpec = reduced
	default:
		res.SelectedSpec = r.task.Spec.Clone()
	}
	if len(res.SelectedSpec.Terms) == 0 {
		return core.NewInvalidSpecError("selected model has no terms")
	}
	return nil
}

func (o *Orchestrator) refitForInference(ctx context.Context, r *run) error {
	res := r.result
	res.Inference = res.Full
	if !res.FullSelected() {
		fm, err := o.fitter.Fit(ctx, formula.ToUnpenalized(res.SelectedSpec), r.data, r.task.Group)
		if err != nil {
			return err
		}
		res.Inference = fm
	}
	o.concurvity(ctx, r)
	return nil
}

// concurvity records the overlap of the selected smooths when there are at
// least two. A failure here is logged and does not fail the task.
func (o *Orchestrator) concurvity(ctx context.Context, r *run) {
	smooths := 0
	for _, t := range r.result.SelectedSpec.Terms {
		if t.Kind.IsSmooth() {
			smooths++
		}
	}
	if smooths < 2 {
		return
	}
	c, err := o.fitter.Concurvity(ctx, r.result.Inference)
	if err != nil {
		o.logger.Warn("%s: concurvity of %s: %v", r.task.Label, r.result.SelectedSpec, err)
		return
	}
	r.result.Concurvity = c
}

func (o *Orchestrator) refitForPlotting(ctx context.Context, r *run) error {
	fm, err := o.fitter.Fit(ctx, formula.ToPenalizedForPlotting(r.result.SelectedSpec), r.data, r.task.Group)
	if err != nil {
		return err
	}
	r.result.Plotting = fm
	return nil
}

func (o *Orchestrator) deriveSignificance(_ context.Context, r *run) error {
	if !r.result.Plotting.Spec.HasVariable(r.task.SmoothVar) {
		return core.NewInvalidSpecError(fmt.Sprintf("selected model %s does not contain %s", r.result.Plotting.Spec, r.task.SmoothVar))
	}
	curve, err := derivative.DerivativesOf(r.result.Plotting, r.task.SmoothVar, derivative.Options{
		GridSize:   o.cfg.GridSize,
		Multiplier: o.cfg.CIMultiplier,
	})
	if err != nil {
		return err
	}
	intervals, warn := derivative.SignificantIntervals(curve)
	if warn != nil {
		o.logger.Warn("%s: %s", r.task.Label, warn.Message)
		r.result.Warnings = append(r.result.Warnings, *warn)
	}
	r.result.Derivatives = curve
	r.result.Intervals = intervals
	return nil
}

// FailedState returns the state recorded in err, if any.
func FailedState(err error) (State, bool) {
	var se *StateError
	if errors.As(err, &se) {
		return se.State, true
	}
	return "", false
}
