// Package bootstrap tests the last term of a model with a parametric
// bootstrap likelihood ratio test. The reference distribution is simulated
// from the reduced model because the LR statistic of penalized smooths is
// not chi-square under the null.
package bootstrap

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const streamName = "pboot"

// maxFailedShare is the largest share of replicates that may fail to
// converge before the whole comparison fails.
const maxFailedShare = 0.1

// Options configures the simulation.
type Options struct {
	SimCount int
	Seed     uint64
	Workers  int
	Alpha    float64
}

// DefaultOptions returns 1000 replicates at alpha 0.05 on all CPUs.
func DefaultOptions() Options {
	return Options{
		SimCount: 1000,
		Seed:     1,
		Workers:  runtime.NumCPU(),
		Alpha:    0.05,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.SimCount <= 0 {
		o.SimCount = d.SimCount
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Alpha <= 0 || o.Alpha >= 1 {
		o.Alpha = d.Alpha
	}
	return o
}

// Comparator runs parametric bootstrap comparisons.
type Comparator struct {
	fitter ports.ModelFitter
	mixed  ports.MixedModelFitter
	rng    ports.RNGPort
	opts   Options
	logger *internal.Logger
}

// NewComparator wires a comparator. fitter provides design matrices,
// mixed fits the random-intercept models.
func NewComparator(fitter ports.ModelFitter, mixed ports.MixedModelFitter, rng ports.RNGPort, opts Options, logger *internal.Logger) *Comparator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Comparator{
		fitter: fitter,
		mixed:  mixed,
		rng:    rng,
		opts:   opts.normalized(),
		logger: logger.With("BootstrapComparator"),
	}
}

// Options returns the effective options
func (c *Comparator) Options() Options { return c.opts }

// Compare tests the last term of full against full without it.
func (c *Comparator) Compare(ctx context.Context, full formula.ModelSpec, data *dataset.Dataset, group dataset.GroupKey) (*model.BootstrapResult, error) {
	reduced, err := formula.DropLastTerm(full)
	if err != nil {
		return nil, err
	}
	return c.CompareNested(ctx, full, reduced, data, group)
}

// CompareNested is Compare with a caller-supplied reduced spec, which must
// be exactly full minus its last term.
func (c *Comparator) CompareNested(ctx context.Context, full, reduced formula.ModelSpec, data *dataset.Dataset, group dataset.GroupKey) (*model.BootstrapResult, error) {
	if len(full.Terms) < 2 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("bootstrap comparison needs at least two terms, %s has %d", full, len(full.Terms)))
	}
	if !formula.IsNestedReduction(full, reduced) {
		return nil, core.NewNonNestedModelError(full.String(), reduced.String())
	}
	if group == "" {
		return nil, core.NewInvalidSpecError("bootstrap comparison needs a grouping variable")
	}

	names := append([]string{full.Response, string(group)}, full.Variables()...)
	for _, name := range names {
		if !data.Has(name) {
			return nil, core.NewUnknownVariableError(name)
		}
	}
	rows := data.Without(dataset.ExcludeMissing(names...))
	y := rows.MustColumn(full.Response).Values
	units, _, err := rows.GroupIndex(group)
	if err != nil {
		return nil, err
	}

	xFull, err := c.fitter.DesignMatrix(ctx, full, rows)
	if err != nil {
		return nil, err
	}
	xReduced, err := c.fitter.DesignMatrix(ctx, reduced, rows)
	if err != nil {
		return nil, err
	}

	fullFit, err := c.mixed.FitMixed(ctx, xFull, y, units, ports.ML)
	if err != nil {
		return nil, err
	}
	reducedFit, err := c.mixed.FitMixed(ctx, xReduced, y, units, ports.ML)
	if err != nil {
		return nil, err
	}
	observed := lrStatistic(reducedFit, fullFit)

	reference, failed, err := c.simulate(ctx, reducedFit, xFull, xReduced, units)
	if err != nil {
		return nil, err
	}

	res := &model.BootstrapResult{
		FullSpec:    full.Clone(),
		ReducedSpec: reduced,
		Observed:    observed,
		Reference:   reference,
		PValue:      model.PValueFrom(reference, observed),
		SimCount:    c.opts.SimCount,
		Seed:        c.opts.Seed,
		Alpha:       c.opts.Alpha,
		Failed:      failed,
	}
	if res.FullSelected() {
		res.BestSpec = full.Clone()
	} else {
		res.BestSpec = reduced.Clone()
	}
	if res.Null, err = model.Summarize(reference); err != nil {
		return nil, err
	}

	last, _ := full.LastTerm()
	c.logger.Info("%s: LRT=%.4f p=%.4f (%d replicates, %d failed), best %s",
		last.Label(), observed, res.PValue, len(reference), failed, res.BestSpec)
	return res, nil
}

// lrStatistic is the ML likelihood ratio statistic, clamped at zero.
func lrStatistic(reduced, full ports.MixedModel) float64 {
	return math.Max(0, reduced.Deviance()-full.Deviance())
}

// simulate builds the reference distribution. Replicate i draws from its
// own stream (seed, i) and writes only slot i, so the result does not
// depend on the number of workers.
func (c *Comparator) simulate(ctx context.Context, null ports.MixedModel, xFull, xReduced *mat.Dense, units []int) ([]float64, int, error) {
	n := c.opts.SimCount
	stats := make([]float64, n)
	ok := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ySim := null.Simulate(c.rng.Stream(streamName, c.opts.Seed, uint64(i)))
			f1, err := c.mixed.FitMixed(gctx, xFull, ySim, units, ports.ML)
			if err != nil {
				return replicateError(err)
			}
			f0, err := c.mixed.FitMixed(gctx, xReduced, ySim, units, ports.ML)
			if err != nil {
				return replicateError(err)
			}
			stats[i] = lrStatistic(f0, f1)
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	reference := make([]float64, 0, n)
	for i, s := range stats {
		if ok[i] {
			reference = append(reference, s)
		}
	}
	failed := n - len(reference)
	if failed > 0 {
		c.logger.Warn("%d of %d bootstrap replicates did not converge", failed, n)
	}
	if float64(failed) > maxFailedShare*float64(n) {
		return nil, failed, core.NewFitConvergenceError("bootstrap replicates",
			fmt.Errorf("%d of %d replicates failed", failed, n))
	}
	return reference, failed, nil
}

// replicateError lets a non-converged replicate be counted instead of
// aborting the run; other errors abort.
func replicateError(err error) error {
	if core.IsFitConvergenceError(err) {
		return nil
	}
	return err
}
