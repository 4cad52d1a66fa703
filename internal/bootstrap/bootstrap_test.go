package bootstrap

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/adapters/gam"
	"github.com/PennBBL/GAMM-Tutorial/adapters/lmm"
	"github.com/PennBBL/GAMM-Tutorial/adapters/rng"
	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/testkit"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const group = dataset.GroupKey(testkit.Subject)

func interactionSpec() formula.ModelSpec {
	return formula.New(testkit.Y,
		formula.Param(testkit.OSex),
		formula.S(testkit.Age, 4, true),
		formula.SBy(testkit.Age, testkit.OSex, 4, true),
	)
}

func newComparator(opts Options) *Comparator {
	return NewComparator(gam.NewFitter(nil), lmm.NewEngine(nil), rng.PCG{}, opts, nil)
}

func longitudinal(t *testing.T, subjects int, mean testkit.MeanFunc, twins bool) *dataset.Dataset {
	t.Helper()
	cfg := testkit.DefaultLongitudinalConfig()
	cfg.Subjects = subjects
	cfg.Mean = mean
	cfg.Twins = twins
	ds, err := testkit.Longitudinal(cfg)
	require.NoError(t, err)
	return ds
}

func TestCompareNoInteraction(t *testing.T) {
	ds := longitudinal(t, 60, testkit.Quadratic, true)
	out := testkit.CaptureLog(t)
	c := NewComparator(gam.NewFitter(nil), lmm.NewEngine(nil), rng.PCG{},
		Options{SimCount: 49, Seed: 7, Workers: 4}, internal.NewLogger(internal.LogLevelInfo))

	res, err := c.Compare(context.Background(), interactionSpec(), ds, group)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[INFO] [BootstrapComparator]")

	assert.Greater(t, res.PValue, 0.0)
	assert.LessOrEqual(t, res.PValue, 1.0)
	assert.Greater(t, res.PValue, 0.05)
	assert.False(t, res.FullSelected())
	assert.True(t, res.BestSpec.Equal(res.ReducedSpec))
	assert.Len(t, res.ReducedSpec.Terms, 2)
	assert.Len(t, res.Reference, 49)
	assert.Zero(t, res.Failed)
	assert.GreaterOrEqual(t, res.Observed, 0.0)
	for _, v := range res.Reference {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestCompareDetectsInteraction(t *testing.T) {
	if testing.Short() {
		t.Skip("simulation")
	}
	mean := func(age float64, male bool, _ float64) float64 {
		d := age - 15
		if male {
			return 0.08 * d * d
		}
		return -0.02 * d * d
	}
	ds := longitudinal(t, 80, mean, false)
	c := newComparator(Options{SimCount: 99, Seed: 3, Workers: 4})

	res, err := c.Compare(context.Background(), interactionSpec(), ds, group)
	require.NoError(t, err)

	assert.InDelta(t, 0.01, res.PValue, 1e-12)
	assert.True(t, res.FullSelected())
	assert.True(t, res.BestSpec.Equal(res.FullSpec))
	assert.Greater(t, res.Observed, res.Null.Max)
}

// Identical age curves in both sexes: the reduced model should win in
// roughly 1-alpha of datasets.
func TestCompareSelectsReducedModelMonteCarlo(t *testing.T) {
	if testing.Short() {
		t.Skip("simulation")
	}
	const trials = 20
	reduced := 0
	for trial := 0; trial < trials; trial++ {
		cfg := testkit.DefaultLongitudinalConfig()
		cfg.Subjects = 40
		cfg.Mean = testkit.Quadratic
		cfg.Seed = uint64(1000 + trial)
		ds, err := testkit.Longitudinal(cfg)
		require.NoError(t, err)

		c := newComparator(Options{SimCount: 49, Seed: uint64(trial), Workers: 4})
		res, err := c.Compare(context.Background(), interactionSpec(), ds, group)
		require.NoError(t, err)
		if !res.FullSelected() {
			reduced++
		}
	}
	assert.GreaterOrEqual(t, reduced, 16, "reduced model selected in %d of %d trials", reduced, trials)
}

func TestCompareIndependentOfWorkers(t *testing.T) {
	ds := longitudinal(t, 40, testkit.Quadratic, false)

	var refs [][]float64
	for _, workers := range []int{1, 3, 8} {
		c := newComparator(Options{SimCount: 20, Seed: 11, Workers: workers})
		res, err := c.Compare(context.Background(), interactionSpec(), ds, group)
		require.NoError(t, err)
		refs = append(refs, res.Reference)
	}
	assert.Equal(t, refs[0], refs[1])
	assert.Equal(t, refs[0], refs[2])
}

func TestCompareNestedErrors(t *testing.T) {
	ds := longitudinal(t, 20, testkit.Quadratic, false)
	c := newComparator(Options{SimCount: 5})
	full := interactionSpec()

	tests := []struct {
		name    string
		full    formula.ModelSpec
		reduced formula.ModelSpec
		group   dataset.GroupKey
		check   func(error) bool
	}{
		{
			name:    "not nested",
			full:    full,
			reduced: formula.New(testkit.Y, formula.S(testkit.Age, 4, true)),
			group:   group,
			check:   core.IsNonNestedModelError,
		},
		{
			name:    "different response",
			full:    full,
			reduced: formula.New("other", full.Terms[:2]...),
			group:   group,
			check:   core.IsNonNestedModelError,
		},
		{
			name:    "no group",
			full:    full,
			reduced: formula.New(testkit.Y, full.Terms[:2]...),
			check:   core.IsInvalidSpecError,
		},
		{
			name:    "unknown group",
			full:    full,
			reduced: formula.New(testkit.Y, full.Terms[:2]...),
			group:   "site",
			check:   core.IsInvalidSpecError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CompareNested(context.Background(), tt.full, tt.reduced, ds, tt.group)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}

func TestCompareSingleTerm(t *testing.T) {
	ds := longitudinal(t, 20, testkit.Quadratic, false)
	c := newComparator(Options{SimCount: 5})
	_, err := c.Compare(context.Background(), formula.New(testkit.Y, formula.S(testkit.Age, 4, true)), ds, group)
	assert.True(t, core.IsInvalidSpecError(err))
}

// flakyMixed fails every fit whose response starts with a negative value.
type flakyMixed struct{ inner ports.MixedModelFitter }

func (f flakyMixed) FitMixed(ctx context.Context, x *mat.Dense, y []float64, groups []int, method ports.Estimation) (ports.MixedModel, error) {
	if y[0] < -100 {
		return nil, core.NewFitConvergenceError("flaky", errors.New("no convergence"))
	}
	m, err := f.inner.FitMixed(ctx, x, y, groups, method)
	if err != nil {
		return nil, err
	}
	return shiftedModel{m}, nil
}

// shiftedModel makes every other replicate start far below zero.
type shiftedModel struct{ ports.MixedModel }

func (m shiftedModel) Simulate(src rand.Source) []float64 {
	y := m.MixedModel.Simulate(src)
	if rand.New(src).IntN(2) == 0 {
		y[0] = -1000
	}
	return y
}

func TestCompareTooManyFailures(t *testing.T) {
	ds := longitudinal(t, 30, testkit.Quadratic, false)
	c := NewComparator(gam.NewFitter(nil), flakyMixed{lmm.NewEngine(nil)}, rng.PCG{}, Options{SimCount: 40, Seed: 5, Workers: 2}, nil)

	_, err := c.Compare(context.Background(), interactionSpec(), ds, group)
	require.Error(t, err)
	assert.True(t, core.IsFitConvergenceError(err))
}

func TestCompareCancelled(t *testing.T) {
	ds := longitudinal(t, 20, testkit.Quadratic, false)
	c := newComparator(Options{SimCount: 50})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Compare(ctx, interactionSpec(), ds, group)
	assert.Error(t, err)
}

func TestDefaultOptions(t *testing.T) {
	c := newComparator(Options{})
	opts := c.Options()
	assert.Equal(t, 1000, opts.SimCount)
	assert.Equal(t, 0.05, opts.Alpha)
	assert.Positive(t, opts.Workers)
}
