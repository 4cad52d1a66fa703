package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/adapters/chart"
	"github.com/PennBBL/GAMM-Tutorial/adapters/gam"
	"github.com/PennBBL/GAMM-Tutorial/adapters/lmm"
	"github.com/PennBBL/GAMM-Tutorial/adapters/rng"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/internal/orchestrator"
	"github.com/PennBBL/GAMM-Tutorial/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(workers int) *AnalysisService {
	fitter := gam.NewFitter(nil)
	orch := orchestrator.New(fitter, lmm.NewEngine(nil), rng.PCG{}, orchestrator.Config{GridSize: 100}, nil)
	renderer := chart.NewRenderer(chart.PlotConfig{Width: 400, Height: 300}, nil)
	return NewAnalysisService(orch, fitter, renderer, workers, nil)
}

func batchData(t *testing.T) *dataset.Dataset {
	t.Helper()
	cfg := testkit.DefaultLongitudinalConfig()
	cfg.Subjects = 40
	cfg.Mean = testkit.Quadratic
	ds, err := testkit.Longitudinal(cfg)
	require.NoError(t, err)
	return ds
}

func batchTasks() []orchestrator.Task {
	return []orchestrator.Task{
		{
			Label:       "age",
			Spec:        formula.New(testkit.Y, formula.Param(testkit.Sex), formula.S(testkit.Age, 4, true)),
			Group:       testkit.Subject,
			SmoothVar:   testkit.Age,
			Derivatives: true,
		},
		{
			Label: "missing column",
			Spec:  formula.New(testkit.Y, formula.S("nope", 4, true)),
			Group: testkit.Subject,
		},
		{
			Label: "ses",
			Spec:  formula.New(testkit.Y, formula.S(testkit.Age, 4, true), formula.S(testkit.SES, 4, true)),
			Group: testkit.Subject,
		},
	}
}

func TestRunAllKeepsOrderAndIsolatesFailures(t *testing.T) {
	batch, err := newService(2).RunAll(context.Background(), batchData(t), batchTasks())
	require.NoError(t, err)

	require.Len(t, batch.Outcomes, 3)
	assert.Equal(t, "age", batch.Outcomes[0].Task.Label)
	assert.Equal(t, "ses", batch.Outcomes[2].Task.Label)
	assert.Len(t, batch.Results(), 2)

	failed := batch.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "missing column", failed[0].Task.Label)
	state, ok := orchestrator.FailedState(failed[0].Err)
	require.True(t, ok)
	assert.Equal(t, orchestrator.StateFitting, state)
}

func TestRunAllIndependentOfWorkers(t *testing.T) {
	ds := batchData(t)
	serial, err := newService(1).RunAll(context.Background(), ds, batchTasks())
	require.NoError(t, err)
	parallel, err := newService(4).RunAll(context.Background(), ds, batchTasks())
	require.NoError(t, err)

	a, b := serial.Results(), parallel.Results()
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Label, b[i].Label)
		assert.InDelta(t, a[i].BIC, b[i].BIC, 1e-9)
		assert.Equal(t, a[i].Intervals, b[i].Intervals)
	}
}

func TestRunAllErrors(t *testing.T) {
	svc := newService(1)
	_, err := svc.RunAll(context.Background(), nil, batchTasks())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.RunAll(ctx, batchData(t), batchTasks())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteReports(t *testing.T) {
	svc := newService(2)
	batch, err := svc.RunAll(context.Background(), batchData(t), batchTasks())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	art, err := svc.WriteReports(context.Background(), batch, dir, "Batch")
	require.NoError(t, err)

	for _, p := range []string{art.Markdown, art.HTML, art.Workbook} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size())
	}
	require.Len(t, art.Plots, 1)
	assert.Equal(t, filepath.Join(dir, "01_age.png"), art.Plots["age"])
	_, err = os.Stat(art.Plots["age"])
	require.NoError(t, err)

	md, err := os.ReadFile(art.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Batch")
	assert.Contains(t, string(md), "![age](01_age.png)")
	assert.Contains(t, string(md), "Failed while fitting")
}

func TestPlotDataHonoursPlotExcluded(t *testing.T) {
	ds := batchData(t)
	everyOther := func(_ *dataset.Dataset, row int) bool { return row%2 == 0 }
	task := batchTasks()[0]
	task.Exclude = everyOther

	tests := []struct {
		name     string
		plotAll  bool
		wantRows int
	}{
		{"excluded rows dropped", false, ds.Rows() / 2},
		{"excluded rows plotted", true, ds.Rows()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := task
			tk.PlotExcluded = tt.plotAll
			batch, err := newService(1).RunAll(context.Background(), ds, []orchestrator.Task{tk})
			require.NoError(t, err)
			require.Len(t, batch.Results(), 1)
			assert.Same(t, ds, batch.Data)

			got := plotData(batch.Outcomes[0], batch.Data)
			assert.Equal(t, tt.wantRows, got.Rows())

			dir := t.TempDir()
			art, err := newService(1).WriteReports(context.Background(), batch, dir, "Excluded")
			require.NoError(t, err)
			assert.Len(t, art.Plots, 1)
		})
	}
}

func TestFileSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Thickness / Sex", "thickness___sex"},
		{"  ", "task"},
		{"rh_cortex", "rh_cortex"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fileSlug(tt.in))
	}
}
