package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/PennBBL/GAMM-Tutorial/adapters/chart"
	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
	"github.com/PennBBL/GAMM-Tutorial/internal/orchestrator"
	"github.com/PennBBL/GAMM-Tutorial/internal/report"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"golang.org/x/sync/errgroup"
)

// AnalysisService runs batches of independent tasks over one dataset and
// writes their reports.
type AnalysisService struct {
	orchestrator *orchestrator.Orchestrator
	fitter       ports.ModelFitter
	renderer     ports.PlotRenderer
	workers      int
	logger       *internal.Logger
}

// NewAnalysisService creates an analysis service. workers bounds the number
// of tasks run at once; renderer may be nil to skip plots.
func NewAnalysisService(orch *orchestrator.Orchestrator, fitter ports.ModelFitter, renderer ports.PlotRenderer, workers int, logger *internal.Logger) *AnalysisService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &AnalysisService{
		orchestrator: orch,
		fitter:       fitter,
		renderer:     renderer,
		workers:      workers,
		logger:       logger.With("AnalysisService"),
	}
}

// TaskOutcome is the result or failure of one task.
type TaskOutcome struct {
	Task   orchestrator.Task
	Result *model.TaskResult
	Err    error
}

// BatchResult holds outcomes in task order.
type BatchResult struct {
	ID       core.BatchID
	Outcomes []TaskOutcome
	Duration time.Duration
	// Data is the dataset before any task exclusion.
	Data *dataset.Dataset
}

// Results returns the successful task results.
func (b *BatchResult) Results() []*model.TaskResult {
	var out []*model.TaskResult
	for _, o := range b.Outcomes {
		if o.Err == nil {
			out = append(out, o.Result)
		}
	}
	return out
}

// Failed returns the outcomes that ended in an error.
func (b *BatchResult) Failed() []TaskOutcome {
	var out []TaskOutcome
	for _, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// RunAll runs every task against data. A failing task does not stop the
// others; only cancellation of ctx aborts the batch.
func (s *AnalysisService) RunAll(ctx context.Context, data *dataset.Dataset, tasks []orchestrator.Task) (*BatchResult, error) {
	if data == nil {
		return nil, errors.InvalidInput("no dataset")
	}
	start := time.Now()
	id := core.NewBatchID()
	s.logger.Info("Batch %s: running %d tasks with %d workers", id, len(tasks), s.workers)

	outcomes := make([]TaskOutcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, task := range tasks {
		g.Go(func() error {
			res, err := s.orchestrator.Run(ctx, task, data)
			outcomes[i] = TaskOutcome{Task: task, Result: res, Err: err}
			if err != nil {
				s.logger.Warn("Task %q failed: %v", task.Label, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &BatchResult{ID: id, Outcomes: outcomes, Duration: time.Since(start), Data: data}
	s.logger.Info("Batch %s finished in %v: %d succeeded, %d failed",
		id, batch.Duration, len(batch.Results()), len(batch.Failed()))
	return batch, nil
}

// Artifacts are the files written for a batch.
type Artifacts struct {
	Markdown string
	HTML     string
	Workbook string
	Plots    map[string]string
}

// WriteReports writes a Markdown and HTML report, an xlsx workbook and one
// PNG per plottable result into dir.
func (s *AnalysisService) WriteReports(ctx context.Context, batch *BatchResult, dir, title string) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", dir)
	}
	art := &Artifacts{
		Markdown: filepath.Join(dir, "report.md"),
		HTML:     filepath.Join(dir, "report.html"),
		Workbook: filepath.Join(dir, "results.xlsx"),
		Plots:    make(map[string]string),
	}

	wb, err := report.NewWorkbook()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workbook")
	}
	defer wb.Close()

	var sections [][]byte
	for i, o := range batch.Outcomes {
		if o.Err != nil {
			sections = append(sections, failureSection(o))
			continue
		}
		var plotName string
		if s.renderer != nil && o.Task.SmoothVar != "" && o.Result.Plotting != nil {
			plotName = fmt.Sprintf("%02d_%s.png", i+1, fileSlug(o.Task.Label))
			if err := s.writePlot(ctx, o, plotData(o, batch.Data), filepath.Join(dir, plotName)); err != nil {
				return nil, err
			}
			art.Plots[o.Task.Label] = filepath.Join(dir, plotName)
		}
		sections = append(sections, report.Markdown(o.Result, plotName))
		if _, err := wb.Add(o.Result); err != nil {
			return nil, errors.Wrap(err, "failed to add workbook sheet")
		}
	}

	md := report.Document(title, sections...)
	if err := os.WriteFile(art.Markdown, md, 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", art.Markdown)
	}
	if err := os.WriteFile(art.HTML, report.HTML(md, title), 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", art.HTML)
	}
	if len(batch.Results()) > 0 {
		if err := wb.Save(art.Workbook); err != nil {
			return nil, errors.Wrapf(err, "failed to write %s", art.Workbook)
		}
	} else {
		art.Workbook = ""
	}
	s.logger.Info("Wrote report to %s (%d plots)", dir, len(art.Plots))
	return art, nil
}

// plotData picks the rows whose trajectories are drawn behind the fit.
func plotData(o TaskOutcome, all *dataset.Dataset) *dataset.Dataset {
	if o.Task.PlotExcluded && all != nil {
		return all
	}
	return o.Result.Plotting.TrainingData()
}

func (s *AnalysisService) writePlot(ctx context.Context, o TaskOutcome, data *dataset.Dataset, path string) error {
	fm := o.Result.Plotting
	opts := chart.CurveOptions{SmoothVar: o.Task.SmoothVar}
	if v := o.Task.InteractionVar; v != "" && fm.Spec.HasVariable(v) {
		opts.ByVar = v
	}
	cfg := s.orchestrator.Config()
	opts.GridSize = cfg.GridSize
	opts.Multiplier = cfg.CIMultiplier

	req, err := chart.SmoothRequest(ctx, s.fitter, fm, data, opts, o.Result.Derivatives)
	if err != nil {
		return errors.RenderingFailed(o.Task.Label, err)
	}
	req.Title = o.Task.Label

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := s.renderer.Render(f, req); err != nil {
		f.Close()
		return errors.RenderingFailed(o.Task.Label, err)
	}
	return f.Close()
}

func failureSection(o TaskOutcome) []byte {
	state := "running"
	if st, ok := orchestrator.FailedState(o.Err); ok {
		state = st.String()
	}
	return []byte(fmt.Sprintf("## %s\n\nFailed while %s: %v\n\n", o.Task.Label, state, o.Err))
}

// fileSlug keeps letters and digits of a label for use in file names.
func fileSlug(label string) string {
	slug := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '_'
	}, label)
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return "task"
	}
	return slug
}
