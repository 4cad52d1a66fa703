package container

import (
	"fmt"

	"github.com/PennBBL/GAMM-Tutorial/adapters/chart"
	"github.com/PennBBL/GAMM-Tutorial/adapters/excel"
	"github.com/PennBBL/GAMM-Tutorial/adapters/gam"
	"github.com/PennBBL/GAMM-Tutorial/adapters/lmm"
	"github.com/PennBBL/GAMM-Tutorial/adapters/rng"
	"github.com/PennBBL/GAMM-Tutorial/app"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/config"
	"github.com/PennBBL/GAMM-Tutorial/internal/orchestrator"
	"github.com/PennBBL/GAMM-Tutorial/ports"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Engines
	Fitter ports.ModelFitter
	Mixed  ports.MixedModelFitter
	RNG    ports.RNGPort

	// I/O
	Reader   ports.DatasetReader
	Renderer *chart.Renderer

	Orchestrator *orchestrator.Orchestrator
	Analysis     *app.AnalysisService
}

// New wires the fitting engines, readers and services from cfg. jobs bounds
// how many tasks run at once.
func New(cfg *config.Config, jobs int) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.Log.Level))

	c := &Container{
		Config: cfg,
		Logger: logger,
		Fitter: gam.NewFitter(logger),
		Mixed:  lmm.NewEngine(logger),
		RNG:    rng.PCG{},
		Reader: excel.NewDataReader(logger),
		Renderer: chart.NewRenderer(chart.PlotConfig{
			Width:    cfg.Plot.Width,
			Height:   cfg.Plot.Height,
			FontSize: cfg.Plot.FontSize,
			DPI:      cfg.Plot.DPI,
		}, logger),
	}
	c.Orchestrator = orchestrator.New(c.Fitter, c.Mixed, c.RNG, cfg.Orchestrator(), logger)
	c.Analysis = app.NewAnalysisService(c.Orchestrator, c.Fitter, c.Renderer, jobs, logger)

	logger.Debug("Container initialized: alpha=%.3g sims=%d workers=%d jobs=%d",
		cfg.Stats.Alpha, cfg.Stats.SimCount, cfg.Stats.Workers, jobs)
	return c, nil
}
