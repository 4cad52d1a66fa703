package ports

import (
	"io"

	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"
)

// CurveBand is one predicted curve with its confidence band.
type CurveBand struct {
	Label    string
	X        []float64
	Estimate []float64
	Lower    []float64
	Upper    []float64
}

// Trajectory is the raw data of one grouping unit, in x order.
type Trajectory struct {
	Unit  string
	Level string
	X     []float64
	Y     []float64
}

// PlotRequest is everything needed to draw one smooth.
type PlotRequest struct {
	Title        string
	XLabel       string
	YLabel       string
	Kind         dataset.CovariateKind
	Curves       []CurveBand
	Trajectories []Trajectory
	Derivative   *model.DerivativeCurve
}

// PlotRenderer writes a plot image.
type PlotRenderer interface {
	Render(w io.Writer, req PlotRequest) error
}
