// Package chart renders fitted smooths as PNG images with go-chart.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/PennBBL/GAMM-Tutorial/domain/model"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// PlotConfig holds every visual setting. It is passed to the renderer
// explicitly; nothing is read from package state.
type PlotConfig struct {
	Width       int
	Height      int
	StripHeight int
	FontSize    float64
	DPI         float64

	Palette         []drawing.Color
	TrajectoryAlpha uint8
	Positive        drawing.Color
	Negative        drawing.Color
}

// DefaultPlotConfig is an 800×600 figure with a 40 pixel derivative strip.
func DefaultPlotConfig() PlotConfig {
	return PlotConfig{
		Width:       800,
		Height:      600,
		StripHeight: 40,
		FontSize:    12,
		DPI:         96,
		Palette: []drawing.Color{
			gochart.ColorBlue,
			gochart.ColorOrange,
			gochart.ColorAlternateGreen,
			gochart.ColorRed,
			gochart.ColorAlternateGray,
		},
		TrajectoryAlpha: 70,
		Positive:        drawing.ColorFromHex("b2182b"),
		Negative:        drawing.ColorFromHex("2166ac"),
	}
}

// padding around the plot; the strip uses the same horizontal inset.
const (
	padLeft  = 20
	padRight = 20
	// go-chart draws the y axis on the right of the canvas.
	axisWidth = 50
)

// Renderer draws plot requests.
type Renderer struct {
	cfg    PlotConfig
	logger *internal.Logger
}

var _ ports.PlotRenderer = (*Renderer)(nil)

// NewRenderer fills unset fields of cfg from DefaultPlotConfig.
func NewRenderer(cfg PlotConfig, logger *internal.Logger) *Renderer {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	d := DefaultPlotConfig()
	if cfg.Width <= 0 {
		cfg.Width = d.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = d.Height
	}
	if cfg.StripHeight <= 0 {
		cfg.StripHeight = d.StripHeight
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = d.FontSize
	}
	if cfg.DPI <= 0 {
		cfg.DPI = d.DPI
	}
	if len(cfg.Palette) == 0 {
		cfg.Palette = d.Palette
	}
	if cfg.TrajectoryAlpha == 0 {
		cfg.TrajectoryAlpha = d.TrajectoryAlpha
	}
	if cfg.Positive.IsZero() {
		cfg.Positive = d.Positive
	}
	if cfg.Negative.IsZero() {
		cfg.Negative = d.Negative
	}
	return &Renderer{cfg: cfg, logger: logger.With("ChartRenderer")}
}

// Render writes req as a PNG. When req carries a derivative curve a
// significance strip is stacked under the main panel.
func (r *Renderer) Render(w io.Writer, req ports.PlotRequest) error {
	img, err := r.Image(req)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return errors.RenderingFailed(req.Title, err)
	}
	return nil
}

// WritePNG renders req into path, creating parent directories.
func (r *Renderer) WritePNG(path string, req ports.PlotRequest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Render(f, req); err != nil {
		f.Close()
		return err
	}
	r.logger.Debug("wrote %s", path)
	return f.Close()
}

// Image renders req without encoding it.
func (r *Renderer) Image(req ports.PlotRequest) (image.Image, error) {
	if len(req.Curves) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("plot %q has no curves", req.Title))
	}
	main, err := r.panel(req)
	if err != nil {
		return nil, errors.RenderingFailed(req.Title, err)
	}
	if req.Derivative == nil || req.Derivative.Len() == 0 {
		return main, nil
	}

	b := main.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()+r.cfg.StripHeight))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, 0, b.Dx(), b.Dy()), main, b.Min, draw.Src)
	strip := r.strip(req.Derivative, b.Dx())
	draw.Draw(out, image.Rect(0, b.Dy(), b.Dx(), b.Dy()+r.cfg.StripHeight), strip, image.Point{}, draw.Src)
	return out, nil
}

func (r *Renderer) panel(req ports.PlotRequest) (image.Image, error) {
	colors := make(map[string]drawing.Color, len(req.Curves))
	for i, c := range req.Curves {
		colors[c.Label] = r.cfg.Palette[i%len(r.cfg.Palette)]
	}

	var trajectories []gochart.Series
	for _, t := range req.Trajectories {
		if len(t.X) < 2 {
			continue
		}
		col, ok := colors[t.Level]
		if !ok {
			col = gochart.ColorAlternateGray
		}
		trajectories = append(trajectories, gochart.ContinuousSeries{
			XValues: t.X,
			YValues: t.Y,
			Style: gochart.Style{
				StrokeColor: col.WithAlpha(r.cfg.TrajectoryAlpha),
				StrokeWidth: 1,
				DotColor:    col.WithAlpha(r.cfg.TrajectoryAlpha),
				DotWidth:    1.5,
			},
		})
	}

	single := len(req.Curves) == 1
	var bands, curves []gochart.Series
	for _, c := range req.Curves {
		if len(c.X) < 2 {
			return nil, fmt.Errorf("curve %q has %d points", c.Label, len(c.X))
		}
		col := colors[c.Label]
		band := gochart.Style{StrokeColor: col.WithAlpha(160), StrokeWidth: 1, StrokeDashArray: []float64{4, 3}}
		upper := gochart.ContinuousSeries{XValues: c.X, YValues: c.Upper, Style: band}
		lower := gochart.ContinuousSeries{XValues: c.X, YValues: c.Lower, Style: band}
		if single {
			// Fill under the upper bound, then paint white under the lower
			// bound, leaving the band shaded.
			upper.Style.FillColor = col.WithAlpha(50)
			lower.Style.FillColor = gochart.ColorWhite
		}
		bands = append(bands, upper, lower)
		curves = append(curves, gochart.ContinuousSeries{
			Name:    c.Label,
			XValues: c.X,
			YValues: c.Estimate,
			Style:   gochart.Style{StrokeColor: col, StrokeWidth: 2.5},
		})
	}
	// A shaded band is drawn first so trajectories stay visible; dashed
	// bands go over them.
	var series []gochart.Series
	if single {
		series = append(append(series, bands...), trajectories...)
	} else {
		series = append(append(series, trajectories...), bands...)
	}
	series = append(series, curves...)

	lo, hi := xRange(req.Curves)
	ch := gochart.Chart{
		Title:      req.Title,
		TitleStyle: gochart.Style{FontSize: r.cfg.FontSize * 1.2},
		Width:      r.cfg.Width,
		Height:     r.cfg.Height,
		DPI:        r.cfg.DPI,
		Background: gochart.Style{Padding: gochart.Box{Top: 30, Left: padLeft, Right: padRight, Bottom: 20}},
		XAxis: gochart.XAxis{
			Name:      req.XLabel,
			NameStyle: gochart.Style{FontSize: r.cfg.FontSize},
			Style:     gochart.Style{FontSize: r.cfg.FontSize * 0.8},
			Range:     &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		YAxis: gochart.YAxis{
			Name:      req.YLabel,
			NameStyle: gochart.Style{FontSize: r.cfg.FontSize},
			Style:     gochart.Style{FontSize: r.cfg.FontSize * 0.8},
		},
		Series: series,
	}
	if len(req.Curves) > 1 {
		legend := gochart.Chart{Series: curves}
		ch.Elements = []gochart.Renderable{gochart.Legend(&legend, gochart.Style{FontSize: r.cfg.FontSize * 0.8})}
	}

	var buf bytes.Buffer
	if err := ch.Render(gochart.PNG, &buf); err != nil {
		return nil, err
	}
	return png.Decode(&buf)
}

// strip shades each pixel column by the significant derivative at that x:
// red where the curve rises, blue where it falls, blank elsewhere.
func (r *Renderer) strip(curve *model.DerivativeCurve, width int) image.Image {
	h := r.cfg.StripHeight
	img := image.NewRGBA(image.Rect(0, 0, width, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	masked := curve.Masked()
	peak := 0.0
	for _, v := range masked {
		peak = math.Max(peak, math.Abs(v))
	}
	left, right := padLeft, width-padRight-axisWidth
	if right-left < 2 {
		return img
	}
	n := len(masked)
	if peak > 0 {
		for px := left; px < right; px++ {
			i := (px - left) * (n - 1) / (right - left - 1)
			v := masked[i]
			if v == 0 {
				continue
			}
			base := r.cfg.Positive
			if v < 0 {
				base = r.cfg.Negative
			}
			alpha := uint8(60 + 195*math.Abs(v)/peak)
			fill := color.NRGBA{R: base.R, G: base.G, B: base.B, A: alpha}
			draw.Draw(img, image.Rect(px, 4, px+1, h-4), image.NewUniform(fill), image.Point{}, draw.Over)
		}
	}
	frame := image.NewUniform(color.Gray{Y: 120})
	draw.Draw(img, image.Rect(left, 3, right, 4), frame, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(left, h-4, right, h-3), frame, image.Point{}, draw.Src)
	return img
}

func xRange(curves []ports.CurveBand) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range curves {
		for _, x := range c.X {
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
	}
	return lo, hi
}
