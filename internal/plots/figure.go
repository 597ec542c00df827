// Package plots renders the descriptive and regression-discontinuity figures
// of an analysis run with gonum/plot.
package plots

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Figure names, also used as file stems.
const (
	NamePriceScatter      = "price_scatter"
	NameLogPriceScatter   = "log_price_scatter"
	NameCenteredHistogram = "centered_histogram"
	NameRDPlotLogPrice    = "rdplot_log_price"
	NameRDPlotPrice       = "rdplot_price"
)

// FigureNames lists every figure an estimated run produces, in order.
var FigureNames = []string{
	NamePriceScatter, NameLogPriceScatter, NameCenteredHistogram, NameRDPlotLogPrice, NameRDPlotPrice,
}

const (
	figWidth  = 8 * vg.Inch
	figHeight = 5 * vg.Inch
)

var (
	pointColor  = color.RGBA{R: 31, G: 119, B: 180, A: 160}
	cutoffColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	fitColor    = color.RGBA{R: 44, G: 44, B: 44, A: 255}
)

// Figure is a rendered plot with a stable name.
type Figure struct {
	Name  string
	Title string
	Plot  *plot.Plot
}

// ValidFormat reports whether format can be rendered.
func ValidFormat(format string) bool {
	switch format {
	case "png", "svg", "pdf":
		return true
	}
	return false
}

// Save writes the figure to dir/<name>.<format> and returns the path.
func (f *Figure) Save(dir, format string) (path string, err error) {
	if !ValidFormat(format) {
		return "", fmt.Errorf("unsupported figure format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating figure directory: %w", err)
	}
	path = filepath.Join(dir, f.Name+"."+format)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", f.Name, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			path, err = "", fmt.Errorf("saving %s: %w", f.Name, cerr)
		}
	}()
	if _, err := f.Render(out, format); err != nil {
		return "", err
	}
	return path, nil
}

// Render encodes the figure in format to w.
func (f *Figure) Render(w io.Writer, format string) (int64, error) {
	if !ValidFormat(format) {
		return 0, fmt.Errorf("unsupported figure format %q", format)
	}
	wt, err := f.Plot.WriterTo(figWidth, figHeight, format)
	if err != nil {
		return 0, fmt.Errorf("rendering %s: %w", f.Name, err)
	}
	return wt.WriteTo(w)
}

func newPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())
	return p
}

// verticalLine spans [ymin, ymax] at x with a dashed style.
func verticalLine(x, ymin, ymax float64) (*plotter.Line, error) {
	l, err := plotter.NewLine(plotter.XYs{{X: x, Y: ymin}, {X: x, Y: ymax}})
	if err != nil {
		return nil, err
	}
	l.LineStyle.Color = cutoffColor
	l.LineStyle.Width = vg.Points(1.5)
	l.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
	return l, nil
}

func span(vals []float64) (lo, hi float64) {
	if len(vals) == 0 {
		return 0, 1
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return lo, hi
}
