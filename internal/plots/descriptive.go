package plots

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrNoData is returned when a figure is requested for an empty sample.
var ErrNoData = errors.New("no data to plot")

// HistogramBins is the bin count of the centered-mileage histogram.
const HistogramBins = 50

// PriceScatter plots price against mileage with a line at the cutoff.
func PriceScatter(mileage, price []float64, cutoff float64) (*Figure, error) {
	return scatter(NamePriceScatter, "Price vs Mileage", "Price ($)", mileage, price, cutoff)
}

// LogPriceScatter plots log price against mileage with a line at the cutoff.
func LogPriceScatter(mileage, logPrice []float64, cutoff float64) (*Figure, error) {
	return scatter(NameLogPriceScatter, "Log Price vs Mileage", "log(Price)", mileage, logPrice, cutoff)
}

func scatter(name, title, ylabel string, x, y []float64, cutoff float64) (*Figure, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoData)
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%s: %d x values, %d y values", name, len(x), len(y))
	}
	p := newPlot(title, "Mileage", ylabel)

	xys := make(plotter.XYs, len(x))
	for i := range x {
		xys[i].X = x[i]
		xys[i].Y = y[i]
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s.GlyphStyle.Color = pointColor
	s.GlyphStyle.Radius = vg.Points(1.5)
	s.GlyphStyle.Shape = draw.CircleGlyph{}

	lo, hi := span(y)
	line, err := verticalLine(cutoff, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	p.Add(s, line)
	p.Legend.Add(fmt.Sprintf("Cutoff (%.0f)", cutoff), line)
	p.Legend.Top = true

	return &Figure{Name: name, Title: title, Plot: p}, nil
}

// CenteredHistogram plots the distribution of mileage minus the cutoff with a
// line at zero.
func CenteredHistogram(centered []float64) (*Figure, error) {
	const name = NameCenteredHistogram
	if len(centered) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoData)
	}
	title := "Distribution of Centered Mileage"
	p := newPlot(title, "Mileage - Cutoff", "Count")

	h, err := plotter.NewHist(plotter.Values(centered), HistogramBins)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	h.FillColor = pointColor

	var top float64
	for _, b := range h.Bins {
		top = max(top, b.Weight)
	}
	line, err := verticalLine(0, 0, top)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	p.Add(h, line)

	return &Figure{Name: name, Title: title, Plot: p}, nil
}
