package plots

import (
	"fmt"

	"github.com/kalambet/rdlistings/internal/rdd"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// RDPlot draws bin means and the per-side polynomial fits of bs. Bin data is
// on the centered scale; it is shifted by cutoff so the axis reads mileage.
func RDPlot(name, outcome string, bs *rdd.BinScatter, cutoff float64) (*Figure, error) {
	if bs == nil || len(bs.BinsLeft)+len(bs.BinsRight) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoData)
	}
	title := fmt.Sprintf("RD Plot: %s at %.0f miles", outcome, cutoff)
	p := newPlot(title, "Mileage", outcome)

	var pts plotter.XYs
	var ys []float64
	for _, bins := range [][]rdd.Bin{bs.BinsLeft, bs.BinsRight} {
		for _, b := range bins {
			pts = append(pts, plotter.XY{X: b.X + cutoff, Y: b.Y})
			ys = append(ys, b.Y)
		}
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s.GlyphStyle.Color = pointColor
	s.GlyphStyle.Radius = vg.Points(3)
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(s)

	var fit *plotter.Line
	for _, c := range []rdd.Curve{bs.FitLeft, bs.FitRight} {
		if len(c.X) < 2 {
			continue
		}
		xys := make(plotter.XYs, len(c.X))
		for i := range c.X {
			xys[i] = plotter.XY{X: c.X[i] + cutoff, Y: c.Y[i]}
			ys = append(ys, c.Y[i])
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		l.LineStyle.Color = fitColor
		l.LineStyle.Width = vg.Points(1.5)
		p.Add(l)
		fit = l
	}

	lo, hi := span(ys)
	line, err := verticalLine(cutoff, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	p.Add(line)
	p.Legend.Add("Bin means", s)
	if fit != nil {
		p.Legend.Add(fmt.Sprintf("Order-%d fit", bs.Order), fit)
	}
	p.Legend.Top = true

	return &Figure{Name: name, Title: title, Plot: p}, nil
}
