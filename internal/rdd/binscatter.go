package rdd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultPlotOrder is the order of the global polynomial drawn on RD plots.
const DefaultPlotOrder = 4

// Bin is one evenly spaced bin of the running variable.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	X     float64 `json:"x"` // mean running variable inside the bin
	Y     float64 `json:"y"` // mean outcome inside the bin
	Count int     `json:"count"`
}

// Curve is a fitted polynomial sampled on a grid.
type Curve struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// BinScatter holds the data behind an RD plot: bin means on each side of the
// cutoff and a global polynomial fit per side.
type BinScatter struct {
	Order     int   `json:"order"`
	BinsLeft  []Bin `json:"bins_left"`
	BinsRight []Bin `json:"bins_right"`
	FitLeft   Curve `json:"fit_left"`
	FitRight  Curve `json:"fit_right"`
}

const curvePoints = 100

// NewBinScatter bins y against the centered running variable x. The number
// of bins per side follows the mimicking-variance rule
// J = ceil(var(y)/mean(e^2) * n / ln(n)^2), where e are the residuals of the
// global fit, capped at the side's sample size.
func NewBinScatter(x, y []float64, order int) (*BinScatter, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("running variable has %d values, outcome %d", len(x), len(y))
	}
	if order <= 0 {
		order = DefaultPlotOrder
	}
	left, right := split(x, y, nil)
	if left.n() == 0 || right.n() == 0 {
		return nil, fmt.Errorf("%w: %d observations below and %d above the cutoff",
			ErrInsufficientData, left.n(), right.n())
	}

	bs := &BinScatter{Order: order}
	var err error
	if bs.BinsLeft, bs.FitLeft, err = binSide(left, order, false); err != nil {
		return nil, fmt.Errorf("left of cutoff: %w", err)
	}
	if bs.BinsRight, bs.FitRight, err = binSide(right, order, true); err != nil {
		return nil, fmt.Errorf("right of cutoff: %w", err)
	}
	return bs, nil
}

func binSide(s *side, order int, treated bool) ([]Bin, Curve, error) {
	n := s.n()
	ord := order
	if distinct := countDistinct(s.x); ord > distinct-1 {
		ord = distinct - 1
	}

	var curve Curve
	j := 1
	lo, hi := s.x[0], s.x[n-1]
	if treated {
		lo = 0
	} else {
		hi = 0
	}

	if ord >= 0 && s.reach() > 0 {
		fit, err := newLPFit(s.x, s.reach(), ord, uniform)
		if err != nil {
			return nil, Curve{}, err
		}
		res := fit.residuals(s.y)
		g := fit.coefs(s.y)
		curve = sampleCurve(g, fit.h, lo, hi)
		j = mimickingVarianceBins(s.y, res)
	}

	return evenBins(s.x, s.y, lo, hi, j), curve, nil
}

func mimickingVarianceBins(y, res []float64) int {
	n := len(y)
	if n < 3 {
		return 1
	}
	var mse float64
	for _, e := range res {
		mse += e * e
	}
	mse /= float64(n)
	vy := stat.Variance(y, nil)
	ln := math.Log(float64(n))
	ratio := 1.0
	if mse > 0 {
		ratio = vy / mse
	}
	j := int(math.Ceil(ratio * float64(n) / (ln * ln)))
	return max(1, min(j, n))
}

func evenBins(x, y []float64, lo, hi float64, j int) []Bin {
	width := (hi - lo) / float64(j)
	bins := make([]Bin, j)
	sumX := make([]float64, j)
	sumY := make([]float64, j)
	for k := range bins {
		bins[k].Lo = lo + float64(k)*width
		bins[k].Hi = lo + float64(k+1)*width
	}
	for i, xi := range x {
		k := j - 1
		if width > 0 {
			k = min(int((xi-lo)/width), j-1)
		}
		bins[k].Count++
		sumX[k] += xi
		sumY[k] += y[i]
	}
	out := bins[:0]
	for k, b := range bins {
		if b.Count == 0 {
			continue
		}
		b.X = sumX[k] / float64(b.Count)
		b.Y = sumY[k] / float64(b.Count)
		out = append(out, b)
	}
	return out
}

func sampleCurve(g []float64, h, lo, hi float64) Curve {
	c := Curve{X: make([]float64, curvePoints), Y: make([]float64, curvePoints)}
	step := (hi - lo) / float64(curvePoints-1)
	for i := range c.X {
		x := lo + float64(i)*step
		if i == curvePoints-1 {
			x = hi
		}
		r := powers(x/h, len(g)-1)
		c.X[i] = x
		c.Y[i] = dot(g, r)
	}
	return c
}

func countDistinct(sorted []float64) int {
	if len(sorted) == 0 {
		return 0
	}
	n := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			n++
		}
	}
	return n
}
