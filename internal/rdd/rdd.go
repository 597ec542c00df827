// Package rdd estimates sharp regression-discontinuity designs with local
// polynomial regression, MSE-optimal bandwidths and robust bias-corrected
// inference, and prepares binned scatter data for RD plots.
//
// The running variable is expected to be centered: the cutoff is zero and an
// observation is treated when x >= 0.
package rdd

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientData is returned when one side of the cutoff has too few
// observations to fit the bias-correction polynomial.
var ErrInsufficientData = errors.New("insufficient data")

// VCE selects the residual variance estimator.
type VCE string

const (
	// VCENN uses nearest-neighbour residuals along the running variable.
	VCENN VCE = "nn"
	// VCEHC1 uses fitted-polynomial residuals with a degrees-of-freedom correction.
	VCEHC1 VCE = "hc1"
)

// ParseVCE validates a variance estimator name.
func ParseVCE(s string) (VCE, error) {
	switch VCE(s) {
	case VCENN, VCEHC1:
		return VCE(s), nil
	}
	return "", fmt.Errorf("unknown variance estimator %q (want nn or hc1)", s)
}

// Options controls estimation.
type Options struct {
	P         int     // order of the point-estimate polynomial
	Q         int     // order of the bias-correction polynomial
	VCE       VCE     // residual variance estimator
	NNMatches int     // neighbours used by VCENN
	Level     float64 // confidence level in percent
	H         float64 // fixed main bandwidth; selected when zero
	B         float64 // fixed bias bandwidth; selected (or H) when zero
}

// DefaultOptions returns local-linear estimation with quadratic bias
// correction, three nearest-neighbour matches and 95% intervals.
func DefaultOptions() Options {
	return Options{P: 1, Q: 2, VCE: VCENN, NNMatches: 3, Level: 95}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.P <= 0 {
		o.P = d.P
	}
	if o.Q <= o.P {
		o.Q = o.P + 1
	}
	if o.VCE == "" {
		o.VCE = d.VCE
	}
	if o.NNMatches <= 0 {
		o.NNMatches = d.NNMatches
	}
	if o.Level <= 0 || o.Level >= 100 {
		o.Level = d.Level
	}
	return o
}

// side holds the observations on one side of the cutoff sorted by x.
type side struct {
	x, y []float64
	z    [][]float64
	nn   []float64
}

func (s *side) n() int { return len(s.x) }

// reach is the largest distance from the cutoff on this side.
func (s *side) reach() float64 {
	var r float64
	for _, v := range s.x {
		if a := math.Abs(v); a > r {
			r = a
		}
	}
	return r
}

// minBandwidth is the smallest bandwidth giving k distinct running-variable
// values positive triangular weight. Mass points count once.
func (s *side) minBandwidth(k int) float64 {
	d := s.distinctDistances()
	if len(d) == 0 {
		return 0
	}
	if k > len(d) {
		k = len(d)
	}
	return d[k-1]*(1+1e-6) + 1e-12
}

// distinctDistances returns the sorted distinct values of |x|.
func (s *side) distinctDistances() []float64 {
	d := make([]float64, len(s.x))
	for i, v := range s.x {
		d[i] = math.Abs(v)
	}
	sort.Float64s(d)
	out := d[:0]
	for i, v := range d {
		if i == 0 || v != d[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// split partitions the sample at zero. Ties at zero are treated.
func split(x, y []float64, z *mat.Dense) (left, right *side) {
	left, right = &side{}, &side{}
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })
	for _, i := range order {
		s := left
		if x[i] >= 0 {
			s = right
		}
		s.x = append(s.x, x[i])
		s.y = append(s.y, y[i])
		if z != nil {
			s.z = append(s.z, mat.Row(nil, i, z))
		}
	}
	return left, right
}

// Fit estimates the jump in y at x = 0. z, when non-nil, holds additive
// covariates with one row per observation.
func Fit(x, y []float64, z *mat.Dense, opts Options) (*Estimate, error) {
	opts = opts.withDefaults()
	if len(x) != len(y) {
		return nil, fmt.Errorf("running variable has %d values, outcome %d", len(x), len(y))
	}
	ncov := 0
	if z != nil {
		r, c := z.Dims()
		if r != len(x) {
			return nil, fmt.Errorf("covariates have %d rows, want %d", r, len(x))
		}
		ncov = c
		if c == 0 {
			z = nil
		}
	}

	left, right := split(x, y, z)
	need := opts.Q + 2
	if left.n() < need || right.n() < need {
		return nil, fmt.Errorf("%w: %d observations below and %d above the cutoff, need %d on each side",
			ErrInsufficientData, left.n(), right.n(), need)
	}
	if dl, dr := countDistinct(left.x), countDistinct(right.x); dl < need || dr < need {
		return nil, fmt.Errorf("%w: %d distinct running-variable values below and %d above the cutoff, need %d on each side",
			ErrInsufficientData, dl, dr, need)
	}

	h, b := opts.H, opts.B
	if h <= 0 {
		l, r := left, right
		if z != nil {
			gamma, err := covariateCoefficients(left, right, pilotBandwidth(left, right, opts.Q))
			if err != nil {
				return nil, err
			}
			l, r = left.residualized(gamma), right.residualized(gamma)
		}
		l.nn = nnVariance(l.x, l.y, opts.NNMatches)
		r.nn = nnVariance(r.x, r.y, opts.NNMatches)
		sel, err := selectBandwidths(l, r, opts)
		if err != nil {
			return nil, err
		}
		h = sel.h
		if b <= 0 {
			b = sel.b
		}
	}
	if b <= 0 {
		b = h
	}

	if z != nil {
		gamma, err := covariateCoefficients(left, right, h)
		if err != nil {
			return nil, err
		}
		left, right = left.residualized(gamma), right.residualized(gamma)
	}
	left.nn = nnVariance(left.x, left.y, opts.NNMatches)
	right.nn = nnVariance(right.x, right.y, opts.NNMatches)

	est, err := estimate(left, right, h, b, opts)
	if err != nil {
		return nil, err
	}
	est.Covariates = ncov
	return est, nil
}

// bandwidthBounds returns the admissible range for any bandwidth: large
// enough to keep q+2 distinct values weighted on each side, no larger than the
// farther reach of the data.
func bandwidthBounds(left, right *side, q int) (lo, hi float64) {
	lo = math.Max(left.minBandwidth(q+2), right.minBandwidth(q+2))
	hi = math.Max(left.reach(), right.reach())
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func clampBandwidth(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return hi
	}
	return math.Min(math.Max(v, lo), hi)
}
