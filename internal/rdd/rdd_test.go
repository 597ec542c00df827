package rdd

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// grid returns n evenly spaced running-variable values on [-half, half).
func grid(n int, half float64) []float64 {
	x := make([]float64, n)
	step := 2 * half / float64(n)
	for i := range x {
		x[i] = -half + float64(i)*step + step/3
	}
	return x
}

func piecewiseLinear(x []float64, jump float64) []float64 {
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 10 + 0.002*xi
		if xi >= 0 {
			y[i] += jump - 0.0005*xi
		}
	}
	return y
}

func TestFit_NoiseFreeJumpRecovered(t *testing.T) {
	x := grid(400, 20000)
	y := piecewiseLinear(x, 5)

	est, err := Fit(x, y, nil, DefaultOptions())
	require.NoError(t, err)

	assert.InDelta(t, 5, est.Conventional.Coef, 1e-6)
	assert.InDelta(t, 5, est.BiasCorrected.Coef, 1e-6)
	assert.InDelta(t, 5, est.Robust.Coef, 1e-6)
	assert.Greater(t, est.H, 0.0)
	assert.Greater(t, est.B, 0.0)
	assert.False(t, math.IsNaN(est.H) || math.IsInf(est.H, 0))
	assert.Equal(t, 200, est.NLeft)
	assert.Equal(t, 200, est.NRight)
	assert.LessOrEqual(t, est.EffLeft, est.NLeft)
	assert.Equal(t, "mserd", est.BWSelect)
	assert.Equal(t, VCENN, est.VCE)
}

func TestFit_NoisyJump(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 2000
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()*40000 - 20000
		y[i] = 10 - 0.00001*x[i] + 0.1*rng.NormFloat64()
		if x[i] >= 0 {
			y[i] += 0.3
		}
	}

	est, err := Fit(x, y, nil, DefaultOptions())
	require.NoError(t, err)

	assert.InDelta(t, 0.3, est.Conventional.Coef, 0.15)
	assert.InDelta(t, 0.3, est.Robust.Coef, 0.15)
	assert.Greater(t, est.Conventional.SE, 0.0)
	assert.Greater(t, est.Robust.SE, 0.0)
	assert.Equal(t, est.Conventional.SE, est.BiasCorrected.SE)
	assert.Equal(t, est.BiasCorrected.Coef, est.Robust.Coef)
	assert.Less(t, est.Conventional.P, 0.05)
	for _, r := range est.Rows() {
		assert.Less(t, r.CILow, r.Coef)
		assert.Greater(t, r.CIHigh, r.Coef)
	}
}

func TestFit_HC1(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 600
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
		y[i] = x[i] + 0.05*rng.NormFloat64()
		if x[i] >= 0 {
			y[i]++
		}
	}
	opts := DefaultOptions()
	opts.VCE = VCEHC1

	est, err := Fit(x, y, nil, opts)
	require.NoError(t, err)
	assert.InDelta(t, 1, est.Conventional.Coef, 0.1)
	assert.Greater(t, est.Conventional.SE, 0.0)
	assert.Equal(t, VCEHC1, est.VCE)
}

func TestFit_FixedBandwidth(t *testing.T) {
	x := grid(100, 10)
	y := piecewiseLinear(x, 2)
	opts := DefaultOptions()
	opts.H = 4

	est, err := Fit(x, y, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 4.0, est.H)
	assert.Equal(t, 4.0, est.B, "b defaults to h when only h is fixed")
	assert.InDelta(t, 2, est.Conventional.Coef, 1e-9)
	assert.Less(t, est.EffLeft, est.NLeft)
}

func TestFit_TieAtCutoffIsTreated(t *testing.T) {
	x := grid(60, 10)
	x = append(x, 0)
	y := piecewiseLinear(x, 1)

	opts := DefaultOptions()
	opts.H = 10
	est, err := Fit(x, y, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 30, est.NLeft)
	assert.Equal(t, 31, est.NRight)
}

func TestFit_InsufficientData(t *testing.T) {
	x := []float64{-3, -2, -1, 0, 1, 2, 3, 4, 5}
	y := []float64{1, 1, 1, 2, 2, 2, 2, 2, 2}

	_, err := Fit(x, y, nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFit_LengthMismatch(t *testing.T) {
	_, err := Fit([]float64{1, 2}, []float64{1}, nil, DefaultOptions())
	assert.Error(t, err)
}

func TestFit_CovariatesAbsorbed(t *testing.T) {
	x := grid(400, 20000)
	base := piecewiseLinear(x, 5)
	z := mat.NewDense(len(x), 2, nil)
	y := make([]float64, len(x))
	for i := range x {
		d := float64(i % 2)
		z.Set(i, 0, d)
		z.Set(i, 1, d) // duplicate column, absorbed by the pseudo-inverse
		y[i] = base[i] + 3*d
	}

	withCov, err := Fit(x, y, z, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 5, withCov.Conventional.Coef, 1e-6)
	assert.Equal(t, 2, withCov.Covariates)

	opts := DefaultOptions()
	opts.H = withCov.H
	opts.B = withCov.B
	without, err := Fit(x, y, nil, opts)
	require.NoError(t, err)
	assert.Less(t, math.Abs(withCov.Conventional.SE), math.Abs(without.Conventional.SE))
}

func TestFit_CovariateRowMismatch(t *testing.T) {
	x := grid(40, 1)
	_, err := Fit(x, piecewiseLinear(x, 1), mat.NewDense(10, 1, nil), DefaultOptions())
	assert.Error(t, err)
}

func TestNNVariance(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}

	flat := nnVariance(x, []float64{2, 2, 2, 2, 2}, 3)
	for _, v := range flat {
		assert.Zero(t, v)
	}

	// i=0: neighbours 2,3,4 -> mean of y = 0; y0 = 4 -> 3/4*16 = 12
	got := nnVariance(x, []float64{4, 0, 0, 0, 0}, 3)
	assert.InDelta(t, 12, got[0], 1e-12)
}

func TestNNVariance_TiesIncluded(t *testing.T) {
	x := []float64{0, 1, 1, 1, 1}
	y := []float64{0, 1, 2, 3, 6}
	got := nnVariance(x, y, 3)
	// all four tied neighbours at distance 1 are used: mean 3, d = -3, 4/5*9
	assert.InDelta(t, 7.2, got[0], 1e-12)
}

func TestParseVCE(t *testing.T) {
	v, err := ParseVCE("hc1")
	require.NoError(t, err)
	assert.Equal(t, VCEHC1, v)
	_, err = ParseVCE("hc3")
	assert.Error(t, err)
}

func TestInferenceRow(t *testing.T) {
	r := inferenceRow("Conventional", 1.96, 1, 95)
	assert.InDelta(t, 1.96, r.Z, 1e-12)
	assert.InDelta(t, 0.05, r.P, 1e-3)
	assert.InDelta(t, 0, r.CILow, 1e-3)
	assert.InDelta(t, 3.92, r.CIHigh, 1e-3)

	zero := inferenceRow("Robust", 0.5, 0, 95)
	assert.Zero(t, zero.Z)
	assert.Equal(t, 1.0, zero.P)
	assert.Equal(t, 0.5, zero.CILow)
}

func TestEstimateSummary(t *testing.T) {
	x := grid(200, 10)
	est, err := Fit(x, piecewiseLinear(x, 1), nil, DefaultOptions())
	require.NoError(t, err)
	est.Outcome = "log_price"

	s := est.Summary()
	for _, want := range []string{"log_price", "Conventional", "Bias-corrected", "Robust", "mserd", "Triangular", "95% C.I."} {
		assert.Contains(t, s, want)
	}
	assert.Equal(t, 3, strings.Count(s, strings.Repeat("=", 84)))
}

func TestMSEBandwidth(t *testing.T) {
	// h^5 = V / (4 B^2) for nu=0, p=1
	h := mseBandwidth(0, 1, 4, 1, 0)
	assert.InDelta(t, 1, h, 1e-12)
	assert.True(t, math.IsInf(mseBandwidth(0, 1, 1, 0, 0), 1))
}

func TestClampBandwidth(t *testing.T) {
	assert.Equal(t, 5.0, clampBandwidth(math.NaN(), 1, 5))
	assert.Equal(t, 5.0, clampBandwidth(math.Inf(1), 1, 5))
	assert.Equal(t, 1.0, clampBandwidth(0.2, 1, 5))
	assert.Equal(t, 3.0, clampBandwidth(3, 1, 5))
}

// wavyQuadratic is a piecewise quadratic with a deterministic oscillating
// disturbance, so the nearest-neighbour variance is non-zero.
func wavyQuadratic(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 1 + 0.5*xi + 0.03*xi*xi + 0.2*math.Sin(1.7*float64(i))
		if xi >= 0 {
			y[i] += 2 + 0.2*xi - 0.05*xi*xi
		}
	}
	return y
}

func TestFit_GoldenBandwidthsAndRows(t *testing.T) {
	x := grid(200, 10)
	y := wavyQuadratic(x)

	left, right := split(x, y, nil)
	left.nn = nnVariance(left.x, left.y, 3)
	right.nn = nnVariance(right.x, right.y, 3)
	sel, err := selectBandwidths(left, right, DefaultOptions())
	require.NoError(t, err)
	assert.InEpsilon(t, 5.420030732529695, sel.c, 1e-9, "pilot")
	assert.InEpsilon(t, 3.075567853922239, sel.h, 1e-6)
	assert.InEpsilon(t, 6.4603191292518565, sel.b, 1e-6)

	lo, hi := bandwidthBounds(left, right, 2)
	assert.InEpsilon(t, 0.36666703333433187, lo, 1e-12)
	assert.InEpsilon(t, 9.966666666666667, hi, 1e-12)

	est, err := Fit(x, y, nil, DefaultOptions())
	require.NoError(t, err)
	assert.InEpsilon(t, sel.h, est.H, 1e-12)
	assert.InEpsilon(t, sel.b, est.B, 1e-12)
	assert.Equal(t, 31, est.EffLeft)
	assert.Equal(t, 31, est.EffRight)

	assert.InEpsilon(t, 2.09420597853253, est.Conventional.Coef, 1e-6)
	assert.InEpsilon(t, 0.08912882584955335, est.Conventional.SE, 1e-6)
	assert.InEpsilon(t, 23.496393659078198, est.Conventional.Z, 1e-6)
	assert.InEpsilon(t, 1.9195166898830631, est.Conventional.CILow, 1e-6)
	assert.InEpsilon(t, 2.2688952671819975, est.Conventional.CIHigh, 1e-6)

	assert.InEpsilon(t, 2.0514098295293497, est.BiasCorrected.Coef, 1e-6)
	assert.InEpsilon(t, 0.08912882584955335, est.BiasCorrected.SE, 1e-6)

	assert.InEpsilon(t, 2.0514098295293497, est.Robust.Coef, 1e-6)
	assert.InEpsilon(t, 0.0975838426586221, est.Robust.SE, 1e-6)
	assert.InEpsilon(t, 21.022023458389558, est.Robust.Z, 1e-6)
	assert.InEpsilon(t, 1.860149012445427, est.Robust.CILow, 1e-6)
	assert.InEpsilon(t, 2.242670646613272, est.Robust.CIHigh, 1e-6)
}

func TestFit_BiasCorrectionExactForQuadratics(t *testing.T) {
	x := grid(200, 10)
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 1 + 0.5*xi + 0.03*xi*xi
		if xi >= 0 {
			y[i] += 2 + 0.2*xi - 0.05*xi*xi
		}
	}
	opts := DefaultOptions()
	opts.H, opts.B = 3, 6

	est, err := Fit(x, y, nil, opts)
	require.NoError(t, err)
	// local-linear boundary bias with a triangular kernel is about
	// -0.1 * h^2 * (curvature right - curvature left)
	assert.InDelta(t, 2+0.045, est.Conventional.Coef, 2e-3)
	assert.InDelta(t, 2.045467670824003, est.Conventional.Coef, 1e-9)
	assert.InDelta(t, 2, est.BiasCorrected.Coef, 1e-9)
	assert.InDelta(t, 2, est.Robust.Coef, 1e-9)
}

// roundedMileage mimics odometer readings reported to the nearest step.
func roundedMileage(n int, half, step float64) []float64 {
	x := grid(n, half)
	for i := range x {
		x[i] = math.Round(x[i]/step) * step
	}
	return x
}

func TestFit_MassPointsGolden(t *testing.T) {
	cases := []struct {
		step              float64
		h, b              float64
		conv, bc          float64
		seConv, seRobust  float64
		effLeft, effRight int
	}{
		{2500, 10000.01, 15011.3949010971, -1500.1619324967069, -1499.7177390490797, 93.35986523617456, 128.30006569639576, 750, 938},
		{5000, 20000.02, 20000.02, -1495.212295145604, -1485.0141457710524, 65.81300275109722, 163.3303143136838, 1313, 1687},
	}
	for _, tc := range cases {
		x := roundedMileage(3000, 20000, tc.step)
		y := make([]float64, len(x))
		for i, xi := range x {
			y[i] = 30000 - 0.1*xi + 1000*math.Sin(1.7*float64(i))
			if xi >= 0 {
				y[i] -= 1500
			}
		}

		est, err := Fit(x, y, nil, DefaultOptions())
		require.NoError(t, err, "step %v", tc.step)
		assert.InEpsilon(t, tc.h, est.H, 1e-6, "step %v", tc.step)
		assert.InEpsilon(t, tc.b, est.B, 1e-6, "step %v", tc.step)
		assert.InEpsilon(t, tc.conv, est.Conventional.Coef, 1e-6, "step %v", tc.step)
		assert.InEpsilon(t, tc.bc, est.Robust.Coef, 1e-6, "step %v", tc.step)
		assert.InEpsilon(t, tc.seConv, est.Conventional.SE, 1e-6, "step %v", tc.step)
		assert.InEpsilon(t, tc.seRobust, est.Robust.SE, 1e-6, "step %v", tc.step)
		assert.Equal(t, tc.effLeft, est.EffLeft, "step %v", tc.step)
		assert.Equal(t, tc.effRight, est.EffRight, "step %v", tc.step)
	}
}

func TestFit_RoundedMileageRecoversJump(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, step := range []float64{2500, 5000} {
		n := 3000
		x := make([]float64, n)
		y := make([]float64, n)
		for i := range x {
			x[i] = math.Round((rng.Float64()*40000-20000)/step) * step
			y[i] = 30000 - 0.1*x[i] + 1000*rng.NormFloat64()
			if x[i] >= 0 {
				y[i] -= 1500
			}
		}

		est, err := Fit(x, y, nil, DefaultOptions())
		require.NoError(t, err, "step %v", step)

		left, right := split(x, y, nil)
		assert.GreaterOrEqual(t, est.H, left.distinctDistances()[3], "step %v", step)
		assert.GreaterOrEqual(t, est.H, right.distinctDistances()[3], "step %v", step)
		assert.InDelta(t, -1500, est.Conventional.Coef, 600, "step %v", step)
		assert.InDelta(t, -1500, est.Robust.Coef, 1200, "step %v", step)
		assert.Greater(t, est.Robust.SE, 0.0)
	}
}

func TestFit_TooFewDistinctValues(t *testing.T) {
	var x, y []float64
	for i := 0; i < 30; i++ {
		for _, v := range []float64{-3, -2, -1, 0, 1, 2, 3} {
			x = append(x, v)
			y = append(y, v+float64(i%3))
		}
	}
	_, err := Fit(x, y, nil, DefaultOptions())
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Contains(t, err.Error(), "distinct")
}

func TestNewLPFit_CountsDistinctValues(t *testing.T) {
	x := []float64{1, 1, 1, 1, 2, 2, 2, 2}

	_, err := newLPFit(x, 5, 2, triangular)
	assert.ErrorIs(t, err, ErrInsufficientData)

	f, err := newLPFit(x, 5, 1, triangular)
	require.NoError(t, err)
	assert.Equal(t, 8, f.n)
}

func TestMinBandwidth_MassPoints(t *testing.T) {
	s := &side{x: []float64{0, 0, 0, 0, 0, 2500, 2500, 2500, 5000, 7500, 7500}}
	assert.InDelta(t, 7500, s.minBandwidth(4), 0.01)
	assert.InDelta(t, 2500, s.minBandwidth(2), 0.01)
	assert.Equal(t, []float64{0, 2500, 5000, 7500}, s.distinctDistances())
}

func TestMSEBandwidth_Golden(t *testing.T) {
	assert.InDelta(t, math.Pow(0.5, 0.2), mseBandwidth(0, 1, 3, 1, 0.5), 1e-12)
	// nu=2, order=2: (5*7 / (2*1*(4+1)))^(1/7)
	assert.InDelta(t, math.Pow(3.5, 1.0/7), mseBandwidth(2, 2, 7, 2, 1), 1e-12)
}
