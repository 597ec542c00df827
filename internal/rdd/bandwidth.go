package rdd

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

type bandwidths struct {
	c, h, b float64
}

// pilotBandwidth is the rule-of-thumb bandwidth for a triangular kernel,
// 2.702 * min(sd, IQR/1.349) * N^(-1/5), clamped to the admissible range.
func pilotBandwidth(left, right *side, q int) float64 {
	x := make([]float64, 0, left.n()+right.n())
	x = append(x, left.x...)
	x = append(x, right.x...) // sorted: every left value is negative

	spread := stat.StdDev(x, nil)
	iqr := stat.Quantile(0.75, stat.Empirical, x, nil) - stat.Quantile(0.25, stat.Empirical, x, nil)
	if iqr > 0 {
		spread = math.Min(spread, iqr/1.349)
	}
	c := 2.702 * spread * math.Pow(float64(len(x)), -0.2)

	lo, hi := bandwidthBounds(left, right, q)
	return clampBandwidth(c, lo, hi)
}

// mseBandwidth minimizes bw^(2(order+1-nu)) * (B^2+R) + V / bw^(1+2nu), the
// asymptotic MSE of a derivative-nu estimate from an order-`order` fit.
// v is the variance constant scaled by N.
func mseBandwidth(nu, order int, v, bias, reg float64) float64 {
	num := float64(1+2*nu) * v
	den := 2 * float64(order+1-nu) * (bias*bias + reg)
	return math.Pow(num/den, 1/float64(2*order+3))
}

// selectBandwidths picks a common MSE-optimal main bandwidth h and bias
// bandwidth b for the difference of the two boundary estimates. Variance
// estimates come from s.nn regardless of the requested VCE.
func selectBandwidths(left, right *side, o Options) (bandwidths, error) {
	p, q := o.P, o.Q
	lo, hi := bandwidthBounds(left, right, q)
	c := pilotBandwidth(left, right, q)
	sides := []struct {
		s    *side
		sign float64
	}{{left, -1}, {right, 1}}

	// b: derivative p+1 from an order-q fit, bias driven by order q+1.
	nu := p + 1
	var v, bias, reg float64
	for _, sd := range sides {
		s := sd.s
		reach := s.reach()
		glob, err := newLPFit(s.x, reach, q+1, uniform)
		if err != nil {
			return bandwidths{}, err
		}
		m := glob.rawCoef(q+1, s.y)
		vm := weightedVariance(glob.weights(q+1), s.nn) / math.Pow(reach, float64(2*(q+1)))

		pilot, err := newLPFit(s.x, c, q, triangular)
		if err != nil {
			return bandwidths{}, err
		}
		// Var(raw coef nu) = sum(l^2 s^2)/c^(2nu); the constant is Var * c^(1+2nu).
		v += c * weightedVariance(pilot.weights(nu), s.nn)
		k := pilot.biasConst(nu)
		bias += sd.sign * k * m
		reg += k * k * vm
	}
	b := clampBandwidth(mseBandwidth(nu, q, v, bias, 3*reg), lo, hi)

	// h: level from an order-p fit, bias driven by the order-(p+1)
	// coefficient estimated at b.
	v, bias, reg = 0, 0, 0
	for _, sd := range sides {
		s := sd.s
		fb, err := newLPFit(s.x, b, q, triangular)
		if err != nil {
			return bandwidths{}, err
		}
		m := fb.rawCoef(p+1, s.y)
		vm := weightedVariance(fb.weights(p+1), s.nn) / math.Pow(b, float64(2*(p+1)))

		pilot, err := newLPFit(s.x, c, p, triangular)
		if err != nil {
			return bandwidths{}, err
		}
		v += c * weightedVariance(pilot.weights(0), s.nn)
		k := pilot.biasConst(0)
		bias += sd.sign * k * m
		reg += k * k * vm
	}
	h := clampBandwidth(mseBandwidth(0, p, v, bias, 3*reg), lo, hi)

	return bandwidths{c: c, h: h, b: b}, nil
}
