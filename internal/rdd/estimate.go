package rdd

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Row is one line of the inference table.
type Row struct {
	Method string  `json:"method"`
	Coef   float64 `json:"coef"`
	SE     float64 `json:"se"`
	Z      float64 `json:"z"`
	P      float64 `json:"p"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
}

// Estimate is the outcome of one sharp RD fit.
type Estimate struct {
	Outcome    string  `json:"outcome,omitempty"`
	NLeft      int     `json:"n_left"`
	NRight     int     `json:"n_right"`
	EffLeft    int     `json:"eff_left"`
	EffRight   int     `json:"eff_right"`
	P          int     `json:"p"`
	Q          int     `json:"q"`
	H          float64 `json:"h"`
	B          float64 `json:"b"`
	Kernel     string  `json:"kernel"`
	BWSelect   string  `json:"bwselect"`
	VCE        VCE     `json:"vce"`
	Level      float64 `json:"level"`
	Covariates int     `json:"covariates"`

	Conventional  Row `json:"conventional"`
	BiasCorrected Row `json:"bias_corrected"`
	Robust        Row `json:"robust"`
}

// Rows returns the conventional, bias-corrected and robust rows in order.
func (e *Estimate) Rows() []Row {
	return []Row{e.Conventional, e.BiasCorrected, e.Robust}
}

type sideEstimate struct {
	n, eff         int
	mu, muBC       float64
	vConv, vRobust float64
}

func estimateSide(s *side, h, b float64, o Options) (sideEstimate, error) {
	fh, err := newLPFit(s.x, h, o.P, triangular)
	if err != nil {
		return sideEstimate{}, err
	}
	fb, err := newLPFit(s.x, b, o.Q, triangular)
	if err != nil {
		return sideEstimate{}, err
	}

	l0 := fh.weights(0)
	lq := fb.weights(o.P + 1)
	ratio := math.Pow(h/b, float64(o.P+1)) * fh.biasConst(0)
	lbc := make([]float64, len(l0))
	for i := range l0 {
		lbc[i] = l0[i] - ratio*lq[i]
	}

	sConv, sRobust := s.nn, s.nn
	if o.VCE == VCEHC1 {
		sConv = hc1Variance(fh, s.y)
		sRobust = hc1Variance(fb, s.y)
	}

	return sideEstimate{
		n:       s.n(),
		eff:     fh.n,
		mu:      dot(l0, s.y),
		muBC:    dot(lbc, s.y),
		vConv:   weightedVariance(l0, sConv),
		vRobust: weightedVariance(lbc, sRobust),
	}, nil
}

func estimate(left, right *side, h, b float64, o Options) (*Estimate, error) {
	l, err := estimateSide(left, h, b, o)
	if err != nil {
		return nil, fmt.Errorf("left of cutoff: %w", err)
	}
	r, err := estimateSide(right, h, b, o)
	if err != nil {
		return nil, fmt.Errorf("right of cutoff: %w", err)
	}

	tau := r.mu - l.mu
	tauBC := r.muBC - l.muBC
	seConv := math.Sqrt(l.vConv + r.vConv)
	seRobust := math.Sqrt(l.vRobust + r.vRobust)

	return &Estimate{
		NLeft:         l.n,
		NRight:        r.n,
		EffLeft:       l.eff,
		EffRight:      r.eff,
		P:             o.P,
		Q:             o.Q,
		H:             h,
		B:             b,
		Kernel:        "Triangular",
		BWSelect:      "mserd",
		VCE:           o.VCE,
		Level:         o.Level,
		Conventional:  inferenceRow("Conventional", tau, seConv, o.Level),
		BiasCorrected: inferenceRow("Bias-corrected", tauBC, seConv, o.Level),
		Robust:        inferenceRow("Robust", tauBC, seRobust, o.Level),
	}, nil
}

// inferenceRow computes the normal-approximation z statistic, two-sided
// p-value and confidence interval. Degenerate (zero-variance) fits report
// z = 0 and p = 1.
func inferenceRow(method string, coef, se, level float64) Row {
	row := Row{Method: method, Coef: coef, SE: se, P: 1, CILow: coef, CIHigh: coef}
	if !(se > 0) || math.IsInf(se, 0) {
		return row
	}
	crit := distuv.UnitNormal.Quantile(1 - (1-level/100)/2)
	row.Z = coef / se
	row.P = 2 * distuv.UnitNormal.Survival(math.Abs(row.Z))
	row.CILow = coef - crit*se
	row.CIHigh = coef + crit*se
	return row
}

// Summary renders the estimate as a fixed-width table.
func (e *Estimate) Summary() string {
	var b strings.Builder
	title := "Sharp RD estimates using local polynomial regression."
	if e.Outcome != "" {
		title = fmt.Sprintf("Sharp RD estimates using local polynomial regression (outcome: %s).", e.Outcome)
	}
	fmt.Fprintln(&b, title)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "%-22s%12d\n", "Number of Obs.", e.NLeft+e.NRight)
	fmt.Fprintf(&b, "%-22s%12s\n", "BW type", e.BWSelect)
	fmt.Fprintf(&b, "%-22s%12s\n", "Kernel", e.Kernel)
	fmt.Fprintf(&b, "%-22s%12s\n", "VCE method", strings.ToUpper(string(e.VCE)))
	if e.Covariates > 0 {
		fmt.Fprintf(&b, "%-22s%12d\n", "Covariates", e.Covariates)
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "%-22s%12s%12s\n", "", "Left", "Right")
	fmt.Fprintf(&b, "%-22s%12d%12d\n", "Number of Obs.", e.NLeft, e.NRight)
	fmt.Fprintf(&b, "%-22s%12d%12d\n", "Eff. Number of Obs.", e.EffLeft, e.EffRight)
	fmt.Fprintf(&b, "%-22s%12d%12d\n", "Order est. (p)", e.P, e.P)
	fmt.Fprintf(&b, "%-22s%12d%12d\n", "Order bias (q)", e.Q, e.Q)
	fmt.Fprintf(&b, "%-22s%12.3f%12.3f\n", "BW est. (h)", e.H, e.H)
	fmt.Fprintf(&b, "%-22s%12.3f%12.3f\n", "BW bias (b)", e.B, e.B)
	fmt.Fprintln(&b)

	rule := strings.Repeat("=", 84)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "%16s%12s%12s%10s%10s   %s\n", "Method", "Coef.", "Std. Err.", "z", "P>|z|",
		fmt.Sprintf("[ %g%% C.I. ]", e.Level))
	fmt.Fprintln(&b, rule)
	for _, r := range e.Rows() {
		fmt.Fprintf(&b, "%16s%12.4f%12.4f%10.3f%10.3f   [%.4f , %.4f]\n",
			r.Method, r.Coef, r.SE, r.Z, r.P, r.CILow, r.CIHigh)
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}
