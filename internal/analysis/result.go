package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/rdlistings/internal/plots"
	"github.com/kalambet/rdlistings/internal/rdd"
)

// Result bundles everything one analysis run produced.
type Result struct {
	RunID      string           `json:"run_id"`
	Params     Params           `json:"params"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
	RowsLoaded int              `json:"rows_loaded"`
	Clean      CleanReport      `json:"clean"`
	Sample     []Observation    `json:"-"`
	Covariates *CovariateMatrix `json:"covariates,omitempty"`

	LogPrice     *rdd.Estimate   `json:"log_price,omitempty"`
	Price        *rdd.Estimate   `json:"price,omitempty"`
	LogPriceBins *rdd.BinScatter `json:"-"`
	PriceBins    *rdd.BinScatter `json:"-"`

	Figures  []*plots.Figure `json:"-"`
	Warnings []string        `json:"warnings,omitempty"`
}

// EarlyExit reports whether the filter matched no listings, in which case
// nothing was cleaned, estimated or plotted.
func (r *Result) EarlyExit() bool {
	return r.RowsLoaded == 0
}

// Figure returns the named figure, or nil.
func (r *Result) Figure(name string) *plots.Figure {
	for _, f := range r.Figures {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Formula returns the covariate formula, or "" when the run had no controls.
func (r *Result) Formula() string {
	if r.Covariates == nil {
		return ""
	}
	return r.Covariates.Formula
}

// Columns extracts the centered running variable, log price and price.
func (r *Result) Columns() (x, logPrice, price []float64) {
	x = make([]float64, len(r.Sample))
	logPrice = make([]float64, len(r.Sample))
	price = make([]float64, len(r.Sample))
	for i, o := range r.Sample {
		x[i] = o.Centered
		logPrice[i] = o.LogPrice
		price[i] = o.Price
	}
	return x, logPrice, price
}

// Summary renders a human-readable report of the run.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s, cutoff %.0f, window ±%.0f\n", r.RunID, r.Params.Filter, r.Params.Cutoff, r.Params.Window)
	if r.EarlyExit() {
		fmt.Fprintln(&b, "No listings matched the filter; nothing estimated.")
		return b.String()
	}
	c := r.Clean
	fmt.Fprintf(&b, "Loaded %d rows, retained %d (missing price %d, missing mileage %d, price out of bounds %d, mileage out of bounds %d, outside window %d, missing category %d)\n",
		c.Loaded, c.Retained, c.MissingPrice, c.MissingMileage, c.PriceOutOfBounds, c.MileageOutOfBounds, c.OutsideWindow, c.MissingCategory)
	if f := r.Formula(); f != "" {
		fmt.Fprintf(&b, "Covariates: %s (%d columns)\n", f, len(r.Covariates.Columns))
	} else {
		fmt.Fprintln(&b, "Covariates: none")
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	for _, e := range []*rdd.Estimate{r.LogPrice, r.Price} {
		if e == nil {
			continue
		}
		fmt.Fprintln(&b)
		b.WriteString(e.Summary())
	}
	return b.String()
}
