// Package analysis runs the mileage-cutoff regression-discontinuity analysis
// over the unified listings table: filter, clean, encode covariates,
// estimate and plot.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/rdlistings/internal/plots"
	"github.com/kalambet/rdlistings/internal/rdd"
	"github.com/kalambet/rdlistings/internal/storage"
	"gonum.org/v1/gonum/mat"
)

// SampleLoader reads the six analysis columns for rows matching a filter.
type SampleLoader interface {
	LoadSample(ctx context.Context, f storage.SampleFilter) ([]storage.SampleRow, error)
}

// Settings holds the knobs that are not part of a run's Params.
type Settings struct {
	Bounds     Bounds
	Estimation rdd.Options
	PlotOrder  int
}

// DefaultSettings returns the default cleaning bounds, local-linear
// estimation and order-4 RD plot fits.
func DefaultSettings() Settings {
	return Settings{
		Bounds:     DefaultBounds(),
		Estimation: rdd.DefaultOptions(),
		PlotOrder:  rdd.DefaultPlotOrder,
	}
}

// Analyzer runs analyses against a read-only listings store. It holds no
// per-run state and is safe for concurrent use.
type Analyzer struct {
	store    SampleLoader
	settings Settings
	logger   *slog.Logger
}

// NewAnalyzer creates an Analyzer. Zero-valued settings fields fall back to
// their defaults.
func NewAnalyzer(store SampleLoader, settings Settings) *Analyzer {
	d := DefaultSettings()
	if settings.Bounds == (Bounds{}) {
		settings.Bounds = d.Bounds
	}
	if settings.PlotOrder <= 0 {
		settings.PlotOrder = d.PlotOrder
	}
	return &Analyzer{
		store:    store,
		settings: settings,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the analyzer's logger.
func (a *Analyzer) WithLogger(l *slog.Logger) *Analyzer {
	a.logger = l
	return a
}

// Run executes one analysis. A filter matching no listings is not an error:
// the returned Result reports EarlyExit and carries no estimates.
func (a *Analyzer) Run(ctx context.Context, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := a.settings.Bounds.Validate(); err != nil {
		return nil, err
	}
	sf, err := p.Filter.SampleFilter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	res := &Result{RunID: uuid.NewString(), Params: p, StartedAt: time.Now().UTC()}
	log := a.logger.With("run_id", res.RunID)
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	log.Info("loading listings", "filter", p.Filter.String(), "cutoff", p.Cutoff, "window", p.Window)
	rows, err := a.store.LoadSample(ctx, sf)
	if err != nil {
		return nil, fmt.Errorf("loading sample: %w", err)
	}
	res.RowsLoaded = len(rows)
	if len(rows) == 0 {
		log.Info("no listings match the filter, skipping estimation", "filter", p.Filter.String())
		return res, nil
	}

	res.Sample, res.Clean = Clean(rows, p, a.settings.Bounds)
	log.Info("cleaned sample",
		"loaded", res.Clean.Loaded,
		"retained", res.Clean.Retained,
		"outside_window", res.Clean.OutsideWindow,
	)
	if n := len(res.Sample); n < a.settings.Bounds.MinSample {
		msg := fmt.Sprintf("only %d observations remain after cleaning (fewer than %d); estimates may be unreliable",
			n, a.settings.Bounds.MinSample)
		log.Warn("small sample", "observations", n, "min_sample", a.settings.Bounds.MinSample)
		res.Warnings = append(res.Warnings, msg)
	}

	res.Covariates = EncodeCovariates(res.Sample, p.Filter.FreeDimensions())
	if res.Covariates != nil {
		log.Info("built covariates", "formula", res.Covariates.Formula, "columns", len(res.Covariates.Columns))
	} else {
		log.Info("no covariates, estimating without controls")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.describe(res); err != nil {
		return nil, err
	}

	x, logPrice, price := res.Columns()
	var z *mat.Dense
	if res.Covariates != nil {
		z = res.Covariates.Data
	}
	for _, o := range []struct {
		name string
		y    []float64
		dst  **rdd.Estimate
	}{
		{"log_price", logPrice, &res.LogPrice},
		{"price", price, &res.Price},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		est, err := rdd.Fit(x, o.y, z, a.settings.Estimation)
		if err != nil {
			return nil, fmt.Errorf("estimating %s discontinuity: %w", o.name, err)
		}
		est.Outcome = o.name
		*o.dst = est
		log.Info("estimated discontinuity",
			"outcome", o.name,
			"coef", est.Conventional.Coef,
			"se", est.Conventional.SE,
			"robust_p", est.Robust.P,
			"h", est.H,
		)
		log.Debug("estimate summary\n" + est.Summary())
	}

	if err := a.rdPlots(res, x, logPrice, price); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *Analyzer) describe(res *Result) error {
	n := len(res.Sample)
	if n == 0 {
		return nil
	}
	mileage := make([]float64, n)
	price := make([]float64, n)
	logPrice := make([]float64, n)
	centered := make([]float64, n)
	for i, o := range res.Sample {
		mileage[i], price[i], logPrice[i], centered[i] = o.Mileage, o.Price, o.LogPrice, o.Centered
	}
	cutoff := res.Params.Cutoff

	ps, err := plots.PriceScatter(mileage, price, cutoff)
	if err != nil {
		return fmt.Errorf("plotting: %w", err)
	}
	lps, err := plots.LogPriceScatter(mileage, logPrice, cutoff)
	if err != nil {
		return fmt.Errorf("plotting: %w", err)
	}
	hist, err := plots.CenteredHistogram(centered)
	if err != nil {
		return fmt.Errorf("plotting: %w", err)
	}
	res.Figures = append(res.Figures, ps, lps, hist)
	return nil
}

func (a *Analyzer) rdPlots(res *Result, x, logPrice, price []float64) error {
	var err error
	if res.LogPriceBins, err = rdd.NewBinScatter(x, logPrice, a.settings.PlotOrder); err != nil {
		return fmt.Errorf("binning log price: %w", err)
	}
	if res.PriceBins, err = rdd.NewBinScatter(x, price, a.settings.PlotOrder); err != nil {
		return fmt.Errorf("binning price: %w", err)
	}
	lp, err := plots.RDPlot(plots.NameRDPlotLogPrice, "log_price", res.LogPriceBins, res.Params.Cutoff)
	if err != nil {
		return fmt.Errorf("plotting: %w", err)
	}
	pr, err := plots.RDPlot(plots.NameRDPlotPrice, "price", res.PriceBins, res.Params.Cutoff)
	if err != nil {
		return fmt.Errorf("plotting: %w", err)
	}
	res.Figures = append(res.Figures, lp, pr)
	return nil
}
