package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/api"
	"github.com/kalambet/rdlistings/internal/export"
	"github.com/kalambet/rdlistings/internal/plots"
)

// analyzeOptions are the per-run choices of the analyze command.
type analyzeOptions struct {
	Params analysis.Params
	OutDir string
	Format string
	XLSX   string
	CSV    string
	JSON   bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Estimate the price discontinuity at a mileage cutoff",
	Long: `Estimate the price discontinuity at a mileage cutoff.

Dimensions left unset are controlled for as categorical covariates.

Examples:
  rdlistings analyze --make Ram --model 1500 --year 2019 --trim Limited --cutoff 60000 --window 50000
  rdlistings analyze --make Ford --xlsx ford.xlsx
  rdlistings analyze --cutoff 100000 --window 20000 --format svg --out figures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := analyzeOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		settings, err := analysisSettings(cfg)
		if err != nil {
			return err
		}
		store, err := openReadStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		_, err = runAnalyze(ctx, cmd.OutOrStdout(), analysis.NewAnalyzer(store, settings), opts)
		return err
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.String("make", "", "pin the vehicle make")
	f.String("model", "", "pin the vehicle model")
	f.Int("year", 0, "pin the model year")
	f.String("trim", "", "pin the trim")
	f.Float64("cutoff", 0, "mileage cutoff (default analysis.cutoff)")
	f.Float64("window", 0, "half-width of the mileage window (default analysis.window)")
	f.String("out", "", "figure directory; each run writes to a sub-directory named by its run ID (default output.dir)")
	f.String("format", "", "figure format: png, svg or pdf (default output.format)")
	f.String("xlsx", "", "also write the sample and estimates to this workbook")
	f.String("csv", "", "also write the sample to this CSV file, and the estimates next to it")
	f.Bool("json", false, "print the result as JSON instead of the text summary")
}

func analyzeOptionsFromFlags(cmd *cobra.Command) (analyzeOptions, error) {
	f := cmd.Flags()
	opts := analyzeOptions{Params: defaultParams(cfg), OutDir: cfg.Output.Dir, Format: cfg.Output.Format}

	for _, d := range []analysis.Dimension{analysis.DimMake, analysis.DimModel, analysis.DimTrim} {
		if v, _ := f.GetString(d.String()); v != "" {
			opts.Params.Filter = opts.Params.Filter.With(d, analysis.Pinned(v))
		}
	}
	if year, _ := f.GetInt("year"); year != 0 {
		opts.Params.Filter = opts.Params.Filter.With(analysis.DimYear, analysis.Pinned(fmt.Sprint(year)))
	}
	if f.Changed("cutoff") {
		opts.Params.Cutoff, _ = f.GetFloat64("cutoff")
	}
	if f.Changed("window") {
		opts.Params.Window, _ = f.GetFloat64("window")
	}
	if v, _ := f.GetString("out"); v != "" {
		opts.OutDir = v
	}
	if v, _ := f.GetString("format"); v != "" {
		opts.Format = v
	}
	if !plots.ValidFormat(opts.Format) {
		return analyzeOptions{}, fmt.Errorf("unsupported figure format %q (want png, svg or pdf)", opts.Format)
	}
	opts.XLSX, _ = f.GetString("xlsx")
	opts.CSV, _ = f.GetString("csv")
	opts.JSON, _ = f.GetBool("json")
	return opts, nil
}

// runAnalyze runs one analysis, prints it to w and writes the requested
// figures and exports.
func runAnalyze(ctx context.Context, w io.Writer, r api.Runner, opts analyzeOptions) (*analysis.Result, error) {
	printStep("Analyzing %s at cutoff %.0f ± %.0f", opts.Params.Filter, opts.Params.Cutoff, opts.Params.Window)

	res, err := r.Run(ctx, opts.Params)
	if err != nil {
		return nil, err
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
	} else {
		fmt.Fprint(w, res.Summary())
	}

	if res.EarlyExit() {
		printWarning("No listings matched %s; nothing to save", opts.Params.Filter)
		return res, nil
	}
	for _, warning := range res.Warnings {
		printWarning("%s", warning)
	}

	if err := saveOutputs(res, opts); err != nil {
		return res, err
	}
	return res, nil
}

func saveOutputs(res *analysis.Result, opts analyzeOptions) error {
	if opts.OutDir != "" && len(res.Figures) > 0 {
		dir := filepath.Join(opts.OutDir, res.RunID)
		for _, fig := range res.Figures {
			if _, err := fig.Save(dir, opts.Format); err != nil {
				return err
			}
		}
		printSuccess("Saved %d figures to %s", len(res.Figures), dir)
	}
	if opts.XLSX != "" {
		if err := export.SaveXLSX(opts.XLSX, res); err != nil {
			return err
		}
		printSuccess("Wrote %s", opts.XLSX)
	}
	if opts.CSV != "" {
		sample, estimates, err := export.SaveCSV(opts.CSV, res)
		if err != nil {
			return err
		}
		printSuccess("Wrote %s and %s", sample, estimates)
	}
	return nil
}
