package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/api"
	"github.com/kalambet/rdlistings/internal/plots"
)

// batchFile is the YAML layout read by the batch command.
//
//	out: batch_output
//	runs:
//	  - name: ram-1500-limited
//	    make: Ram
//	    model: "1500"
//	    year: 2019
//	    trim: Limited
//	    cutoff: 60000
//	    window: 50000
type batchFile struct {
	Out    string     `yaml:"out"`
	Format string     `yaml:"format"`
	XLSX   bool       `yaml:"xlsx"`
	Runs   []batchRun `yaml:"runs"`
}

type batchRun struct {
	Name   string  `yaml:"name"`
	Make   string  `yaml:"make"`
	Model  string  `yaml:"model"`
	Year   int     `yaml:"year"`
	Trim   string  `yaml:"trim"`
	Cutoff float64 `yaml:"cutoff"`
	Window float64 `yaml:"window"`
}

// batchOutcome is the result of one named run.
type batchOutcome struct {
	Name   string
	Result *analysis.Result
	Err    error
}

const batchConcurrency = 4

var batchCmd = &cobra.Command{
	Use:   "batch FILE.yaml",
	Short: "Run several analyses concurrently from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bf, err := readBatchFile(args[0])
		if err != nil {
			return err
		}
		if bf.Out == "" {
			bf.Out = cfg.Output.Dir
		}
		if bf.Format == "" {
			bf.Format = cfg.Output.Format
		}
		if !plots.ValidFormat(bf.Format) {
			return fmt.Errorf("unsupported figure format %q (want png, svg or pdf)", bf.Format)
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

		outcomes, err := runBatch(ctx, analysis.NewAnalyzer(store, settings), bf, defaultParams(cfg))
		if err != nil {
			return err
		}
		return reportBatch(cmd.OutOrStdout(), outcomes)
	},
}

func readBatchFile(path string) (batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return batchFile{}, fmt.Errorf("reading batch file: %w", err)
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return batchFile{}, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(bf.Runs) == 0 {
		return batchFile{}, fmt.Errorf("batch file %s has no runs", path)
	}
	seen := make(map[string]bool, len(bf.Runs))
	for i := range bf.Runs {
		if bf.Runs[i].Name == "" {
			bf.Runs[i].Name = "run-" + strconv.Itoa(i+1)
		}
		if seen[bf.Runs[i].Name] {
			return batchFile{}, fmt.Errorf("duplicate run name %q", bf.Runs[i].Name)
		}
		seen[bf.Runs[i].Name] = true
	}
	return bf, nil
}

func (r batchRun) params(defaults analysis.Params) analysis.Params {
	p := defaults
	pins := map[analysis.Dimension]string{
		analysis.DimMake:  r.Make,
		analysis.DimModel: r.Model,
		analysis.DimTrim:  r.Trim,
	}
	if r.Year != 0 {
		pins[analysis.DimYear] = strconv.Itoa(r.Year)
	}
	for d, v := range pins {
		if v != "" {
			p.Filter = p.Filter.With(d, analysis.Pinned(v))
		}
	}
	if r.Cutoff != 0 {
		p.Cutoff = r.Cutoff
	}
	if r.Window != 0 {
		p.Window = r.Window
	}
	return p
}

// runBatch executes every run with bounded concurrency. A failing run is
// recorded in its outcome and does not stop the others; only cancellation
// of ctx aborts the batch.
func runBatch(ctx context.Context, r api.Runner, bf batchFile, defaults analysis.Params) ([]batchOutcome, error) {
	outcomes := make([]batchOutcome, len(bf.Runs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, run := range bf.Runs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := r.Run(gCtx, run.params(defaults))
			outcomes[i] = batchOutcome{Name: run.Name, Result: res, Err: err}
			if err != nil || res.EarlyExit() {
				return nil
			}
			outcomes[i].Err = saveOutputs(res, batchOutputs(bf, run.Name))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

func batchOutputs(bf batchFile, name string) analyzeOptions {
	opts := analyzeOptions{OutDir: filepath.Join(bf.Out, name), Format: bf.Format}
	if bf.XLSX {
		opts.XLSX = filepath.Join(bf.Out, name, name+".xlsx")
	}
	return opts
}

func reportBatch(w io.Writer, outcomes []batchOutcome) error {
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			printError("%s: %v", o.Name, o.Err)
		case o.Result.EarlyExit():
			printWarning("%s: no listings matched", o.Name)
		default:
			printSuccess("%s: %d observations, log price jump %.4f (robust p=%.3f), price jump %.0f (robust p=%.3f)",
				o.Name, o.Result.Clean.Retained,
				o.Result.LogPrice.Conventional.Coef, o.Result.LogPrice.Robust.P,
				o.Result.Price.Conventional.Coef, o.Result.Price.Robust.P)
			fmt.Fprintf(w, "== %s ==\n%s\n", o.Name, o.Result.Summary())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}
