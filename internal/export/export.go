// Package export writes analysis results to spreadsheet and CSV files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/rdd"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the workbook written by WriteXLSX.
const (
	SheetSummary   = "summary"
	SheetEstimates = "estimates"
	SheetSample    = "sample"
	SheetBins      = "bins"
)

// ErrEarlyExit is returned when asked to export a run that estimated nothing.
var ErrEarlyExit = errors.New("run matched no listings")

var sampleHeader = []string{
	"make", "model", "year", "trim", "price", "mileage", "mileage_centered", "log_price", "treated",
}

var estimateHeader = []string{
	"outcome", "method", "coef", "se", "z", "p", "ci_low", "ci_high", "h", "b", "n_left", "n_right", "eff_left", "eff_right",
}

// WriteXLSX writes summary, estimates, sample and bins sheets to w.
func WriteXLSX(w io.Writer, res *analysis.Result) error {
	if res.EarlyExit() {
		return ErrEarlyExit
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	for _, name := range []string{SheetEstimates, SheetSample, SheetBins} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	if err := writeRows(f, SheetSummary, summaryRows(res)); err != nil {
		return err
	}
	if err := writeRows(f, SheetEstimates, estimateRows(res)); err != nil {
		return err
	}
	if err := writeRows(f, SheetBins, binRows(res)); err != nil {
		return err
	}
	if err := writeSample(f, res); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes the workbook to path.
func SaveXLSX(path string, res *analysis.Result) error {
	return saveFile(path, func(w io.Writer) error { return WriteXLSX(w, res) })
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// writeSample streams the cleaned sample, which can run to 10^5 rows.
func writeSample(f *excelize.File, res *analysis.Result) error {
	sw, err := f.NewStreamWriter(SheetSample)
	if err != nil {
		return fmt.Errorf("opening sample sheet: %w", err)
	}
	header := sampleColumns(res)
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := sw.SetRow("A1", row); err != nil {
		return fmt.Errorf("writing sample header: %w", err)
	}
	for i, o := range res.Sample {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := []any{o.Make, o.Model, o.Year, o.Trim, o.Price, o.Mileage, o.Centered, o.LogPrice, o.Treated}
		if res.Covariates != nil {
			for _, v := range res.Covariates.Row(i) {
				vals = append(vals, v)
			}
		}
		if err := sw.SetRow(cell, vals); err != nil {
			return fmt.Errorf("writing sample row %d: %w", i+1, err)
		}
	}
	return sw.Flush()
}

func sampleColumns(res *analysis.Result) []string {
	cols := append([]string(nil), sampleHeader...)
	if res.Covariates != nil {
		cols = append(cols, res.Covariates.Columns...)
	}
	return cols
}

func summaryRows(res *analysis.Result) [][]any {
	c := res.Clean
	rows := [][]any{
		{"run_id", res.RunID},
		{"filter", res.Params.Filter.String()},
		{"cutoff", res.Params.Cutoff},
		{"window", res.Params.Window},
		{"rows_loaded", res.RowsLoaded},
		{"missing_price", c.MissingPrice},
		{"missing_mileage", c.MissingMileage},
		{"price_out_of_bounds", c.PriceOutOfBounds},
		{"mileage_out_of_bounds", c.MileageOutOfBounds},
		{"outside_window", c.OutsideWindow},
		{"missing_category", c.MissingCategory},
		{"retained", c.Retained},
		{"formula", res.Formula()},
	}
	for _, w := range res.Warnings {
		rows = append(rows, []any{"warning", w})
	}
	return rows
}

func estimateRows(res *analysis.Result) [][]any {
	header := make([]any, len(estimateHeader))
	for i, h := range estimateHeader {
		header[i] = h
	}
	rows := [][]any{header}
	for _, e := range []*rdd.Estimate{res.LogPrice, res.Price} {
		if e == nil {
			continue
		}
		for _, r := range e.Rows() {
			rows = append(rows, []any{
				e.Outcome, r.Method, r.Coef, r.SE, r.Z, r.P, r.CILow, r.CIHigh,
				e.H, e.B, e.NLeft, e.NRight, e.EffLeft, e.EffRight,
			})
		}
	}
	return rows
}

func binRows(res *analysis.Result) [][]any {
	rows := [][]any{{"outcome", "side", "lo", "hi", "mileage_mean", "outcome_mean", "count"}}
	for _, b := range []struct {
		outcome string
		bs      *rdd.BinScatter
	}{{"log_price", res.LogPriceBins}, {"price", res.PriceBins}} {
		if b.bs == nil {
			continue
		}
		cutoff := res.Params.Cutoff
		for _, side := range []struct {
			name string
			bins []rdd.Bin
		}{{"left", b.bs.BinsLeft}, {"right", b.bs.BinsRight}} {
			for _, bin := range side.bins {
				rows = append(rows, []any{b.outcome, side.name, bin.Lo + cutoff, bin.Hi + cutoff, bin.X + cutoff, bin.Y, bin.Count})
			}
		}
	}
	return rows
}

// WriteSampleCSV writes the cleaned sample (with covariate columns) as CSV.
func WriteSampleCSV(w io.Writer, res *analysis.Result) error {
	if res.EarlyExit() {
		return ErrEarlyExit
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(sampleColumns(res)); err != nil {
		return err
	}
	for i, o := range res.Sample {
		rec := []string{
			o.Make, o.Model, strconv.Itoa(o.Year), o.Trim,
			formatFloat(o.Price), formatFloat(o.Mileage), formatFloat(o.Centered), formatFloat(o.LogPrice),
			strconv.Itoa(o.Treated),
		}
		if res.Covariates != nil {
			for _, v := range res.Covariates.Row(i) {
				rec = append(rec, formatFloat(v))
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEstimatesCSV writes one line per outcome and inference method.
func WriteEstimatesCSV(w io.Writer, res *analysis.Result) error {
	if res.EarlyExit() {
		return ErrEarlyExit
	}
	cw := csv.NewWriter(w)
	for _, row := range estimateRows(res) {
		rec := make([]string, len(row))
		for i, v := range row {
			switch t := v.(type) {
			case float64:
				rec[i] = formatFloat(t)
			default:
				rec[i] = fmt.Sprint(t)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the sample to path and the estimates next to it with an
// "_estimates" suffix. It returns both paths.
func SaveCSV(path string, res *analysis.Result) (string, string, error) {
	ext := filepath.Ext(path)
	estPath := path[:len(path)-len(ext)] + "_estimates" + ext
	if ext == "" {
		estPath = path + "_estimates.csv"
	}
	if err := saveFile(path, func(w io.Writer) error { return WriteSampleCSV(w, res) }); err != nil {
		return "", "", err
	}
	if err := saveFile(estPath, func(w io.Writer) error { return WriteEstimatesCSV(w, res) }); err != nil {
		return "", "", err
	}
	return path, estPath, nil
}

func saveFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
