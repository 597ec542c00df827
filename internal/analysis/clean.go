package analysis

import (
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/rdlistings/internal/storage"
)

// Observation is one row of the cleaned analysis sample.
type Observation struct {
	Make     string  `json:"make"`
	Model    string  `json:"model"`
	Year     int     `json:"year"`
	Trim     string  `json:"trim"`
	Price    float64 `json:"price"`
	Mileage  float64 `json:"mileage"`
	Centered float64 `json:"mileage_centered"`
	LogPrice float64 `json:"log_price"`
	Treated  int     `json:"treated"`
}

// Level returns the categorical value of d for this observation.
func (o Observation) Level(d Dimension) string {
	switch d {
	case DimMake:
		return o.Make
	case DimModel:
		return o.Model
	case DimYear:
		return strconv.Itoa(o.Year)
	case DimTrim:
		return o.Trim
	}
	return ""
}

// CleanReport counts the rows removed at each cleaning step. Steps run in
// field order, so a row is counted once, at the first step that drops it.
type CleanReport struct {
	Loaded             int `json:"loaded"`
	MissingPrice       int `json:"missing_price"`
	MissingMileage     int `json:"missing_mileage"`
	PriceOutOfBounds   int `json:"price_out_of_bounds"`
	MileageOutOfBounds int `json:"mileage_out_of_bounds"`
	OutsideWindow      int `json:"outside_window"`
	MissingCategory    int `json:"missing_category"`
	Retained           int `json:"retained"`
}

// Dropped returns the total number of rows removed.
func (r CleanReport) Dropped() int {
	return r.Loaded - r.Retained
}

// Clean coerces, bounds and windows the loaded rows around p.Cutoff.
// Unparsable price or mileage text counts as missing.
func Clean(rows []storage.SampleRow, p Params, b Bounds) ([]Observation, CleanReport) {
	report := CleanReport{Loaded: len(rows)}
	out := make([]Observation, 0, len(rows))

	for _, r := range rows {
		price, ok := parseNumber(r.Price)
		if !ok {
			report.MissingPrice++
			continue
		}
		mileage, ok := parseNumber(r.Mileage)
		if !ok {
			report.MissingMileage++
			continue
		}
		if price <= b.PriceMin || price >= b.PriceMax {
			report.PriceOutOfBounds++
			continue
		}
		if mileage <= b.MileageMin || mileage >= b.MileageMax {
			report.MileageOutOfBounds++
			continue
		}

		centered := mileage - p.Cutoff
		if math.Abs(centered) > p.Window {
			report.OutsideWindow++
			continue
		}

		mk, okMake := category(r.Make)
		md, okModel := category(r.Model)
		tr, okTrim := category(r.Trim)
		yr, okYear := parseYear(r.Year)
		if !okMake || !okModel || !okTrim || !okYear {
			report.MissingCategory++
			continue
		}

		treated := 0
		if mileage >= p.Cutoff {
			treated = 1
		}
		out = append(out, Observation{
			Make:     mk,
			Model:    md,
			Year:     yr,
			Trim:     tr,
			Price:    price,
			Mileage:  mileage,
			Centered: centered,
			LogPrice: math.Log(price),
			Treated:  treated,
		})
	}

	report.Retained = len(out)
	return out, report
}

func parseNumber(s *string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func category(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	v := strings.TrimSpace(*s)
	return v, v != ""
}

// parseYear accepts integer text and integral floats such as "2019.0".
func parseYear(s *string) (int, bool) {
	v, ok := parseNumber(s)
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}
