package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/rdlistings/internal/storage"
)

// Dimension is one of the categorical listing attributes an analysis can pin
// or control for.
type Dimension int

const (
	DimMake Dimension = iota
	DimModel
	DimYear
	DimTrim
)

// Dimensions lists every dimension in covariate order.
var Dimensions = []Dimension{DimMake, DimModel, DimYear, DimTrim}

func (d Dimension) String() string {
	switch d {
	case DimMake:
		return "make"
	case DimModel:
		return "model"
	case DimYear:
		return "year"
	case DimTrim:
		return "trim"
	}
	return fmt.Sprintf("dimension(%d)", int(d))
}

// ParseDimension maps a column name to its Dimension.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dimension %q", s)
}

// Constraint is either Free (the dimension becomes a fixed-effect covariate)
// or Pinned to an exact value (the sample is restricted to it).
type Constraint struct {
	value  string
	pinned bool
}

// Free leaves a dimension unconstrained.
func Free() Constraint { return Constraint{} }

// Pinned restricts a dimension to v.
func Pinned(v string) Constraint { return Constraint{value: v, pinned: true} }

// Value returns the pinned value and whether the constraint is pinned.
func (c Constraint) Value() (string, bool) { return c.value, c.pinned }

// IsPinned reports whether the dimension is restricted.
func (c Constraint) IsPinned() bool { return c.pinned }

// Filter maps each dimension to a Constraint. The zero Filter leaves every
// dimension free.
type Filter struct {
	Make  Constraint
	Model Constraint
	Year  Constraint
	Trim  Constraint
}

// Get returns the constraint on d.
func (f Filter) Get(d Dimension) Constraint {
	switch d {
	case DimMake:
		return f.Make
	case DimModel:
		return f.Model
	case DimYear:
		return f.Year
	case DimTrim:
		return f.Trim
	}
	return Free()
}

// With returns a copy of f with d set to c.
func (f Filter) With(d Dimension, c Constraint) Filter {
	switch d {
	case DimMake:
		f.Make = c
	case DimModel:
		f.Model = c
	case DimYear:
		f.Year = c
	case DimTrim:
		f.Trim = c
	}
	return f
}

// FreeDimensions returns the unpinned dimensions in covariate order.
func (f Filter) FreeDimensions() []Dimension {
	var out []Dimension
	for _, d := range Dimensions {
		if !f.Get(d).IsPinned() {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks pinned values; a pinned year must be an integer.
func (f Filter) Validate() error {
	if v, ok := f.Year.Value(); ok {
		if _, err := strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("year %q is not an integer", v)
		}
	}
	return nil
}

// SampleFilter converts the pinned dimensions into store equality predicates.
func (f Filter) SampleFilter() (storage.SampleFilter, error) {
	var sf storage.SampleFilter
	if v, ok := f.Make.Value(); ok {
		sf.Make = storage.Ptr(v)
	}
	if v, ok := f.Model.Value(); ok {
		sf.Model = storage.Ptr(v)
	}
	if v, ok := f.Year.Value(); ok {
		y, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return storage.SampleFilter{}, fmt.Errorf("year %q is not an integer", v)
		}
		sf.Year = storage.Ptr(y)
	}
	if v, ok := f.Trim.Value(); ok {
		sf.Trim = storage.Ptr(v)
	}
	return sf, nil
}

func (f Filter) String() string {
	var parts []string
	for _, d := range Dimensions {
		if v, ok := f.Get(d).Value(); ok {
			parts = append(parts, d.String()+"="+v)
		}
	}
	if len(parts) == 0 {
		return "all listings"
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes pinned dimensions as an object; free ones are omitted.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]string)
	for _, d := range Dimensions {
		if v, ok := f.Get(d).Value(); ok {
			m[d.String()] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts an object of pinned values. Years may be numbers.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := Filter{}
	for k, raw := range m {
		d, err := ParseDimension(k)
		if err != nil {
			return err
		}
		switch v := raw.(type) {
		case nil:
		case string:
			out = out.With(d, Pinned(v))
		case float64:
			out = out.With(d, Pinned(strconv.FormatFloat(v, 'f', -1, 64)))
		default:
			return fmt.Errorf("%s: unsupported value %v", k, raw)
		}
	}
	*f = out
	return nil
}
