package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// CovariateMatrix is the indicator encoding of the free dimensions. Each
// dimension drops its first level, which becomes the reference.
type CovariateMatrix struct {
	Formula   string              `json:"formula"`
	Columns   []string            `json:"columns"`
	Reference map[string]string   `json:"reference"`
	Levels    map[string][]string `json:"levels"`
	Data      *mat.Dense          `json:"-"`
}

// Dims returns the number of rows and columns.
func (m *CovariateMatrix) Dims() (int, int) {
	return m.Data.Dims()
}

// Row returns the encoded values for observation i.
func (m *CovariateMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.Data)
}

// Formula returns the model formula for the given free dimensions, e.g.
// "~ C(make) + C(year)". It is empty when no dimension is free.
func Formula(free []Dimension) string {
	if len(free) == 0 {
		return ""
	}
	terms := make([]string, len(free))
	for i, d := range free {
		terms[i] = "C(" + d.String() + ")"
	}
	return "~ " + strings.Join(terms, " + ")
}

// EncodeCovariates expands the free dimensions of obs into indicator columns.
// Levels are ordered lexically, years numerically. It returns nil when no
// dimension is free or every free dimension is constant in the sample.
func EncodeCovariates(obs []Observation, free []Dimension) *CovariateMatrix {
	if len(free) == 0 || len(obs) == 0 {
		return nil
	}

	type block struct {
		dim    Dimension
		levels []string
		index  map[string]int
	}
	var blocks []block
	m := &CovariateMatrix{
		Formula:   Formula(free),
		Reference: make(map[string]string),
		Levels:    make(map[string][]string),
	}

	for _, d := range free {
		levels := distinctLevels(obs, d)
		m.Levels[d.String()] = levels
		m.Reference[d.String()] = levels[0]
		if len(levels) < 2 {
			continue
		}
		b := block{dim: d, levels: levels, index: make(map[string]int, len(levels))}
		for i, l := range levels[1:] {
			b.index[l] = len(m.Columns) + i
		}
		for _, l := range levels[1:] {
			m.Columns = append(m.Columns, fmt.Sprintf("%s[T.%s]", d, l))
		}
		blocks = append(blocks, b)
	}
	if len(m.Columns) == 0 {
		return nil
	}

	m.Data = mat.NewDense(len(obs), len(m.Columns), nil)
	for i, o := range obs {
		for _, b := range blocks {
			if col, ok := b.index[o.Level(b.dim)]; ok {
				m.Data.Set(i, col, 1)
			}
		}
	}
	return m
}

func distinctLevels(obs []Observation, d Dimension) []string {
	seen := make(map[string]struct{})
	var levels []string
	for _, o := range obs {
		l := o.Level(d)
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		levels = append(levels, l)
	}
	if d == DimYear {
		sort.Slice(levels, func(i, j int) bool {
			a, _ := strconv.Atoi(levels[i])
			b, _ := strconv.Atoi(levels[j])
			return a < b
		})
	} else {
		sort.Strings(levels)
	}
	return levels
}
