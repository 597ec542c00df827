package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsOf(mk, model string, year int, trim string) Observation {
	return Observation{Make: mk, Model: model, Year: year, Trim: trim, Price: 20000, Mileage: 90000}
}

func TestEncodeCovariates_AllPinned(t *testing.T) {
	obs := []Observation{obsOf("Ram", "1500", 2019, "Limited")}
	assert.Nil(t, EncodeCovariates(obs, nil))
	assert.Equal(t, "", Formula(nil))
}

func TestEncodeCovariates_AllFree(t *testing.T) {
	obs := []Observation{
		obsOf("Ram", "1500", 2019, "Limited"),
		obsOf("Ford", "F-150", 2020, "XLT"),
		obsOf("Ram", "2500", 2018, "Laramie"),
		obsOf("Chevrolet", "Silverado", 2019, "LT"),
		obsOf("Ford", "F-150", 2021, "XLT"),
	}
	m := EncodeCovariates(obs, Dimensions)
	require.NotNil(t, m)

	// makes 3, models 4, years 4, trims 4 -> (3-1)+(4-1)+(4-1)+(4-1)
	rows, cols := m.Dims()
	assert.Equal(t, len(obs), rows)
	assert.Equal(t, 11, cols)
	assert.Len(t, m.Columns, 11)
	assert.Equal(t, "~ C(make) + C(model) + C(year) + C(trim)", m.Formula)

	assert.Equal(t, "Chevrolet", m.Reference["make"])
	assert.Equal(t, "2018", m.Reference["year"])
	assert.Equal(t, []string{"make[T.Ford]", "make[T.Ram]"}, m.Columns[:2])

	// Each row has one indicator per dimension unless it sits at the reference.
	first := m.Row(0) // Ram 1500 2019 Limited
	var ones []string
	for j, v := range first {
		if v == 1 {
			ones = append(ones, m.Columns[j])
		}
		assert.Contains(t, []float64{0, 1}, v)
	}
	assert.Equal(t, []string{"make[T.Ram]", "year[T.2019]", "trim[T.Limited]"}, ones)
	assert.NotContains(t, ones, "model[T.1500]", "1500 is the model reference")
}

func TestEncodeCovariates_YearsSortNumerically(t *testing.T) {
	obs := []Observation{
		obsOf("Ram", "1500", 2010, "Limited"),
		obsOf("Ram", "1500", 999, "Limited"),
		obsOf("Ram", "1500", 2009, "Limited"),
	}
	m := EncodeCovariates(obs, []Dimension{DimYear})
	require.NotNil(t, m)
	assert.Equal(t, []string{"999", "2009", "2010"}, m.Levels["year"])
	assert.Equal(t, []string{"year[T.2009]", "year[T.2010]"}, m.Columns)
	assert.Equal(t, []float64{0, 0}, m.Row(1))
	assert.Equal(t, []float64{0, 1}, m.Row(0))
}

func TestEncodeCovariates_ConstantDimensionsGiveNoCovariates(t *testing.T) {
	obs := []Observation{
		obsOf("Ram", "1500", 2019, "Limited"),
		obsOf("Ram", "1500", 2019, "Limited"),
	}
	assert.Nil(t, EncodeCovariates(obs, Dimensions))
}

func TestEncodeCovariates_ConstantDimensionSkipped(t *testing.T) {
	obs := []Observation{
		obsOf("Ram", "1500", 2019, "Limited"),
		obsOf("Ram", "1500", 2019, "Laramie"),
	}
	m := EncodeCovariates(obs, []Dimension{DimMake, DimTrim})
	require.NotNil(t, m)
	assert.Equal(t, []string{"trim[T.Limited]"}, m.Columns)
	assert.Equal(t, "~ C(make) + C(trim)", m.Formula)
	assert.Equal(t, []float64{1}, m.Row(0))
	assert.Equal(t, []float64{0}, m.Row(1))
}
