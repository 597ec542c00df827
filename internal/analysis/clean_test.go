package analysis

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/kalambet/rdlistings/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(mk, model, year, trim, price, mileage string) storage.SampleRow {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return storage.Ptr(s)
	}
	return storage.SampleRow{
		Make: opt(mk), Model: opt(model), Year: opt(year), Trim: opt(trim),
		Price: opt(price), Mileage: opt(mileage),
	}
}

func TestClean_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var rows []storage.SampleRow
	for i := 0; i < 2000; i++ {
		price := fmt.Sprintf("%d", rng.Intn(200000))
		mileage := fmt.Sprintf("%d", rng.Intn(350000))
		trim := "Limited"
		if i%17 == 0 {
			trim = ""
		}
		rows = append(rows, row("Ram", "1500", "2019", trim, price, mileage))
	}
	p := Params{Cutoff: 100000, Window: 20000}

	obs, report := Clean(rows, p, DefaultBounds())
	require.NotEmpty(t, obs)
	assert.Equal(t, len(obs), report.Retained)
	assert.Equal(t, len(rows), report.Loaded)
	assert.Equal(t, report.Loaded-report.Retained,
		report.MissingPrice+report.MissingMileage+report.PriceOutOfBounds+
			report.MileageOutOfBounds+report.OutsideWindow+report.MissingCategory)

	for _, o := range obs {
		assert.LessOrEqual(t, math.Abs(o.Mileage-p.Cutoff), p.Window)
		assert.Greater(t, o.Price, 1000.0)
		assert.Less(t, o.Price, 150000.0)
		assert.Greater(t, o.Mileage, 10000.0)
		assert.Less(t, o.Mileage, 300000.0)
		assert.NotEmpty(t, o.Make)
		assert.NotEmpty(t, o.Model)
		assert.NotEmpty(t, o.Trim)
		assert.NotZero(t, o.Year)
		assert.Equal(t, o.Mileage-p.Cutoff, o.Centered)
		assert.InDelta(t, o.Price, math.Exp(o.LogPrice), 1e-6*o.Price)
		if o.Mileage >= p.Cutoff {
			assert.Equal(t, 1, o.Treated)
		} else {
			assert.Equal(t, 0, o.Treated)
		}
	}
}

func TestClean_TieAtCutoffIsTreated(t *testing.T) {
	rows := []storage.SampleRow{
		row("Ram", "1500", "2019", "Limited", "30000", "100000"),
		row("Ram", "1500", "2019", "Limited", "30000", "99999"),
	}
	obs, _ := Clean(rows, Params{Cutoff: 100000, Window: 20000}, DefaultBounds())
	require.Len(t, obs, 2)
	assert.Equal(t, 1, obs[0].Treated)
	assert.Zero(t, obs[0].Centered)
	assert.Equal(t, 0, obs[1].Treated)
}

func TestClean_DropReasons(t *testing.T) {
	rows := []storage.SampleRow{
		row("Ram", "1500", "2019", "Limited", "", "90000"),          // missing price
		row("Ram", "1500", "2019", "Limited", "n/a", "90000"),       // unparsable price
		row("Ram", "1500", "2019", "Limited", "30000", ""),          // missing mileage
		row("Ram", "1500", "2019", "Limited", "1000", "90000"),      // price at open lower bound
		row("Ram", "1500", "2019", "Limited", "150000", "90000"),    // price at open upper bound
		row("Ram", "1500", "2019", "Limited", "30000", "10000"),     // mileage at open lower bound
		row("Ram", "1500", "2019", "Limited", "30000", "300000"),    // mileage at open upper bound
		row("Ram", "1500", "2019", "Limited", "30000", "60000"),     // outside window
		row("Ram", "1500", "2019", "  ", "30000", "95000"),          // blank trim
		row("Ram", "1500", "", "Limited", "30000", "95000"),         // missing year
		row("Ram", "1500", "2019.0", "Limited", "30000.5", "95000"), // kept
		row("Ram", "1500", "2019", "Limited", "30000", "120000"),    // window edge is kept
	}
	obs, report := Clean(rows, Params{Cutoff: 100000, Window: 20000}, DefaultBounds())

	assert.Equal(t, CleanReport{
		Loaded:             12,
		MissingPrice:       2,
		MissingMileage:     1,
		PriceOutOfBounds:   2,
		MileageOutOfBounds: 2,
		OutsideWindow:      1,
		MissingCategory:    2,
		Retained:           2,
	}, report)
	assert.Equal(t, 10, report.Dropped())
	require.Len(t, obs, 2)
	assert.Equal(t, 2019, obs[0].Year)
	assert.Equal(t, 30000.5, obs[0].Price)
	assert.Equal(t, 20000.0, obs[1].Centered)
}

func TestClean_CustomBounds(t *testing.T) {
	rows := []storage.SampleRow{
		row("Ram", "1500", "2019", "Limited", "500", "50000"),
		row("Ram", "1500", "2019", "Limited", "30000", "50000"),
	}
	b := DefaultBounds()
	b.PriceMin = 100
	obs, _ := Clean(rows, Params{Cutoff: 50000, Window: 1000}, b)
	assert.Len(t, obs, 2)
}
