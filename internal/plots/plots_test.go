package plots

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/rdlistings/internal/rdd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(n int, cutoff float64) (mileage, price, logPrice, centered []float64) {
	for i := 0; i < n; i++ {
		m := cutoff - 10000 + float64(i)*20000/float64(n)
		pr := 30000 - 0.1*m
		if m >= cutoff {
			pr -= 2000
		}
		mileage = append(mileage, m)
		price = append(price, pr)
		logPrice = append(logPrice, math.Log(pr))
		centered = append(centered, m-cutoff)
	}
	return
}

func TestDescriptiveFigures(t *testing.T) {
	m, p, lp, c := sample(200, 60000)

	ps, err := PriceScatter(m, p, 60000)
	require.NoError(t, err)
	assert.Equal(t, NamePriceScatter, ps.Name)

	lps, err := LogPriceScatter(m, lp, 60000)
	require.NoError(t, err)
	assert.Equal(t, NameLogPriceScatter, lps.Name)

	h, err := CenteredHistogram(c)
	require.NoError(t, err)
	assert.Equal(t, NameCenteredHistogram, h.Name)
}

func TestDescriptiveFigures_Empty(t *testing.T) {
	_, err := PriceScatter(nil, nil, 1)
	assert.ErrorIs(t, err, ErrNoData)
	_, err = CenteredHistogram(nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestScatter_LengthMismatch(t *testing.T) {
	_, err := PriceScatter([]float64{1, 2}, []float64{1}, 1)
	assert.Error(t, err)
}

func TestRDPlot(t *testing.T) {
	_, _, lp, c := sample(300, 100000)
	bs, err := rdd.NewBinScatter(c, lp, rdd.DefaultPlotOrder)
	require.NoError(t, err)

	fig, err := RDPlot(NameRDPlotLogPrice, "log_price", bs, 100000)
	require.NoError(t, err)
	assert.Equal(t, NameRDPlotLogPrice, fig.Name)
	assert.Contains(t, fig.Title, "100000")

	_, err = RDPlot(NameRDPlotPrice, "price", nil, 100000)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestFigureSaveAndWrite(t *testing.T) {
	m, p, _, _ := sample(50, 60000)
	fig, err := PriceScatter(m, p, 60000)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "figs")
	for _, format := range []string{"png", "svg"} {
		path, err := fig.Save(dir, format)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, NamePriceScatter+"."+format), path)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	var buf bytes.Buffer
	n, err := fig.Render(&buf, "png")
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	_, err = fig.Save(dir, "gif")
	assert.Error(t, err)
	_, err = fig.Render(&buf, "bmp")
	assert.Error(t, err)
}
