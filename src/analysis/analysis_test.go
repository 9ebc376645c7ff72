package analysis

import (
	"testing"

	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closesToPoints(closes []float64) []models.MChartPoint {
	points := make([]models.MChartPoint, len(closes))
	for i, c := range closes {
		points[i] = models.MChartPoint{Time: int64(i * 60), Open: c, High: c, Low: c, Close: c}
	}
	return points
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	rsi, ok := RSI(rising, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, rsi)

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 10
	}
	rsi, ok = RSI(flat, 14)
	require.True(t, ok)
	assert.Equal(t, 50.0, rsi)

	// Alternating +2 / -1 gives gains 14, losses 7 over 14 changes
	alt := []float64{100}
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			alt = append(alt, alt[len(alt)-1]+2)
		} else {
			alt = append(alt, alt[len(alt)-1]-1)
		}
	}
	rsi, ok = RSI(alt, 14)
	require.True(t, ok)
	assert.InDelta(t, 66.6667, rsi, 0.001)

	_, ok = RSI(rising[:10], 14)
	assert.False(t, ok)
}

func TestSMAAndBollinger(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = float64(i + 1)
	}

	sma, ok := SMA(closes, 20)
	require.True(t, ok)
	assert.InDelta(t, 15.5, sma, 1e-9)

	upper, middle, lower, ok := Bollinger(closes, 20, 2)
	require.True(t, ok)
	assert.InDelta(t, 15.5, middle, 1e-9)
	assert.InDelta(t, upper-middle, middle-lower, 1e-9)
	// sample std of 20 consecutive integers is sqrt(35)
	assert.InDelta(t, 2*5.9160797831, upper-middle, 1e-6)
}

func TestEMAAndMACD(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 42
	}
	assert.InDelta(t, 42, EMA(flat, 12), 1e-9)

	macd, signal, hist := MACD(flat, 12, 26, 9)
	assert.InDelta(t, 0, macd, 1e-9)
	assert.InDelta(t, 0, signal, 1e-9)
	assert.InDelta(t, 0, hist, 1e-9)

	assert.InDelta(t, 2.0, EMA([]float64{1, 3}, 3), 1e-9)
}

func TestCompute_ShortSeriesYieldsSmallerMap(t *testing.T) {
	var ic IndicatorComputer

	assert.Empty(t, ic.Compute(nil))

	short := ic.Compute(closesToPoints([]float64{1, 2, 3, 4, 5}))
	assert.Contains(t, short, "ema_12")
	assert.NotContains(t, short, "rsi")
	assert.NotContains(t, short, "macd")

	long := make([]float64, 40)
	for i := range long {
		long[i] = float64(100 + i%5)
	}
	full := ic.Compute(closesToPoints(long))
	for _, key := range []string{"rsi", "sma_20", "ema_12", "macd", "bollinger_bands"} {
		assert.Contains(t, full, key)
	}
}

func TestResample_AggregatesIntoBars(t *testing.T) {
	points := []models.MChartPoint{
		{Time: 0, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: 60, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 50},
		{Time: 300, Open: 11, High: 11.5, Low: 8, Close: 9, Volume: 25},
	}

	var r TimeSeriesResampler
	bars := r.Resample(points, 300)
	require.Len(t, bars, 2)

	assert.Equal(t, models.MChartPoint{Time: 0, Open: 10, High: 12, Low: 9, Close: 11, Volume: 150}, bars[0])
	assert.Equal(t, models.MChartPoint{Time: 300, Open: 11, High: 11.5, Low: 8, Close: 9, Volume: 25}, bars[1])
}

func TestDownsample(t *testing.T) {
	points := closesToPoints(make([]float64, 250))
	out := Downsample(points, 100)
	assert.Len(t, out, 100)
	assert.Equal(t, int64(0), out[0].Time)
	assert.Equal(t, int64(2*60), out[1].Time)

	assert.Len(t, Downsample(points[:50], 100), 50)
}

func TestTimeframeSeconds(t *testing.T) {
	cases := map[string]int64{"1m": 60, "5m": 300, "1h": 3600, "4h": 14400, "1d": 86400, "1w": 604800}
	for tf, want := range cases {
		got, ok := TimeframeSeconds(tf)
		assert.True(t, ok, tf)
		assert.Equal(t, want, got, tf)
	}

	_, ok := TimeframeSeconds("soon")
	assert.False(t, ok)
	_, ok = TimeframeSeconds("0d")
	assert.False(t, ok)
}
