package datasource

import (
	"context"
	"testing"

	"market-stream/src/analysis"
	"market-stream/src/cache"
	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chartSource returns a rising series of n bars.
type chartSource struct {
	stubSource
	n int
}

func (s *chartSource) FetchSeries(_ context.Context, symbol string, _ models.AssetKind, timeframe string) (*models.MSnapshot, error) {
	points := make([]models.MChartPoint, s.n)
	for i := range points {
		price := 100 + float64(i)
		points[i] = models.MChartPoint{Time: int64(i * 60), Open: price, High: price, Low: price, Close: price}
	}
	return &models.MSnapshot{Symbol: symbol, Timeframe: timeframe, ChartData: points}, nil
}

func TestKeyFetcher_RoutesByKeyKind(t *testing.T) {
	m, stocks, _ := newTestManager()
	fetch := KeyFetcher(m, nil)

	quote, err := fetch(context.Background(), cache.QuoteKey("aapl"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote.Symbol)

	series, err := fetch(context.Background(), cache.SeriesKey("AAPL", "1h"))
	require.NoError(t, err)
	assert.Equal(t, "1h", series.Timeframe)
	assert.Equal(t, []string{"AAPL", "AAPL@1h"}, stocks.calls)
}

func TestKeyFetcher_AttachesIndicatorsToSeries(t *testing.T) {
	fetch := KeyFetcher(&chartSource{n: 30}, analysis.IndicatorComputer{})

	snap, err := fetch(context.Background(), cache.SeriesKey("AAPL", "5m"))
	require.NoError(t, err)

	assert.Contains(t, snap.Indicators, "rsi")
	assert.Contains(t, snap.Indicators, "macd")
	assert.Equal(t, 100.0, snap.Indicators["rsi"])
}

func TestKeyFetcher_RejectsMalformedKeys(t *testing.T) {
	fetch := KeyFetcher(&chartSource{}, nil)

	_, err := fetch(context.Background(), "bogus")
	assert.ErrorContains(t, err, "malformed cache key")
}
