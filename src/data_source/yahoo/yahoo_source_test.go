package yahoo

import (
	"context"
	"io"
	"testing"
	"time"

	"market-stream/src/config"
	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartFixture = `{
  "chart": {
    "result": [{
      "meta": {"currency": "USD", "symbol": "AAPL", "regularMarketPrice": 189.5, "chartPreviousClose": 185.0},
      "timestamp": [1700000300, 1700000000, 1700000600],
      "indicators": {"quote": [{
        "open":   [186.0, 185.5, 188.0],
        "high":   [187.0, 186.5, 190.0],
        "low":    [185.0, 184.0, 187.5],
        "close":  [186.5, 186.0, null],
        "volume": [1000, 2000, 500]
      }]}
    }],
    "error": null
  }
}`

type fakeNetwork struct {
	url    string
	params map[string]string
	body   []byte
	err    error
}

func (f *fakeNetwork) Get(_ context.Context, url string, params map[string]string) ([]byte, error) {
	f.url = url
	f.params = params
	return f.body, f.err
}

func newTestSource(net *fakeNetwork) *YahooFinanceSource {
	s := NewYahooFinanceSource(config.Defaults(), net, logger.NewWriterLogger(io.Discard, "ERROR", "yahoo-test"))
	s.now = func() time.Time { return time.Unix(1700001000, 0) }
	return s
}

func TestFetchQuote_ParsesChart(t *testing.T) {
	net := &fakeNetwork{body: []byte(chartFixture)}
	snap, err := newTestSource(net).FetchQuote(context.Background(), "aapl", models.KindStock)
	require.NoError(t, err)

	assert.Equal(t, "https://query1.finance.yahoo.com/v8/finance/chart/AAPL", net.url)
	assert.Equal(t, "5m", net.params["interval"])
	assert.Equal(t, "1d", net.params["range"])

	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, 189.5, snap.Price)
	// first bar after sorting opens at 185.5
	assert.Equal(t, 185.5, snap.Open)
	assert.Equal(t, 4.0, snap.Change)
	assert.InDelta(t, 2.1563, snap.ChangePercent, 1e-4)
	assert.Equal(t, 187.0, snap.High)
	assert.Equal(t, 184.0, snap.Low)
	assert.Equal(t, 1000.0, snap.Volume)
	require.Len(t, snap.ChartData, 2, "bar with a null close is dropped")
	assert.Equal(t, int64(1700000000), snap.ChartData[0].Time)
}

func TestFetchSeries_MapsTimeframe(t *testing.T) {
	net := &fakeNetwork{body: []byte(chartFixture)}
	snap, err := newTestSource(net).FetchSeries(context.Background(), "EURUSD", models.KindForex, "1h")
	require.NoError(t, err)

	assert.Contains(t, net.url, "/chart/EURUSD=X")
	assert.Equal(t, "60m", net.params["interval"])
	assert.Equal(t, "1h", snap.Timeframe)
	assert.Equal(t, "EURUSD", snap.Symbol)

	_, err = newTestSource(net).FetchSeries(context.Background(), "AAPL", models.KindStock, "7m")
	var fe *helpers.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestFetchQuote_UpstreamErrors(t *testing.T) {
	net := &fakeNetwork{body: []byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)}
	_, err := newTestSource(net).FetchQuote(context.Background(), "NOPE", models.KindStock)
	var fe *helpers.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "No data found")

	net = &fakeNetwork{err: helpers.NewRateLimitError("rate limited", nil)}
	_, err = newTestSource(net).FetchQuote(context.Background(), "AAPL", models.KindStock)
	var rl *helpers.RateLimitError
	assert.ErrorAs(t, err, &rl)
}

func TestUpstreamSymbol(t *testing.T) {
	assert.Equal(t, "EURUSD=X", UpstreamSymbol("eurusd", models.KindForex))
	assert.Equal(t, "EURUSD=X", UpstreamSymbol("EURUSD=X", models.KindForex))
	assert.Equal(t, "GC=F", UpstreamSymbol("gc=f", models.KindCommodity))
}
