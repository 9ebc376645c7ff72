package coingecko

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"market-stream/src/config"
	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routedNetwork struct {
	routes map[string]string
	calls  []string
}

func (r *routedNetwork) Get(_ context.Context, url string, params map[string]string) ([]byte, error) {
	r.calls = append(r.calls, url)
	for suffix, body := range r.routes {
		if strings.HasSuffix(url, suffix) {
			return []byte(body), nil
		}
	}
	return nil, helpers.NewFetchError("bad status: 404", nil)
}

func newTestSource(net *routedNetwork) *CoinGeckoSource {
	s := NewCoinGeckoSource(config.Defaults(), net, logger.NewWriterLogger(io.Discard, "ERROR", "coingecko-test"))
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

const priceBody = `{"bitcoin":{"usd":44000,"usd_24h_change":10,"usd_24h_vol":25000000000,"usd_market_cap":860000000000}}`

const chartBody = `{
  "prices": [[1700000000000, 43000], [1700000300000, 43500], [1700003600000, 44000]],
  "total_volumes": [[1700000000000, 100], [1700000300000, 50], [1700003600000, 75]]
}`

func TestFetchQuote(t *testing.T) {
	net := &routedNetwork{routes: map[string]string{"/simple/price": priceBody, "/market_chart": chartBody}}
	snap, err := newTestSource(net).FetchQuote(context.Background(), "Bitcoin", models.KindCrypto)
	require.NoError(t, err)

	assert.Equal(t, "BITCOIN", snap.Symbol)
	assert.Equal(t, 44000.0, snap.Price)
	assert.Equal(t, 10.0, snap.ChangePercent)
	assert.InDelta(t, 4000, snap.Change, 1e-6)
	assert.Equal(t, 860000000000.0, snap.MarketCap)
	assert.Len(t, snap.ChartData, 3)
	assert.Zero(t, snap.Open, "crypto quotes carry no session open")
}

func TestFetchQuote_ChartFailureKeepsQuote(t *testing.T) {
	net := &routedNetwork{routes: map[string]string{"/simple/price": priceBody}}
	snap, err := newTestSource(net).FetchQuote(context.Background(), "bitcoin", models.KindCrypto)
	require.NoError(t, err)
	assert.Empty(t, snap.ChartData)
}

func TestFetchQuote_UnknownCoin(t *testing.T) {
	net := &routedNetwork{routes: map[string]string{"/simple/price": `{}`}}
	_, err := newTestSource(net).FetchQuote(context.Background(), "nocoin", models.KindCrypto)
	var fe *helpers.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestFetchSeries_ResamplesHourly(t *testing.T) {
	net := &routedNetwork{routes: map[string]string{"/market_chart": chartBody}}
	snap, err := newTestSource(net).FetchSeries(context.Background(), "bitcoin", models.KindCrypto, "1h")
	require.NoError(t, err)

	require.Len(t, snap.ChartData, 2)
	assert.Equal(t, 43500.0, snap.ChartData[0].Close)
	assert.Equal(t, 150.0, snap.ChartData[0].Volume)
	assert.Equal(t, 44000.0, snap.Price)
	assert.Equal(t, "1h", snap.Timeframe)
}
