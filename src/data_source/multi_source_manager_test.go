package datasource

import (
	"context"
	"io"
	"testing"

	"market-stream/src/config"
	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name  string
	fail  bool
	calls []string
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchQuote(_ context.Context, symbol string, kind models.AssetKind) (*models.MSnapshot, error) {
	s.calls = append(s.calls, symbol)
	if s.fail {
		return nil, helpers.NewFetchError("upstream down", nil)
	}
	return &models.MSnapshot{Symbol: symbol, Price: 1}, nil
}

func (s *stubSource) FetchSeries(_ context.Context, symbol string, kind models.AssetKind, timeframe string) (*models.MSnapshot, error) {
	s.calls = append(s.calls, symbol+"@"+timeframe)
	if s.fail {
		return nil, helpers.NewFetchError("upstream down", nil)
	}
	return &models.MSnapshot{Symbol: symbol, Timeframe: timeframe}, nil
}

func newTestManager() (*MultiSourceManager, *stubSource, *stubSource) {
	m := NewMultiSourceManager(config.DefaultInstruments(), logger.NewWriterLogger(io.Discard, "ERROR", "sources-test"))
	stocks := &stubSource{name: "yahoo"}
	crypto := &stubSource{name: "coingecko"}
	m.SetSource(models.KindStock, stocks)
	m.SetSource(models.KindForex, stocks)
	m.SetSource(models.KindCommodity, stocks)
	m.SetSource(models.KindCrypto, crypto)
	return m, stocks, crypto
}

func TestFetchQuote_RoutesByKind(t *testing.T) {
	m, stocks, crypto := newTestManager()

	snap, err := m.FetchQuote(context.Background(), "bitcoin", "")
	require.NoError(t, err)
	assert.Equal(t, "BITCOIN", snap.Symbol)
	assert.Equal(t, "Bitcoin", snap.Name)
	assert.Equal(t, models.KindCrypto, snap.Kind)
	assert.Equal(t, []string{"bitcoin"}, crypto.calls, "crypto uses the provider id")

	_, err = m.FetchQuote(context.Background(), "EURUSD", "")
	require.NoError(t, err)
	_, err = m.FetchSeries(context.Background(), "AAPL", "", "1h")
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD=X", "AAPL@1h"}, stocks.calls)
}

func TestFetchQuote_FallsBackToMock(t *testing.T) {
	m, stocks, _ := newTestManager()
	stocks.fail = true

	_, err := m.FetchQuote(context.Background(), "AAPL", "")
	var fe *helpers.FetchError
	assert.ErrorAs(t, err, &fe, "no fallback configured")

	fallback := &stubSource{name: "mock"}
	m.Fallback = fallback
	snap, err := m.FetchQuote(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, []string{"AAPL"}, fallback.calls)
}

func TestResolve(t *testing.T) {
	m, _, _ := newTestManager()

	inst, ok := m.Resolve(" gc=f ")
	assert.True(t, ok)
	assert.Equal(t, models.KindCommodity, inst.Kind)

	inst, ok = m.Resolve("ibm")
	assert.False(t, ok)
	assert.Equal(t, "IBM", inst.Symbol)
	assert.Equal(t, models.KindStock, inst.Kind)

	assert.Len(t, m.Instruments(), len(config.DefaultInstruments()))
}

func TestNewFromConfig_MockProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataSource.Provider = "mock"
	m := NewFromConfig(cfg, nil, logger.NewWriterLogger(io.Discard, "ERROR", "sources-test"))

	snap, err := m.FetchQuote(context.Background(), "ETHEREUM", "")
	require.NoError(t, err)
	assert.Equal(t, "ETHEREUM", snap.Symbol)
	assert.InEpsilon(t, 3000, snap.Price, 0.01)
}
