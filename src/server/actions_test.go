package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"market-stream/src/cache"
	"market-stream/src/helpers"
	"market-stream/src/metrics"
	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seriesFetcher answers every key with a snapshot priced 100, except symbols in failing.
func seriesFetcher(calls *atomic.Int32, failing ...string) cache.FetchFunc {
	return func(_ context.Context, key string) (*models.MSnapshot, error) {
		calls.Add(1)
		_, symbol, tf := cache.ParseKey(key)
		for _, f := range failing {
			if f == symbol {
				return nil, helpers.NewFetchError("upstream down", nil)
			}
		}
		return &models.MSnapshot{Symbol: symbol, Price: 100, Timeframe: tf}, nil
	}
}

func dataOf(t *testing.T, msg models.MOutbound) map[string]json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    clientAction
		wantErr bool
	}{
		{"heartbeat", `{"action":"heartbeat"}`, heartbeatAction{}, false},
		{"subscribe normalizes", `{"action":"subscribe","symbols":[" aapl","AAPL","msft",""]}`, subscribeAction{Symbols: []string{"AAPL", "MSFT"}}, false},
		{"unsubscribe single symbol", `{"action":"unsubscribe","symbol":"tsla"}`, unsubscribeAction{Symbols: []string{"TSLA"}}, false},
		{"add asset", `{"action":"add_asset","symbol":"btc"}`, addAssetAction{Symbol: "BTC"}, false},
		{"remove asset", `{"action":"remove_asset","symbol":"AAPL"}`, removeAssetAction{Symbol: "AAPL"}, false},
		{"set timeframe", `{"action":"set_timeframe","timeframe":"1h"}`, setTimeframeAction{Timeframe: "1h"}, false},
		{"refresh all", `{"action":"refresh"}`, refreshAction{Symbols: []string{}}, false},
		{"malformed json", `{"action":`, nil, true},
		{"missing action", `{}`, nil, true},
		{"unknown action", `{"action":"buy"}`, nil, true},
		{"subscribe without symbols", `{"action":"subscribe"}`, nil, true},
		{"add asset without symbol", `{"action":"add_asset"}`, nil, true},
		{"set timeframe without value", `{"action":"set_timeframe"}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAction([]byte(tt.raw))
			if tt.wantErr {
				var protoErr *helpers.ProtocolError
				assert.True(t, errors.As(err, &protoErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleClientMessage_Heartbeat(t *testing.T) {
	env := newTestEnv()
	srv := env.newServer(seriesFetcher(new(atomic.Int32)))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"heartbeat"}`))

	assert.Equal(t, models.MessageHeartbeatResponse, tr.last(t).Type)
}

func TestHandleClientMessage_SubscribeRepliesWatchlist(t *testing.T) {
	env := newTestEnv()
	srv := env.newServer(seriesFetcher(new(atomic.Int32)))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"subscribe","symbols":["msft","aapl"]}`))
	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"unsubscribe","symbols":["MSFT"]}`))

	msgs := tr.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.MessageWatchlist, msgs[0].Type)
	assert.JSONEq(t, `{"symbols":["AAPL","MSFT"]}`, mustJSON(t, msgs[0].Data))
	assert.Equal(t, models.MessageUpdate, msgs[1].Type)
	assert.Equal(t, models.MessageWatchlist, msgs[2].Type)
	assert.JSONEq(t, `{"symbols":["AAPL"]}`, mustJSON(t, msgs[2].Data))
	assert.Equal(t, []string{c.ID}, env.index.SubscribersOf("AAPL"))
}

func TestHandleClientMessage_SubscribeSendsFullSnapshotOfNewSymbols(t *testing.T) {
	env := newTestEnv()
	var calls atomic.Int32
	srv := env.newServer(seriesFetcher(&calls))
	first, _ := env.accept(t)
	late, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), first, []byte(`{"action":"subscribe","symbols":["msft"]}`))
	srv.HandleClientMessage(context.Background(), late, []byte(`{"action":"subscribe","symbols":["msft"]}`))

	msgs := tr.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageUpdate, msgs[1].Type)

	var snap models.MSnapshot
	require.NoError(t, json.Unmarshal(dataOf(t, msgs[1])["MSFT"], &snap))
	assert.Equal(t, 100.0, snap.Price)
	// Second subscriber is served from the cache
	assert.Equal(t, int32(1), calls.Load())

	// Subscribing again to a symbol already held sends only the watchlist
	srv.HandleClientMessage(context.Background(), late, []byte(`{"action":"subscribe","symbols":["MSFT"]}`))
	msgs = tr.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.MessageWatchlist, msgs[2].Type)
}

func TestHandleClientMessage_RefreshIsCapped(t *testing.T) {
	env := newTestEnv()
	env.cfg.Scheduler.MaxSymbolsPerTick = 2
	var calls atomic.Int32
	srv := env.newServer(seriesFetcher(&calls))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"refresh","symbols":["a1","a2","a3","a4"]}`))

	data := dataOf(t, tr.last(t))
	assert.Len(t, data, 2)
	assert.Contains(t, data, "A1")
	assert.Contains(t, data, "A2")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHandleClientMessage_AddAssetSendsSeries(t *testing.T) {
	env := newTestEnv()
	var calls atomic.Int32
	srv := env.newServer(seriesFetcher(&calls))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"add_asset","symbol":"nvda"}`))

	msgs := tr.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageWatchlist, msgs[0].Type)
	assert.Equal(t, models.MessageUpdate, msgs[1].Type)

	var snap models.MSnapshot
	require.NoError(t, json.Unmarshal(dataOf(t, msgs[1])["NVDA"], &snap))
	assert.Equal(t, 100.0, snap.Price)
	assert.Equal(t, "5m", snap.Timeframe)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandleClientMessage_SetTimeframe(t *testing.T) {
	env := newTestEnv()
	srv := env.newServer(seriesFetcher(new(atomic.Int32)))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"set_timeframe","timeframe":"1h"}`))

	assert.Equal(t, "1h", c.Timeframe())
	msgs := tr.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageNotification, msgs[0].Type)

	// No subscriptions: the default symbols are sent
	data := dataOf(t, msgs[1])
	assert.Contains(t, data, "AAPL")
	assert.Contains(t, data, "BITCOIN")
}

func TestHandleClientMessage_UnsupportedTimeframe(t *testing.T) {
	env := newTestEnv()
	srv := env.newServer(seriesFetcher(new(atomic.Int32)))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"set_timeframe","timeframe":"7m"}`))

	msg := tr.last(t)
	assert.Equal(t, models.MessageError, msg.Type)
	assert.Contains(t, msg.Message, "7m")
	assert.Equal(t, "5m", c.Timeframe())
	assert.True(t, c.IsLive())
}

func TestHandleClientMessage_RefreshReportsPerSymbolErrors(t *testing.T) {
	env := newTestEnv()
	srv := env.newServer(seriesFetcher(new(atomic.Int32), "BROKEN"))
	c, tr := env.accept(t)

	srv.HandleClientMessage(context.Background(), c, []byte(`{"action":"refresh","symbols":["AAPL","BROKEN"]}`))

	data := dataOf(t, tr.last(t))
	var placeholder map[string]string
	require.NoError(t, json.Unmarshal(data["BROKEN"], &placeholder))
	assert.Equal(t, "BROKEN", placeholder["symbol"])
	assert.Equal(t, "error", placeholder["type"])
	assert.Contains(t, placeholder["error"], "upstream down")

	var snap models.MSnapshot
	require.NoError(t, json.Unmarshal(data["AAPL"], &snap))
	assert.Equal(t, 100.0, snap.Price)
}

func TestHandleClientMessage_BadInputKeepsConnection(t *testing.T) {
	env := newTestEnv()
	srv := env.newServer(seriesFetcher(new(atomic.Int32)))
	c, tr := env.accept(t)

	for _, raw := range []string{`not json`, `{"action":"sell"}`, `{"action":"subscribe"}`} {
		srv.HandleClientMessage(context.Background(), c, []byte(raw))
		assert.Equal(t, models.MessageError, tr.last(t).Type)
	}

	assert.True(t, c.IsLive())
	assert.False(t, tr.closed)
	assert.Equal(t, 3.0, env.sink.Snapshot()[metrics.ProtocolErrors])
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
