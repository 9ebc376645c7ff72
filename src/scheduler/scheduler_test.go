package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-stream/src/cache"
	"market-stream/src/config"
	"market-stream/src/delta"
	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"
	"market-stream/src/server"
	"market-stream/src/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logger.Logger {
	return logger.NewWriterLogger(io.Discard, "ERROR", "scheduler-test")
}

// priceBoard serves quotes from a mutable price table. Missing symbols fail.
type priceBoard struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  atomic.Int32
}

func (b *priceBoard) set(symbol string, price float64) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

func (b *priceBoard) fetch(_ context.Context, key string) (*models.MSnapshot, error) {
	b.calls.Add(1)
	_, symbol, _ := cache.ParseKey(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.prices[symbol]
	if !ok {
		return nil, helpers.NewFetchError("no quote for "+symbol, nil)
	}
	return &models.MSnapshot{Symbol: symbol, Price: price, ChangePercent: 1, Volume: 10}, nil
}

// broadcastLog records what would have been sent.
type broadcastLog struct {
	mu    sync.Mutex
	ids   []string
	calls []broadcastCall
}

type broadcastCall struct {
	data    map[string]models.MDelta
	targets []string
}

func (l *broadcastLog) Broadcast(_ context.Context, message interface{}, targets []string) {
	msg := message.(*models.MOutbound)
	l.mu.Lock()
	l.calls = append(l.calls, broadcastCall{data: msg.Data.(map[string]models.MDelta), targets: targets})
	l.mu.Unlock()
}

func (l *broadcastLog) ClientIDs() []string { return l.ids }

type fixture struct {
	cfg   *models.MConfig
	board *priceBoard
	index *subscription.Index
	cache *cache.DataCache
	log   *broadcastLog
	sink  *metrics.PrometheusSink
	sched *BroadcastScheduler
}

func newFixture(filter bool) *fixture {
	cfg := config.Defaults()
	cfg.Scheduler.DefaultSymbols = []string{"AAPL", "BITCOIN"}
	cfg.Scheduler.FilterBySubscription = filter
	cfg.Scheduler.TickIntervalSeconds = 1
	cfg.Scheduler.RetryIntervalSeconds = 1

	f := &fixture{
		cfg:   cfg,
		board: &priceBoard{prices: map[string]float64{"AAPL": 190, "BITCOIN": 43000, "MSFT": 410}},
		index: subscription.NewIndex(),
		log:   &broadcastLog{},
		sink:  metrics.NewPrometheusSink(),
	}
	f.cache = cache.NewDataCache(cfg.Cache, nil, nil, f.sink, quietLogger())
	f.sched = NewBroadcastScheduler(cfg, f.cache, f.board.fetch, f.index, delta.NewComputer(), f.log, f.sink, quietLogger())
	return f
}

// expire forces the next tick to fetch again.
func (f *fixture) expire(symbols ...string) {
	for _, s := range symbols {
		f.cache.Delete(context.Background(), cache.QuoteKey(s))
	}
}

func TestTick_DefaultSymbolsWhenNobodySubscribed(t *testing.T) {
	f := newFixture(false)

	require.NoError(t, f.sched.Tick(context.Background()))

	require.Len(t, f.log.calls, 1)
	call := f.log.calls[0]
	assert.Nil(t, call.targets)
	assert.Equal(t, 190.0, call.data["AAPL"][models.FieldPrice])
	assert.Equal(t, 43000.0, call.data["BITCOIN"][models.FieldPrice])
	assert.Equal(t, int32(2), f.board.calls.Load())
}

func TestTick_UnchangedDataSendsNothing(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.sched.Tick(context.Background()))

	// Served from cache, so nothing differs
	require.NoError(t, f.sched.Tick(context.Background()))
	assert.Len(t, f.log.calls, 1)
	assert.Equal(t, int32(2), f.board.calls.Load())

	// Refetched with the same values
	f.expire("AAPL", "BITCOIN")
	require.NoError(t, f.sched.Tick(context.Background()))
	assert.Len(t, f.log.calls, 1)
}

func TestTick_OnlyChangedFieldsAreSent(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.sched.Tick(context.Background()))

	f.board.set("AAPL", 191)
	f.expire("AAPL", "BITCOIN")
	require.NoError(t, f.sched.Tick(context.Background()))

	require.Len(t, f.log.calls, 2)
	assert.Equal(t, map[string]models.MDelta{"AAPL": {models.FieldPrice: 191}}, f.log.calls[1].data)
}

func TestTick_SubscribedSymbolsReplaceDefaults(t *testing.T) {
	f := newFixture(false)
	f.index.Subscribe("c1", []string{"msft"})

	require.NoError(t, f.sched.Tick(context.Background()))

	require.Len(t, f.log.calls, 1)
	assert.Contains(t, f.log.calls[0].data, "MSFT")
	assert.NotContains(t, f.log.calls[0].data, "AAPL")
}

func TestTick_PartialFailureStillBroadcasts(t *testing.T) {
	f := newFixture(false)
	f.index.Subscribe("c1", []string{"AAPL", "UNKNOWN"})

	require.NoError(t, f.sched.Tick(context.Background()))

	require.Len(t, f.log.calls, 1)
	assert.Contains(t, f.log.calls[0].data, "AAPL")
	assert.Equal(t, 1, f.sched.Stats().LastFailures)
}

func TestTick_AllFailedIsAnError(t *testing.T) {
	f := newFixture(false)
	f.index.Subscribe("c1", []string{"NOPE"})

	err := f.sched.Tick(context.Background())

	assert.Error(t, err)
	assert.Empty(t, f.log.calls)
	assert.Equal(t, uint64(1), f.sched.Stats().Errors)
	assert.Equal(t, 1.0, f.sink.Snapshot()[metrics.TickErrors])
}

func TestTick_WorkingSetIsCapped(t *testing.T) {
	f := newFixture(false)
	f.cfg.Scheduler.MaxSymbolsPerTick = 1
	f.index.Subscribe("c1", []string{"AAPL", "MSFT"})

	require.NoError(t, f.sched.Tick(context.Background()))

	assert.Equal(t, int32(1), f.board.calls.Load())
	assert.Equal(t, 1, f.sched.Stats().LastSymbols)
}

func TestTick_FilteredBySubscription(t *testing.T) {
	f := newFixture(true)
	f.log.ids = []string{"c1", "c2", "c3", "c4"}
	f.index.Subscribe("c1", []string{"AAPL"})
	f.index.Subscribe("c2", []string{"MSFT"})
	f.index.Subscribe("c3", []string{"AAPL"})
	// c4 has no subscriptions and watches the defaults, of which only AAPL is refreshed

	require.NoError(t, f.sched.Tick(context.Background()))

	require.Len(t, f.log.calls, 2)
	byTargets := map[string]map[string]models.MDelta{}
	for _, call := range f.log.calls {
		for _, id := range call.targets {
			byTargets[id] = call.data
		}
	}
	assert.Equal(t, []string{"AAPL"}, keys(byTargets["c1"]))
	assert.Equal(t, []string{"AAPL"}, keys(byTargets["c3"]))
	assert.Equal(t, []string{"MSFT"}, keys(byTargets["c2"]))
	assert.Equal(t, []string{"AAPL"}, keys(byTargets["c4"]))
}

func TestTick_LateSubscriberGetsFullSnapshot(t *testing.T) {
	f := newFixture(true)
	f.log.ids = []string{"a", "b"}
	f.index.Subscribe("a", []string{"MSFT"})
	require.NoError(t, f.sched.Tick(context.Background()))
	require.Len(t, f.log.calls, 1)

	// b joins a symbol whose price has not moved since a got it
	f.index.Subscribe("b", []string{"MSFT"})
	f.expire("MSFT")
	require.NoError(t, f.sched.Tick(context.Background()))

	require.Len(t, f.log.calls, 2)
	call := f.log.calls[1]
	assert.Contains(t, call.targets, "b")
	assert.Equal(t, 410.0, call.data["MSFT"][models.FieldPrice])
	assert.Equal(t, 10.0, call.data["MSFT"][models.FieldVolume])

	// Same audience again: back to changed fields only
	f.expire("MSFT")
	require.NoError(t, f.sched.Tick(context.Background()))
	assert.Len(t, f.log.calls, 2)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(false)
	ctx, cancel := context.WithCancel(context.Background())

	go f.sched.Run(ctx)
	require.Eventually(t, func() bool { return f.sched.Stats().Ticks >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.True(t, f.sched.Wait(2*time.Second))
	assert.False(t, f.sched.LastTick().IsZero())
}

func keys(m map[string]models.MDelta) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// -----------------------------------------------------------------------------
// End to end through the real registry
// -----------------------------------------------------------------------------

type recordingTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	closeCode int
}

func (r *recordingTransport) WriteText(_ context.Context, data []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, data)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) Close(code int, _ string) error {
	r.mu.Lock()
	if r.closeCode == 0 {
		r.closeCode = code
	}
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) RemoteAddr() string { return "test" }

func (r *recordingTransport) updates(t *testing.T) []map[string]map[string]float64 {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []map[string]map[string]float64
	for _, frame := range r.frames {
		var msg struct {
			Type string                        `json:"type"`
			Data map[string]map[string]float64 `json:"data"`
		}
		require.NoError(t, json.Unmarshal(frame, &msg))
		if msg.Type == models.MessageUpdate {
			out = append(out, msg.Data)
		}
	}
	return out
}

func TestEndToEnd_ThreeClientsTwoSymbols(t *testing.T) {
	f := newFixture(false)
	registry := server.NewRegistry(f.cfg, f.index, f.sink, quietLogger())
	f.sched = NewBroadcastScheduler(f.cfg, f.cache, f.board.fetch, f.index, delta.NewComputer(), registry, f.sink, quietLogger())

	transports := make([]*recordingTransport, 3)
	for i := range transports {
		transports[i] = &recordingTransport{}
		_, err := registry.Accept(transports[i])
		require.NoError(t, err)
	}

	require.NoError(t, f.sched.Tick(context.Background()))

	for _, tr := range transports {
		updates := tr.updates(t)
		require.Len(t, updates, 1)
		assert.Equal(t, 190.0, updates[0]["AAPL"][models.FieldPrice])
		assert.Equal(t, 43000.0, updates[0]["BITCOIN"][models.FieldPrice])
	}
	assert.Equal(t, 3.0, f.sink.Snapshot()[metrics.MessagesSent])
}

func TestEndToEnd_CeilingSubscribeTickDisconnect(t *testing.T) {
	f := newFixture(true)
	f.cfg.Connections.MaxConnections = 2
	// B has no subscriptions and watches a default that is not refreshed this tick
	f.cfg.Scheduler.DefaultSymbols = []string{"MSFT"}
	f.board.prices = map[string]float64{"AAPL": 100, "BTC": 50000}

	registry := server.NewRegistry(f.cfg, f.index, f.sink, quietLogger())
	f.sched = NewBroadcastScheduler(f.cfg, f.cache, f.board.fetch, f.index, delta.NewComputer(), registry, f.sink, quietLogger())

	aTr, bTr, cTr := &recordingTransport{}, &recordingTransport{}, &recordingTransport{}
	a, err := registry.Accept(aTr)
	require.NoError(t, err)
	_, err = registry.Accept(bTr)
	require.NoError(t, err)

	_, err = registry.Accept(cTr)
	assert.ErrorIs(t, err, helpers.ErrServerBusy)
	assert.Equal(t, server.CloseTryAgainLate, cTr.closeCode)
	assert.Equal(t, 2, registry.Count())

	_, err = registry.Subscribe(a, []string{"aapl", "btc"})
	require.NoError(t, err)

	require.NoError(t, f.sched.Tick(context.Background()))

	updates := aTr.updates(t)
	require.Len(t, updates, 1)
	assert.Equal(t, 100.0, updates[0]["AAPL"][models.FieldPrice])
	assert.Equal(t, 50000.0, updates[0]["BTC"][models.FieldPrice])
	assert.Empty(t, bTr.updates(t))

	registry.Remove(a)

	assert.Empty(t, f.index.SubscribersOf("aapl"))
	assert.NotContains(t, f.index.AllSubscribedSymbols(), "AAPL")
	assert.Equal(t, 0, f.index.Stats().Symbols)
	assert.Equal(t, 1, registry.Count())
}
