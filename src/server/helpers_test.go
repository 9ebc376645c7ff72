package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"market-stream/src/cache"
	"market-stream/src/config"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"
	"market-stream/src/subscription"

	"github.com/stretchr/testify/require"
)

func testConfig() *models.MConfig {
	cfg := config.Defaults()
	cfg.Connections.MaxConnections = 3
	cfg.Connections.SendTimeoutMillis = 50
	cfg.Connections.BroadcastBatchSize = 2
	cfg.Connections.BatchPauseMillis = 1
	cfg.Connections.ShutdownNoticeDelayMs = 0
	cfg.Scheduler.DefaultSymbols = []string{"AAPL", "BITCOIN"}
	return cfg
}

func quietLogger() *logger.Logger {
	return logger.NewWriterLogger(io.Discard, "ERROR", "server-test")
}

// -----------------------------------------------------------------------------

// fakeTransport records every frame. Like the websocket transport it refuses to
// write on a done context. fail makes writes error; block makes them wait for the
// send deadline.
type fakeTransport struct {
	mu         sync.Mutex
	frames     [][]byte
	closed     bool
	closeCode  int
	closeText  string
	closeCalls int
	fail       bool
	block      bool
}

func (f *fakeTransport) WriteText(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	fail, block, closed := f.fail, f.block, f.closed
	f.mu.Unlock()

	switch {
	case closed:
		return errors.New("use of closed connection")
	case fail:
		return errors.New("broken pipe")
	case block:
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		f.closed = true
		f.closeCode = code
		f.closeText = reason
	}
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "10.0.0.1:5555" }

func (f *fakeTransport) messages(t *testing.T) []models.MOutbound {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.MOutbound, 0, len(f.frames))
	for _, frame := range f.frames {
		var msg models.MOutbound
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakeTransport) last(t *testing.T) models.MOutbound {
	t.Helper()
	msgs := f.messages(t)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) rawFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

// -----------------------------------------------------------------------------

type testEnv struct {
	cfg      *models.MConfig
	index    *subscription.Index
	sink     *metrics.PrometheusSink
	registry *Registry
}

func newTestEnv() *testEnv {
	cfg := testConfig()
	index := subscription.NewIndex()
	sink := metrics.NewPrometheusSink()
	return &testEnv{
		cfg:      cfg,
		index:    index,
		sink:     sink,
		registry: NewRegistry(cfg, index, sink, quietLogger()),
	}
}

func (e *testEnv) newServer(fetch cache.FetchFunc) *FastAPIServer {
	return NewFastAPIServer(e.cfg, quietLogger(), Deps{
		Registry:      e.registry,
		Subscriptions: e.index,
		Cache:         cache.NewDataCache(e.cfg.Cache, nil, nil, e.sink, quietLogger()),
		Fetch:         fetch,
		Metrics:       e.sink,
	})
}

func (e *testEnv) accept(t *testing.T) (*Client, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	c, err := e.registry.Accept(tr)
	require.NoError(t, err)
	return c, tr
}
