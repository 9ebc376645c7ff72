package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"
	"market-stream/src/subscription"

	"github.com/google/uuid"
)

const defaultTimeframe = "5m"

var _ interfaces.IDataExchanger = (*Registry)(nil)

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry owns every live client and its transport.
type Registry struct {
	Config        *models.MConfig
	Logger        *logger.Logger
	metrics       interfaces.IMetricsSink
	subscriptions interfaces.ISubscriptionWriter
	mu            sync.RWMutex
	clients       map[string]*Client
	shuttingDown  atomic.Bool
	now           func() time.Time
}

// -----------------------------------------------------------------------------

func NewRegistry(cfg *models.MConfig, subs interfaces.ISubscriptionWriter, sink interfaces.IMetricsSink, l *logger.Logger) *Registry {
	if sink == nil {
		sink = metrics.Noop{}
	}
	if subs == nil {
		subs = subscription.NewIndex()
	}
	return &Registry{
		Config:        cfg,
		Logger:        l,
		metrics:       sink,
		subscriptions: subs,
		clients:       make(map[string]*Client),
		now:           time.Now,
	}
}

// -----------------------------------------------------------------------------

// Accept admits transport as a new live client, or closes it with "server busy"
// when the ceiling is reached.
func (r *Registry) Accept(transport interfaces.ITransport) (*Client, error) {
	if r.shuttingDown.Load() {
		r.metrics.Increment(metrics.ConnectionsRejected)
		_ = transport.Close(CloseGoingAway, "Server shutting down")
		return nil, helpers.ErrShuttingDown
	}

	now := r.now()
	client := newClient(uuid.NewString(), transport, now, r.defaultTimeframe())

	r.mu.Lock()
	if len(r.clients) >= r.Config.Connections.MaxConnections {
		active := len(r.clients)
		r.mu.Unlock()
		r.metrics.Increment(metrics.ConnectionsRejected)
		_ = transport.Close(CloseTryAgainLate, "Server busy")
		r.Logger.Warning("Rejected connection from %s: %d/%d clients", transport.RemoteAddr(), active, r.Config.Connections.MaxConnections)
		return nil, helpers.ErrServerBusy
	}
	r.clients[client.ID] = client
	client.state.Store(int32(StateLive))
	active := len(r.clients)
	r.mu.Unlock()

	r.metrics.Increment(metrics.ConnectionsAccepted)
	r.metrics.Increment(metrics.ActiveConnections)
	r.Logger.Info("Client %s connected from %s (%d active)", client.ID, transport.RemoteAddr(), active)
	return client, nil
}

// -----------------------------------------------------------------------------

// Remove closes and forgets client. Safe to call any number of times.
func (r *Registry) Remove(client *Client) {
	r.removeWithReason(client, CloseNormal, "")
}

// -----------------------------------------------------------------------------

func (r *Registry) removeWithReason(client *Client, code int, reason string) {
	if client == nil {
		return
	}

	// Subscription edits take the same lock, so none can land after the cleanup.
	client.mu.Lock()
	if !client.transition(StateLive, StateClosing) && !client.transition(StateConnecting, StateClosing) {
		client.mu.Unlock()
		return
	}
	r.subscriptions.UnsubscribeAll(client.ID)
	client.mu.Unlock()

	r.mu.Lock()
	delete(r.clients, client.ID)
	active := len(r.clients)
	r.mu.Unlock()

	if err := client.transport.Close(code, reason); err != nil {
		r.Logger.Debug("Closing transport of %s: %v", client.ID, err)
	}
	client.state.Store(int32(StateRemoved))
	close(client.done)

	r.metrics.Increment(metrics.ConnectionsClosed)
	r.metrics.Decrement(metrics.ActiveConnections)
	r.Logger.Info("Client %s disconnected (%d active)", client.ID, active)
}

// -----------------------------------------------------------------------------

// TouchHeartbeat marks client as alive now. No-op once it has been removed.
func (r *Registry) TouchHeartbeat(client *Client) {
	if client != nil && client.IsLive() {
		client.lastHeartbeat.Store(r.now().UnixNano())
	}
}

// -----------------------------------------------------------------------------

// Subscribe adds symbols to a live client's subscriptions and returns the resulting set.
func (r *Registry) Subscribe(client *Client, symbols []string) ([]string, error) {
	return r.editSubscriptions(client, func(id string) { r.subscriptions.Subscribe(id, symbols) })
}

// -----------------------------------------------------------------------------

// Unsubscribe removes symbols from a live client's subscriptions and returns the resulting set.
func (r *Registry) Unsubscribe(client *Client, symbols []string) ([]string, error) {
	return r.editSubscriptions(client, func(id string) { r.subscriptions.Unsubscribe(id, symbols) })
}

// -----------------------------------------------------------------------------

func (r *Registry) editSubscriptions(client *Client, edit func(id string)) ([]string, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if !client.IsLive() {
		return nil, helpers.ErrNotRegistered
	}
	edit(client.ID)

	if reader, ok := r.subscriptions.(interfaces.ISubscriptionReader); ok {
		return reader.SubscriptionsOf(client.ID), nil
	}
	return nil, nil
}

// -----------------------------------------------------------------------------

// Send delivers message to one client. A failed send removes the client, unless
// the failure comes from ctx itself being done.
func (r *Registry) Send(ctx context.Context, client *Client, message interface{}) error {
	data, err := encode(message)
	if err != nil {
		return err
	}
	return r.sendRaw(ctx, client, data)
}

// -----------------------------------------------------------------------------

func (r *Registry) sendRaw(ctx context.Context, client *Client, data []byte) error {
	if !client.IsLive() {
		return helpers.ErrNotRegistered
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.Config.Connections.SendTimeout())
	defer cancel()

	if err := client.transport.WriteText(sendCtx, data); err != nil {
		// Caller gave up, the client did nothing wrong
		if ctx.Err() != nil {
			r.Logger.Debug("Send to %s abandoned: %v", client.ID, ctx.Err())
			return ctx.Err()
		}
		r.metrics.Increment(metrics.MessagesFailed)
		r.Logger.Debug("Send to %s failed: %v", client.ID, err)
		r.removeWithReason(client, CloseGoingAway, "Send failed")
		return err
	}

	r.metrics.Increment(metrics.MessagesSent)
	r.TouchHeartbeat(client)
	return nil
}

// -----------------------------------------------------------------------------

// Broadcast sends message to targets (nil means every live client). The message is
// serialized once and sent in concurrent batches; clients that fail are removed.
func (r *Registry) Broadcast(ctx context.Context, message interface{}, targets []string) {
	data, err := encode(message)
	if err != nil {
		r.Logger.Error("Broadcast dropped, cannot encode message: %v", err)
		return
	}

	clients := r.resolveTargets(targets)
	if len(clients) == 0 {
		return
	}

	batchSize := r.Config.Connections.BroadcastBatchSize
	if batchSize <= 0 {
		batchSize = len(clients)
	}

	var failed atomic.Int32
	for start := 0; start < len(clients); start += batchSize {
		end := min(start+batchSize, len(clients))

		var wg sync.WaitGroup
		for _, client := range clients[start:end] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.sendRaw(ctx, client, data); err != nil && ctx.Err() == nil {
					failed.Add(1)
				}
			}()
		}
		wg.Wait()

		if end < len(clients) {
			select {
			case <-ctx.Done():
				r.Logger.Warning("Broadcast interrupted after %d/%d clients", end, len(clients))
				return
			case <-time.After(r.Config.Connections.BatchPause()):
			}
		}
	}

	if n := failed.Load(); n > 0 {
		r.Logger.Warning("Broadcast to %d clients: %d failed and were removed", len(clients), n)
	}
}

// -----------------------------------------------------------------------------

func (r *Registry) resolveTargets(targets []string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if targets == nil {
		out := make([]*Client, 0, len(r.clients))
		for _, c := range r.clients {
			out = append(out, c)
		}
		return out
	}

	out := make([]*Client, 0, len(targets))
	for _, id := range targets {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// SweepIdle removes every client whose last heartbeat is older than maxIdle and returns their ids.
func (r *Registry) SweepIdle(maxIdle time.Duration) []string {
	if r.shuttingDown.Load() {
		return nil
	}

	now := r.now()
	var stale []*Client
	for _, c := range r.Clients() {
		if now.Sub(c.LastHeartbeat()) > maxIdle {
			stale = append(stale, c)
		}
	}

	ids := make([]string, 0, len(stale))
	for _, c := range stale {
		r.Logger.Info("Client %s idle since %s, disconnecting", c.ID, c.LastHeartbeat().Format(time.RFC3339))
		r.removeWithReason(c, CloseGoingAway, "Idle timeout")
		ids = append(ids, c.ID)
	}
	return ids
}

// -----------------------------------------------------------------------------

// RunSweeper calls SweepIdle on the configured period until ctx is done or shutdown starts.
func (r *Registry) RunSweeper(ctx context.Context) {
	defer r.Logger.RecoverPanic("idle sweeper")

	ticker := time.NewTicker(r.Config.Connections.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.shuttingDown.Load() {
				return
			}
			if removed := r.SweepIdle(r.Config.Connections.IdleTimeout()); len(removed) > 0 {
				r.Logger.Info("Idle sweep removed %d clients", len(removed))
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Shutdown notifies every client, then removes them all. Send failures are ignored.
func (r *Registry) Shutdown(ctx context.Context) {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	clients := r.Clients()
	r.Logger.Info("Shutting down, notifying %d clients", len(clients))

	notice := models.NewOutbound(models.MessageSystem)
	notice.Message = "Server shutting down"
	data, _ := encode(notice)

	delay := r.Config.Connections.ShutdownNoticeDelay()
	for i, c := range clients {
		if c.IsLive() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.Config.Connections.SendTimeout())
			_ = c.transport.WriteText(sendCtx, data)
			cancel()
		}
		r.removeWithReason(c, CloseGoingAway, "Server shutting down")

		if i < len(clients)-1 && delay > 0 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	r.Logger.Info("Shutdown complete. %d clients disconnected", len(clients))
}

// -----------------------------------------------------------------------------

// Get returns the live client with id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// -----------------------------------------------------------------------------

// Clients returns the live clients ordered by connect time.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// -----------------------------------------------------------------------------

func (r *Registry) ClientIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// -----------------------------------------------------------------------------

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// -----------------------------------------------------------------------------

func (r *Registry) Stats() models.MRegistryStats {
	return models.MRegistryStats{
		ActiveConnections: r.Count(),
		MaxConnections:    r.Config.Connections.MaxConnections,
		ShuttingDown:      r.shuttingDown.Load(),
	}
}

// -----------------------------------------------------------------------------

// ShuttingDown reports whether Shutdown has started.
func (r *Registry) ShuttingDown() bool {
	return r.shuttingDown.Load()
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// -----------------------------------------------------------------------------

func (r *Registry) defaultTimeframe() string {
	for _, tf := range r.Config.Timeframes {
		if tf == defaultTimeframe {
			return tf
		}
	}
	if len(r.Config.Timeframes) > 0 {
		return r.Config.Timeframes[0]
	}
	return defaultTimeframe
}

// -----------------------------------------------------------------------------

func encode(message interface{}) ([]byte, error) {
	if raw, ok := message.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(message)
}
