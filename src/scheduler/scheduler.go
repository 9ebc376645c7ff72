package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/cache"
	"market-stream/src/delta"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"
)

// IRefresher is the part of the data cache the scheduler drives.
type IRefresher interface {
	RefreshMany(ctx context.Context, keys []string, fetch cache.FetchFunc) map[string]cache.Result
}

// -----------------------------------------------------------------------------
// BroadcastScheduler
// -----------------------------------------------------------------------------

// BroadcastScheduler refreshes the watched symbols on a fixed period and pushes
// what changed to the connected clients.
type BroadcastScheduler struct {
	Config    *models.MConfig
	Logger    *logger.Logger
	cache     IRefresher
	fetch     cache.FetchFunc
	subs      interfaces.ISubscriptionReader
	deltas    *delta.Computer
	exchanger interfaces.IDataExchanger
	metrics   interfaces.IMetricsSink

	ticks   atomic.Uint64
	errors  atomic.Uint64
	mu      sync.RWMutex
	last    models.MSchedulerStats
	running atomic.Bool
	done    chan struct{}

	// symbol -> subscribers as of the previous tick. Only touched by Tick.
	audience map[string]map[string]struct{}
}

// -----------------------------------------------------------------------------

func NewBroadcastScheduler(
	cfg *models.MConfig,
	refresher IRefresher,
	fetch cache.FetchFunc,
	subs interfaces.ISubscriptionReader,
	deltas *delta.Computer,
	exchanger interfaces.IDataExchanger,
	sink interfaces.IMetricsSink,
	l *logger.Logger,
) *BroadcastScheduler {
	if sink == nil {
		sink = metrics.Noop{}
	}
	if deltas == nil {
		deltas = delta.NewComputer()
	}
	return &BroadcastScheduler{
		Config:    cfg,
		Logger:    l,
		cache:     refresher,
		fetch:     fetch,
		subs:      subs,
		deltas:    deltas,
		exchanger: exchanger,
		metrics:   sink,
		done:      make(chan struct{}),
		audience:  make(map[string]map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------
// Loop
// -----------------------------------------------------------------------------

// Run ticks until ctx is cancelled. A failed or panicking tick is retried sooner.
func (s *BroadcastScheduler) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.Logger.Warning("Scheduler already running")
		return
	}
	defer close(s.done)

	s.Logger.Info("Scheduler started (tick %v, retry %v)", s.Config.Scheduler.TickInterval(), s.Config.Scheduler.RetryInterval())

	for {
		wait := s.Config.Scheduler.TickInterval()
		if err := s.safeTick(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error("Tick failed: %v", err)
			wait = s.Config.Scheduler.RetryInterval()
		}

		select {
		case <-ctx.Done():
			s.Logger.Info("Scheduler stopped after %d ticks", s.ticks.Load())
			return
		case <-time.After(wait):
		}
	}
}

// -----------------------------------------------------------------------------

// Wait blocks until Run has returned or timeout elapses. False means it timed out.
func (s *BroadcastScheduler) Wait(timeout time.Duration) bool {
	if !s.running.Load() {
		return true
	}
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// -----------------------------------------------------------------------------

func (s *BroadcastScheduler) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return s.Tick(ctx)
}

// -----------------------------------------------------------------------------
// Tick
// -----------------------------------------------------------------------------

// Tick runs one refresh and broadcast cycle.
func (s *BroadcastScheduler) Tick(ctx context.Context) error {
	start := time.Now()
	symbols := s.workingSet()
	s.resetForNewSubscribers(symbols)

	changed, failures := s.collect(ctx, symbols)
	s.record(start, len(symbols), failures)

	if len(symbols) > 0 && failures == len(symbols) {
		s.errors.Add(1)
		s.metrics.Increment(metrics.TickErrors)
		return fmt.Errorf("all %d symbols failed to refresh", failures)
	}

	s.ticks.Add(1)
	s.metrics.Increment(metrics.Ticks)

	if len(changed) == 0 {
		s.Logger.Debug("Tick: %d symbols, nothing changed", len(symbols))
		return nil
	}

	if s.Config.Scheduler.FilterBySubscription {
		s.broadcastFiltered(ctx, changed)
	} else {
		s.exchanger.Broadcast(ctx, updateMessage(changed), nil)
	}

	s.Logger.Debug("Tick: %d symbols, %d changed, %d failed in %v", len(symbols), len(changed), failures, time.Since(start))
	return nil
}

// -----------------------------------------------------------------------------

// workingSet is every subscribed symbol, or the default set when nobody subscribed.
func (s *BroadcastScheduler) workingSet() []string {
	symbols := s.subs.AllSubscribedSymbols()
	if len(symbols) == 0 {
		symbols = s.defaultSymbols()
	}

	limit := s.Config.Scheduler.MaxSymbolsPerTick
	if limit > 0 && len(symbols) > limit {
		s.Logger.Warning("Working set of %d symbols capped at %d", len(symbols), limit)
		symbols = symbols[:limit]
	}
	return symbols
}

// -----------------------------------------------------------------------------

func (s *BroadcastScheduler) defaultSymbols() []string {
	out := make([]string, 0, len(s.Config.Scheduler.DefaultSymbols))
	seen := make(map[string]bool)
	for _, raw := range s.Config.Scheduler.DefaultSymbols {
		if sym := models.NormalizeSymbol(raw); sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// resetForNewSubscribers forgets the delta state of every symbol that gained a
// subscriber since the previous tick, so the next update carries all its fields.
func (s *BroadcastScheduler) resetForNewSubscribers(symbols []string) {
	current := make(map[string]map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		ids := s.subs.SubscribersOf(sym)
		seen := make(map[string]struct{}, len(ids))
		previous := s.audience[sym]
		joined := false
		for _, id := range ids {
			seen[id] = struct{}{}
			if _, ok := previous[id]; !ok {
				joined = true
			}
		}
		if joined {
			s.deltas.Reset(sym)
		}
		current[sym] = seen
	}
	s.audience = current
}

// -----------------------------------------------------------------------------

// collect refreshes symbols and returns the non-empty deltas with the failure count.
func (s *BroadcastScheduler) collect(ctx context.Context, symbols []string) (map[string]models.MDelta, int) {
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = cache.QuoteKey(sym)
	}

	results := s.cache.RefreshMany(ctx, keys, s.fetch)

	changed := make(map[string]models.MDelta)
	failures := 0
	for i, sym := range symbols {
		res, ok := results[keys[i]]
		if !ok || res.Err != nil || res.Snapshot == nil {
			failures++
			if res.Err != nil {
				s.Logger.Debug("Refresh of %s failed: %v", sym, res.Err)
			}
			continue
		}
		if d := s.deltas.Delta(sym, res.Snapshot); len(d) > 0 {
			changed[sym] = d
		}
	}
	return changed, failures
}

// -----------------------------------------------------------------------------

// broadcastFiltered sends each client only the deltas of the symbols it watches.
// Clients watching the same set share one serialized message.
func (s *BroadcastScheduler) broadcastFiltered(ctx context.Context, changed map[string]models.MDelta) {
	defaults := s.defaultSymbols()

	type group struct {
		data    map[string]models.MDelta
		targets []string
	}
	groups := make(map[string]*group)

	for _, id := range s.exchanger.ClientIDs() {
		watched := s.subs.SubscriptionsOf(id)
		if len(watched) == 0 {
			watched = defaults
		}

		data := make(map[string]models.MDelta)
		for _, sym := range watched {
			if d, ok := changed[sym]; ok {
				data[sym] = d
			}
		}
		if len(data) == 0 {
			continue
		}

		key := groupKey(data)
		g, ok := groups[key]
		if !ok {
			g = &group{data: data}
			groups[key] = g
		}
		g.targets = append(g.targets, id)
	}

	for _, g := range groups {
		s.exchanger.Broadcast(ctx, updateMessage(g.data), g.targets)
	}
}

// -----------------------------------------------------------------------------

func groupKey(data map[string]models.MDelta) string {
	symbols := make([]string, 0, len(data))
	for sym := range data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return strings.Join(symbols, ",")
}

// -----------------------------------------------------------------------------

func updateMessage(data map[string]models.MDelta) *models.MOutbound {
	msg := models.NewOutbound(models.MessageUpdate)
	msg.Data = data
	return msg
}

// -----------------------------------------------------------------------------
// Stats
// -----------------------------------------------------------------------------

func (s *BroadcastScheduler) record(start time.Time, symbols, failures int) {
	s.mu.Lock()
	s.last.LastTick = start
	s.last.LastDuration = time.Since(start)
	s.last.LastSymbols = symbols
	s.last.LastFailures = failures
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (s *BroadcastScheduler) Stats() models.MSchedulerStats {
	s.mu.RLock()
	stats := s.last
	s.mu.RUnlock()

	stats.Ticks = s.ticks.Load()
	stats.Errors = s.errors.Load()
	return stats
}

// -----------------------------------------------------------------------------

// LastTick is the start time of the most recent tick, zero before the first one.
func (s *BroadcastScheduler) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.LastTick
}
