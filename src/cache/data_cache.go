package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the value of one key from upstream.
type FetchFunc func(ctx context.Context, key string) (*models.MSnapshot, error)

// Result is the outcome of one key in RefreshMany. Exactly one of Snapshot and Err is set.
type Result struct {
	Snapshot  *models.MSnapshot
	Err       error
	FromCache bool
}

// -----------------------------------------------------------------------------
// DataCache
// -----------------------------------------------------------------------------

// DataCache is the two-tier snapshot cache: an in-process LRU in front of an optional
// shared tier. Every refresh path holds a slot of one global semaphore.
type DataCache struct {
	local     *LRU[*models.MSnapshot]
	external  interfaces.IExternalCache
	ttl       *TTLPolicy
	metrics   interfaces.IMetricsSink
	sem       *semaphore.Weighted
	flight    singleflight.Group
	batchSize int
	hits      atomic.Uint64
	misses    atomic.Uint64
	Logger    *logger.Logger

	hooksMu sync.Mutex
	onClear []func()
}

// -----------------------------------------------------------------------------

// NewDataCache builds the cache. external, ttl, sink and l may be nil.
func NewDataCache(cfg models.MCacheConfig, external interfaces.IExternalCache, ttl *TTLPolicy, sink interfaces.IMetricsSink, l *logger.Logger) *DataCache {
	if ttl == nil {
		ttl = NewTTLPolicy(cfg, nil)
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if l == nil {
		l = logger.NewLogger(nil, "DataCache")
	}
	concurrency := cfg.RefreshConcurrency
	if concurrency <= 0 {
		concurrency = 100
	}
	batchSize := cfg.RefreshBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	return &DataCache{
		local:     NewLRU[*models.MSnapshot](cfg.Capacity),
		external:  external,
		ttl:       ttl,
		metrics:   sink,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		batchSize: batchSize,
		Logger:    l,
	}
}

// -----------------------------------------------------------------------------

// Get looks in memory first, then in the shared tier. A shared-tier hit is copied
// into memory for the lifetime it has left.
func (c *DataCache) Get(ctx context.Context, key string) (*models.MSnapshot, bool) {
	if snap, ok := c.local.Get(key); ok {
		c.recordHit()
		return snap, true
	}

	if c.externalReady() {
		raw, ttl, found, err := c.external.Get(ctx, key)
		if err != nil {
			c.Logger.Warning("Shared cache read failed for %s: %v", key, err)
		} else if found {
			var snap models.MSnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				c.Logger.Warning("Discarding undecodable shared cache entry %s: %v", key, err)
			} else {
				c.local.Set(key, &snap, ttl)
				c.recordHit()
				return &snap, true
			}
		}
	}

	c.recordMiss()
	return nil, false
}

// -----------------------------------------------------------------------------

// Set stores snap in both tiers. A ttl of zero uses the market-hours policy.
func (c *DataCache) Set(ctx context.Context, key string, snap *models.MSnapshot, ttl time.Duration) {
	if snap == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl.TTLFor(key)
	}

	c.local.Set(key, snap, ttl)

	if !c.externalReady() {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		c.Logger.Warning("Cannot encode %s for the shared cache: %v", key, err)
		return
	}
	if err := c.external.Set(ctx, key, raw, ttl); err != nil {
		c.Logger.Warning("Shared cache write failed for %s: %v", key, err)
	}
}

// -----------------------------------------------------------------------------

func (c *DataCache) Delete(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.externalReady() {
		if err := c.external.Delete(ctx, key); err != nil {
			c.Logger.Warning("Shared cache delete failed for %s: %v", key, err)
		}
	}
}

// -----------------------------------------------------------------------------

// Clear empties the in-process tier, then runs the OnClear hooks. Shared entries
// expire on their own.
func (c *DataCache) Clear() {
	c.local.Clear()

	c.hooksMu.Lock()
	hooks := append([]func(){}, c.onClear...)
	c.hooksMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	c.Logger.Info("In-process cache cleared")
}

// -----------------------------------------------------------------------------

// OnClear registers fn to run after every Clear.
func (c *DataCache) OnClear(fn func()) {
	c.hooksMu.Lock()
	c.onClear = append(c.onClear, fn)
	c.hooksMu.Unlock()
}

// -----------------------------------------------------------------------------

// Fetch returns the cached value of key or loads it through fetch.
func (c *DataCache) Fetch(ctx context.Context, key string, fetch FetchFunc) (*models.MSnapshot, error) {
	if snap, ok := c.Get(ctx, key); ok {
		return snap, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.metrics.Increment(metrics.FetchErrors)
		return nil, helpers.NewTimeoutError(fmt.Sprintf("waiting to refresh %s", key), err)
	}
	defer c.sem.Release(1)

	return c.load(ctx, key, fetch)
}

// -----------------------------------------------------------------------------

// RefreshMany resolves every key, from cache when fresh and from upstream otherwise.
// Keys are processed in sub-batches; within one sub-batch loads run concurrently.
// A fresh key never reaches fetch.
// One key failing never affects another: each gets its own Result.
func (c *DataCache) RefreshMany(ctx context.Context, keys []string, fetch FetchFunc) map[string]Result {
	results := make(map[string]Result, len(keys))
	if len(keys) == 0 {
		return results
	}

	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			unique = append(unique, k)
		}
	}

	// One slot covers the whole batch.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		waitErr := helpers.NewTimeoutError("waiting for a refresh slot", err)
		for _, k := range unique {
			results[k] = Result{Err: waitErr}
		}
		return results
	}
	defer c.sem.Release(1)

	for start := 0; start < len(unique); start += c.batchSize {
		end := min(start+c.batchSize, len(unique))
		batch := unique[start:end]
		batchResults := make([]Result, len(batch))

		// Errors are per key, so the group never cancels siblings.
		var g errgroup.Group
		for i, key := range batch {
			g.Go(func() error {
				batchResults[i] = c.resolve(ctx, key, fetch)
				return nil
			})
		}
		_ = g.Wait()

		for i, key := range batch {
			results[key] = batchResults[i]
		}
	}

	return results
}

// -----------------------------------------------------------------------------

func (c *DataCache) resolve(ctx context.Context, key string, fetch FetchFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: helpers.NewFetchError(fmt.Sprintf("refresh %s panicked", key), fmt.Errorf("%v", r))}
		}
	}()

	if snap, ok := c.Get(ctx, key); ok {
		return Result{Snapshot: snap, FromCache: true}
	}

	snap, err := c.load(ctx, key, fetch)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Snapshot: snap}
}

// -----------------------------------------------------------------------------

// load runs at most one upstream call per key at a time. Callers hold a semaphore slot.
func (c *DataCache) load(ctx context.Context, key string, fetch FetchFunc) (*models.MSnapshot, error) {
	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		snap, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, helpers.NewFetchError(fmt.Sprintf("no data for %s", key), nil)
		}

		c.Set(ctx, key, snap, 0)
		return snap, nil
	})
	if err != nil {
		c.metrics.Increment(metrics.FetchErrors)
		var fe *helpers.FetchError
		var rl *helpers.RateLimitError
		var te *helpers.TimeoutError
		if !errors.As(err, &fe) && !errors.As(err, &rl) && !errors.As(err, &te) {
			err = helpers.NewFetchError(fmt.Sprintf("refresh %s", key), err)
		}
		return nil, err
	}
	return value.(*models.MSnapshot), nil
}

// -----------------------------------------------------------------------------

func (c *DataCache) Stats() models.MCacheStats {
	stats := c.local.Stats()
	stats.Hits = c.hits.Load()
	stats.Misses = c.misses.Load()
	stats.ExternalAvailable = c.externalReady()
	return stats
}

// -----------------------------------------------------------------------------

// RunJanitor purges expired in-process entries every interval until ctx is done.
func (c *DataCache) RunJanitor(ctx context.Context, interval time.Duration) {
	defer c.Logger.RecoverPanic("cache janitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.local.Purge(); n > 0 {
				c.Logger.Debug("Cache janitor removed %d expired entries", n)
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (c *DataCache) externalReady() bool {
	return c.external != nil && c.external.Available()
}

func (c *DataCache) recordHit() {
	c.hits.Add(1)
	c.metrics.Increment(metrics.CacheHits)
}

func (c *DataCache) recordMiss() {
	c.misses.Add(1)
	c.metrics.Increment(metrics.CacheMisses)
}
