package cache

import (
	"container/list"
	"sync"
	"time"

	"market-stream/src/models"
)

type lruEntry[V any] struct {
	key       string
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// -----------------------------------------------------------------------------
// LRU
// -----------------------------------------------------------------------------

// LRU is a bounded in-process cache with a TTL per entry.
// Get and Set both move the entry to the front; the back is evicted first.
type LRU[V any] struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	order     *list.List
	now       func() time.Time
	hits      uint64
	misses    uint64
	evictions uint64
}

// -----------------------------------------------------------------------------

func NewLRU[V any](capacity int) *LRU[V] {
	if capacity <= 0 {
		capacity = 2000
	}
	return &LRU[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// Get returns the value for key. An expired entry is removed and reported absent.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*lruEntry[V])
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// -----------------------------------------------------------------------------

// Set stores value for ttl, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry[V])
		entry.value = value
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	})
}

// -----------------------------------------------------------------------------

func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.removeElement(elem)
	}
	return ok
}

// -----------------------------------------------------------------------------

func (c *LRU[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Purge drops every expired entry and returns how many were removed.
func (c *LRU[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*lruEntry[V]).expiresAt) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// -----------------------------------------------------------------------------

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// -----------------------------------------------------------------------------

// Keys lists keys from most to least recently used, expired ones included.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry[V]).key)
	}
	return keys
}

// -----------------------------------------------------------------------------

func (c *LRU[V]) Stats() models.MCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return models.MCacheStats{
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source.
func (c *LRU[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *LRU[V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry[V]).key)
}
