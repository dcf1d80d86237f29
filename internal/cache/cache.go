// Package cache provides the bounded TTL+LRU cache used by the
// detection and extraction layers. Caches are per-tracer-instance and
// never shared process-wide: two tracers with different rule bundles
// must not see each other's compiled state.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a thread-safe cache with per-entry expiration and
// least-recently-used eviction once MaxSize is reached.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]*entry[V]
	defaultTTL time.Duration
	maxSize    int
	loading    map[K]chan struct{}
	loadingMu  sync.Mutex
	stopCh     chan struct{}
	stopped    atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type entry[V any] struct {
	value      V
	expiresAt  time.Time
	accessedAt atomic.Int64 // unix nanos, updated on Get
}

// Config configures a Cache.
type Config struct {
	// TTL is the default time-to-live for entries.
	TTL time.Duration
	// MaxSize limits the entry count (0 = unlimited).
	MaxSize int
	// JanitorInterval sets how often expired entries are swept in the
	// background (0 = lazy expiry on read only).
	JanitorInterval time.Duration
}

// New creates a cache with the given configuration.
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}

	c := &Cache[K, V]{
		entries:    make(map[K]*entry[V]),
		defaultTTL: config.TTL,
		maxSize:    config.MaxSize,
		loading:    make(map[K]chan struct{}),
		stopCh:     make(chan struct{}),
	}

	if config.JanitorInterval > 0 {
		go c.janitor(config.JanitorInterval)
	}

	return c
}

// Set stores a value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	now := time.Now()
	e := &entry[V]{value: value, expiresAt: now.Add(ttl)}
	e.accessedAt.Store(now.UnixNano())

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}

	c.entries[key] = e
}

// Get retrieves a value. Expired entries are removed lazily and
// reported as misses.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		c.misses.Add(1)
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	e.accessedAt.Store(time.Now().UnixNano())
	c.hits.Add(1)
	return e.value, true
}

// GetOrCompute returns the cached value for key, computing and storing
// it when absent. Concurrent callers for the same missing key collapse
// into one compute call; the rest block until it finishes. A compute
// error is returned to every waiter and nothing is cached.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	c.loadingMu.Lock()

	if value, ok := c.Get(key); ok {
		c.loadingMu.Unlock()
		return value, nil
	}

	if ch, ok := c.loading[key]; ok {
		c.loadingMu.Unlock()
		<-ch
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		// The computing goroutine failed; take over.
		return c.GetOrCompute(key, compute)
	}

	ch := make(chan struct{})
	c.loading[key] = ch
	c.loadingMu.Unlock()

	value, err := compute()

	c.loadingMu.Lock()
	delete(c.loading, key)
	close(ch)
	c.loadingMu.Unlock()

	if err != nil {
		var zero V
		return zero, err
	}

	c.Set(key, value)
	return value, nil
}

// Delete removes a key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()
}

// Len returns the number of entries, including not-yet-swept expired
// ones.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats contains cache statistics.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	Evicts  uint64
	HitRate float64
}

// Stats returns a snapshot of cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		Evicts:  c.evicts.Load(),
		HitRate: hitRate,
	}
}

// Stop halts the background janitor, if one was started.
func (c *Cache[K, V]) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
}

// Cleanup removes expired entries and reports how many were removed.
func (c *Cache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// evictLRU removes the least recently used entry. Must be called with
// mu held.
func (c *Cache[K, V]) evictLRU() {
	var lruKey K
	var lruTime int64
	first := true

	for key, e := range c.entries {
		at := e.accessedAt.Load()
		if first || at < lruTime {
			lruKey = key
			lruTime = at
			first = false
		}
	}

	if !first {
		delete(c.entries, lruKey)
		c.evicts.Add(1)
	}
}

func (c *Cache[K, V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCh:
			return
		}
	}
}
