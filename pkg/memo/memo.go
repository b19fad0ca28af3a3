// Package memo is the memoization layer for derived statistics.
//
// A Cache maps an entity key to a lazily computed value. Analyzers call
// Invalidate (or Purge) from their mutation paths and GetOrCompute from
// their read paths, so the cached value never outlives the next write to
// the same entity. The backing store is a bounded LRU with an optional TTL;
// dropping any entry at any time is always safe.
//
// GetOrCompute collapses concurrent computations of one key. Callers must
// serialize writes against GetOrCompute for the same key (the analyzers do
// so with their store locks), otherwise a value computed from pre-write data
// can land after the write's invalidation.
package memo

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

// Config controls the backing LRU.
type Config struct {
	// Size is the maximum number of entries. 0 means unbounded.
	Size int
	// TTL expires entries independently of invalidation. 0 disables expiry.
	TTL time.Duration
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{Size: 4096}
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Len           int
	HitRate       float64
}

// Cache memoizes values of type V by string key.
type Cache[V any] struct {
	name    string
	entries *lru.LRU[string, V]
	group   singleflight.Group
	metrics *observability.Metrics

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a cache. name labels the cache in metrics.
func New[V any](name string, cfg Config, metrics *observability.Metrics) *Cache[V] {
	size := cfg.Size
	if size < 0 {
		size = 0
	}
	return &Cache[V]{
		name:    name,
		entries: lru.NewLRU[string, V](size, nil, cfg.TTL),
		metrics: metrics,
	}
}

// Name returns the cache label.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the cached value for key, if present.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
		c.metrics.RecordCacheHit(c.name)
	} else {
		c.misses.Add(1)
		c.metrics.RecordCacheMiss(c.name)
	}
	return v, ok
}

// Set stores value under key.
func (c *Cache[V]) Set(key string, value V) {
	c.entries.Add(key, value)
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Concurrent misses for the same key share one computation.
func (c *Cache[V]) GetOrCompute(key string, compute func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	result, _, _ := c.group.Do(key, func() (interface{}, error) {
		v := compute()
		c.entries.Add(key, v)
		return v, nil
	})
	return result.(V)
}

// Invalidate drops the given keys.
func (c *Cache[V]) Invalidate(keys ...string) {
	for _, key := range keys {
		if c.entries.Remove(key) {
			c.invalidations.Add(1)
			c.metrics.RecordCacheInvalidation(c.name)
		}
	}
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	if c.entries.Len() > 0 {
		c.invalidations.Add(1)
		c.metrics.RecordCacheInvalidation(c.name)
	}
	c.entries.Purge()
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Stats returns hit/miss counters.
func (c *Cache[V]) Stats() Stats {
	stats := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Len:           c.entries.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
