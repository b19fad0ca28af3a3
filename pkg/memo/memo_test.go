package memo

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

func TestCache_GetOrCompute(t *testing.T) {
	cache := New[int]("test", DefaultConfig(), nil)
	calls := 0
	compute := func() int {
		calls++
		return 42
	}

	assert.Equal(t, 42, cache.GetOrCompute("a", compute))
	assert.Equal(t, 42, cache.GetOrCompute("a", compute))
	assert.Equal(t, 1, calls)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Len)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCache_Invalidate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	cache := New[string]("atom_stats", DefaultConfig(), metrics)

	cache.Set("a", "one")
	cache.Set("b", "two")

	cache.Invalidate("a", "missing")
	_, ok := cache.Get("a")
	assert.False(t, ok)
	v, ok := cache.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int64(2), cache.Stats().Invalidations)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheInvalidationsTotal.WithLabelValues("atom_stats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("atom_stats")))
}

func TestCache_RecomputesAfterInvalidate(t *testing.T) {
	cache := New[int]("test", DefaultConfig(), nil)
	value := 1
	assert.Equal(t, 1, cache.GetOrCompute("k", func() int { return value }))

	value = 2
	assert.Equal(t, 1, cache.GetOrCompute("k", func() int { return value }))

	cache.Invalidate("k")
	assert.Equal(t, 2, cache.GetOrCompute("k", func() int { return value }))
}

func TestCache_SizeBound(t *testing.T) {
	cache := New[int]("test", Config{Size: 2}, nil)
	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("a")
	assert.False(t, ok)
}

func TestCache_TTL(t *testing.T) {
	cache := New[int]("test", Config{TTL: 20 * time.Millisecond}, nil)
	cache.Set("a", 1)

	assert.Eventually(t, func() bool {
		_, ok := cache.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCache_ConcurrentComputeSharesResult(t *testing.T) {
	cache := New[int]("test", DefaultConfig(), nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.GetOrCompute("slow", func() int {
				calls.Add(1)
				<-release
				return 7
			})
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 7, r)
	}
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
