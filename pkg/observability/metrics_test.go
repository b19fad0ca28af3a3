package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordIngested("atom_usage")
	metrics.RecordIngested("atom_usage")
	metrics.RecordRejected("user_request", "missing_id")
	metrics.RecordCacheHit("atom_stats")
	metrics.RecordCacheMiss("atom_stats")
	metrics.RecordCacheInvalidation("atom_stats")
	metrics.RecordEvicted("campaign_execution", 3)
	metrics.RecordEvicted("campaign_execution", 0)
	metrics.RecordJanitorRun("retention", 10*time.Millisecond, nil)
	metrics.RecordJanitorRun("retention", 10*time.Millisecond, errors.New("boom"))
	metrics.RecordDropped("alerts")
	metrics.SetTracked("atoms", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsIngestedTotal.WithLabelValues("atom_usage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecordsRejectedTotal.WithLabelValues("user_request", "missing_id")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("atom_stats")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RecordsEvictedTotal.WithLabelValues("campaign_execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JanitorRunsTotal.WithLabelValues("retention", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsDroppedTotal.WithLabelValues("alerts")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.TrackedEntities.WithLabelValues("atoms")))

	families, err := registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordIngested("x")
		metrics.RecordRejected("x", "y")
		metrics.RecordCacheHit("x")
		metrics.RecordCacheMiss("x")
		metrics.RecordCacheInvalidation("x")
		metrics.RecordEvicted("x", 1)
		metrics.RecordJanitorRun("x", time.Second, nil)
		metrics.ObserveCompute("x", time.Second)
		metrics.RecordPublished("x")
		metrics.RecordDropped("x")
		metrics.SetTracked("x", 1)
	})
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordIngested("campaign_execution")

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kind="campaign_execution"`)
}
