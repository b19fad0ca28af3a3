package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the analytics engine
type Metrics struct {
	// Ingestion metrics
	RecordsIngestedTotal *prometheus.CounterVec
	RecordsRejectedTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Retention metrics
	RecordsEvictedTotal *prometheus.CounterVec
	JanitorRunsTotal    *prometheus.CounterVec
	JanitorRunDuration  *prometheus.HistogramVec

	// Query metrics
	ComputeDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsPublishedTotal *prometheus.CounterVec
	NotificationsDroppedTotal   *prometheus.CounterVec

	// Business metrics
	TrackedEntities *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_records_ingested_total",
				Help: "Total number of telemetry records ingested",
			},
			[]string{"kind"},
		),
		RecordsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_records_rejected_total",
				Help: "Total number of telemetry records rejected by validation",
			},
			[]string{"kind", "reason"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_cache_hits_total",
				Help: "Total number of derived statistic cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_cache_misses_total",
				Help: "Total number of derived statistic cache misses",
			},
			[]string{"cache"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"cache"},
		),
		RecordsEvictedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_records_evicted_total",
				Help: "Total number of records evicted by the retention janitor",
			},
			[]string{"kind"},
		),
		JanitorRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_janitor_runs_total",
				Help: "Total number of janitor job runs",
			},
			[]string{"job", "status"},
		),
		JanitorRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decisionlens_janitor_run_duration_seconds",
				Help:    "Janitor job run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		ComputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decisionlens_compute_duration_seconds",
				Help:    "Duration of derived statistic computations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"operation"},
		),
		NotificationsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_notifications_published_total",
				Help: "Total number of change notifications published",
			},
			[]string{"kind"},
		),
		NotificationsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decisionlens_notifications_dropped_total",
				Help: "Total number of change notifications dropped by full subscriber buffers",
			},
			[]string{"subscriber"},
		),
		TrackedEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decisionlens_tracked_entities",
				Help: "Number of entities currently held in memory",
			},
			[]string{"kind"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.RecordsIngestedTotal,
			m.RecordsRejectedTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheInvalidationsTotal,
			m.RecordsEvictedTotal,
			m.JanitorRunsTotal,
			m.JanitorRunDuration,
			m.ComputeDuration,
			m.NotificationsPublishedTotal,
			m.NotificationsDroppedTotal,
			m.TrackedEntities,
		)
	}

	return m
}

// RecordIngested counts one accepted record of the given kind
func (m *Metrics) RecordIngested(kind string) {
	if m == nil {
		return
	}
	m.RecordsIngestedTotal.WithLabelValues(kind).Inc()
}

// RecordRejected counts one record rejected by validation
func (m *Metrics) RecordRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.RecordsRejectedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordCacheHit counts a cache hit
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a cache miss
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordCacheInvalidation counts a cache invalidation
func (m *Metrics) RecordCacheInvalidation(cache string) {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.WithLabelValues(cache).Inc()
}

// RecordEvicted adds evicted records of the given kind
func (m *Metrics) RecordEvicted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsEvictedTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordJanitorRun records the outcome and duration of one janitor job run
func (m *Metrics) RecordJanitorRun(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.JanitorRunsTotal.WithLabelValues(job, status).Inc()
	m.JanitorRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveCompute records how long a derived statistic took to compute
func (m *Metrics) ObserveCompute(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ComputeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPublished counts a published notification
func (m *Metrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.NotificationsPublishedTotal.WithLabelValues(kind).Inc()
}

// RecordDropped counts a notification dropped for a subscriber
func (m *Metrics) RecordDropped(subscriber string) {
	if m == nil {
		return
	}
	m.NotificationsDroppedTotal.WithLabelValues(subscriber).Inc()
}

// SetTracked sets the number of entities of a kind held in memory
func (m *Metrics) SetTracked(kind string, n int) {
	if m == nil {
		return
	}
	m.TrackedEntities.WithLabelValues(kind).Set(float64(n))
}

// MetricsHandler serves the /metrics endpoint for the given registry
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
