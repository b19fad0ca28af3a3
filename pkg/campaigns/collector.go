package campaigns

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/memo"
	"github.com/platinummonkey/decisionlens/pkg/notify"
	"github.com/platinummonkey/decisionlens/pkg/observability"
)

const (
	kindExecution    = "campaign_execution"
	cacheStats       = "campaign_stats"
	cachePercentiles = "campaign_percentiles"
	cacheErrors      = "campaign_errors"
)

// Option configures a Collector.
type Option func(*Collector)

// WithClock injects the clock used for defaults, trends and retention.
func WithClock(c clockwork.Clock) Option {
	return func(col *Collector) { col.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(col *Collector) { col.log = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(col *Collector) { col.metrics = m }
}

// WithPublisher sets where change notifications go.
func WithPublisher(p notify.Publisher) Option {
	return func(col *Collector) { col.publisher = p }
}

// WithCacheConfig overrides the memo cache sizing.
func WithCacheConfig(cfg memo.Config) Option {
	return func(col *Collector) { col.cacheCfg = cfg }
}

// Collector owns the campaign execution store and its derived caches.
type Collector struct {
	mu            sync.RWMutex
	executions    map[string][]Execution
	rules         map[string]*RulePerformanceMetric
	retentionDays int

	stats       *memo.Cache[CampaignPerformanceStats]
	percentiles *memo.Cache[ExecutionTimePercentiles]
	errors      *memo.Cache[[]ErrorAnalysis]

	clock     clockwork.Clock
	log       *logrus.Entry
	metrics   *observability.Metrics
	publisher notify.Publisher
	cacheCfg  memo.Config
}

// NewCollector creates an empty collector. retentionDays of 0 disables
// eviction.
func NewCollector(retentionDays int, opts ...Option) (*Collector, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRetention, retentionDays)
	}
	c := &Collector{
		executions:    make(map[string][]Execution),
		rules:         make(map[string]*RulePerformanceMetric),
		retentionDays: retentionDays,
		clock:         clockwork.NewRealClock(),
		log:           observability.Discard(),
		publisher:     notify.Nop{},
		cacheCfg:      memo.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stats = memo.New[CampaignPerformanceStats](cacheStats, c.cacheCfg, c.metrics)
	c.percentiles = memo.New[ExecutionTimePercentiles](cachePercentiles, c.cacheCfg, c.metrics)
	c.errors = memo.New[[]ErrorAnalysis](cacheErrors, c.cacheCfg, c.metrics)
	return c, nil
}

func (c *Collector) validate(e Execution) (string, error) {
	switch {
	case e.CampaignID == "":
		return "missing_id", ErrMissingCampaignID
	case e.ExecutionTime < 0:
		return "negative_duration", fmt.Errorf("%w: campaign %s: %s", ErrNegativeDuration, e.CampaignID, e.ExecutionTime)
	case !e.Status.Valid():
		return "invalid_status", fmt.Errorf("%w: %q", ErrInvalidStatus, e.Status)
	}
	return "", nil
}

// RecordExecution appends an execution to its campaign and folds it into
// the decision's rolling aggregate.
func (c *Collector) RecordExecution(e Execution) error {
	if reason, err := c.validate(e); err != nil {
		c.metrics.RecordRejected(kindExecution, reason)
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.clock.Now()
	}
	e = e.clone()

	c.mu.Lock()
	c.executions[e.CampaignID] = append(c.executions[e.CampaignID], e)
	if e.DecisionID != "" {
		rp, ok := c.rules[e.DecisionID]
		if !ok {
			rp = &RulePerformanceMetric{DecisionID: e.DecisionID}
			c.rules[e.DecisionID] = rp
		}
		rp.add(e)
	}
	c.invalidateLocked(e.CampaignID)
	tracked := len(c.executions)
	c.mu.Unlock()

	c.metrics.RecordIngested(kindExecution)
	c.metrics.SetTracked("campaigns", tracked)
	c.log.WithFields(logrus.Fields{
		"campaign_id": e.CampaignID,
		"decision_id": e.DecisionID,
		"status":      e.Status,
		"duration_ms": e.millis(),
	}).Debug("Recorded campaign execution")
	c.publisher.Publish(notify.New(notify.ExecutionRecorded, e.Timestamp, e.clone()))
	return nil
}

func (c *Collector) invalidateLocked(campaignIDs ...string) {
	c.stats.Invalidate(campaignIDs...)
	c.percentiles.Invalidate(campaignIDs...)
	c.errors.Invalidate(campaignIDs...)
}

// RulePerformance returns the rolling aggregate for a decision id.
func (c *Collector) RulePerformance(decisionID string) (RulePerformanceMetric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rp, ok := c.rules[decisionID]
	if !ok {
		return RulePerformanceMetric{}, false
	}
	return *rp, true
}

// CampaignIDs returns every tracked campaign id in sorted order.
func (c *Collector) CampaignIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.campaignIDsLocked()
}

func (c *Collector) campaignIDsLocked() []string {
	ids := make([]string, 0, len(c.executions))
	for id := range c.executions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Executions returns copies of the campaign's records in arrival order.
func (c *Collector) Executions(campaignID string) []Execution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recs := c.executions[campaignID]
	out := make([]Execution, 0, len(recs))
	for _, e := range recs {
		out = append(out, e.clone())
	}
	return out
}

// RetentionDays returns the current retention window.
func (c *Collector) RetentionDays() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retentionDays
}

// SetRetentionDays changes the retention window for subsequent evictions.
func (c *Collector) SetRetentionDays(days int) error {
	if days < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetention, days)
	}
	c.mu.Lock()
	c.retentionDays = days
	c.mu.Unlock()
	return nil
}

// EvictExpired removes executions older than the retention window relative
// to now, campaigns left empty and decision aggregates not updated within
// the window. It returns the number of executions removed.
func (c *Collector) EvictExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retentionDays == 0 {
		return 0
	}
	cutoff := now.Add(-time.Duration(c.retentionDays) * 24 * time.Hour)
	removed := 0
	var touched []string
	for id, recs := range c.executions {
		kept := recs[:0]
		for _, e := range recs {
			if e.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == len(recs) {
			continue
		}
		touched = append(touched, id)
		if len(kept) == 0 {
			delete(c.executions, id)
		} else {
			c.executions[id] = kept
		}
	}
	for id, rp := range c.rules {
		if rp.LastExecuted.Before(cutoff) {
			delete(c.rules, id)
		}
	}
	if removed > 0 {
		c.invalidateLocked(touched...)
		c.metrics.RecordEvicted(kindExecution, removed)
		c.metrics.SetTracked("campaigns", len(c.executions))
		c.log.WithFields(logrus.Fields{
			"removed":   removed,
			"campaigns": len(touched),
			"cutoff":    cutoff,
		}).Info("Evicted expired campaign executions")
	}
	return removed
}

// RunRetention evicts expired executions as of the collector clock. It
// matches the janitor job signature.
func (c *Collector) RunRetention(_ context.Context) (int, error) {
	return c.EvictExpired(c.clock.Now()), nil
}
