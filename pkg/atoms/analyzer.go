package atoms

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
	kindAtomUsage        = "atom_usage"
	cacheStats           = "atom_stats"
	cacheCombinations    = "atom_combinations"
	cacheRecommendations = "atom_recommendations"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock injects the clock used for defaults and retention.
func WithClock(c clockwork.Clock) Option {
	return func(a *Analyzer) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(a *Analyzer) { a.log = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithPublisher sets where change notifications go.
func WithPublisher(p notify.Publisher) Option {
	return func(a *Analyzer) { a.publisher = p }
}

// WithCacheConfig overrides the memo cache sizing.
func WithCacheConfig(cfg memo.Config) Option {
	return func(a *Analyzer) { a.cacheCfg = cfg }
}

// WithSampleLimit sets how many raw executions each record keeps.
func WithSampleLimit(n int) Option {
	return func(a *Analyzer) { a.sampleLimit = n }
}

// Analyzer owns the atom usage store and its derived caches.
type Analyzer struct {
	mu            sync.RWMutex
	records       map[string][]*UsageRecord
	retentionDays int

	graphMu sync.RWMutex
	graph   *AffinityGraph

	stats           *memo.Cache[AtomPerformanceStats]
	combinations    *memo.Cache[[]AtomCombinationAnalysis]
	recommendations *memo.Cache[[]OptimizationRecommendation]

	clock       clockwork.Clock
	log         *logrus.Entry
	metrics     *observability.Metrics
	publisher   notify.Publisher
	cacheCfg    memo.Config
	sampleLimit int
}

// NewAnalyzer creates an empty analyzer. retentionDays of 0 disables
// eviction.
func NewAnalyzer(retentionDays int, opts ...Option) (*Analyzer, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRetention, retentionDays)
	}
	a := &Analyzer{
		records:       make(map[string][]*UsageRecord),
		retentionDays: retentionDays,
		clock:         clockwork.NewRealClock(),
		log:           observability.Discard(),
		publisher:     notify.Nop{},
		cacheCfg:      memo.DefaultConfig(),
		sampleLimit:   DefaultSampleLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.stats = memo.New[AtomPerformanceStats](cacheStats, a.cacheCfg, a.metrics)
	a.combinations = memo.New[[]AtomCombinationAnalysis](cacheCombinations, a.cacheCfg, a.metrics)
	a.recommendations = memo.New[[]OptimizationRecommendation](cacheRecommendations, a.cacheCfg, a.metrics)
	return a, nil
}

// RecordAtomUsage folds one execution into the store. It merges into the
// atom's most recent record when rule and campaign match and appends a new
// record otherwise.
func (a *Analyzer) RecordAtomUsage(u Usage) error {
	if u.AtomID == "" {
		a.metrics.RecordRejected(kindAtomUsage, "missing_id")
		return ErrMissingAtomID
	}
	if u.ExecutionTime < 0 {
		a.metrics.RecordRejected(kindAtomUsage, "negative_duration")
		return fmt.Errorf("%w: atom %s: %s", ErrNegativeDuration, u.AtomID, u.ExecutionTime)
	}
	at := u.Timestamp
	if at.IsZero() {
		at = a.clock.Now()
	}
	ms := millis(u.ExecutionTime)

	a.mu.Lock()
	recs := a.records[u.AtomID]
	var rec *UsageRecord
	if n := len(recs); n > 0 && recs[n-1].sameKey(u) {
		rec = recs[n-1]
	} else {
		rec = &UsageRecord{
			AtomID:     u.AtomID,
			RuleID:     u.RuleID,
			CampaignID: u.CampaignID,
			FirstUsed:  at,
			LastUsed:   at,
		}
		a.records[u.AtomID] = append(recs, rec)
	}
	rec.merge(u, at, ms, a.sampleLimit)
	if at.Before(rec.FirstUsed) {
		rec.FirstUsed = at
	}
	snapshot := rec.clone()
	a.invalidateLocked(u.AtomID)
	tracked := len(a.records)
	a.mu.Unlock()

	a.metrics.RecordIngested(kindAtomUsage)
	a.metrics.SetTracked("atoms", tracked)
	a.log.WithFields(logrus.Fields{
		"atom_id":     u.AtomID,
		"rule_id":     u.RuleID,
		"campaign_id": u.CampaignID,
		"duration_ms": ms,
		"success":     u.Success,
	}).Debug("Recorded atom usage")
	a.publisher.Publish(notify.New(notify.UsageRecorded, at, snapshot))
	return nil
}

// invalidateLocked drops the atom's stats and every cross-atom aggregate.
// Callers hold a.mu for writing.
func (a *Analyzer) invalidateLocked(atomIDs ...string) {
	a.stats.Invalidate(atomIDs...)
	a.combinations.Purge()
	a.recommendations.Purge()
}

// AtomIDs returns every tracked atom id in sorted order.
func (a *Analyzer) AtomIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.atomIDsLocked()
}

func (a *Analyzer) atomIDsLocked() []string {
	ids := make([]string, 0, len(a.records))
	for id := range a.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UsageRecords returns copies of the atom's records in insertion order.
func (a *Analyzer) UsageRecords(atomID string) []UsageRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	recs := a.records[atomID]
	out := make([]UsageRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.clone())
	}
	return out
}

// RetentionDays returns the current retention window.
func (a *Analyzer) RetentionDays() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.retentionDays
}

// SetRetentionDays changes the retention window for subsequent evictions.
func (a *Analyzer) SetRetentionDays(days int) error {
	if days < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetention, days)
	}
	a.mu.Lock()
	a.retentionDays = days
	a.mu.Unlock()
	return nil
}

// EvictExpired removes records whose last use is older than the retention
// window relative to now, and atoms left without records. It returns the
// number of records removed.
func (a *Analyzer) EvictExpired(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retentionDays == 0 {
		return 0
	}
	cutoff := now.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	removed := 0
	var touched []string
	for id, recs := range a.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.LastUsed.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == len(recs) {
			continue
		}
		touched = append(touched, id)
		if len(kept) == 0 {
			delete(a.records, id)
		} else {
			a.records[id] = kept
		}
	}
	if removed > 0 {
		a.invalidateLocked(touched...)
		a.metrics.RecordEvicted(kindAtomUsage, removed)
		a.metrics.SetTracked("atoms", len(a.records))
		a.log.WithFields(logrus.Fields{
			"removed": removed,
			"atoms":   len(touched),
			"cutoff":  cutoff,
		}).Info("Evicted expired atom usage records")
	}
	return removed
}

// RunRetention evicts expired records as of the analyzer clock. It matches
// the janitor job signature.
func (a *Analyzer) RunRetention(_ context.Context) (int, error) {
	return a.EvictExpired(a.clock.Now()), nil
}

// RunGraphRebuild refreshes the affinity graph snapshot. It matches the
// janitor job signature.
func (a *Analyzer) RunGraphRebuild(_ context.Context) (int, error) {
	return a.BuildDependencyGraph().Len(), nil
}
