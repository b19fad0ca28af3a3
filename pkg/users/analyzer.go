package users

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/memo"
	"github.com/platinummonkey/decisionlens/pkg/notify"
	"github.com/platinummonkey/decisionlens/pkg/observability"
)

const (
	kindUserRequest = "user_request"
	kindSession     = "session"
	cacheLTV        = "user_ltv"
	cacheCohorts    = "user_cohorts"
	cacheReports    = "user_request_patterns"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock injects the clock used for defaults, read-time churn and
// retention.
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

// Analyzer owns the per-user request store, sessions, patterns and
// personalization counters.
type Analyzer struct {
	mu              sync.RWMutex
	requests        map[string][]Request
	sessions        map[string]*SessionAnalytics
	userSessions    map[string]map[string]struct{}
	patterns        map[string]*UserBehaviorPattern
	personalization map[string]*PersonalizationEffectiveness
	retentionDays   int

	segMu    sync.RWMutex
	segments []UserSegment

	ltv     *memo.Cache[LifetimeValuePrediction]
	cohorts *memo.Cache[[]CohortAnalysis]
	reports *memo.Cache[RequestPatternReport]

	clock     clockwork.Clock
	log       *logrus.Entry
	metrics   *observability.Metrics
	publisher notify.Publisher
	cacheCfg  memo.Config
}

// NewAnalyzer creates an empty analyzer. retentionDays of 0 disables
// eviction.
func NewAnalyzer(retentionDays int, opts ...Option) (*Analyzer, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRetention, retentionDays)
	}
	a := &Analyzer{
		requests:        make(map[string][]Request),
		sessions:        make(map[string]*SessionAnalytics),
		userSessions:    make(map[string]map[string]struct{}),
		patterns:        make(map[string]*UserBehaviorPattern),
		personalization: make(map[string]*PersonalizationEffectiveness),
		retentionDays:   retentionDays,
		clock:           clockwork.NewRealClock(),
		log:             observability.Discard(),
		publisher:       notify.Nop{},
		cacheCfg:        memo.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ltv = memo.New[LifetimeValuePrediction](cacheLTV, a.cacheCfg, a.metrics)
	a.cohorts = memo.New[[]CohortAnalysis](cacheCohorts, a.cacheCfg, a.metrics)
	a.reports = memo.New[RequestPatternReport](cacheReports, a.cacheCfg, a.metrics)
	return a, nil
}

func (a *Analyzer) validate(r Request) (string, error) {
	switch {
	case r.UserID == "":
		return "missing_id", ErrMissingUserID
	case r.SessionID == "":
		return "missing_id", ErrMissingSessionID
	case r.ResponseTime < 0:
		return "negative_duration", fmt.Errorf("%w: user %s: %s", ErrNegativeDuration, r.UserID, r.ResponseTime)
	}
	return "", nil
}

// RecordUserRequest appends a request to the user's history, updates the
// owning session and recomputes the user's pattern and personalization
// counters. Requests for a session that has already ended are kept in the
// history but leave the session untouched.
func (a *Analyzer) RecordUserRequest(r Request) error {
	if reason, err := a.validate(r); err != nil {
		a.metrics.RecordRejected(kindUserRequest, reason)
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = a.clock.Now()
	}
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	r = r.clone()

	a.mu.Lock()
	reqs := a.requests[r.UserID]
	// Insert after every request with the same or an earlier timestamp.
	i := sort.Search(len(reqs), func(i int) bool { return reqs[i].Timestamp.After(r.Timestamp) })
	reqs = append(reqs, Request{})
	copy(reqs[i+1:], reqs[i:])
	reqs[i] = r
	a.requests[r.UserID] = reqs

	s, ok := a.sessions[r.SessionID]
	if !ok {
		s = newSession(r)
		a.sessions[r.SessionID] = s
		if a.userSessions[r.UserID] == nil {
			a.userSessions[r.UserID] = make(map[string]struct{})
		}
		a.userSessions[r.UserID][r.SessionID] = struct{}{}
	}
	if !s.Ended {
		s.add(r)
	}

	p := computePattern(r.UserID, reqs)
	a.patterns[r.UserID] = &p

	e, ok := a.personalization[r.UserID]
	if !ok {
		e = &PersonalizationEffectiveness{UserID: r.UserID}
		a.personalization[r.UserID] = e
	}
	e.add(r)

	a.invalidateLocked(r.UserID)
	tracked := len(a.requests)
	a.mu.Unlock()

	a.metrics.RecordIngested(kindUserRequest)
	a.metrics.SetTracked("users", tracked)
	a.log.WithFields(logrus.Fields{
		"user_id":     r.UserID,
		"session_id":  r.SessionID,
		"campaign_id": r.CampaignID,
		"accepted":    r.DecisionMade,
	}).Debug("Recorded user request")
	a.publisher.Publish(notify.New(notify.RequestRecorded, r.Timestamp, r.clone()))
	return nil
}

func (a *Analyzer) invalidateLocked(userIDs ...string) {
	a.ltv.Invalidate(userIDs...)
	a.cohorts.Purge()
	a.reports.Purge()
}

// EndSession ends the session at the analyzer clock's current time.
func (a *Analyzer) EndSession(sessionID string) error {
	return a.EndSessionAt(sessionID, time.Time{})
}

// EndSessionAt ends the session at the given time, or now when at is zero.
// Ending an unknown or already ended session is a no-op.
func (a *Analyzer) EndSessionAt(sessionID string, at time.Time) error {
	if at.IsZero() {
		at = a.clock.Now()
	}
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		a.log.WithField("session_id", sessionID).Debug("Ignoring end of unknown session")
		return nil
	}
	if s.Ended {
		a.mu.Unlock()
		return nil
	}
	s.end(at)
	snapshot := s.clone()
	a.invalidateLocked(s.UserID)
	a.mu.Unlock()

	a.metrics.RecordIngested(kindSession)
	a.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    snapshot.UserID,
		"duration":   snapshot.Duration,
	}).Debug("Ended session")
	a.publisher.Publish(notify.New(notify.SessionEnded, at, snapshot))
	return nil
}

// UserIDs returns every tracked user id in sorted order.
func (a *Analyzer) UserIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userIDsLocked()
}

func (a *Analyzer) userIDsLocked() []string {
	ids := make([]string, 0, len(a.requests))
	for id := range a.requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
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

// EvictExpired removes requests older than the retention window relative
// to now and sessions whose last activity is older than the window. Users
// left without requests are forgotten; the others get their pattern and
// personalization counters rebuilt. It returns the number of requests
// removed.
func (a *Analyzer) EvictExpired(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retentionDays == 0 {
		return 0
	}
	cutoff := now.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	removed := 0
	var touched []string
	for userID, reqs := range a.requests {
		// Requests are ordered, so the expired ones form a prefix.
		i := sort.Search(len(reqs), func(i int) bool { return !reqs[i].Timestamp.Before(cutoff) })
		if i == 0 {
			continue
		}
		removed += i
		touched = append(touched, userID)
		kept := append([]Request(nil), reqs[i:]...)
		if len(kept) == 0 {
			delete(a.requests, userID)
			delete(a.patterns, userID)
			delete(a.personalization, userID)
			continue
		}
		a.requests[userID] = kept
		p := computePattern(userID, kept)
		a.patterns[userID] = &p
		e := &PersonalizationEffectiveness{UserID: userID}
		for _, r := range kept {
			e.add(r)
		}
		a.personalization[userID] = e
	}
	sessionsRemoved := 0
	for id, s := range a.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(a.sessions, id)
			delete(a.userSessions[s.UserID], id)
			if len(a.userSessions[s.UserID]) == 0 {
				delete(a.userSessions, s.UserID)
			}
			sessionsRemoved++
		}
	}
	if removed > 0 || sessionsRemoved > 0 {
		a.ltv.Purge()
		a.cohorts.Purge()
		a.reports.Purge()
		a.metrics.RecordEvicted(kindUserRequest, removed)
		a.metrics.RecordEvicted(kindSession, sessionsRemoved)
		a.metrics.SetTracked("users", len(a.requests))
		a.log.WithFields(logrus.Fields{
			"removed":  removed,
			"sessions": sessionsRemoved,
			"users":    len(touched),
			"cutoff":   cutoff,
		}).Info("Evicted expired user requests")
	}
	return removed
}

// RunRetention evicts expired requests as of the analyzer clock. It
// matches the janitor job signature.
func (a *Analyzer) RunRetention(_ context.Context) (int, error) {
	return a.EvictExpired(a.clock.Now()), nil
}
