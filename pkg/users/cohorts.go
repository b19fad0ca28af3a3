package users

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

// CohortPeriods is the number of periods tracked per cohort, the cohort's
// own period included.
const CohortPeriods = 12

// CohortPeriod describes the cohort in one period after its start. Rates
// are percentages and AverageSessionDuration is in minutes. Behavior
// averages only count members active in the period.
type CohortPeriod struct {
	Index                  int
	Start                  time.Time
	ActiveUsers            int
	RetentionRate          float64
	ConversionRate         float64
	AverageRequestsPerUser float64
	AverageAcceptanceRate  float64
	AverageSessionDuration float64
}

// CohortAnalysis follows the users whose first request in the analyzed
// range fell into the same period.
type CohortAnalysis struct {
	ID      string
	Period  stats.Granularity
	Start   time.Time
	Size    int
	UserIDs []string
	Periods []CohortPeriod
}

func (c CohortAnalysis) clone() CohortAnalysis {
	c.UserIDs = append([]string(nil), c.UserIDs...)
	c.Periods = append([]CohortPeriod(nil), c.Periods...)
	return c
}

// ParsePeriod accepts "week" and "month", case-insensitive.
func ParsePeriod(s string) (stats.Granularity, error) {
	switch g := stats.Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case stats.Week, stats.Month:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// PerformCohortAnalysis groups users by the UTC week or month of their first
// request between start and end (inclusive, zero meaning unbounded) and
// follows each cohort for CohortPeriods periods. A member is active in a
// period when any of its requests falls inside it. Cohorts are ordered by
// start.
func (a *Analyzer) PerformCohortAnalysis(start, end time.Time, period stats.Granularity) ([]CohortAnalysis, error) {
	if period != stats.Week && period != stats.Month {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	key := fmt.Sprintf("%s/%s/%s", period, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))

	a.mu.RLock()
	defer a.mu.RUnlock()
	cohorts := a.cohorts.GetOrCompute(key, func() []CohortAnalysis {
		began := a.clock.Now()
		defer func() { a.metrics.ObserveCompute("cohort_analysis", a.clock.Since(began)) }()
		return a.computeCohorts(start, end, period)
	})
	out := make([]CohortAnalysis, len(cohorts))
	for i, c := range cohorts {
		out[i] = c.clone()
	}
	return out, nil
}

func (a *Analyzer) computeCohorts(start, end time.Time, period stats.Granularity) []CohortAnalysis {
	type cohort struct {
		start   time.Time
		userIDs []string
	}
	byKey := make(map[string]*cohort)
	for _, userID := range a.userIDsLocked() {
		for _, r := range a.requests[userID] {
			if !stats.InRange(r.Timestamp, start, end) {
				continue
			}
			key := stats.BucketKey(r.Timestamp, period)
			c, ok := byKey[key]
			if !ok {
				c = &cohort{start: stats.BucketStart(r.Timestamp, period)}
				byKey[key] = c
			}
			c.userIDs = append(c.userIDs, userID)
			break
		}
	}

	out := make([]CohortAnalysis, 0, len(byKey))
	for key, m := range byKey {
		c := CohortAnalysis{
			ID:      key,
			Period:  period,
			Start:   m.start,
			Size:    len(m.userIDs),
			UserIDs: m.userIDs,
		}
		for i := 0; i < CohortPeriods; i++ {
			from := stats.AddBuckets(m.start, period, i)
			to := stats.AddBuckets(m.start, period, i+1)
			c.Periods = append(c.Periods, a.cohortPeriod(i, from, to, m.userIDs))
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// cohortPeriod measures the members over [from, to).
func (a *Analyzer) cohortPeriod(index int, from, to time.Time, userIDs []string) CohortPeriod {
	cp := CohortPeriod{Index: index, Start: from}
	var conversion, requests, acceptance, sessionMinutes float64
	for _, userID := range userIDs {
		reqs := a.requests[userID]
		lo := sort.Search(len(reqs), func(i int) bool { return !reqs[i].Timestamp.Before(from) })
		hi := sort.Search(len(reqs), func(i int) bool { return !reqs[i].Timestamp.Before(to) })
		if lo >= hi {
			continue
		}
		window := reqs[lo:hi]
		cp.ActiveUsers++
		if p, ok := a.patterns[userID]; ok {
			conversion += p.ConversionLikelihood
		}
		requests += float64(len(window))
		acceptance += stats.Ratio(countAccepted(window), len(window))
		sessionMinutes += a.sessionMinutesBetween(userID, from, to)
	}
	cp.RetentionRate = stats.Ratio(cp.ActiveUsers, len(userIDs))
	if cp.ActiveUsers > 0 {
		n := float64(cp.ActiveUsers)
		cp.ConversionRate = conversion / n
		cp.AverageRequestsPerUser = requests / n
		cp.AverageAcceptanceRate = acceptance / n
		cp.AverageSessionDuration = sessionMinutes / n
	}
	return cp
}

// sessionMinutesBetween is the mean length of the user's sessions that
// started in [from, to).
func (a *Analyzer) sessionMinutesBetween(userID string, from, to time.Time) float64 {
	var total time.Duration
	n := 0
	for id := range a.userSessions[userID] {
		s, ok := a.sessions[id]
		if !ok || s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		total += s.length()
		n++
	}
	if n == 0 {
		return 0
	}
	return total.Minutes() / float64(n)
}
