package atoms

import (
	"math"
	"sort"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

const topErrorCount = 5

// ErrorFrequency is one entry of an atom's most common errors.
type ErrorFrequency struct {
	Message    string
	Count      int
	Percentage float64
}

// AtomPerformanceStats summarizes every execution of an atom. Times are in
// milliseconds and rates are percentages.
type AtomPerformanceStats struct {
	AtomID               string
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int
	SuccessRate          float64
	ErrorRate            float64
	AverageExecutionTime float64
	MedianExecutionTime  float64
	P95ExecutionTime     float64
	MinExecutionTime     float64
	MaxExecutionTime     float64
	// UsageFrequency is executions per day since first use.
	UsageFrequency  float64
	EfficiencyScore float64
	// PopularityRank is 1-based and only set by GetAtomRankings.
	PopularityRank int
	CommonErrors   []ErrorFrequency
	FirstUsed      time.Time
	LastUsed       time.Time
}

// RankingCriterion selects the ordering of GetAtomRankings.
type RankingCriterion string

const (
	RankByUsage       RankingCriterion = "usage"
	RankByPerformance RankingCriterion = "performance"
	RankByReliability RankingCriterion = "reliability"
	RankByEfficiency  RankingCriterion = "efficiency"
)

// DefaultRankingLimit is used when GetAtomRankings gets a non-positive limit.
const DefaultRankingLimit = 10

// GetAtomPerformance returns the atom's stats. Unknown atoms yield zero
// stats carrying only the id.
func (a *Analyzer) GetAtomPerformance(atomID string) AtomPerformanceStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.statsLocked(atomID)
	s.CommonErrors = append([]ErrorFrequency(nil), s.CommonErrors...)
	return s
}

func (a *Analyzer) statsLocked(atomID string) AtomPerformanceStats {
	return a.stats.GetOrCompute(atomID, func() AtomPerformanceStats {
		start := a.clock.Now()
		defer func() { a.metrics.ObserveCompute("atom_performance", a.clock.Since(start)) }()
		return computeStats(atomID, a.records[atomID], a.clock.Now())
	})
}

func computeStats(atomID string, records []*UsageRecord, now time.Time) AtomPerformanceStats {
	s := AtomPerformanceStats{AtomID: atomID}
	if len(records) == 0 {
		return s
	}
	var totalTime float64
	var durations []float64
	errorCounts := make(map[string]int)
	for _, r := range records {
		s.TotalExecutions += r.ExecutionCount
		s.SuccessfulExecutions += r.SuccessCount
		s.FailedExecutions += r.FailureCount
		totalTime += r.totalTime()
		durations = append(durations, r.durations()...)
		for _, msg := range r.ErrorMessages {
			errorCounts[msg]++
		}
		if s.FirstUsed.IsZero() || r.FirstUsed.Before(s.FirstUsed) {
			s.FirstUsed = r.FirstUsed
		}
		if r.LastUsed.After(s.LastUsed) {
			s.LastUsed = r.LastUsed
		}
	}
	if s.TotalExecutions == 0 {
		return s
	}

	s.SuccessRate = stats.Ratio(s.SuccessfulExecutions, s.TotalExecutions)
	s.ErrorRate = stats.Ratio(s.FailedExecutions, s.TotalExecutions)
	s.AverageExecutionTime = totalTime / float64(s.TotalExecutions)

	sorted := stats.SortFloats(durations)
	s.MedianExecutionTime = stats.FloorPercentile(sorted, 0.5)
	s.P95ExecutionTime = stats.FloorPercentile(sorted, 0.95)
	if len(sorted) > 0 {
		s.MinExecutionTime = sorted[0]
		s.MaxExecutionTime = sorted[len(sorted)-1]
	}

	days := math.Max(1, stats.DaysBetween(s.FirstUsed, now))
	s.UsageFrequency = float64(s.TotalExecutions) / days

	timeScore := math.Max(0, 100-s.AverageExecutionTime/10)
	s.EfficiencyScore = 0.4*timeScore + 0.6*s.SuccessRate

	for _, kc := range stats.TopCounts(errorCounts, topErrorCount) {
		s.CommonErrors = append(s.CommonErrors, ErrorFrequency{
			Message:    kc.Key,
			Count:      kc.Count,
			Percentage: stats.Ratio(kc.Count, s.TotalExecutions),
		})
	}
	return s
}

// GetAtomRankings orders every atom by the criterion and returns at most
// limit entries with PopularityRank set. Unknown criteria rank by
// efficiency. Ties break by atom id.
func (a *Analyzer) GetAtomRankings(orderBy RankingCriterion, limit int) []AtomPerformanceStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rankingsLocked(orderBy, limit)
}

func (a *Analyzer) rankingsLocked(orderBy RankingCriterion, limit int) []AtomPerformanceStats {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	all := a.rankAllLocked(orderBy)
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// rankAllLocked ranks every atom with at least one execution.
func (a *Analyzer) rankAllLocked(orderBy RankingCriterion) []AtomPerformanceStats {
	all := make([]AtomPerformanceStats, 0, len(a.records))
	for _, id := range a.atomIDsLocked() {
		s := a.statsLocked(id)
		if s.TotalExecutions == 0 {
			continue
		}
		s.CommonErrors = append([]ErrorFrequency(nil), s.CommonErrors...)
		all = append(all, s)
	}
	less := rankingOrder(orderBy)
	sort.SliceStable(all, func(i, j int) bool {
		if less(all[i], all[j]) {
			return true
		}
		if less(all[j], all[i]) {
			return false
		}
		return all[i].AtomID < all[j].AtomID
	})
	for i := range all {
		all[i].PopularityRank = i + 1
	}
	return all
}

func rankingOrder(orderBy RankingCriterion) func(x, y AtomPerformanceStats) bool {
	switch orderBy {
	case RankByUsage:
		return func(x, y AtomPerformanceStats) bool {
			if x.UsageFrequency != y.UsageFrequency {
				return x.UsageFrequency > y.UsageFrequency
			}
			return x.TotalExecutions > y.TotalExecutions
		}
	case RankByPerformance:
		return func(x, y AtomPerformanceStats) bool { return x.AverageExecutionTime < y.AverageExecutionTime }
	case RankByReliability:
		return func(x, y AtomPerformanceStats) bool { return x.SuccessRate > y.SuccessRate }
	default:
		return func(x, y AtomPerformanceStats) bool { return x.EfficiencyScore > y.EfficiencyScore }
	}
}
