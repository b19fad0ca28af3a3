package campaigns

import (
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

const (
	topErrorCount = 10
	trendDays     = 7

	// DefaultTopCampaigns is used when GetTopPerformingCampaigns gets a
	// non-positive limit.
	DefaultTopCampaigns = 10
)

// ErrorCount is one entry of a campaign's most common errors.
type ErrorCount struct {
	Error string
	Count int
}

// TrendPoint aggregates a campaign's executions within one time bucket.
type TrendPoint struct {
	Key                  string
	Start                time.Time
	Executions           int
	SuccessRate          float64
	AverageExecutionTime float64
}

// CampaignPerformanceStats summarizes every execution of a campaign. Times
// are in milliseconds and rates are percentages. Partial executions count
// as neither success nor failure.
type CampaignPerformanceStats struct {
	CampaignID           string
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int
	PartialExecutions    int
	SuccessRate          float64
	// ErrorRate is the share of executions that reported at least one error.
	ErrorRate            float64
	AverageExecutionTime float64
	TotalRulesEvaluated  int
	TotalRulesTriggered  int
	CommonErrors         []ErrorCount
	// PerformanceTrend has one point per day for the last seven days,
	// today included.
	PerformanceTrend []TrendPoint
	LastExecuted     time.Time
}

// ExecutionTimePercentiles are linearly interpolated, in milliseconds.
type ExecutionTimePercentiles struct {
	P50 float64
	P75 float64
	P90 float64
	P95 float64
	P99 float64
}

// ErrorAnalysis breaks down one distinct error string.
type ErrorAnalysis struct {
	Error string
	Count int
	// Percentage is relative to every error occurrence of the campaign.
	Percentage     float64
	LastOccurrence time.Time
	DecisionIDs    []string
}

// GetCampaignPerformance returns the campaign's stats. Unknown campaigns
// yield zero stats carrying only the id.
func (c *Collector) GetCampaignPerformance(campaignID string) CampaignPerformanceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyStats(c.statsLocked(campaignID))
}

func (c *Collector) statsLocked(campaignID string) CampaignPerformanceStats {
	return c.stats.GetOrCompute(campaignID, func() CampaignPerformanceStats {
		start := c.clock.Now()
		defer func() { c.metrics.ObserveCompute("campaign_performance", c.clock.Since(start)) }()
		return computeStats(campaignID, c.executions[campaignID], c.clock.Now())
	})
}

func copyStats(s CampaignPerformanceStats) CampaignPerformanceStats {
	s.CommonErrors = append([]ErrorCount(nil), s.CommonErrors...)
	s.PerformanceTrend = append([]TrendPoint(nil), s.PerformanceTrend...)
	return s
}

func computeStats(campaignID string, execs []Execution, now time.Time) CampaignPerformanceStats {
	s := CampaignPerformanceStats{CampaignID: campaignID}
	if len(execs) == 0 {
		return s
	}
	var totalTime float64
	withErrors := 0
	errorCounts := make(map[string]int)
	for _, e := range execs {
		s.TotalExecutions++
		switch e.Status {
		case StatusSuccess:
			s.SuccessfulExecutions++
		case StatusFailure:
			s.FailedExecutions++
		case StatusPartial:
			s.PartialExecutions++
		}
		totalTime += e.millis()
		s.TotalRulesEvaluated += e.RulesEvaluated
		s.TotalRulesTriggered += e.RulesTriggered
		if len(e.Errors) > 0 {
			withErrors++
		}
		for _, msg := range e.Errors {
			errorCounts[msg]++
		}
		if e.Timestamp.After(s.LastExecuted) {
			s.LastExecuted = e.Timestamp
		}
	}
	s.SuccessRate = stats.Ratio(s.SuccessfulExecutions, s.TotalExecutions)
	s.ErrorRate = stats.Ratio(withErrors, s.TotalExecutions)
	s.AverageExecutionTime = totalTime / float64(s.TotalExecutions)
	for _, kc := range stats.TopCounts(errorCounts, topErrorCount) {
		s.CommonErrors = append(s.CommonErrors, ErrorCount{Error: kc.Key, Count: kc.Count})
	}

	from := stats.BucketStart(now, stats.Day).AddDate(0, 0, -(trendDays - 1))
	byDay := make(map[string]TrendPoint)
	for _, p := range aggregateByTime(execs, from, now, stats.Day) {
		byDay[p.Key] = p
	}
	for i := 0; i < trendDays; i++ {
		day := from.AddDate(0, 0, i)
		key := stats.BucketKey(day, stats.Day)
		p, ok := byDay[key]
		if !ok {
			p = TrendPoint{Key: key, Start: day}
		}
		s.PerformanceTrend = append(s.PerformanceTrend, p)
	}
	return s
}

// GetTopPerformingCampaigns ranks campaigns by success rate, then by
// execution count, then by id. A non-positive limit returns the default
// number of campaigns.
func (c *Collector) GetTopPerformingCampaigns(limit int) []CampaignPerformanceStats {
	if limit <= 0 {
		limit = DefaultTopCampaigns
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]CampaignPerformanceStats, 0, len(c.executions))
	for _, id := range c.campaignIDsLocked() {
		s := c.statsLocked(id)
		if s.TotalExecutions == 0 {
			continue
		}
		all = append(all, copyStats(s))
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].SuccessRate != all[j].SuccessRate {
			return all[i].SuccessRate > all[j].SuccessRate
		}
		if all[i].TotalExecutions != all[j].TotalExecutions {
			return all[i].TotalExecutions > all[j].TotalExecutions
		}
		return all[i].CampaignID < all[j].CampaignID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// GetPerformanceTrends buckets the campaign's executions between start and
// end (inclusive, zero meaning unbounded). Only non-empty buckets are
// returned, oldest first.
func (c *Collector) GetPerformanceTrends(campaignID string, start, end time.Time, g stats.Granularity) ([]TrendPoint, error) {
	if _, err := stats.ParseGranularity(string(g)); err != nil {
		return nil, err
	}
	if g == "" {
		g = stats.Day
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return aggregateByTime(c.executions[campaignID], start, end, g), nil
}

type trendBucket struct {
	start      time.Time
	executions int
	successes  int
	totalTime  float64
}

func aggregateByTime(execs []Execution, start, end time.Time, g stats.Granularity) []TrendPoint {
	buckets := make(map[string]*trendBucket)
	for _, e := range execs {
		if !stats.InRange(e.Timestamp, start, end) {
			continue
		}
		key := stats.BucketKey(e.Timestamp, g)
		b, ok := buckets[key]
		if !ok {
			b = &trendBucket{start: stats.BucketStart(e.Timestamp, g)}
			buckets[key] = b
		}
		b.executions++
		if e.Status == StatusSuccess {
			b.successes++
		}
		b.totalTime += e.millis()
	}
	out := make([]TrendPoint, 0, len(buckets))
	for key, b := range buckets {
		out = append(out, TrendPoint{
			Key:                  key,
			Start:                b.start,
			Executions:           b.executions,
			SuccessRate:          stats.Ratio(b.successes, b.executions),
			AverageExecutionTime: stats.SafeDiv(b.totalTime, float64(b.executions)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// GetExecutionTimePercentiles returns interpolated percentiles over every
// recorded execution time. Unknown or empty campaigns yield zeros.
func (c *Collector) GetExecutionTimePercentiles(campaignID string) ExecutionTimePercentiles {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.percentiles.GetOrCompute(campaignID, func() ExecutionTimePercentiles {
		execs := c.executions[campaignID]
		times := make([]float64, 0, len(execs))
		for _, e := range execs {
			times = append(times, e.millis())
		}
		sorted := stats.SortFloats(times)
		return ExecutionTimePercentiles{
			P50: stats.Percentile(sorted, 0.50),
			P75: stats.Percentile(sorted, 0.75),
			P90: stats.Percentile(sorted, 0.90),
			P95: stats.Percentile(sorted, 0.95),
			P99: stats.Percentile(sorted, 0.99),
		}
	})
}

// GetErrorAnalysis returns one entry per distinct error string, most
// frequent first.
func (c *Collector) GetErrorAnalysis(campaignID string) []ErrorAnalysis {
	c.mu.RLock()
	defer c.mu.RUnlock()
	analysis := c.errors.GetOrCompute(campaignID, func() []ErrorAnalysis {
		return analyzeErrors(c.executions[campaignID])
	})
	out := make([]ErrorAnalysis, len(analysis))
	for i, a := range analysis {
		a.DecisionIDs = append([]string(nil), a.DecisionIDs...)
		out[i] = a
	}
	return out
}

func analyzeErrors(execs []Execution) []ErrorAnalysis {
	type entry struct {
		count     int
		last      time.Time
		decisions map[string]bool
	}
	entries := make(map[string]*entry)
	total := 0
	for _, e := range execs {
		for _, msg := range e.Errors {
			total++
			en, ok := entries[msg]
			if !ok {
				en = &entry{decisions: make(map[string]bool)}
				entries[msg] = en
			}
			en.count++
			if e.Timestamp.After(en.last) {
				en.last = e.Timestamp
			}
			if e.DecisionID != "" {
				en.decisions[e.DecisionID] = true
			}
		}
	}
	out := make([]ErrorAnalysis, 0, len(entries))
	for msg, en := range entries {
		ids := make([]string, 0, len(en.decisions))
		for id := range en.decisions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = append(out, ErrorAnalysis{
			Error:          msg,
			Count:          en.count,
			Percentage:     stats.Ratio(en.count, total),
			LastOccurrence: en.last,
			DecisionIDs:    ids,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	return out
}
