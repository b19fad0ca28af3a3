package users

import (
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

const (
	peakHourCount = 5
	unknownBucket = "unknown"
)

// HourCount is the request volume of one hour of day.
type HourCount struct {
	Hour     int
	Requests int
}

// CampaignActivity is the request volume of one campaign.
type CampaignActivity struct {
	CampaignID  string
	Requests    int
	UniqueUsers int
}

// RequestPatternReport aggregates every request within a time range.
type RequestPatternReport struct {
	Start           time.Time
	End             time.Time
	TotalRequests   int
	UniqueUsers     int
	RequestsPerUser float64
	// PeakHours holds the five busiest hours of day, busiest first.
	PeakHours           []HourCount
	DeviceDistribution  map[string]int
	CountryDistribution map[string]int
	// Campaigns is ordered by request volume, highest first.
	Campaigns []CampaignActivity
}

func (r RequestPatternReport) clone() RequestPatternReport {
	r.PeakHours = append([]HourCount(nil), r.PeakHours...)
	r.Campaigns = append([]CampaignActivity(nil), r.Campaigns...)
	r.DeviceDistribution = copyCounts(r.DeviceDistribution)
	r.CountryDistribution = copyCounts(r.CountryDistribution)
	return r
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AnalyzeRequestPatterns scans every request between start and end
// (inclusive, zero meaning unbounded). Missing device types and countries
// are counted as "unknown".
func (a *Analyzer) AnalyzeRequestPatterns(start, end time.Time) (RequestPatternReport, error) {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return RequestPatternReport{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	key := start.UTC().Format(time.RFC3339Nano) + "/" + end.UTC().Format(time.RFC3339Nano)

	a.mu.RLock()
	defer a.mu.RUnlock()
	report := a.reports.GetOrCompute(key, func() RequestPatternReport {
		began := a.clock.Now()
		defer func() { a.metrics.ObserveCompute("request_patterns", a.clock.Since(began)) }()
		return a.computeReport(start, end)
	})
	return report.clone(), nil
}

func (a *Analyzer) computeReport(start, end time.Time) RequestPatternReport {
	report := RequestPatternReport{
		Start:               start,
		End:                 end,
		DeviceDistribution:  make(map[string]int),
		CountryDistribution: make(map[string]int),
	}
	hours := make(map[int]int)
	type campaignAcc struct {
		requests int
		users    map[string]struct{}
	}
	campaigns := make(map[string]*campaignAcc)

	for userID, reqs := range a.requests {
		active := false
		for _, r := range reqs {
			if !stats.InRange(r.Timestamp, start, end) {
				continue
			}
			active = true
			report.TotalRequests++
			hours[r.Timestamp.Hour()]++
			report.DeviceDistribution[orUnknown(r.DeviceType)]++
			report.CountryDistribution[orUnknown(r.Location.Country)]++
			if r.CampaignID == "" {
				continue
			}
			acc, ok := campaigns[r.CampaignID]
			if !ok {
				acc = &campaignAcc{users: make(map[string]struct{})}
				campaigns[r.CampaignID] = acc
			}
			acc.requests++
			acc.users[userID] = struct{}{}
		}
		if active {
			report.UniqueUsers++
		}
	}
	report.RequestsPerUser = stats.SafeDiv(float64(report.TotalRequests), float64(report.UniqueUsers))

	for _, h := range topHours(hours, peakHourCount) {
		report.PeakHours = append(report.PeakHours, HourCount{Hour: h, Requests: hours[h]})
	}
	for id, acc := range campaigns {
		report.Campaigns = append(report.Campaigns, CampaignActivity{
			CampaignID:  id,
			Requests:    acc.requests,
			UniqueUsers: len(acc.users),
		})
	}
	sort.Slice(report.Campaigns, func(i, j int) bool {
		x, y := report.Campaigns[i], report.Campaigns[j]
		if x.Requests != y.Requests {
			return x.Requests > y.Requests
		}
		return x.CampaignID < y.CampaignID
	})
	return report
}

func orUnknown(s string) string {
	if s == "" {
		return unknownBucket
	}
	return s
}
