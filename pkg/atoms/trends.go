package atoms

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

// ErrInvalidRange is returned when a time range ends before it starts.
var ErrInvalidRange = errors.New("range end is before start")

// UsageTrendPoint aggregates an atom's executions within one time bucket.
type UsageTrendPoint struct {
	Key                  string
	Start                time.Time
	Executions           int
	Successes            int
	SuccessRate          float64
	AverageExecutionTime float64
}

type trendBucket struct {
	start      time.Time
	executions int
	successes  int
	totalTime  float64
}

// GetUsageTrends buckets the atom's executions between start and end
// (inclusive, zero meaning unbounded) by granularity. Sampled executions
// land in the bucket of their own timestamp; executions that aged out of
// the sample ring land in the bucket of their record's last use. Only
// buckets with executions are returned, oldest first.
func (a *Analyzer) GetUsageTrends(atomID string, start, end time.Time, g stats.Granularity) ([]UsageTrendPoint, error) {
	if _, err := stats.ParseGranularity(string(g)); err != nil {
		return nil, err
	}
	if g == "" {
		g = stats.Day
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	buckets := make(map[string]*trendBucket)
	add := func(at time.Time, n, successes int, totalTime float64) {
		key := stats.BucketKey(at, g)
		b, ok := buckets[key]
		if !ok {
			b = &trendBucket{start: stats.BucketStart(at, g)}
			buckets[key] = b
		}
		b.executions += n
		b.successes += successes
		b.totalTime += totalTime
	}
	for _, r := range a.records[atomID] {
		for _, s := range r.Samples {
			if !stats.InRange(s.At, start, end) {
				continue
			}
			ok := 0
			if s.Success {
				ok = 1
			}
			add(s.At, 1, ok, s.Duration)
		}
		if n, avg, successes := r.unsampled(); n > 0 && stats.InRange(r.LastUsed, start, end) {
			add(r.LastUsed, n, successes, avg*float64(n))
		}
	}

	out := make([]UsageTrendPoint, 0, len(buckets))
	for key, b := range buckets {
		out = append(out, UsageTrendPoint{
			Key:                  key,
			Start:                b.start,
			Executions:           b.executions,
			Successes:            b.successes,
			SuccessRate:          stats.Ratio(b.successes, b.executions),
			AverageExecutionTime: stats.SafeDiv(b.totalTime, float64(b.executions)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
