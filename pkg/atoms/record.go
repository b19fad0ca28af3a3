package atoms

import (
	"errors"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

var (
	// ErrInvalidRetention is returned for negative retention windows.
	ErrInvalidRetention = errors.New("retention days must not be negative")
	// ErrMissingAtomID is returned when a usage carries no atom id.
	ErrMissingAtomID = errors.New("atom id is required")
	// ErrNegativeDuration is returned for negative execution times.
	ErrNegativeDuration = errors.New("execution time must not be negative")
)

// DefaultSampleLimit is the number of raw executions retained per record.
const DefaultSampleLimit = 256

// Usage is one atom execution as reported by the decision orchestrator.
type Usage struct {
	AtomID        string
	RuleID        string
	CampaignID    string
	ExecutionTime time.Duration
	Success       bool
	Input         map[string]interface{}
	Output        map[string]interface{}
	ErrorMessage  string
	Context       map[string]interface{}
	// Timestamp defaults to the analyzer clock when zero.
	Timestamp time.Time
}

// Sample is one raw execution retained for percentile and trend math.
type Sample struct {
	At       time.Time
	Duration float64 // milliseconds
	Success  bool
}

// UsageRecord aggregates the executions of one atom under one
// (rule, campaign) pair.
type UsageRecord struct {
	AtomID     string
	RuleID     string
	CampaignID string

	ExecutionCount int
	SuccessCount   int
	FailureCount   int
	// AverageExecutionTime is the running mean in milliseconds.
	AverageExecutionTime float64

	FirstUsed     time.Time
	LastUsed      time.Time
	ErrorMessages []string
	LastInput     map[string]interface{}
	LastOutput    map[string]interface{}
	Context       map[string]interface{}

	Samples []Sample
}

func (r *UsageRecord) sameKey(u Usage) bool {
	return r.RuleID == u.RuleID && r.CampaignID == u.CampaignID
}

func (r *UsageRecord) contextKey() string {
	return r.RuleID + "\x00" + r.CampaignID
}

// totalTime is the summed execution time in milliseconds.
func (r *UsageRecord) totalTime() float64 {
	return r.AverageExecutionTime * float64(r.ExecutionCount)
}

func (r *UsageRecord) merge(u Usage, at time.Time, ms float64, limit int) {
	r.AverageExecutionTime = stats.RunningAverage(r.AverageExecutionTime, r.ExecutionCount, ms)
	r.ExecutionCount++
	if u.Success {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
	if u.ErrorMessage != "" {
		r.ErrorMessages = append(r.ErrorMessages, u.ErrorMessage)
	}
	if at.After(r.LastUsed) {
		r.LastUsed = at
	}
	r.LastInput = u.Input
	r.LastOutput = u.Output
	for k, v := range u.Context {
		if r.Context == nil {
			r.Context = make(map[string]interface{}, len(u.Context))
		}
		r.Context[k] = v
	}
	r.addSample(Sample{At: at, Duration: ms, Success: u.Success}, limit)
}

func (r *UsageRecord) addSample(s Sample, limit int) {
	if limit <= 0 {
		return
	}
	if len(r.Samples) >= limit {
		r.Samples = append(r.Samples[:0], r.Samples[len(r.Samples)-limit+1:]...)
	}
	r.Samples = append(r.Samples, s)
}

// unsampled describes the executions that are no longer in the sample ring:
// how many there are, their mean duration and how many of them succeeded.
func (r *UsageRecord) unsampled() (count int, avg float64, successes int) {
	count = r.ExecutionCount - len(r.Samples)
	if count <= 0 {
		return 0, 0, 0
	}
	var sampledTime float64
	sampledSuccesses := 0
	for _, s := range r.Samples {
		sampledTime += s.Duration
		if s.Success {
			sampledSuccesses++
		}
	}
	avg = (r.totalTime() - sampledTime) / float64(count)
	if avg < 0 {
		avg = 0
	}
	successes = r.SuccessCount - sampledSuccesses
	if successes < 0 {
		successes = 0
	}
	if successes > count {
		successes = count
	}
	return count, avg, successes
}

// durations returns one duration per execution: the sampled ones plus the
// reconstructed remainder.
func (r *UsageRecord) durations() []float64 {
	out := make([]float64, 0, r.ExecutionCount)
	for _, s := range r.Samples {
		out = append(out, s.Duration)
	}
	n, avg, _ := r.unsampled()
	for i := 0; i < n; i++ {
		out = append(out, avg)
	}
	return out
}

func (r *UsageRecord) clone() UsageRecord {
	c := *r
	c.ErrorMessages = append([]string(nil), r.ErrorMessages...)
	c.Samples = append([]Sample(nil), r.Samples...)
	c.LastInput = copyMap(r.LastInput)
	c.LastOutput = copyMap(r.LastOutput)
	c.Context = copyMap(r.Context)
	return c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
