package campaigns

import (
	"errors"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

var (
	// ErrInvalidRetention is returned for negative retention windows.
	ErrInvalidRetention = errors.New("retention days must not be negative")
	// ErrMissingCampaignID is returned when an execution carries no campaign id.
	ErrMissingCampaignID = errors.New("campaign id is required")
	// ErrNegativeDuration is returned for negative execution times.
	ErrNegativeDuration = errors.New("execution time must not be negative")
	// ErrInvalidStatus is returned for statuses other than success, failure
	// and partial.
	ErrInvalidStatus = errors.New("invalid execution status")
	// ErrInvalidRange is returned when a time range ends before it starts.
	ErrInvalidRange = errors.New("range end is before start")
)

// Status is the outcome of a decision execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusPartial:
		return true
	}
	return false
}

// Execution is one campaign decision execution. Records are append-only.
type Execution struct {
	CampaignID     string
	DecisionID     string
	ExecutionTime  time.Duration
	Status         Status
	RulesEvaluated int
	RulesTriggered int
	Errors         []string
	// Timestamp defaults to the collector clock when zero.
	Timestamp time.Time
	Context   map[string]interface{}
}

func (e Execution) millis() float64 {
	return float64(e.ExecutionTime) / float64(time.Millisecond)
}

func (e Execution) clone() Execution {
	c := e
	c.Errors = append([]string(nil), e.Errors...)
	if e.Context != nil {
		c.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return c
}

// RulePerformanceMetric is the rolling aggregate kept per decision id.
type RulePerformanceMetric struct {
	DecisionID      string
	TotalExecutions int
	SuccessCount    int
	// AverageExecutionTime is the running mean in milliseconds.
	AverageExecutionTime float64
	RulesEvaluated       int
	RulesTriggered       int
	LastExecuted         time.Time
}

func (m *RulePerformanceMetric) add(e Execution) {
	m.AverageExecutionTime = stats.RunningAverage(m.AverageExecutionTime, m.TotalExecutions, e.millis())
	m.TotalExecutions++
	if e.Status == StatusSuccess {
		m.SuccessCount++
	}
	m.RulesEvaluated += e.RulesEvaluated
	m.RulesTriggered += e.RulesTriggered
	if e.Timestamp.After(m.LastExecuted) {
		m.LastExecuted = e.Timestamp
	}
}
