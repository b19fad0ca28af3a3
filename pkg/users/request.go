package users

import (
	"errors"
	"time"
)

var (
	// ErrInvalidRetention is returned for negative retention windows.
	ErrInvalidRetention = errors.New("retention days must not be negative")
	// ErrMissingUserID is returned when a request carries no user id.
	ErrMissingUserID = errors.New("user id is required")
	// ErrMissingSessionID is returned when a request carries no session id.
	ErrMissingSessionID = errors.New("session id is required")
	// ErrNegativeDuration is returned for negative response times.
	ErrNegativeDuration = errors.New("response time must not be negative")
	// ErrInvalidPeriod is returned for cohort periods other than week and
	// month.
	ErrInvalidPeriod = errors.New("cohort period must be week or month")
	// ErrInvalidRange is returned when a time range ends before it starts.
	ErrInvalidRange = errors.New("range end is before start")
)

// Location is where a request came from.
type Location struct {
	Country string
	Region  string
	City    string
}

// Request is one user decision request. Records are append-only.
type Request struct {
	UserID    string
	SessionID string
	// RequestID is generated when empty.
	RequestID  string
	CampaignID string
	// Timestamp defaults to the analyzer clock when zero.
	Timestamp    time.Time
	ContextData  map[string]interface{}
	DecisionMade bool
	ResponseTime time.Duration
	DeviceType   string
	Location     Location
}

// Personalized reports whether the request carried any context data.
func (r Request) Personalized() bool {
	return len(r.ContextData) > 0
}

func (r Request) millis() float64 {
	return float64(r.ResponseTime) / float64(time.Millisecond)
}

func (r Request) clone() Request {
	c := r
	if r.ContextData != nil {
		c.ContextData = make(map[string]interface{}, len(r.ContextData))
		for k, v := range r.ContextData {
			c.ContextData[k] = v
		}
	}
	return c
}
