package users

import (
	"sort"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

// Outcome of a journey step.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// JourneyStep is one request inside a session.
type JourneyStep struct {
	RequestID  string
	CampaignID string
	Timestamp  time.Time
	Accepted   bool
}

// SessionAnalytics tracks one session from its first request until it is
// ended.
type SessionAnalytics struct {
	SessionID         string
	UserID            string
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
	Ended             bool
	TotalRequests     int
	DecisionsAccepted int
	DecisionsRejected int
	// AverageResponseTime is the running mean in milliseconds.
	AverageResponseTime float64
	DeviceInfo          string
	LastActivity        time.Time
	Journey             []JourneyStep
}

func newSession(r Request) *SessionAnalytics {
	return &SessionAnalytics{
		SessionID:    r.SessionID,
		UserID:       r.UserID,
		StartTime:    r.Timestamp,
		LastActivity: r.Timestamp,
		DeviceInfo:   r.DeviceType,
	}
}

func (s *SessionAnalytics) add(r Request) {
	s.AverageResponseTime = stats.RunningAverage(s.AverageResponseTime, s.TotalRequests, r.millis())
	s.TotalRequests++
	if r.DecisionMade {
		s.DecisionsAccepted++
	} else {
		s.DecisionsRejected++
	}
	if r.Timestamp.Before(s.StartTime) {
		s.StartTime = r.Timestamp
	}
	if r.Timestamp.After(s.LastActivity) {
		s.LastActivity = r.Timestamp
	}
	if s.DeviceInfo == "" {
		s.DeviceInfo = r.DeviceType
	}
	s.Journey = append(s.Journey, JourneyStep{
		RequestID:  r.RequestID,
		CampaignID: r.CampaignID,
		Timestamp:  r.Timestamp,
		Accepted:   r.DecisionMade,
	})
}

func (s *SessionAnalytics) end(at time.Time) {
	s.Ended = true
	s.EndTime = at
	s.Duration = at.Sub(s.StartTime)
	if s.Duration < 0 {
		s.Duration = 0
	}
}

// length is the session duration, measured up to the last activity for
// sessions still open.
func (s *SessionAnalytics) length() time.Duration {
	if s.Ended {
		return s.Duration
	}
	return s.LastActivity.Sub(s.StartTime)
}

func (s *SessionAnalytics) clone() SessionAnalytics {
	c := *s
	c.Journey = append([]JourneyStep(nil), s.Journey...)
	return c
}

// GetSessionAnalytics returns a copy of the session.
func (a *Analyzer) GetSessionAnalytics(sessionID string) (SessionAnalytics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return SessionAnalytics{}, false
	}
	return s.clone(), true
}

// GetUserSessions returns copies of every session of the user, oldest
// first.
func (a *Analyzer) GetUserSessions(userID string) []SessionAnalytics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := a.userSessions[userID]
	out := make([]SessionAnalytics, 0, len(ids))
	for id := range ids {
		if s, ok := a.sessions[id]; ok {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// averageSessionLength is the mean length of the user's sessions.
func (a *Analyzer) averageSessionLength(userID string) time.Duration {
	ids := a.userSessions[userID]
	if len(ids) == 0 {
		return 0
	}
	var total time.Duration
	n := 0
	for id := range ids {
		if s, ok := a.sessions[id]; ok {
			total += s.length()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// JourneyEvent is one request on a user's journey.
type JourneyEvent struct {
	RequestID    string
	SessionID    string
	CampaignID   string
	Timestamp    time.Time
	Outcome      string
	ResponseTime float64 // milliseconds
	DeviceType   string
}

// GetUserJourney returns the user's requests as journey events, oldest
// first. A non-empty sessionID restricts the journey to that session.
func (a *Analyzer) GetUserJourney(userID, sessionID string) []JourneyEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	reqs := a.requests[userID]
	out := make([]JourneyEvent, 0, len(reqs))
	for _, r := range reqs {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		outcome := OutcomeRejected
		if r.DecisionMade {
			outcome = OutcomeAccepted
		}
		out = append(out, JourneyEvent{
			RequestID:    r.RequestID,
			SessionID:    r.SessionID,
			CampaignID:   r.CampaignID,
			Timestamp:    r.Timestamp,
			Outcome:      outcome,
			ResponseTime: r.millis(),
			DeviceType:   r.DeviceType,
		})
	}
	return out
}
