package users

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/decisionlens/pkg/notify"
	"github.com/platinummonkey/decisionlens/pkg/observability"
)

var epoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T, retentionDays int, opts ...Option) *Analyzer {
	t.Helper()
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(epoch))}, opts...)
	a, err := NewAnalyzer(retentionDays, opts...)
	require.NoError(t, err)
	return a
}

func request(userID, sessionID, campaignID string, at time.Time, accepted bool) Request {
	return Request{
		UserID:       userID,
		SessionID:    sessionID,
		CampaignID:   campaignID,
		Timestamp:    at,
		DecisionMade: accepted,
		ResponseTime: 100 * time.Millisecond,
		DeviceType:   "mobile",
		Location:     Location{Country: "DE", City: "Berlin"},
	}
}

func TestNewAnalyzer_RejectsNegativeRetention(t *testing.T) {
	_, err := NewAnalyzer(-365)
	assert.ErrorIs(t, err, ErrInvalidRetention)
}

func TestRecordUserRequest_Validation(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	a := newTestAnalyzer(t, 365, WithMetrics(metrics))

	assert.ErrorIs(t, a.RecordUserRequest(Request{SessionID: "s1"}), ErrMissingUserID)
	assert.ErrorIs(t, a.RecordUserRequest(Request{UserID: "u1"}), ErrMissingSessionID)
	bad := request("u1", "s1", "c1", epoch, true)
	bad.ResponseTime = -time.Second
	assert.ErrorIs(t, a.RecordUserRequest(bad), ErrNegativeDuration)

	assert.Empty(t, a.UserIDs())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsRejectedTotal.WithLabelValues("user_request", "missing_id")))
}

func TestRecordUserRequest_Defaults(t *testing.T) {
	bus := notify.NewBus(nil, nil)
	events, cancel := bus.SubscribeChannel("test", 4, notify.RequestRecorded)
	defer cancel()
	a := newTestAnalyzer(t, 365, WithPublisher(bus))

	require.NoError(t, a.RecordUserRequest(Request{UserID: "u1", SessionID: "s1"}))

	journey := a.GetUserJourney("u1", "")
	require.Len(t, journey, 1)
	assert.NotEmpty(t, journey[0].RequestID)
	assert.Equal(t, epoch, journey[0].Timestamp)
	assert.Equal(t, OutcomeRejected, journey[0].Outcome)

	require.Len(t, events, 1)
	e := <-events
	assert.Equal(t, journey[0].RequestID, e.Payload.(Request).RequestID)
}

func TestRecordUserRequest_UpdatesSession(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	for i, ms := range []int{100, 200, 300} {
		r := request("u1", "s1", "c1", epoch.Add(time.Duration(i)*time.Minute), i != 1)
		r.ResponseTime = time.Duration(ms) * time.Millisecond
		require.NoError(t, a.RecordUserRequest(r))
	}

	s, ok := a.GetSessionAnalytics("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 2, s.DecisionsAccepted)
	assert.Equal(t, 1, s.DecisionsRejected)
	assert.InDelta(t, 200, s.AverageResponseTime, 1e-9)
	assert.Equal(t, "mobile", s.DeviceInfo)
	assert.Equal(t, epoch, s.StartTime)
	assert.Len(t, s.Journey, 3)
	assert.False(t, s.Ended)

	_, ok = a.GetSessionAnalytics("missing")
	assert.False(t, ok)
}

func TestEndSession(t *testing.T) {
	bus := notify.NewBus(nil, nil)
	ended, cancel := bus.SubscribeChannel("test", 4, notify.SessionEnded)
	defer cancel()
	clock := clockwork.NewFakeClockAt(epoch)
	a, err := NewAnalyzer(365, WithClock(clock), WithPublisher(bus))
	require.NoError(t, err)

	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch, true)))
	clock.Advance(10 * time.Minute)
	require.NoError(t, a.EndSession("s1"))

	s, ok := a.GetSessionAnalytics("s1")
	require.True(t, ok)
	assert.True(t, s.Ended)
	assert.Equal(t, epoch.Add(10*time.Minute), s.EndTime)
	assert.Equal(t, 10*time.Minute, s.Duration)

	clock.Advance(time.Hour)
	require.NoError(t, a.EndSession("s1"))
	s, _ = a.GetSessionAnalytics("s1")
	assert.Equal(t, 10*time.Minute, s.Duration)
	assert.Len(t, ended, 1)

	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", clock.Now(), true)))
	s, _ = a.GetSessionAnalytics("s1")
	assert.Equal(t, 1, s.TotalRequests)
	assert.Equal(t, 2, a.GetUserBehaviorPattern("u1").TotalRequests)

	require.NoError(t, a.EndSession("missing"))
	_, found := a.GetSessionAnalytics("missing")
	assert.False(t, found)
	assert.Len(t, ended, 1)
}

func TestEndSessionAt(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch, true)))
	require.NoError(t, a.EndSessionAt("s1", epoch.Add(-time.Minute)))

	s, _ := a.GetSessionAnalytics("s1")
	assert.Equal(t, time.Duration(0), s.Duration)
}

func TestGetUserSessions(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	require.NoError(t, a.RecordUserRequest(request("u1", "late", "c1", epoch, true)))
	require.NoError(t, a.RecordUserRequest(request("u1", "early", "c1", epoch.Add(-time.Hour), true)))
	require.NoError(t, a.RecordUserRequest(request("u2", "other", "c1", epoch, true)))

	sessions := a.GetUserSessions("u1")
	require.Len(t, sessions, 2)
	assert.Equal(t, "early", sessions[0].SessionID)
	assert.Equal(t, "late", sessions[1].SessionID)
	assert.Empty(t, a.GetUserSessions("nobody"))
}

func TestGetUserJourney(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	require.NoError(t, a.RecordUserRequest(request("u1", "s2", "c2", epoch.Add(time.Hour), false)))
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch, true)))
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch.Add(time.Minute), false)))

	journey := a.GetUserJourney("u1", "")
	require.Len(t, journey, 3)
	assert.Equal(t, epoch, journey[0].Timestamp)
	assert.Equal(t, OutcomeAccepted, journey[0].Outcome)
	assert.Equal(t, "s2", journey[2].SessionID)
	assert.InDelta(t, 100, journey[0].ResponseTime, 1e-9)

	s1 := a.GetUserJourney("u1", "s1")
	require.Len(t, s1, 2)
	assert.Equal(t, OutcomeRejected, s1[1].Outcome)

	assert.Empty(t, a.GetUserJourney("nobody", ""))
}

func TestEvictExpired(t *testing.T) {
	a := newTestAnalyzer(t, 30)
	require.NoError(t, a.RecordUserRequest(request("gone", "s-gone", "c1", epoch.AddDate(0, 0, -40), true)))
	require.NoError(t, a.RecordUserRequest(request("u1", "s-old", "c1", epoch.AddDate(0, 0, -40), true)))
	require.NoError(t, a.RecordUserRequest(request("u1", "s-new", "c1", epoch, false)))
	assert.Equal(t, 2, a.GetUserBehaviorPattern("u1").TotalRequests)

	assert.Equal(t, 2, a.EvictExpired(epoch))
	assert.Equal(t, []string{"u1"}, a.UserIDs())

	p := a.GetUserBehaviorPattern("u1")
	assert.Equal(t, 1, p.TotalRequests)
	assert.Zero(t, p.ConversionLikelihood)
	assert.Equal(t, 1, a.GetPersonalizationEffectiveness("u1").GenericRequests)

	_, ok := a.GetSessionAnalytics("s-old")
	assert.False(t, ok)
	_, ok = a.GetSessionAnalytics("s-gone")
	assert.False(t, ok)
	assert.Len(t, a.GetUserSessions("u1"), 1)
	assert.Equal(t, LifetimeValuePrediction{UserID: "gone"}, a.PredictUserLifetimeValue("gone"))

	assert.Equal(t, 0, a.EvictExpired(epoch))
	require.NoError(t, a.SetRetentionDays(0))
	assert.Equal(t, 0, a.RetentionDays())
	assert.ErrorIs(t, a.SetRetentionDays(-1), ErrInvalidRetention)
}

func TestAnalyzeRequestPatterns(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	at := func(hour int) time.Time { return time.Date(2026, 3, 9, hour, 0, 0, 0, time.UTC) }

	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", at(9), true)))
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c2", at(9), true)))
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", at(10), true)))
	desktop := request("u2", "s2", "c1", at(14), false)
	desktop.DeviceType = ""
	desktop.Location = Location{Country: "FR"}
	require.NoError(t, a.RecordUserRequest(desktop))
	require.NoError(t, a.RecordUserRequest(request("u3", "s3", "c3", epoch, true)))

	report, err := a.AnalyzeRequestPatterns(at(0), at(23))
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalRequests)
	assert.Equal(t, 2, report.UniqueUsers)
	assert.InDelta(t, 2, report.RequestsPerUser, 1e-9)
	assert.Equal(t, []HourCount{{9, 2}, {10, 1}, {14, 1}}, report.PeakHours)
	assert.Equal(t, map[string]int{"mobile": 3, "unknown": 1}, report.DeviceDistribution)
	assert.Equal(t, map[string]int{"DE": 3, "FR": 1}, report.CountryDistribution)
	assert.Equal(t, []CampaignActivity{
		{CampaignID: "c1", Requests: 3, UniqueUsers: 2},
		{CampaignID: "c2", Requests: 1, UniqueUsers: 1},
	}, report.Campaigns)

	all, err := a.AnalyzeRequestPatterns(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, all.TotalRequests)

	_, err = a.AnalyzeRequestPatterns(epoch, epoch.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestAnalyzeRequestPatterns_InvalidatedOnWrite(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch, true)))
	report, err := a.AnalyzeRequestPatterns(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalRequests)
	report.DeviceDistribution["mobile"] = 99

	require.NoError(t, a.RecordUserRequest(request("u2", "s2", "c1", epoch, true)))
	report, err = a.AnalyzeRequestPatterns(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalRequests)
	assert.Equal(t, 2, report.DeviceDistribution["mobile"])
}

func TestRecordUserRequest_ManyUsers(t *testing.T) {
	a := newTestAnalyzer(t, 365)
	for i := 0; i < 50; i++ {
		require.NoError(t, a.RecordUserRequest(request(fmt.Sprintf("u%02d", i), fmt.Sprintf("s%02d", i), "c1", epoch, i%2 == 0)))
	}
	assert.Len(t, a.UserIDs(), 50)
	assert.Equal(t, "u00", a.UserIDs()[0])
}
