package users

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

func seedSegments(t *testing.T, a *Analyzer) {
	t.Helper()
	// whale: 30 accepted requests within 45 minutes of one open session.
	start := epoch.Add(-45 * time.Minute)
	for i := 0; i < 30; i++ {
		at := start.Add(time.Duration(i) * 45 * time.Minute / 29)
		require.NoError(t, a.RecordUserRequest(request("whale", "whale-s1", "c1", at, true)))
	}
	// fader: 20 requests spread over four weeks, the latest ten rejected,
	// last seen eight days ago.
	last := epoch.AddDate(0, 0, -8)
	for i := 0; i < 20; i++ {
		at := last.Add(-time.Duration(19-i) * 36 * time.Hour)
		require.NoError(t, a.RecordUserRequest(request("fader", "fader-s1", "c2", at, i < 10)))
	}
}

func segmentByID(t *testing.T, segments []UserSegment, id string) UserSegment {
	t.Helper()
	for _, s := range segments {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("segment %s not found", id)
	return UserSegment{}
}

func TestGenerateUserSegments(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	seedSegments(t, a)

	whale := a.GetUserBehaviorPattern("whale")
	require.Equal(t, PatternPower, whale.PatternType)
	fader := a.GetUserBehaviorPattern("fader")
	require.Equal(t, TrendDecreasing, fader.EngagementTrend)
	require.InDelta(t, 80, fader.ChurnRisk, 1e-9)

	segments := a.GenerateUserSegments()
	require.Len(t, segments, 4)

	high := segmentByID(t, segments, SegmentHighValue)
	assert.Equal(t, []string{"whale"}, high.UserIDs)
	assert.Equal(t, 1, high.Size)
	assert.Equal(t, []string{"c1"}, high.TopCampaigns)
	assert.InDelta(t, a.PredictUserLifetimeValue("whale").PredictedValue, high.AverageValue, 1e-9)
	assert.InDelta(t, 100, high.AverageEngagement, 1e-9)
	assert.Equal(t, epoch, high.GeneratedAt)

	risk := segmentByID(t, segments, SegmentAtRisk)
	assert.Equal(t, []string{"fader"}, risk.UserIDs)
	assert.InDelta(t, 80, risk.AverageChurnRisk, 1e-9)
	assert.Equal(t, []string{"c2"}, risk.TopCampaigns)

	assert.Equal(t, []string{"whale"}, segmentByID(t, segments, SegmentNew).UserIDs)
	assert.Equal(t, []string{"whale"}, segmentByID(t, segments, SegmentPower).UserIDs)

	assert.Equal(t, segments, a.Segments())
}

func TestGenerateUserSegments_ReplacesTable(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	assert.Empty(t, a.Segments())

	first := a.GenerateUserSegments()
	require.Len(t, first, 4)
	for _, s := range first {
		assert.Zero(t, s.Size)
		assert.Zero(t, s.AverageValue)
	}

	seedSegments(t, a)
	a.GenerateUserSegments()
	assert.Equal(t, 1, segmentByID(t, a.Segments(), SegmentHighValue).Size)
}

func TestPredictUserLifetimeValue(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch, true)))

	ltv := a.PredictUserLifetimeValue("u1")
	assert.Equal(t, "u1", ltv.UserID)
	assert.InDelta(t, 0.05, ltv.Factors.RequestFrequency, 1e-9)
	assert.InDelta(t, 1, ltv.Factors.ConversionLikelihood, 1e-9)
	assert.InDelta(t, 0, ltv.Factors.SessionLength, 1e-9)
	assert.InDelta(t, 0.2, ltv.Factors.ChurnRisk, 1e-9)
	assert.InDelta(t, 0.5, ltv.Factors.EngagementTrend, 1e-9)
	assert.InDelta(t, 128.5, ltv.PredictedValue, 1e-9)
	assert.InDelta(t, 42, ltv.Confidence, 1e-9)

	require.NoError(t, a.RecordUserRequest(request("u1", "s1", "c1", epoch, false)))
	assert.Less(t, a.PredictUserLifetimeValue("u1").PredictedValue, ltv.PredictedValue)
}

func TestPredictUserLifetimeValue_Unknown(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	assert.Equal(t, LifetimeValuePrediction{UserID: "nobody"}, a.PredictUserLifetimeValue("nobody"))
}

func TestPerformCohortAnalysis(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	week0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	require.NoError(t, a.RecordUserRequest(request("a", "a1", "c1", week0.Add(day), true)))
	require.NoError(t, a.RecordUserRequest(request("a", "a2", "c1", week0.Add(8*day), false)))
	require.NoError(t, a.RecordUserRequest(request("b", "b1", "c1", week0.Add(2*day), true)))
	require.NoError(t, a.RecordUserRequest(request("c", "c1", "c1", week0.Add(9*day), true)))

	cohorts, err := a.PerformCohortAnalysis(time.Time{}, time.Time{}, stats.Week)
	require.NoError(t, err)
	require.Len(t, cohorts, 2)

	first := cohorts[0]
	assert.Equal(t, "2026-03-01", first.ID)
	assert.Equal(t, stats.Week, first.Period)
	assert.Equal(t, 2, first.Size)
	assert.ElementsMatch(t, []string{"a", "b"}, first.UserIDs)
	require.Len(t, first.Periods, CohortPeriods)

	p0 := first.Periods[0]
	assert.InDelta(t, 100, p0.RetentionRate, 1e-9)
	assert.Equal(t, 2, p0.ActiveUsers)
	assert.InDelta(t, 1, p0.AverageRequestsPerUser, 1e-9)
	assert.InDelta(t, 100, p0.AverageAcceptanceRate, 1e-9)
	assert.InDelta(t, (50.0+100.0)/2, p0.ConversionRate, 1e-9)

	p1 := first.Periods[1]
	assert.Equal(t, week0.AddDate(0, 0, 7).Truncate(day), p1.Start)
	assert.InDelta(t, 50, p1.RetentionRate, 1e-9)
	assert.InDelta(t, 0, p1.AverageAcceptanceRate, 1e-9)
	assert.Zero(t, first.Periods[2].RetentionRate)

	second := cohorts[1]
	assert.Equal(t, "2026-03-08", second.ID)
	assert.Equal(t, []string{"c"}, second.UserIDs)
	assert.InDelta(t, 100, second.Periods[0].RetentionRate, 1e-9)
}

func TestPerformCohortAnalysis_RangeAndPeriod(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	week0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	require.NoError(t, a.RecordUserRequest(request("a", "a1", "c1", week0.Add(day), true)))
	require.NoError(t, a.RecordUserRequest(request("a", "a2", "c1", week0.Add(8*day), true)))
	require.NoError(t, a.RecordUserRequest(request("c", "c1", "c1", week0.Add(9*day), true)))

	cohorts, err := a.PerformCohortAnalysis(week0.Add(5*day), time.Time{}, stats.Week)
	require.NoError(t, err)
	require.Len(t, cohorts, 1)
	assert.Equal(t, 2, cohorts[0].Size)

	monthly, err := a.PerformCohortAnalysis(time.Time{}, time.Time{}, stats.Month)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, "2026-03", monthly[0].ID)
	assert.Equal(t, 2, monthly[0].Size)

	_, err = a.PerformCohortAnalysis(time.Time{}, time.Time{}, stats.Day)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = a.PerformCohortAnalysis(epoch, epoch.Add(-time.Hour), stats.Week)
	assert.ErrorIs(t, err, ErrInvalidRange)

	empty, err := newTestAnalyzer(t, 0).PerformCohortAnalysis(time.Time{}, time.Time{}, stats.Month)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPerformCohortAnalysis_MixedZones(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	plus2 := time.FixedZone("CEST", 2*60*60)
	require.NoError(t, a.RecordUserRequest(request("a", "a1", "c1", time.Date(2026, 3, 2, 9, 0, 0, 0, plus2), true)))
	require.NoError(t, a.RecordUserRequest(request("b", "b1", "c1", time.Date(2026, 3, 3, 9, 0, 0, 0, plus2), true)))
	require.NoError(t, a.RecordUserRequest(request("c", "c1", "c1", time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), true)))

	cohorts, err := a.PerformCohortAnalysis(time.Time{}, time.Time{}, stats.Week)
	require.NoError(t, err)
	require.Len(t, cohorts, 1)
	assert.Equal(t, "2026-03-01", cohorts[0].ID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), cohorts[0].Start)
	assert.Equal(t, 3, cohorts[0].Size)
	assert.Equal(t, []string{"a", "b", "c"}, cohorts[0].UserIDs)
	assert.Equal(t, 3, cohorts[0].Periods[0].ActiveUsers)
}

func TestParsePeriod(t *testing.T) {
	g, err := ParsePeriod(" Month ")
	require.NoError(t, err)
	assert.Equal(t, stats.Month, g)

	g, err = ParsePeriod("week")
	require.NoError(t, err)
	assert.Equal(t, stats.Week, g)

	_, err = ParsePeriod("hour")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
