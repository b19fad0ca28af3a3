package campaigns

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

func TestGetCampaignPerformance(t *testing.T) {
	c := newTestCollector(t, 30)
	for i := 0; i < 8; i++ {
		require.NoError(t, c.RecordExecution(execution("camp1", fmt.Sprintf("d%d", i), 100, StatusSuccess)))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, c.RecordExecution(execution("camp1", "d9", 200, StatusFailure, "timeout")))
	}

	s := c.GetCampaignPerformance("camp1")
	assert.Equal(t, "camp1", s.CampaignID)
	assert.Equal(t, 10, s.TotalExecutions)
	assert.Equal(t, 8, s.SuccessfulExecutions)
	assert.Equal(t, 2, s.FailedExecutions)
	assert.InDelta(t, 80, s.SuccessRate, 1e-9)
	assert.InDelta(t, 20, s.ErrorRate, 1e-9)
	assert.InDelta(t, 120, s.AverageExecutionTime, 1e-9)
	assert.Equal(t, 40, s.TotalRulesEvaluated)
	assert.Equal(t, 10, s.TotalRulesTriggered)
	assert.Equal(t, []ErrorCount{{Error: "timeout", Count: 2}}, s.CommonErrors)
	assert.Equal(t, epoch, s.LastExecuted)

	require.Len(t, s.PerformanceTrend, 7)
	assert.Equal(t, "2026-03-04", s.PerformanceTrend[0].Key)
	assert.Equal(t, 0, s.PerformanceTrend[0].Executions)
	today := s.PerformanceTrend[6]
	assert.Equal(t, "2026-03-10", today.Key)
	assert.Equal(t, 10, today.Executions)
	assert.InDelta(t, 80, today.SuccessRate, 1e-9)
}

func TestGetCampaignPerformance_PartialIsNotSuccess(t *testing.T) {
	c := newTestCollector(t, 30)
	require.NoError(t, c.RecordExecution(execution("camp1", "d1", 10, StatusSuccess)))
	require.NoError(t, c.RecordExecution(execution("camp1", "d1", 10, StatusPartial)))

	s := c.GetCampaignPerformance("camp1")
	assert.InDelta(t, 50, s.SuccessRate, 1e-9)
	assert.Equal(t, 1, s.PartialExecutions)
	assert.Zero(t, s.ErrorRate)
}

func TestGetCampaignPerformance_Unknown(t *testing.T) {
	c := newTestCollector(t, 30)
	s := c.GetCampaignPerformance("nope")
	assert.Equal(t, "nope", s.CampaignID)
	assert.Zero(t, s.TotalExecutions)
	assert.Zero(t, s.SuccessRate)
	assert.Empty(t, s.CommonErrors)
}

func TestGetCampaignPerformance_InvalidatedOnWrite(t *testing.T) {
	c := newTestCollector(t, 30)
	require.NoError(t, c.RecordExecution(execution("camp1", "d1", 10, StatusSuccess)))
	assert.InDelta(t, 100, c.GetCampaignPerformance("camp1").SuccessRate, 1e-9)
	assert.InDelta(t, 10, c.GetExecutionTimePercentiles("camp1").P50, 1e-9)
	assert.Empty(t, c.GetErrorAnalysis("camp1"))

	require.NoError(t, c.RecordExecution(execution("camp1", "d1", 30, StatusFailure, "timeout")))
	assert.InDelta(t, 50, c.GetCampaignPerformance("camp1").SuccessRate, 1e-9)
	assert.InDelta(t, 20, c.GetExecutionTimePercentiles("camp1").P50, 1e-9)
	assert.Len(t, c.GetErrorAnalysis("camp1"), 1)
}

func TestGetTopPerformingCampaigns(t *testing.T) {
	c := newTestCollector(t, 30)
	record := func(id string, successes, failures int) {
		for i := 0; i < successes; i++ {
			require.NoError(t, c.RecordExecution(execution(id, "d", 10, StatusSuccess)))
		}
		for i := 0; i < failures; i++ {
			require.NoError(t, c.RecordExecution(execution(id, "d", 10, StatusFailure)))
		}
	}
	record("small-perfect", 2, 0)
	record("large-perfect", 5, 0)
	record("mixed", 3, 3)

	top := c.GetTopPerformingCampaigns(0)
	require.Len(t, top, 3)
	assert.Equal(t, "large-perfect", top[0].CampaignID)
	assert.Equal(t, "small-perfect", top[1].CampaignID)
	assert.Equal(t, "mixed", top[2].CampaignID)

	assert.Len(t, c.GetTopPerformingCampaigns(2), 2)
}

func TestGetPerformanceTrends(t *testing.T) {
	c := newTestCollector(t, 30)
	at := func(e Execution, ts time.Time) Execution {
		e.Timestamp = ts
		return e
	}
	require.NoError(t, c.RecordExecution(at(execution("camp1", "d1", 100, StatusSuccess), epoch.Add(-26*time.Hour))))
	require.NoError(t, c.RecordExecution(at(execution("camp1", "d1", 300, StatusFailure), epoch.Add(-25*time.Hour))))
	require.NoError(t, c.RecordExecution(at(execution("camp1", "d1", 200, StatusSuccess), epoch)))

	daily, err := c.GetPerformanceTrends("camp1", time.Time{}, time.Time{}, stats.Day)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "2026-03-09", daily[0].Key)
	assert.Equal(t, 2, daily[0].Executions)
	assert.InDelta(t, 50, daily[0].SuccessRate, 1e-9)
	assert.InDelta(t, 200, daily[0].AverageExecutionTime, 1e-9)

	hourly, err := c.GetPerformanceTrends("camp1", epoch.Add(-25*time.Hour), epoch, stats.Hour)
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.Equal(t, "2026-03-09T11", hourly[0].Key)

	weekly, err := c.GetPerformanceTrends("camp1", time.Time{}, time.Time{}, stats.Week)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, 3, weekly[0].Executions)
	assert.Equal(t, "2026-03-08", weekly[0].Key)

	_, err = c.GetPerformanceTrends("camp1", time.Time{}, time.Time{}, "decade")
	assert.ErrorIs(t, err, stats.ErrUnknownGranularity)
	_, err = c.GetPerformanceTrends("camp1", epoch, epoch.Add(-time.Hour), stats.Day)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestGetExecutionTimePercentiles(t *testing.T) {
	c := newTestCollector(t, 30)
	assert.Equal(t, ExecutionTimePercentiles{}, c.GetExecutionTimePercentiles("camp1"))

	for _, ms := range []int{50, 10, 40, 20, 30} {
		require.NoError(t, c.RecordExecution(execution("camp1", "d1", ms, StatusSuccess)))
	}
	p := c.GetExecutionTimePercentiles("camp1")
	assert.InDelta(t, 30, p.P50, 1e-9)
	assert.InDelta(t, 40, p.P75, 1e-9)
	assert.InDelta(t, 46, p.P90, 1e-9)
	assert.InDelta(t, 48, p.P95, 1e-9)
	assert.InDelta(t, 49.6, p.P99, 1e-9)

	assert.LessOrEqual(t, p.P50, p.P75)
	assert.LessOrEqual(t, p.P75, p.P90)
	assert.LessOrEqual(t, p.P90, p.P95)
	assert.LessOrEqual(t, p.P95, p.P99)
}

func TestGetErrorAnalysis(t *testing.T) {
	c := newTestCollector(t, 30)
	first := execution("camp1", "d2", 10, StatusFailure, "timeout", "bad input")
	first.Timestamp = epoch.Add(-time.Hour)
	require.NoError(t, c.RecordExecution(first))
	require.NoError(t, c.RecordExecution(execution("camp1", "d1", 10, StatusFailure, "timeout")))
	require.NoError(t, c.RecordExecution(execution("camp1", "d1", 10, StatusSuccess)))

	analysis := c.GetErrorAnalysis("camp1")
	require.Len(t, analysis, 2)

	assert.Equal(t, "timeout", analysis[0].Error)
	assert.Equal(t, 2, analysis[0].Count)
	assert.InDelta(t, 200.0/3, analysis[0].Percentage, 1e-9)
	assert.Equal(t, epoch, analysis[0].LastOccurrence)
	assert.Equal(t, []string{"d1", "d2"}, analysis[0].DecisionIDs)

	assert.Equal(t, "bad input", analysis[1].Error)
	assert.Equal(t, epoch.Add(-time.Hour), analysis[1].LastOccurrence)

	analysis[0].DecisionIDs[0] = "mutated"
	assert.Equal(t, "d1", c.GetErrorAnalysis("camp1")[0].DecisionIDs[0])

	assert.Empty(t, c.GetErrorAnalysis("unknown"))
}
