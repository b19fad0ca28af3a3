package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/decisionlens/pkg/atoms"
	"github.com/platinummonkey/decisionlens/pkg/campaigns"
	"github.com/platinummonkey/decisionlens/pkg/stats"
	"github.com/platinummonkey/decisionlens/pkg/users"
)

var tracer = otel.Tracer("decisionlens/engine")

// traced runs fn inside a span named after the operation.
func traced[T any](ctx context.Context, e *Engine, op string, fn func() (T, error), attrs ...attribute.KeyValue) (T, error) {
	attrs = append(attrs, attribute.String("tenant", e.tenant))
	_, span := tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	defer span.End()

	var zero T
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context done")
		return zero, err
	}
	v, err := fn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return zero, err
	}
	return v, nil
}

func value[T any](fn func() T) func() (T, error) {
	return func() (T, error) { return fn(), nil }
}

func timeRange(start, end time.Time) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("range.start", start.Format(time.RFC3339)),
		attribute.String("range.end", end.Format(time.RFC3339)),
	}
}

// RecordAtomUsage ingests one atom execution.
func (e *Engine) RecordAtomUsage(ctx context.Context, u atoms.Usage) error {
	_, err := traced(ctx, e, "RecordAtomUsage", func() (struct{}, error) {
		return struct{}{}, e.atoms.RecordAtomUsage(u)
	}, attribute.String("atom.id", u.AtomID))
	return err
}

// RecordExecution ingests one campaign execution.
func (e *Engine) RecordExecution(ctx context.Context, x campaigns.Execution) error {
	_, err := traced(ctx, e, "RecordExecution", func() (struct{}, error) {
		return struct{}{}, e.campaigns.RecordExecution(x)
	}, attribute.String("campaign.id", x.CampaignID))
	return err
}

// RecordUserRequest ingests one user decision request.
func (e *Engine) RecordUserRequest(ctx context.Context, r users.Request) error {
	_, err := traced(ctx, e, "RecordUserRequest", func() (struct{}, error) {
		return struct{}{}, e.users.RecordUserRequest(r)
	}, attribute.String("user.id", r.UserID))
	return err
}

// EndSession ends a session at the given time, or now when at is zero.
func (e *Engine) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := traced(ctx, e, "EndSession", func() (struct{}, error) {
		return struct{}{}, e.users.EndSessionAt(sessionID, at)
	}, attribute.String("session.id", sessionID))
	return err
}

// AtomPerformance returns the atom's stats.
func (e *Engine) AtomPerformance(ctx context.Context, atomID string) (atoms.AtomPerformanceStats, error) {
	return traced(ctx, e, "AtomPerformance", value(func() atoms.AtomPerformanceStats {
		return e.atoms.GetAtomPerformance(atomID)
	}), attribute.String("atom.id", atomID))
}

// AtomRankings ranks atoms by the criterion.
func (e *Engine) AtomRankings(ctx context.Context, orderBy atoms.RankingCriterion, limit int) ([]atoms.AtomPerformanceStats, error) {
	return traced(ctx, e, "AtomRankings", value(func() []atoms.AtomPerformanceStats {
		return e.atoms.GetAtomRankings(orderBy, limit)
	}), attribute.String("order_by", string(orderBy)), attribute.Int("limit", limit))
}

// AtomCombinations analyzes co-occurring atom sets.
func (e *Engine) AtomCombinations(ctx context.Context, minFrequency int) ([]atoms.AtomCombinationAnalysis, error) {
	return traced(ctx, e, "AtomCombinations", value(func() []atoms.AtomCombinationAnalysis {
		return e.atoms.AnalyzeAtomCombinations(minFrequency)
	}), attribute.Int("min_frequency", minFrequency))
}

// DependencyGraph rebuilds and returns the atom affinity graph.
func (e *Engine) DependencyGraph(ctx context.Context) (*atoms.AffinityGraph, error) {
	return traced(ctx, e, "DependencyGraph", value(e.atoms.BuildDependencyGraph))
}

// OptimizationRecommendations returns prioritized atom recommendations.
func (e *Engine) OptimizationRecommendations(ctx context.Context) ([]atoms.OptimizationRecommendation, error) {
	return traced(ctx, e, "OptimizationRecommendations", value(e.atoms.GenerateOptimizationRecommendations))
}

// AtomUsageTrends buckets an atom's executions over time.
func (e *Engine) AtomUsageTrends(ctx context.Context, atomID string, start, end time.Time, g stats.Granularity) ([]atoms.UsageTrendPoint, error) {
	return traced(ctx, e, "AtomUsageTrends", func() ([]atoms.UsageTrendPoint, error) {
		return e.atoms.GetUsageTrends(atomID, start, end, g)
	}, append(timeRange(start, end), attribute.String("atom.id", atomID), attribute.String("granularity", string(g)))...)
}

// CampaignPerformance returns the campaign's stats.
func (e *Engine) CampaignPerformance(ctx context.Context, campaignID string) (campaigns.CampaignPerformanceStats, error) {
	return traced(ctx, e, "CampaignPerformance", value(func() campaigns.CampaignPerformanceStats {
		return e.campaigns.GetCampaignPerformance(campaignID)
	}), attribute.String("campaign.id", campaignID))
}

// TopCampaigns ranks campaigns by success rate and volume.
func (e *Engine) TopCampaigns(ctx context.Context, limit int) ([]campaigns.CampaignPerformanceStats, error) {
	return traced(ctx, e, "TopCampaigns", value(func() []campaigns.CampaignPerformanceStats {
		return e.campaigns.GetTopPerformingCampaigns(limit)
	}), attribute.Int("limit", limit))
}

// CampaignTrends buckets a campaign's executions over time.
func (e *Engine) CampaignTrends(ctx context.Context, campaignID string, start, end time.Time, g stats.Granularity) ([]campaigns.TrendPoint, error) {
	return traced(ctx, e, "CampaignTrends", func() ([]campaigns.TrendPoint, error) {
		return e.campaigns.GetPerformanceTrends(campaignID, start, end, g)
	}, append(timeRange(start, end), attribute.String("campaign.id", campaignID), attribute.String("granularity", string(g)))...)
}

// ExecutionTimePercentiles returns a campaign's latency percentiles.
func (e *Engine) ExecutionTimePercentiles(ctx context.Context, campaignID string) (campaigns.ExecutionTimePercentiles, error) {
	return traced(ctx, e, "ExecutionTimePercentiles", value(func() campaigns.ExecutionTimePercentiles {
		return e.campaigns.GetExecutionTimePercentiles(campaignID)
	}), attribute.String("campaign.id", campaignID))
}

// ErrorAnalysis breaks down a campaign's errors.
func (e *Engine) ErrorAnalysis(ctx context.Context, campaignID string) ([]campaigns.ErrorAnalysis, error) {
	return traced(ctx, e, "ErrorAnalysis", value(func() []campaigns.ErrorAnalysis {
		return e.campaigns.GetErrorAnalysis(campaignID)
	}), attribute.String("campaign.id", campaignID))
}

// UserBehaviorPattern returns the user's behavior pattern.
func (e *Engine) UserBehaviorPattern(ctx context.Context, userID string) (users.UserBehaviorPattern, error) {
	return traced(ctx, e, "UserBehaviorPattern", value(func() users.UserBehaviorPattern {
		return e.users.GetUserBehaviorPattern(userID)
	}), attribute.String("user.id", userID))
}

// SessionAnalytics returns one session.
func (e *Engine) SessionAnalytics(ctx context.Context, sessionID string) (users.SessionAnalytics, bool, error) {
	var found bool
	s, err := traced(ctx, e, "SessionAnalytics", value(func() users.SessionAnalytics {
		s, ok := e.users.GetSessionAnalytics(sessionID)
		found = ok
		return s
	}), attribute.String("session.id", sessionID))
	return s, found, err
}

// UserSessions returns the user's sessions.
func (e *Engine) UserSessions(ctx context.Context, userID string) ([]users.SessionAnalytics, error) {
	return traced(ctx, e, "UserSessions", value(func() []users.SessionAnalytics {
		return e.users.GetUserSessions(userID)
	}), attribute.String("user.id", userID))
}

// RequestPatterns aggregates requests within a time range.
func (e *Engine) RequestPatterns(ctx context.Context, start, end time.Time) (users.RequestPatternReport, error) {
	return traced(ctx, e, "RequestPatterns", func() (users.RequestPatternReport, error) {
		return e.users.AnalyzeRequestPatterns(start, end)
	}, timeRange(start, end)...)
}

// PersonalizationEffectiveness returns the user's personalization counters.
func (e *Engine) PersonalizationEffectiveness(ctx context.Context, userID string) (users.PersonalizationEffectiveness, error) {
	return traced(ctx, e, "PersonalizationEffectiveness", value(func() users.PersonalizationEffectiveness {
		return e.users.GetPersonalizationEffectiveness(userID)
	}), attribute.String("user.id", userID))
}

// UserSegments regenerates and returns the segment table.
func (e *Engine) UserSegments(ctx context.Context) ([]users.UserSegment, error) {
	return traced(ctx, e, "UserSegments", value(e.users.GenerateUserSegments))
}

// Cohorts runs a cohort analysis.
func (e *Engine) Cohorts(ctx context.Context, start, end time.Time, period stats.Granularity) ([]users.CohortAnalysis, error) {
	return traced(ctx, e, "Cohorts", func() ([]users.CohortAnalysis, error) {
		return e.users.PerformCohortAnalysis(start, end, period)
	}, append(timeRange(start, end), attribute.String("period", string(period)))...)
}

// UserJourney returns the user's journey, optionally for one session.
func (e *Engine) UserJourney(ctx context.Context, userID, sessionID string) ([]users.JourneyEvent, error) {
	return traced(ctx, e, "UserJourney", value(func() []users.JourneyEvent {
		return e.users.GetUserJourney(userID, sessionID)
	}), attribute.String("user.id", userID), attribute.String("session.id", sessionID))
}

// LifetimeValue predicts the user's lifetime value.
func (e *Engine) LifetimeValue(ctx context.Context, userID string) (users.LifetimeValuePrediction, error) {
	return traced(ctx, e, "LifetimeValue", value(func() users.LifetimeValuePrediction {
		return e.users.PredictUserLifetimeValue(userID)
	}), attribute.String("user.id", userID))
}
