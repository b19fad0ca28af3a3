package users

import (
	"math"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

// Segment identifiers.
const (
	SegmentHighValue = "high_value"
	SegmentAtRisk    = "at_risk"
	SegmentNew       = "new"
	SegmentPower     = "power"
)

const (
	newUserWindow       = 7 * 24 * time.Hour
	powerSessionMinutes = 30.0
	segmentTopCampaigns = 5
)

// UserSegment is a named group of users. Segments may overlap.
type UserSegment struct {
	ID          string
	Name        string
	Description string
	UserIDs     []string
	Size        int
	// Averages over the members. Engagement and churn are 0-100; value is
	// the predicted lifetime value.
	AverageEngagement float64
	AverageValue      float64
	AverageChurnRisk  float64
	// TopCampaigns ranks campaigns by the members' summed preference score.
	TopCampaigns []string
	GeneratedAt  time.Time
}

type segmentDef struct {
	id          string
	name        string
	description string
	match       func(p UserBehaviorPattern, sessionMinutes float64, now time.Time) bool
}

var segmentDefs = []segmentDef{
	{
		id:          SegmentHighValue,
		name:        "High value",
		description: "More than 10 requests per day and conversion above 70%",
		match: func(p UserBehaviorPattern, _ float64, _ time.Time) bool {
			return p.RequestFrequency > 10 && p.ConversionLikelihood > 70
		},
	},
	{
		id:          SegmentAtRisk,
		name:        "At risk",
		description: "Churn risk above 60 with decreasing engagement",
		match: func(p UserBehaviorPattern, _ float64, _ time.Time) bool {
			return p.ChurnRisk > 60 && p.EngagementTrend == TrendDecreasing
		},
	},
	{
		id:          SegmentNew,
		name:        "New",
		description: "Active within the last 7 days",
		match: func(p UserBehaviorPattern, _ float64, now time.Time) bool {
			return now.Sub(p.LastActivity) <= newUserWindow
		},
	},
	{
		id:          SegmentPower,
		name:        "Power",
		description: "Power users with sessions longer than 30 minutes",
		match: func(p UserBehaviorPattern, sessionMinutes float64, _ time.Time) bool {
			return p.PatternType == PatternPower && sessionMinutes > powerSessionMinutes
		},
	},
}

func engagementScore(p UserBehaviorPattern) float64 {
	return math.Min(100, p.RequestFrequency*5)*0.5 + p.ConversionLikelihood*0.5
}

// GenerateUserSegments evaluates every segment against every user with a
// pattern and replaces the stored segment table.
func (a *Analyzer) GenerateUserSegments() []UserSegment {
	a.mu.RLock()
	now := a.clock.Now()
	segments := make([]UserSegment, 0, len(segmentDefs))
	for _, def := range segmentDefs {
		seg := UserSegment{
			ID:          def.id,
			Name:        def.name,
			Description: def.description,
			UserIDs:     []string{},
			GeneratedAt: now,
		}
		var engagement, value, churn float64
		campaignScores := make(map[string]float64)
		for _, userID := range a.userIDsLocked() {
			p, ok := a.patternLocked(userID)
			if !ok {
				continue
			}
			if !def.match(p, a.averageSessionLength(userID).Minutes(), now) {
				continue
			}
			seg.UserIDs = append(seg.UserIDs, userID)
			engagement += engagementScore(p)
			value += a.ltvLocked(userID).PredictedValue
			churn += p.ChurnRisk
			for _, cp := range p.CampaignPreferences {
				campaignScores[cp.CampaignID] += cp.Score
			}
		}
		seg.Size = len(seg.UserIDs)
		if seg.Size > 0 {
			n := float64(seg.Size)
			seg.AverageEngagement = engagement / n
			seg.AverageValue = value / n
			seg.AverageChurnRisk = churn / n
		}
		seg.TopCampaigns = stats.TopScores(campaignScores, segmentTopCampaigns)
		segments = append(segments, seg)
	}
	a.mu.RUnlock()

	a.segMu.Lock()
	a.segments = segments
	a.segMu.Unlock()
	a.log.WithField("segments", len(segments)).Debug("Generated user segments")
	return copySegments(segments)
}

// Segments returns the table built by the last GenerateUserSegments call.
func (a *Analyzer) Segments() []UserSegment {
	a.segMu.RLock()
	defer a.segMu.RUnlock()
	return copySegments(a.segments)
}

func copySegments(in []UserSegment) []UserSegment {
	out := make([]UserSegment, len(in))
	for i, s := range in {
		s.UserIDs = append([]string(nil), s.UserIDs...)
		s.TopCampaigns = append([]string(nil), s.TopCampaigns...)
		out[i] = s
	}
	return out
}
