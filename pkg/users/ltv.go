package users

import (
	"math"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

const baseLifetimeValue = 100.0

// Weights of the lifetime value factors.
const (
	weightFrequency  = 0.3
	weightConversion = 0.25
	weightSession    = 0.2
	weightChurn      = -0.15
	weightTrend      = 0.1
)

// LifetimeValueFactors are the normalized inputs of a prediction, each in
// [0, 1].
type LifetimeValueFactors struct {
	RequestFrequency     float64
	ConversionLikelihood float64
	SessionLength        float64
	ChurnRisk            float64
	EngagementTrend      float64
}

// LifetimeValuePrediction estimates a user's value relative to a base of
// 100. Confidence is a percentage.
type LifetimeValuePrediction struct {
	UserID         string
	PredictedValue float64
	Confidence     float64
	Factors        LifetimeValueFactors
}

// PredictUserLifetimeValue scores the user from its behavior pattern and
// session history. Unknown users yield a zero prediction.
func (a *Analyzer) PredictUserLifetimeValue(userID string) LifetimeValuePrediction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ltvLocked(userID)
}

func (a *Analyzer) ltvLocked(userID string) LifetimeValuePrediction {
	return a.ltv.GetOrCompute(userID, func() LifetimeValuePrediction {
		p, ok := a.patternLocked(userID)
		if !ok {
			return LifetimeValuePrediction{UserID: userID}
		}
		return predict(p, a.averageSessionLength(userID).Minutes())
	})
}

func trendFactor(t Trend) float64 {
	switch t {
	case TrendIncreasing:
		return 1
	case TrendDecreasing:
		return 0
	default:
		return 0.5
	}
}

func predict(p UserBehaviorPattern, sessionMinutes float64) LifetimeValuePrediction {
	f := LifetimeValueFactors{
		RequestFrequency:     math.Min(p.RequestFrequency/powerFrequency, 1),
		ConversionLikelihood: p.ConversionLikelihood / 100,
		SessionLength:        math.Min(sessionMinutes/60, 1),
		ChurnRisk:            p.ChurnRisk / 100,
		EngagementTrend:      trendFactor(p.EngagementTrend),
	}
	multiplier := 1 +
		weightFrequency*f.RequestFrequency +
		weightConversion*f.ConversionLikelihood +
		weightSession*f.SessionLength +
		weightChurn*f.ChurnRisk +
		weightTrend*f.EngagementTrend
	confidence := math.Min(p.RequestFrequency*10, 60) + (100-p.ChurnRisk)*0.4
	return LifetimeValuePrediction{
		UserID:         p.UserID,
		PredictedValue: baseLifetimeValue * multiplier,
		Confidence:     stats.Clamp(confidence, 0, 100),
		Factors:        f,
	}
}
