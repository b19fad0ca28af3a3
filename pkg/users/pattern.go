package users

import (
	"math"
	"sort"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

// PatternType classifies a user by activity.
type PatternType string

const (
	PatternTrial    PatternType = "trial_user"
	PatternCasual   PatternType = "casual_user"
	PatternFrequent PatternType = "frequent_user"
	PatternPower    PatternType = "power_user"
	PatternChurned  PatternType = "churned_user"
)

// Trend is the direction of a user's engagement.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

const (
	powerFrequency    = 20.0
	frequentFrequency = 5.0
	casualFrequency   = 1.0

	trendWindow    = 10
	risingRatio    = 1.1
	fallingRatio   = 0.9
	preferredSlots = 3

	// ChurnInactivity marks a user churned when reading its pattern.
	ChurnInactivity = 30 * 24 * time.Hour
)

// CampaignPreference scores a user's affinity to a campaign: one point per
// request plus two per accepted decision.
type CampaignPreference struct {
	CampaignID string
	Requests   int
	Accepted   int
	Score      float64
}

// UserBehaviorPattern describes how a user interacts with decisions. Rates
// and risks are percentages.
type UserBehaviorPattern struct {
	UserID      string
	PatternType PatternType
	// RequestFrequency is requests per day between the first and the latest
	// request, with a floor of one day.
	RequestFrequency     float64
	EngagementTrend      Trend
	ConversionLikelihood float64
	ChurnRisk            float64
	// PreferredTimeSlots holds the busiest hours of day, busiest first.
	PreferredTimeSlots  []int
	CampaignPreferences []CampaignPreference
	TotalRequests       int
	AcceptedRequests    int
	FirstSeen           time.Time
	LastActivity        time.Time
}

func (p UserBehaviorPattern) clone() UserBehaviorPattern {
	p.PreferredTimeSlots = append([]int(nil), p.PreferredTimeSlots...)
	p.CampaignPreferences = append([]CampaignPreference(nil), p.CampaignPreferences...)
	return p
}

// classify maps a request frequency to a pattern tier.
func classify(frequency float64) PatternType {
	switch {
	case frequency > powerFrequency:
		return PatternPower
	case frequency > frequentFrequency:
		return PatternFrequent
	case frequency > casualFrequency:
		return PatternCasual
	default:
		return PatternTrial
	}
}

// engagementTrend compares accepted decisions in the latest ten requests
// against the ten before them. Fewer than twenty requests read as stable.
func engagementTrend(reqs []Request) Trend {
	n := len(reqs)
	if n < 2*trendWindow {
		return TrendStable
	}
	recent := countAccepted(reqs[n-trendWindow:])
	previous := countAccepted(reqs[n-2*trendWindow : n-trendWindow])
	if previous == 0 {
		if recent > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	ratio := float64(recent) / float64(previous)
	switch {
	case ratio > risingRatio:
		return TrendIncreasing
	case ratio < fallingRatio:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func countAccepted(reqs []Request) int {
	n := 0
	for _, r := range reqs {
		if r.DecisionMade {
			n++
		}
	}
	return n
}

func churnRisk(trend Trend, conversion, frequency float64) float64 {
	var risk float64
	switch trend {
	case TrendDecreasing:
		risk = 40
	case TrendStable:
		risk = 20
	}
	risk += (100 - conversion) * 0.4
	if frequency < 1 {
		risk += 20
	}
	return stats.Clamp(risk, 0, 100)
}

// computePattern derives the pattern from a user's timestamp-ordered
// requests.
func computePattern(userID string, reqs []Request) UserBehaviorPattern {
	p := UserBehaviorPattern{UserID: userID, EngagementTrend: TrendStable}
	if len(reqs) == 0 {
		return p
	}
	p.TotalRequests = len(reqs)
	p.AcceptedRequests = countAccepted(reqs)
	p.FirstSeen = reqs[0].Timestamp
	p.LastActivity = reqs[len(reqs)-1].Timestamp

	days := math.Max(1, stats.DaysBetween(p.FirstSeen, p.LastActivity))
	p.RequestFrequency = float64(p.TotalRequests) / days
	p.PatternType = classify(p.RequestFrequency)
	p.EngagementTrend = engagementTrend(reqs)
	p.ConversionLikelihood = stats.Ratio(p.AcceptedRequests, p.TotalRequests)
	p.ChurnRisk = churnRisk(p.EngagementTrend, p.ConversionLikelihood, p.RequestFrequency)

	hours := make(map[int]int)
	prefs := make(map[string]*CampaignPreference)
	for _, r := range reqs {
		hours[r.Timestamp.Hour()]++
		if r.CampaignID == "" {
			continue
		}
		cp, ok := prefs[r.CampaignID]
		if !ok {
			cp = &CampaignPreference{CampaignID: r.CampaignID}
			prefs[r.CampaignID] = cp
		}
		cp.Requests++
		if r.DecisionMade {
			cp.Accepted++
		}
	}
	p.PreferredTimeSlots = topHours(hours, preferredSlots)
	for _, cp := range prefs {
		cp.Score = float64(cp.Requests + 2*cp.Accepted)
		p.CampaignPreferences = append(p.CampaignPreferences, *cp)
	}
	sort.Slice(p.CampaignPreferences, func(i, j int) bool {
		x, y := p.CampaignPreferences[i], p.CampaignPreferences[j]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		return x.CampaignID < y.CampaignID
	})
	return p
}

// topHours returns up to n hours ordered by count, then by hour.
func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// effective applies read-time adjustments to a stored pattern.
func effective(p UserBehaviorPattern, now time.Time) UserBehaviorPattern {
	if !p.LastActivity.IsZero() && now.Sub(p.LastActivity) > ChurnInactivity {
		p.PatternType = PatternChurned
	}
	return p
}

// GetUserBehaviorPattern returns the user's pattern. Unknown users yield a
// zero pattern carrying only the id.
func (a *Analyzer) GetUserBehaviorPattern(userID string) UserBehaviorPattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.patternLocked(userID)
	if !ok {
		return UserBehaviorPattern{UserID: userID}
	}
	return p.clone()
}

func (a *Analyzer) patternLocked(userID string) (UserBehaviorPattern, bool) {
	p, ok := a.patterns[userID]
	if !ok {
		return UserBehaviorPattern{}, false
	}
	return effective(*p, a.clock.Now()), true
}

// PersonalizationEffectiveness compares a user's acceptance of requests
// carrying context data against requests without it.
type PersonalizationEffectiveness struct {
	UserID                     string
	PersonalizedRequests       int
	PersonalizedAccepted       int
	PersonalizedAcceptanceRate float64
	GenericRequests            int
	GenericAccepted            int
	GenericAcceptanceRate      float64
	// Lift is the relative gain of the personalized over the generic
	// acceptance rate, in percent. It is 0 without generic acceptances.
	Lift float64
}

func (e *PersonalizationEffectiveness) add(r Request) {
	if r.Personalized() {
		e.PersonalizedRequests++
		if r.DecisionMade {
			e.PersonalizedAccepted++
		}
	} else {
		e.GenericRequests++
		if r.DecisionMade {
			e.GenericAccepted++
		}
	}
	e.PersonalizedAcceptanceRate = stats.Ratio(e.PersonalizedAccepted, e.PersonalizedRequests)
	e.GenericAcceptanceRate = stats.Ratio(e.GenericAccepted, e.GenericRequests)
	e.Lift = 0
	if e.GenericAcceptanceRate > 0 {
		e.Lift = (e.PersonalizedAcceptanceRate - e.GenericAcceptanceRate) / e.GenericAcceptanceRate * 100
	}
}

// GetPersonalizationEffectiveness returns the user's personalization
// counters. Unknown users yield zeros.
func (a *Analyzer) GetPersonalizationEffectiveness(userID string) PersonalizationEffectiveness {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.personalization[userID]
	if !ok {
		return PersonalizationEffectiveness{UserID: userID}
	}
	return *e
}
