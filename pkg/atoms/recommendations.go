package atoms

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// RecommendationType classifies an optimization recommendation.
type RecommendationType string

const (
	RecommendPerformance RecommendationType = "performance"
	RecommendReliability RecommendationType = "reliability"
	RecommendUsage       RecommendationType = "usage"
	RecommendCombination RecommendationType = "combination"
)

// Priority orders recommendations. Higher priorities sort first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Effort estimates how much work acting on a recommendation takes.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Thresholds used by GenerateOptimizationRecommendations.
const (
	SlowAtomTime                   = 1000.0
	VerySlowAtomTime               = 5000.0
	HeavyUsageFrequency            = 100.0
	UnreliableSuccessRate          = 95.0
	VeryUnreliableSuccessRate      = 90.0
	MinReliabilitySample           = 50
	UnderusedFrequency             = 0.1
	NegativeSynergy                = -20.0
	DefaultCombinationMinFrequency = 5
)

// OptimizationRecommendation is one actionable finding.
type OptimizationRecommendation struct {
	ID             string
	Type           RecommendationType
	Priority       Priority
	Effort         Effort
	AtomIDs        []string
	Title          string
	Description    string
	ExpectedImpact string
	Metrics        map[string]float64
}

// GenerateOptimizationRecommendations scans every atom and combination and
// returns recommendations ordered high, medium, low. Order within a
// priority follows the scan: atoms by efficiency rank, then combinations by
// synergy.
func (a *Analyzer) GenerateOptimizationRecommendations() []OptimizationRecommendation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	recs := a.recommendations.GetOrCompute("all", func() []OptimizationRecommendation {
		start := a.clock.Now()
		defer func() { a.metrics.ObserveCompute("atom_recommendations", a.clock.Since(start)) }()
		return a.computeRecommendations()
	})
	return append([]OptimizationRecommendation(nil), recs...)
}

func (a *Analyzer) computeRecommendations() []OptimizationRecommendation {
	var out []OptimizationRecommendation
	for _, s := range a.rankAllLocked(RankByEfficiency) {
		id := s.AtomID
		if s.AverageExecutionTime > SlowAtomTime {
			priority := PriorityMedium
			if s.UsageFrequency > HeavyUsageFrequency {
				priority = PriorityHigh
			}
			effort := EffortMedium
			if s.AverageExecutionTime > VerySlowAtomTime {
				effort = EffortHigh
			}
			out = append(out, OptimizationRecommendation{
				ID:             uuid.NewString(),
				Type:           RecommendPerformance,
				Priority:       priority,
				Effort:         effort,
				AtomIDs:        []string{id},
				Title:          fmt.Sprintf("Optimize slow atom %s", id),
				Description:    fmt.Sprintf("Average execution time is %.0fms, above the %.0fms target.", s.AverageExecutionTime, SlowAtomTime),
				ExpectedImpact: "Lower decision latency for every rule using this atom",
				Metrics: map[string]float64{
					"averageExecutionTime": s.AverageExecutionTime,
					"usageFrequency":       s.UsageFrequency,
				},
			})
		}
		if s.SuccessRate < UnreliableSuccessRate && s.TotalExecutions > MinReliabilitySample {
			priority := PriorityMedium
			if s.SuccessRate < VeryUnreliableSuccessRate {
				priority = PriorityHigh
			}
			out = append(out, OptimizationRecommendation{
				ID:             uuid.NewString(),
				Type:           RecommendReliability,
				Priority:       priority,
				Effort:         EffortMedium,
				AtomIDs:        []string{id},
				Title:          fmt.Sprintf("Improve reliability of atom %s", id),
				Description:    fmt.Sprintf("Success rate is %.1f%% over %d executions.", s.SuccessRate, s.TotalExecutions),
				ExpectedImpact: "Fewer failed decisions and fallbacks",
				Metrics: map[string]float64{
					"successRate":     s.SuccessRate,
					"totalExecutions": float64(s.TotalExecutions),
				},
			})
		}
		if s.UsageFrequency < UnderusedFrequency {
			out = append(out, OptimizationRecommendation{
				ID:             uuid.NewString(),
				Type:           RecommendUsage,
				Priority:       PriorityLow,
				Effort:         EffortLow,
				AtomIDs:        []string{id},
				Title:          fmt.Sprintf("Consider removing underused atom %s", id),
				Description:    fmt.Sprintf("Atom runs %.2f times per day.", s.UsageFrequency),
				ExpectedImpact: "Smaller rule catalog to maintain",
				Metrics: map[string]float64{
					"usageFrequency": s.UsageFrequency,
				},
			})
		}
	}

	for _, c := range a.combinationsLocked(DefaultCombinationMinFrequency) {
		if c.SynergyScore >= NegativeSynergy {
			continue
		}
		out = append(out, OptimizationRecommendation{
			ID:             uuid.NewString(),
			Type:           RecommendCombination,
			Priority:       PriorityMedium,
			Effort:         EffortMedium,
			AtomIDs:        append([]string(nil), c.AtomIDs...),
			Title:          fmt.Sprintf("Review atom combination %s", c.Key),
			Description:    fmt.Sprintf("Atoms perform %.1f%% worse together than individually.", -c.SynergyScore),
			ExpectedImpact: "Better combined success rate and latency",
			Metrics: map[string]float64{
				"synergyScore": c.SynergyScore,
				"frequency":    float64(c.Frequency),
			},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.rank() < out[j].Priority.rank()
	})
	return out
}
