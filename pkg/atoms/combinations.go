package atoms

import (
	"sort"
	"strconv"
	"strings"

	"github.com/platinummonkey/decisionlens/pkg/stats"
)

const (
	combinationSeparator = "|"

	lowComboSuccessRate = 90.0
	slowComboTime       = 2000.0
	largeComboSize      = 5
)

// AtomCombinationAnalysis describes a set of atoms that executed together
// under the same rule and campaign.
type AtomCombinationAnalysis struct {
	// Key is the sorted atom ids joined with "|".
	Key     string
	AtomIDs []string
	// Frequency is the number of joint executions across all contexts.
	Frequency int
	// SuccessRate and AverageExecutionTime are the observed values of the
	// members inside the shared contexts.
	SuccessRate          float64
	AverageExecutionTime float64
	// Expected values are the means of the members' overall stats.
	ExpectedSuccessRate   float64
	ExpectedExecutionTime float64
	// SynergyScore is positive when the atoms do better together than
	// their individual stats predict.
	SynergyScore    float64
	Recommendations []string
}

type comboAccumulator struct {
	atomIDs    []string
	frequency  int
	executions int
	successes  int
	totalTime  float64
}

type memberTotals struct {
	executions int
	successes  int
	totalTime  float64
}

// AnalyzeAtomCombinations returns every co-occurring atom set with at least
// minFrequency joint executions, highest synergy first.
func (a *Analyzer) AnalyzeAtomCombinations(minFrequency int) []AtomCombinationAnalysis {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]AtomCombinationAnalysis(nil), a.combinationsLocked(minFrequency)...)
}

func (a *Analyzer) combinationsLocked(minFrequency int) []AtomCombinationAnalysis {
	return a.combinations.GetOrCompute(strconv.Itoa(minFrequency), func() []AtomCombinationAnalysis {
		start := a.clock.Now()
		defer func() { a.metrics.ObserveCompute("atom_combinations", a.clock.Since(start)) }()
		return a.computeCombinations(minFrequency)
	})
}

// contextMembers groups the store by (rule, campaign) and totals each
// atom's executions inside each group.
func (a *Analyzer) contextMembers() map[string]map[string]*memberTotals {
	contexts := make(map[string]map[string]*memberTotals)
	for atomID, recs := range a.records {
		for _, r := range recs {
			key := r.contextKey()
			members, ok := contexts[key]
			if !ok {
				members = make(map[string]*memberTotals)
				contexts[key] = members
			}
			t, ok := members[atomID]
			if !ok {
				t = &memberTotals{}
				members[atomID] = t
			}
			t.executions += r.ExecutionCount
			t.successes += r.SuccessCount
			t.totalTime += r.totalTime()
		}
	}
	return contexts
}

func (a *Analyzer) computeCombinations(minFrequency int) []AtomCombinationAnalysis {
	groups := make(map[string]*comboAccumulator)
	for _, members := range a.contextMembers() {
		if len(members) < 2 {
			continue
		}
		ids := make([]string, 0, len(members))
		joint := -1
		for id, t := range members {
			ids = append(ids, id)
			if joint < 0 || t.executions < joint {
				joint = t.executions
			}
		}
		sort.Strings(ids)
		key := strings.Join(ids, combinationSeparator)
		acc, ok := groups[key]
		if !ok {
			acc = &comboAccumulator{atomIDs: ids}
			groups[key] = acc
		}
		acc.frequency += joint
		for _, t := range members {
			acc.executions += t.executions
			acc.successes += t.successes
			acc.totalTime += t.totalTime
		}
	}

	out := make([]AtomCombinationAnalysis, 0, len(groups))
	for key, acc := range groups {
		if acc.frequency < minFrequency {
			continue
		}
		c := AtomCombinationAnalysis{
			Key:                  key,
			AtomIDs:              acc.atomIDs,
			Frequency:            acc.frequency,
			SuccessRate:          stats.Ratio(acc.successes, acc.executions),
			AverageExecutionTime: stats.SafeDiv(acc.totalTime, float64(acc.executions)),
		}
		var rates, times []float64
		for _, id := range acc.atomIDs {
			s := a.statsLocked(id)
			rates = append(rates, s.SuccessRate)
			times = append(times, s.AverageExecutionTime)
		}
		c.ExpectedSuccessRate = stats.Mean(rates)
		c.ExpectedExecutionTime = stats.Mean(times)
		c.SynergyScore = synergy(c)
		c.Recommendations = combinationHints(c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SynergyScore != out[j].SynergyScore {
			return out[i].SynergyScore > out[j].SynergyScore
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// synergy is the relative success gain plus the relative time saving, both
// in percent. Zero expectations contribute nothing.
func synergy(c AtomCombinationAnalysis) float64 {
	var successGain, timeGain float64
	if c.ExpectedSuccessRate > 0 {
		successGain = (c.SuccessRate - c.ExpectedSuccessRate) / c.ExpectedSuccessRate * 100
	}
	if c.ExpectedExecutionTime > 0 {
		timeGain = (c.ExpectedExecutionTime - c.AverageExecutionTime) / c.ExpectedExecutionTime * 100
	}
	return successGain + timeGain
}

func combinationHints(c AtomCombinationAnalysis) []string {
	var hints []string
	if c.SuccessRate < lowComboSuccessRate {
		hints = append(hints, "Improve error handling between combined atoms")
	}
	if c.AverageExecutionTime > slowComboTime {
		hints = append(hints, "Consider executing these atoms in parallel")
	}
	if len(c.AtomIDs) > largeComboSize {
		hints = append(hints, "Evaluate simplifying this combination")
	}
	return hints
}
