// Package atoms analyzes per-atom execution telemetry.
//
// An atom is a reusable decision-rule component. Every execution reported
// through RecordAtomUsage is folded into an aggregate UsageRecord keyed by
// (atom, rule, campaign): consecutive executions for the same key merge into
// the most recent record, anything else appends a new one. Each record also
// keeps a bounded ring of raw execution samples so percentiles and trends
// are computed from real observations; executions that fell out of the ring
// are reconstructed from the record's running average.
//
// Read APIs compute lazily and memoize:
//
//	stats := analyzer.GetAtomPerformance("atom-geo")
//	top := analyzer.GetAtomRankings(atoms.RankByEfficiency, 10)
//	combos := analyzer.AnalyzeAtomCombinations(5)
//	graph := analyzer.BuildDependencyGraph()
//	recs := analyzer.GenerateOptimizationRecommendations()
//	trend, err := analyzer.GetUsageTrends("atom-geo", from, to, stats.Day)
//
// The "dependency" graph is an affinity graph: two atoms are linked when
// they execute under the same (rule, campaign). The relation is symmetric
// and says nothing about data or control flow.
package atoms
