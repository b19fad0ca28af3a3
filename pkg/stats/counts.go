package stats

import "sort"

// KeyCount is one row of a frequency table.
type KeyCount struct {
	Key   string
	Count int
}

// TopCounts returns the n most frequent keys, sorted by count descending and
// then key ascending. n <= 0 returns every key.
func TopCounts(counts map[string]int, n int) []KeyCount {
	rows := make([]KeyCount, 0, len(counts))
	for k, c := range counts {
		rows = append(rows, KeyCount{Key: k, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// TopScores is TopCounts for float scores.
func TopScores(scores map[string]float64, n int) []string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
