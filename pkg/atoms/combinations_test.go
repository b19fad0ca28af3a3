package atoms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeAtomCombinations_NeutralSynergy(t *testing.T) {
	a := newTestAnalyzer(t, 30)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("A", "R1", "C1", 100, true)))
		require.NoError(t, a.RecordAtomUsage(usage("B", "R1", "C1", 100, true)))
	}

	combos := a.AnalyzeAtomCombinations(5)
	require.Len(t, combos, 1)
	c := combos[0]
	assert.Equal(t, "A|B", c.Key)
	assert.Equal(t, []string{"A", "B"}, c.AtomIDs)
	assert.Equal(t, 5, c.Frequency)
	assert.InDelta(t, 100, c.SuccessRate, 1e-9)
	assert.InDelta(t, 100, c.ExpectedSuccessRate, 1e-9)
	assert.InDelta(t, 0, c.SynergyScore, 1e-9)
	assert.Empty(t, c.Recommendations)

	assert.Empty(t, a.AnalyzeAtomCombinations(6))
}

func TestAnalyzeAtomCombinations_SkipsSingletonContexts(t *testing.T) {
	a := newTestAnalyzer(t, 30)
	require.NoError(t, a.RecordAtomUsage(usage("A", "R1", "C1", 100, true)))
	require.NoError(t, a.RecordAtomUsage(usage("B", "R2", "C1", 100, true)))

	assert.Empty(t, a.AnalyzeAtomCombinations(0))
}

func TestAnalyzeAtomCombinations_SumsAcrossContexts(t *testing.T) {
	a := newTestAnalyzer(t, 30)
	// Three joint runs in R1, two in R2, where B runs more often than A.
	for i := 0; i < 3; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("A", "R1", "C1", 100, true)))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("B", "R1", "C1", 100, true)))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("A", "R2", "C1", 100, true)))
		require.NoError(t, a.RecordAtomUsage(usage("B", "R2", "C1", 100, true)))
	}

	combos := a.AnalyzeAtomCombinations(1)
	require.Len(t, combos, 1)
	assert.Equal(t, 5, combos[0].Frequency)
}

func TestAnalyzeAtomCombinations_SortedBySynergy(t *testing.T) {
	a := newTestAnalyzer(t, 30)
	// X and Y are fast alone but slow together.
	for i := 0; i < 10; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("X", "solo", "C1", 10, true)))
		require.NoError(t, a.RecordAtomUsage(usage("Y", "solo2", "C1", 10, true)))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("X", "shared", "C1", 100, true)))
		require.NoError(t, a.RecordAtomUsage(usage("Y", "shared", "C1", 100, true)))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, a.RecordAtomUsage(usage("A", "R1", "C2", 100, true)))
		require.NoError(t, a.RecordAtomUsage(usage("B", "R1", "C2", 100, true)))
	}

	combos := a.AnalyzeAtomCombinations(5)
	require.Len(t, combos, 2)
	assert.Equal(t, "A|B", combos[0].Key)
	assert.Equal(t, "X|Y", combos[1].Key)
	assert.Less(t, combos[1].SynergyScore, 0.0)
	assert.Greater(t, combos[1].AverageExecutionTime, combos[1].ExpectedExecutionTime)
}

func TestAnalyzeAtomCombinations_InvalidatedOnWrite(t *testing.T) {
	a := newTestAnalyzer(t, 30)
	require.NoError(t, a.RecordAtomUsage(usage("A", "R1", "C1", 100, true)))
	require.NoError(t, a.RecordAtomUsage(usage("B", "R1", "C1", 100, true)))
	require.Len(t, a.AnalyzeAtomCombinations(1), 1)

	u := usage("C", "R1", "C1", 100, true)
	u.Timestamp = epoch.Add(time.Minute)
	require.NoError(t, a.RecordAtomUsage(u))

	combos := a.AnalyzeAtomCombinations(1)
	require.Len(t, combos, 1)
	assert.Equal(t, "A|B|C", combos[0].Key)
}

func TestSynergy(t *testing.T) {
	tests := []struct {
		name string
		c    AtomCombinationAnalysis
		want float64
	}{
		{
			name: "better together",
			c: AtomCombinationAnalysis{
				SuccessRate: 100, ExpectedSuccessRate: 80,
				AverageExecutionTime: 50, ExpectedExecutionTime: 100,
			},
			want: 25.0 + 50.0,
		},
		{
			name: "worse together",
			c: AtomCombinationAnalysis{
				SuccessRate: 50, ExpectedSuccessRate: 100,
				AverageExecutionTime: 200, ExpectedExecutionTime: 100,
			},
			want: -50.0 - 100.0,
		},
		{
			name: "zero expectations",
			c:    AtomCombinationAnalysis{SuccessRate: 50, AverageExecutionTime: 10},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, synergy(tt.c), 1e-9)
		})
	}
}

func TestCombinationHints(t *testing.T) {
	c := AtomCombinationAnalysis{
		AtomIDs:              []string{"a", "b", "c", "d", "e", "f"},
		SuccessRate:          80,
		AverageExecutionTime: 2500,
	}
	assert.Len(t, combinationHints(c), 3)

	c = AtomCombinationAnalysis{AtomIDs: []string{"a", "b"}, SuccessRate: 90, AverageExecutionTime: 2000}
	assert.Empty(t, combinationHints(c))
}
