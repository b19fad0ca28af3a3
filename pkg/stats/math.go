package stats

import (
	"math"
	"sort"
)

// SafeDiv returns num/den, or 0 when den is 0.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Ratio returns num/den*100 as a percentage, or 0 when den is 0.
func Ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RunningAverage folds one more observation into an average that was
// computed over count observations.
func RunningAverage(avg float64, count int, value float64) float64 {
	return (avg*float64(count) + value) / float64(count+1)
}

// SortFloats sorts values in place and returns them.
func SortFloats(values []float64) []float64 {
	sort.Float64s(values)
	return values
}

// Percentile returns the p-th quantile (p in [0,1]) of sorted values using
// linear interpolation between the two bracketing indices, index = p*(n-1).
// An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	p = Clamp(p, 0, 1)
	idx := p * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(idx-float64(lo))
}

// FloorPercentile returns sorted[floor(n*p)], clamped to the last element.
// An empty slice yields 0.
func FloorPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
