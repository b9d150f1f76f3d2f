package metrics

import (
	"math"
	"sort"
)

// Percentile computes a rank-based percentile over samples using
// index = ceil(n*p) - 1, clamped to [0, n-1]. The input is not modified.
// Returns 0 for an empty sample set.
func Percentile(samples []float64, p float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
