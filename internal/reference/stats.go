package reference

import "sort"

// Median returns the middle value of vs, averaging the two central values for
// even lengths. Median rather than mean: small heterogeneous historical
// samples are outlier-prone.
func Median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Quartiles returns the first and third quartile of vs using the
// median-of-halves method.
func Quartiles(vs []float64) (q1, q3 float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	lower := sorted[:mid]
	var upper []float64
	if len(sorted)%2 == 1 {
		upper = sorted[mid+1:]
	} else {
		upper = sorted[mid:]
	}
	if len(lower) == 0 {
		// Single element; both quartiles collapse onto it.
		return sorted[0], sorted[0]
	}
	return Median(lower), Median(upper)
}

// RankByFrequency returns the distinct values of items ordered by descending
// occurrence count, ties broken alphabetically for determinism.
func RankByFrequency(items []string) []string {
	counts := make(map[string]int)
	for _, item := range items {
		if item == "" {
			continue
		}
		counts[item]++
	}

	ranked := make([]string, 0, len(counts))
	for item := range counts {
		ranked = append(ranked, item)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}
