package facematch

import (
	"math"
	"sort"
)

// ThresholdCoverage is the share of probes whose best distance is within a threshold.
type ThresholdCoverage struct {
	Threshold float64 `json:"threshold"`
	Count     int     `json:"count"`
	Ratio     float64 `json:"ratio"`
}

// DistanceStats describes the distribution of best-match distances over a probe set.
// It is used to pick a threshold for a given gallery and backend.
type DistanceStats struct {
	N        int                 `json:"n"`
	Mean     float64             `json:"mean"`
	Median   float64             `json:"median"`
	Min      float64             `json:"min"`
	Max      float64             `json:"max"`
	Coverage []ThresholdCoverage `json:"coverage"`
}

// ComputeDistanceStats summarizes distances and reports coverage for each threshold.
// Non-finite distances are ignored. Returns false when no finite distance remains.
func ComputeDistanceStats(distances []float64, thresholds []float64) (DistanceStats, bool) {
	values := make([]float64, 0, len(distances))
	for _, d := range distances {
		if math.IsInf(d, 0) || math.IsNaN(d) {
			continue
		}
		values = append(values, d)
	}
	if len(values) == 0 {
		return DistanceStats{}, false
	}
	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}

	n := len(values)
	stats := DistanceStats{
		N:    n,
		Mean: sum / float64(n),
		Min:  values[0],
		Max:  values[n-1],
	}
	if n%2 == 0 {
		stats.Median = (values[n/2-1] + values[n/2]) / 2
	} else {
		stats.Median = values[n/2]
	}

	for _, t := range thresholds {
		count := sort.Search(n, func(i int) bool { return values[i] > t })
		stats.Coverage = append(stats.Coverage, ThresholdCoverage{
			Threshold: t,
			Count:     count,
			Ratio:     float64(count) / float64(n),
		})
	}
	return stats, true
}
