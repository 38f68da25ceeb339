package facematch

import (
	"math"
	"testing"
)

func TestComputeDistanceStats(t *testing.T) {
	stats, ok := ComputeDistanceStats(
		[]float64{0.5, 0.2, math.Inf(1), 0.9, 0.4},
		[]float64{0.4, 0.6, 1.0},
	)
	if !ok {
		t.Fatal("expected stats")
	}

	if stats.N != 4 {
		t.Errorf("N = %d, want 4", stats.N)
	}
	if math.Abs(stats.Mean-0.5) > 1e-9 {
		t.Errorf("Mean = %v, want 0.5", stats.Mean)
	}
	if math.Abs(stats.Median-0.45) > 1e-9 {
		t.Errorf("Median = %v, want 0.45", stats.Median)
	}
	if stats.Min != 0.2 || stats.Max != 0.9 {
		t.Errorf("Min/Max = %v/%v, want 0.2/0.9", stats.Min, stats.Max)
	}

	wantCounts := []int{2, 3, 4}
	for i, c := range stats.Coverage {
		if c.Count != wantCounts[i] {
			t.Errorf("coverage at %v = %d, want %d", c.Threshold, c.Count, wantCounts[i])
		}
	}
	if stats.Coverage[0].Ratio != 0.5 {
		t.Errorf("ratio at 0.4 = %v, want 0.5", stats.Coverage[0].Ratio)
	}
}

func TestComputeDistanceStats_Empty(t *testing.T) {
	if _, ok := ComputeDistanceStats([]float64{math.Inf(1)}, []float64{0.6}); ok {
		t.Error("expected no stats for only non-finite distances")
	}
}
