package facematch

import (
	"image"
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		a        BoundingBox
		b        BoundingBox
		expected float64
	}{
		{
			name:     "identical boxes",
			a:        BoundingBox{Top: 0, Left: 0, Bottom: 10, Right: 10},
			b:        BoundingBox{Top: 0, Left: 0, Bottom: 10, Right: 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        BoundingBox{Top: 0, Left: 0, Bottom: 10, Right: 10},
			b:        BoundingBox{Top: 20, Left: 20, Bottom: 30, Right: 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			a:        BoundingBox{Top: 0, Left: 0, Bottom: 10, Right: 10},
			b:        BoundingBox{Top: 5, Left: 5, Bottom: 15, Right: 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			a:        BoundingBox{Top: 0, Left: 0, Bottom: 20, Right: 20},
			b:        BoundingBox{Top: 5, Left: 5, Bottom: 15, Right: 15},
			expected: 100.0 / 400.0,
		},
		{
			name:     "degenerate boxes",
			a:        BoundingBox{},
			b:        BoundingBox{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestBoxFromRect(t *testing.T) {
	box := BoxFromRect(image.Rect(30, 10, 5, 40))
	want := BoundingBox{Top: 10, Left: 5, Bottom: 40, Right: 30}
	if box != want {
		t.Errorf("BoxFromRect() = %v, want %v", box, want)
	}
	if box.Rect() != image.Rect(5, 10, 30, 40) {
		t.Errorf("Rect() round trip = %v", box.Rect())
	}
}

func TestBoxFromCorners(t *testing.T) {
	tests := []struct {
		name   string
		bbox   []float64
		want   BoundingBox
		wantOK bool
	}{
		{"pixel corners", []float64{100.4, 200.9, 300, 400}, BoundingBox{Top: 200, Left: 100, Bottom: 400, Right: 300}, true},
		{"too short", []float64{1, 2}, BoundingBox{}, false},
		{"empty", nil, BoundingBox{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BoxFromCorners(tt.bbox)
			if ok != tt.wantOK {
				t.Fatalf("BoxFromCorners() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("BoxFromCorners() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoundingBox_ClampAndExpand(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)

	box := BoundingBox{Top: 10, Left: 10, Bottom: 30, Right: 30}.Expand(0.5)
	want := BoundingBox{Top: 0, Left: 0, Bottom: 40, Right: 40}
	if box != want {
		t.Errorf("Expand() = %v, want %v", box, want)
	}

	clamped := BoundingBox{Top: -10, Left: 90, Bottom: 200, Right: 150}.Clamp(bounds)
	want = BoundingBox{Top: 0, Left: 90, Bottom: 80, Right: 100}
	if clamped != want {
		t.Errorf("Clamp() = %v, want %v", clamped, want)
	}

	outside := BoundingBox{Top: 200, Left: 200, Bottom: 210, Right: 210}.Clamp(bounds)
	if !outside.Empty() {
		t.Errorf("expected box outside the image to clamp to empty, got %v", outside)
	}
}

func TestLargestBox(t *testing.T) {
	boxes := []BoundingBox{
		{Top: 0, Left: 0, Bottom: 10, Right: 10},
		{Top: 0, Left: 0, Bottom: 20, Right: 20},
		{Top: 0, Left: 0, Bottom: 20, Right: 20},
	}
	if got := LargestBox(boxes); got != 1 {
		t.Errorf("LargestBox() = %d, want 1 (first of equal boxes)", got)
	}
	if got := LargestBox(nil); got != -1 {
		t.Errorf("LargestBox(nil) = %d, want -1", got)
	}
}

func TestSuppressOverlaps(t *testing.T) {
	boxes := []BoundingBox{
		{Top: 0, Left: 0, Bottom: 10, Right: 10},
		{Top: 0, Left: 0, Bottom: 12, Right: 12},
		{Top: 50, Left: 50, Bottom: 60, Right: 60},
	}
	got := SuppressOverlaps(boxes, 0.3)
	want := []int{1, 2}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("SuppressOverlaps() = %v, want %v", got, want)
	}
	if got := SuppressOverlaps(nil, 0.3); len(got) != 0 {
		t.Errorf("SuppressOverlaps(nil) = %v, want empty", got)
	}
}
