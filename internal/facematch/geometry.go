package facematch

import (
	"fmt"
	"image"
	"sort"
)

// BoundingBox is a face location in source-image pixel coordinates.
// Bottom and Right are exclusive, matching image.Rectangle.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromRect converts an image rectangle into a bounding box.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

// BoxFromCorners converts [x1, y1, x2, y2] float pixel coordinates into a bounding box.
// Returns false when the slice does not hold four values.
func BoxFromCorners(bbox []float64) (BoundingBox, bool) {
	if len(bbox) != 4 {
		return BoundingBox{}, false
	}
	return BoxFromRect(image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]))), true
}

// Rect returns the box as an image rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

func (b BoundingBox) Width() int  { return b.Right - b.Left }
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// Area returns the box area in pixels, zero for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.Width() <= 0 || b.Height() <= 0 {
		return 0
	}
	return b.Width() * b.Height()
}

// Empty reports whether the box covers no pixels.
func (b BoundingBox) Empty() bool {
	return b.Area() == 0
}

// Clamp restricts the box to the given image bounds.
func (b BoundingBox) Clamp(bounds image.Rectangle) BoundingBox {
	return BoxFromRect(b.Rect().Intersect(bounds))
}

// Expand grows the box by ratio of its size on every side, e.g. 0.2 adds 20% margin.
func (b BoundingBox) Expand(ratio float64) BoundingBox {
	dx := int(float64(b.Width()) * ratio)
	dy := int(float64(b.Height()) * ratio)
	return BoundingBox{Top: b.Top - dy, Right: b.Right + dx, Bottom: b.Bottom + dy, Left: b.Left - dx}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(top=%d, left=%d, bottom=%d, right=%d)", b.Top, b.Left, b.Bottom, b.Right)
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
func ComputeIoU(a, b BoundingBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0 // No intersection
	}

	intersection := float64(inter.Dx() * inter.Dy())
	union := float64(a.Area()+b.Area()) - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// LargestBox returns the index of the box with the largest area, or -1 for an empty slice.
func LargestBox(boxes []BoundingBox) int {
	best := -1
	bestArea := -1
	for i, b := range boxes {
		if b.Area() > bestArea {
			best = i
			bestArea = b.Area()
		}
	}
	return best
}

// SuppressOverlaps returns the indices of boxes to keep, largest first, dropping any box
// whose IoU with an already kept box exceeds maxIoU.
func SuppressOverlaps(boxes []BoundingBox, maxIoU float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return boxes[order[i]].Area() > boxes[order[j]].Area() })

	var keep []int
	for _, i := range order {
		overlaps := false
		for _, k := range keep {
			if ComputeIoU(boxes[i], boxes[k]) > maxIoU {
				overlaps = true
				break
			}
		}
		if !overlaps {
			keep = append(keep, i)
		}
	}
	return keep
}
