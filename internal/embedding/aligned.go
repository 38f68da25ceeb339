package embedding

import (
	"context"
	"fmt"

	"github.com/kozaktomas/evidence-faces/internal/align"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// Aligned rotates the region so the eye line is horizontal before handing it to the
// wrapped embedder. Landmarks come from the region itself or, when missing, from the
// largest face the locator finds in the crop. Without landmarks it returns
// align.ErrNoLandmarks and the chain moves on to the unaligned backend.
type Aligned struct {
	name    string
	inner   Embedder
	locator Detector
	size    int
}

// NewAligned wraps inner. locator may be nil; size <= 0 uses align.DefaultSize.
func NewAligned(inner Embedder, locator Detector, size int) *Aligned {
	return &Aligned{name: inner.Name() + "-aligned", inner: inner, locator: locator, size: size}
}

func (a *Aligned) Name() string { return a.name }

func (a *Aligned) Embed(ctx context.Context, r Region) (facematch.Embedding, error) {
	crop := r.CropWithMargin(0.25)

	lm := r.Landmarks
	if lm == nil && a.locator != nil {
		found, err := a.locate(ctx, r)
		if err != nil {
			return nil, err
		}
		lm = found
	}
	if lm == nil {
		return nil, align.ErrNoLandmarks
	}

	aligned, err := align.Face(crop, *lm, a.size)
	if err != nil {
		return nil, err
	}
	return a.inner.Embed(ctx, WholeImage(aligned))
}

// locate finds landmarks of the largest face inside the region.
func (a *Aligned) locate(ctx context.Context, r Region) (*align.Landmarks, error) {
	dets, err := a.locator.Detect(ctx, r.Crop())
	if err != nil {
		return nil, fmt.Errorf("locating landmarks: %w", err)
	}

	var boxes []facematch.BoundingBox
	var withLandmarks []Detection
	for _, d := range dets {
		if d.Landmarks == nil {
			continue
		}
		boxes = append(boxes, d.Box)
		withLandmarks = append(withLandmarks, d)
	}
	idx := facematch.LargestBox(boxes)
	if idx < 0 {
		return nil, align.ErrNoLandmarks
	}
	return withLandmarks[idx].Landmarks, nil
}
