// Package embedding turns images and face regions into vectors. Backends are plain
// values behind the Embedder and Detector interfaces and are tried in a fixed priority
// order by Chain and DetectorChain.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/evidence-faces/internal/align"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

var (
	// ErrBackendUnavailable means no detector or embedder could serve the request.
	ErrBackendUnavailable = errors.New("no usable backend")
	// ErrDecode means an image or video frame could not be opened or decoded.
	ErrDecode = errors.New("decode failure")
	// ErrNoEmbedding means a backend ran but produced no vector for the region.
	ErrNoEmbedding = errors.New("no embedding produced")
)

// BackendError wraps a failure of one backend operation.
type BackendError struct {
	Backend string
	Op      string // "load", "detect" or "embed"
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// DecodeError reports a file that could not be decoded. It matches ErrDecode with errors.Is.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Embedder computes a vector for an image region.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, r Region) (facematch.Embedding, error)
}

// Detector finds faces in a full image or video frame. Zero faces is a valid answer.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Detection is one face found by a Detector. Boxes and landmarks are in the coordinates
// of the image passed to Detect. Backends that compute descriptors while detecting set
// Embedding; otherwise the region is embedded separately.
type Detection struct {
	Box       facematch.BoundingBox
	Landmarks *align.Landmarks
	Embedding facematch.Embedding
	Backend   string
}

// Region is the part of an image to embed. A nil Box means the whole image.
type Region struct {
	Image     image.Image
	Box       *facematch.BoundingBox
	Landmarks *align.Landmarks
}

// WholeImage returns a region covering all of img.
func WholeImage(img image.Image) Region {
	return Region{Image: img}
}

// FaceRegion returns the region of a detection inside img.
func FaceRegion(img image.Image, d Detection) Region {
	box := d.Box
	return Region{Image: img, Box: &box, Landmarks: d.Landmarks}
}

// Crop returns the region's pixels. Coordinates are preserved, so landmarks stay valid.
func (r Region) Crop() image.Image {
	if r.Box == nil {
		return r.Image
	}
	return Crop(r.Image, *r.Box)
}

// CropWithMargin returns the region grown by ratio on every side, clamped to the image.
// Detectors that re-locate the face inside the crop need some context around it.
func (r Region) CropWithMargin(ratio float64) image.Image {
	if r.Box == nil {
		return r.Image
	}
	return Crop(r.Image, r.Box.Expand(ratio))
}
