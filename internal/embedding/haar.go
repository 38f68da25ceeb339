//go:build gocv

package embedding

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

const haarMaxOverlap = 0.3

var defaultCascadePaths = []string{
	"haarcascade_frontalface_default.xml",
	"/usr/local/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
	"/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
	"/opt/homebrew/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
}

func init() {
	RegisterDetector("haar", func(b *Builder) (Detector, error) {
		paths := defaultCascadePaths
		if b.Detection.HaarCascade != "" {
			paths = append([]string{b.Detection.HaarCascade}, paths...)
		}
		return NewHaar(paths)
	})
}

// Haar detects frontal faces with an OpenCV Haar cascade. It finds boxes only; regions
// are embedded by the embedder chain.
type Haar struct {
	mu      sync.Mutex
	cascade gocv.CascadeClassifier
}

// NewHaar loads the first cascade file that exists in paths.
func NewHaar(paths []string) (*Haar, error) {
	cascade := gocv.NewCascadeClassifier()
	for _, p := range paths {
		if cascade.Load(p) {
			return &Haar{cascade: cascade}, nil
		}
	}
	cascade.Close()
	return nil, fmt.Errorf("failed to load face cascade from %v: %w", paths, ErrBackendUnavailable)
}

func (h *Haar) Name() string { return "haar" }

func (h *Haar) Detect(_ context.Context, img image.Image) ([]Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to Mat: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	h.mu.Lock()
	rects := h.cascade.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	h.mu.Unlock()

	origin := img.Bounds().Min
	boxes := make([]facematch.BoundingBox, len(rects))
	for i, r := range rects {
		boxes[i] = facematch.BoxFromRect(r.Add(origin))
	}

	// The cascade reports nested windows around one face at different scales.
	keep := facematch.SuppressOverlaps(boxes, haarMaxOverlap)
	slices.Sort(keep)
	out := make([]Detection, 0, len(keep))
	for _, i := range keep {
		out = append(out, Detection{Box: boxes[i], Backend: h.Name()})
	}
	return out, nil
}

// Close releases the cascade.
func (h *Haar) Close() error {
	return h.cascade.Close()
}
