package engine

import (
	"context"
	"fmt"

	"github.com/kozaktomas/evidence-faces/internal/video"
)

// Search picks the search flavour for a probe: videos are sampled, images are matched
// against either the labeled gallery or the unlabeled one. Videos can only be searched
// against an unlabeled gallery.
func (e *Engine) Search(ctx context.Context, probePath, galleryDir string, labeled bool) (Result, error) {
	switch {
	case labeled && video.IsVideoFile(probePath):
		return nil, fmt.Errorf("%w: %s", ErrLabeledVideo, probePath)
	case video.IsVideoFile(probePath):
		return e.SearchVideo(ctx, probePath, galleryDir)
	case labeled:
		return e.SearchLabeledImage(ctx, probePath, galleryDir)
	default:
		return e.SearchImage(ctx, probePath, galleryDir)
	}
}

// Kind names the search flavour that produced res.
func Kind(res Result) string {
	return res.kind()
}
