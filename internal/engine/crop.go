package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
)

// CropFaces writes each detected face of the image to outDir as a JPEG named
// <image>_face<N>.jpg and returns the written paths. margin grows every box by that
// share of its size. The crops are meant as probes for labeled search.
func (e *Engine) CropFaces(ctx context.Context, imagePath, outDir string, margin float64) ([]string, error) {
	if e.detector == nil {
		return nil, fmt.Errorf("cropping faces: %w", embedding.ErrBackendUnavailable)
	}

	img, err := embedding.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}

	dets, err := e.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detecting faces in %s: %w", imagePath, err)
	}
	if len(dets) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", outDir, err)
	}

	stem := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	var written []string
	for i, d := range dets {
		crop := embedding.FaceRegion(img, d).CropWithMargin(margin)
		data, err := embedding.EncodeJPEG(crop)
		if err != nil {
			e.logger.Warn().Str("image", imagePath).Int("face", i).Err(err).Msg("Failed to encode face crop")
			continue
		}
		dst := filepath.Join(outDir, fmt.Sprintf("%s_face%d.jpg", stem, i+1))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	return written, nil
}
