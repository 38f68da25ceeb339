//go:build gocv

package video

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/evidence-faces/internal/config"
)

func init() {
	RegisterSource("gocv", func(config.VideoConfig) (Source, error) {
		return GoCV{}, nil
	})
}

// GoCV reads frames through OpenCV's VideoCapture.
type GoCV struct{}

func (GoCV) Name() string { return "gocv" }

func (GoCV) Open(_ context.Context, path string) (Stream, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}
	return &gocvStream{capture: capture}, nil
}

type gocvStream struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
}

func (s *gocvStream) FPS() float64 {
	return s.capture.Get(gocv.VideoCaptureFPS)
}

func (s *gocvStream) FrameCount() int {
	return int(s.capture.Get(gocv.VideoCaptureFrameCount))
}

func (s *gocvStream) Frame(_ context.Context, index int) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("no frame at index %d", index)
	}
	return mat.ToImage()
}

func (s *gocvStream) Close() error {
	return s.capture.Close()
}
