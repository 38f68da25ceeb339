// Package video samples frames from a video at a fixed interval and finds faces in each
// sampled frame. Frames are processed independently: there is no tracking, and the same
// face seen in consecutive samples is reported every time.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
	"github.com/kozaktomas/evidence-faces/internal/metrics"
)

// DefaultFPS is assumed when a container does not report its frame rate.
const DefaultFPS = 25.0

var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".avi": true,
}

// IsVideoFile reports whether path has a supported video extension (case-insensitive).
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// ErrInvalidInterval is returned for a non-positive sampling interval.
var ErrInvalidInterval = errors.New("sampling interval must be positive")

// Source opens videos for frame access.
type Source interface {
	Name() string
	Open(ctx context.Context, path string) (Stream, error)
}

// Stream gives random access to decoded frames.
type Stream interface {
	FPS() float64
	FrameCount() int
	// Frame decodes the frame at index. An error means no frame could be read there.
	Frame(ctx context.Context, index int) (image.Image, error)
	Close() error
}

// Detector and Embedder are the parts of the embedding chains the sampler needs.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]embedding.Detection, error)
}

type Embedder interface {
	Embed(ctx context.Context, r embedding.Region) (embedding.Embedded, bool)
}

// Face is one embedded detection in a sampled frame.
type Face struct {
	Box       facematch.BoundingBox
	Embedding facematch.Embedding
	Backend   string
}

// Frame holds the faces found at one sampled timestamp (seconds).
type Frame struct {
	Timestamp float64
	Faces     []Face
}

// SampleTimestamps returns 0, interval, 2*interval, ... strictly below duration.
// The last partial interval is not padded.
func SampleTimestamps(duration, interval float64) ([]float64, error) {
	if interval <= 0 || math.IsNaN(interval) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	var out []float64
	for i := 0; ; i++ {
		ts := float64(i) * interval
		if ts >= duration {
			break
		}
		out = append(out, ts)
	}
	return out, nil
}

// FrameIndex returns the frame to seek to for timestamp ts.
func FrameIndex(ts, fps float64) int {
	return int(math.Floor(ts * fps))
}

// Sampler runs face detection on frames sampled from a video.
type Sampler struct {
	source     Source
	detector   Detector
	embedder   Embedder
	defaultFPS float64
	logger     zerolog.Logger
}

// NewSampler creates a sampler. defaultFPS <= 0 uses DefaultFPS.
func NewSampler(source Source, detector Detector, embedder Embedder, defaultFPS float64, logger zerolog.Logger) *Sampler {
	if defaultFPS <= 0 {
		defaultFPS = DefaultFPS
	}
	return &Sampler{source: source, detector: detector, embedder: embedder, defaultFPS: defaultFPS, logger: logger}
}

// FindFaces samples path every interval seconds and returns the frames that contain at
// least one embedded face. A frame that cannot be decoded ends sampling; a frame whose
// detection fails is skipped. Only a video that cannot be opened is an error.
func (s *Sampler) FindFaces(ctx context.Context, path string, interval float64) ([]Frame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}

	stream, err := s.source.Open(ctx, path)
	if err != nil {
		return nil, &embedding.DecodeError{Path: path, Err: err}
	}
	defer stream.Close()

	fps := stream.FPS()
	if fps <= 0 {
		fps = s.defaultFPS
	}
	duration := float64(stream.FrameCount()) / fps
	timestamps, err := SampleTimestamps(duration, interval)
	if err != nil {
		return nil, err
	}

	log := s.logger.With().Str("video", path).Logger()
	log.Debug().Float64("fps", fps).Float64("duration", duration).Int("samples", len(timestamps)).Msg("Sampling video")

	var out []Frame
	for _, ts := range timestamps {
		img, err := stream.Frame(ctx, FrameIndex(ts, fps))
		if err != nil {
			metrics.DecodeFailuresTotal.Inc()
			log.Warn().Float64("timestamp", ts).Err(err).Msg("Failed to decode frame, stopping")
			break
		}

		dets, err := s.detector.Detect(ctx, img)
		if err != nil {
			log.Warn().Float64("timestamp", ts).Err(err).Msg("Face detection failed for frame")
			continue
		}

		faces := s.embedFaces(ctx, img, dets)
		if len(faces) == 0 {
			continue
		}
		out = append(out, Frame{Timestamp: ts, Faces: faces})
	}
	return out, nil
}

func (s *Sampler) embedFaces(ctx context.Context, img image.Image, dets []embedding.Detection) []Face {
	var faces []Face
	for _, d := range dets {
		if len(d.Embedding) > 0 {
			faces = append(faces, Face{Box: d.Box, Embedding: d.Embedding, Backend: d.Backend})
			continue
		}
		e, ok := s.embedder.Embed(ctx, embedding.FaceRegion(img, d))
		if !ok {
			s.logger.Debug().Stringer("bbox", d.Box).Msg("Dropping frame face without embedding")
			continue
		}
		faces = append(faces, Face{Box: d.Box, Embedding: e.Vector, Backend: e.Backend})
	}
	return faces
}
