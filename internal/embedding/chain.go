package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/evidence-faces/internal/align"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
	"github.com/kozaktomas/evidence-faces/internal/metrics"
)

// Embedded is a vector together with the backend that produced it.
type Embedded struct {
	Vector  facematch.Embedding
	Backend string
}

// Chain tries embedders in priority order; the first one to return a vector wins.
// Results are never blended across backends. Chain is safe for concurrent use as
// long as its backends are.
type Chain struct {
	embedders []Embedder
	logger    zerolog.Logger
}

// NewChain creates a chain over the given embedders, highest priority first.
func NewChain(logger zerolog.Logger, embedders ...Embedder) *Chain {
	return &Chain{embedders: embedders, logger: logger}
}

// Names returns the backend names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.embedders))
	for i, e := range c.embedders {
		names[i] = e.Name()
	}
	return names
}

// Len returns the number of configured embedders.
func (c *Chain) Len() int {
	return len(c.embedders)
}

// Embed returns the first usable embedding for r. The boolean is false when every
// backend failed; failures are logged and counted, never returned.
func (c *Chain) Embed(ctx context.Context, r Region) (Embedded, bool) {
	for _, e := range c.embedders {
		vec, err := e.Embed(ctx, r)
		if err != nil {
			c.logFailure(e.Name(), err)
			continue
		}
		if len(vec) == 0 {
			continue
		}
		return Embedded{Vector: vec, Backend: e.Name()}, true
	}
	return Embedded{}, false
}

func (c *Chain) logFailure(backend string, err error) {
	// Missing landmarks or no face found are expected outcomes of the aligned backends.
	if errors.Is(err, align.ErrNoLandmarks) || errors.Is(err, ErrNoEmbedding) {
		c.logger.Debug().Str("backend", backend).Err(err).Msg("Backend produced no embedding")
		return
	}
	metrics.BackendFailuresTotal.WithLabelValues(backend, "embed").Inc()
	c.logger.Warn().Str("backend", backend).Err(err).Msg("Embedding backend failed, trying next")
}

// DetectorChain uses the first detector that answers without error. Zero faces is a
// valid answer and does not move on to the next detector.
type DetectorChain struct {
	detectors []Detector
	logger    zerolog.Logger
}

// NewDetectorChain creates a chain over the given detectors, highest priority first.
func NewDetectorChain(logger zerolog.Logger, detectors ...Detector) *DetectorChain {
	return &DetectorChain{detectors: detectors, logger: logger}
}

// Names returns the detector names in priority order.
func (c *DetectorChain) Names() []string {
	names := make([]string, len(c.detectors))
	for i, d := range c.detectors {
		names[i] = d.Name()
	}
	return names
}

// Detect returns the faces found by the first working detector. When no detector is
// configured or all of them fail, the error wraps ErrBackendUnavailable.
func (c *DetectorChain) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if c == nil || len(c.detectors) == 0 {
		return nil, fmt.Errorf("face detection: %w", ErrBackendUnavailable)
	}

	var errs []error
	for _, d := range c.detectors {
		dets, err := d.Detect(ctx, img)
		if err != nil {
			metrics.BackendFailuresTotal.WithLabelValues(d.Name(), "detect").Inc()
			c.logger.Warn().Str("backend", d.Name()).Err(err).Msg("Face detector failed, trying next")
			errs = append(errs, &BackendError{Backend: d.Name(), Op: "detect", Err: err})
			continue
		}
		for i := range dets {
			if dets[i].Backend == "" {
				dets[i].Backend = d.Name()
			}
		}
		return dets, nil
	}
	return nil, fmt.Errorf("face detection: %w", errors.Join(append([]error{ErrBackendUnavailable}, errs...)...))
}
