package embedding

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/evidence-faces/internal/config"
)

// EmbedderFactory builds an embedder. Returning ErrBackendUnavailable leaves the
// backend out of the chain without a warning.
type EmbedderFactory func(b *Builder) (Embedder, error)

// DetectorFactory builds a detector; see EmbedderFactory.
type DetectorFactory func(b *Builder) (Detector, error)

var (
	embedderFactories = map[string]EmbedderFactory{}
	detectorFactories = map[string]DetectorFactory{}
)

// RegisterEmbedder makes an embedder available under name. Backends that need cgo
// register themselves from build-tagged files.
func RegisterEmbedder(name string, f EmbedderFactory) {
	embedderFactories[name] = f
}

// RegisterDetector makes a detector available under name.
func RegisterDetector(name string, f DetectorFactory) {
	detectorFactories[name] = f
}

// Available returns the embedder and detector names compiled into this binary.
func Available() (embedders, detectors []string) {
	return slices.Sorted(maps.Keys(embedderFactories)), slices.Sorted(maps.Keys(detectorFactories))
}

func init() {
	RegisterEmbedder("dct", func(*Builder) (Embedder, error) {
		return NewDCT(), nil
	})
	RegisterEmbedder("remote", func(b *Builder) (Embedder, error) {
		return b.remote()
	})
	RegisterDetector("remote", func(b *Builder) (Detector, error) {
		return b.remote()
	})
}

// Builder constructs the backend chains once at startup. Handles shared by several
// backends, such as a loaded model, are memoized on the builder.
type Builder struct {
	Embedding config.EmbeddingConfig
	Detection config.DetectionConfig
	Logger    zerolog.Logger

	mu     sync.Mutex
	shared map[string]any
}

// NewBuilder creates a builder for the given configuration.
func NewBuilder(cfg *config.Config, logger zerolog.Logger) *Builder {
	return &Builder{
		Embedding: cfg.Embedding,
		Detection: cfg.Detection,
		Logger:    logger,
		shared:    map[string]any{},
	}
}

// Shared returns the value stored under key, creating it on first use.
func (b *Builder) Shared(key string, create func() any) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.shared[key]; ok {
		return v
	}
	v := create()
	b.shared[key] = v
	return v
}

func (b *Builder) remote() (*Remote, error) {
	if b.Embedding.URL == "" {
		return nil, fmt.Errorf("embedding url not set: %w", ErrBackendUnavailable)
	}
	return b.Shared("remote", func() any {
		return NewRemote(b.Embedding.URL, b.Embedding.Timeout)
	}).(*Remote), nil
}

// Embedders builds the embedder chain in the configured priority order. Names that are
// not compiled in or not configured are skipped.
func (b *Builder) Embedders() *Chain {
	var out []Embedder
	for _, name := range b.Embedding.Backends {
		f, ok := embedderFactories[name]
		if !ok {
			b.Logger.Debug().Str("backend", name).Msg("Embedder not compiled in, skipping")
			continue
		}
		e, err := f(b)
		if err != nil {
			b.logSkipped(name, err)
			continue
		}
		out = append(out, e)
	}
	chain := NewChain(b.Logger, out...)
	if names := chain.Names(); len(names) > 0 && !slices.ContainsFunc(names, isFaceModel) {
		b.Logger.Warn().
			Strs("backends", names).
			Msg("No face model available, only perceptual embeddings: distances are not face identity and matches below the threshold are unreliable")
	}
	return chain
}

// perceptualBackends compare image content rather than faces.
var perceptualBackends = map[string]bool{"dct": true}

func isFaceModel(name string) bool {
	return !perceptualBackends[name]
}

// Detectors builds the detector chain in the configured priority order.
func (b *Builder) Detectors() *DetectorChain {
	var out []Detector
	for _, name := range b.Detection.Backends {
		f, ok := detectorFactories[name]
		if !ok {
			b.Logger.Debug().Str("backend", name).Msg("Detector not compiled in, skipping")
			continue
		}
		d, err := f(b)
		if err != nil {
			b.logSkipped(name, err)
			continue
		}
		out = append(out, d)
	}
	return NewDetectorChain(b.Logger, out...)
}

func (b *Builder) logSkipped(name string, err error) {
	if errors.Is(err, ErrBackendUnavailable) {
		b.Logger.Debug().Str("backend", name).Err(err).Msg("Backend not configured, skipping")
		return
	}
	b.Logger.Warn().Str("backend", name).Err(err).Msg("Failed to initialize backend, skipping")
}
