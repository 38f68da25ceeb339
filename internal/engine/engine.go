// Package engine runs probes through detection, embedding and matching, and hands
// the results to the persistence sink. An Engine holds no per-probe state and may
// be used from several goroutines at once; it never starts goroutines itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/evidence-faces/internal/config"
	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
	"github.com/kozaktomas/evidence-faces/internal/gallery"
	"github.com/kozaktomas/evidence-faces/internal/metrics"
	"github.com/kozaktomas/evidence-faces/internal/video"
)

var (
	// ErrNoEmbedder is returned by New when no embedding backend is configured.
	ErrNoEmbedder = errors.New("no embedding backend configured")
	// ErrNoSink is returned by Persist when the engine has no persistence sink.
	ErrNoSink = errors.New("no persistence sink configured")
	// ErrNoEvidenceRegistry is returned by New when records would be persisted without
	// the provenance check they require.
	ErrNoEvidenceRegistry = errors.New("provenance is required but no evidence registry is configured")
	// ErrLabeledVideo is returned by Search for a video probe against a labeled gallery.
	ErrLabeledVideo = errors.New("labeled search only supports images")
	// ErrNoVideo is returned by SearchVideo when no frame source is configured.
	ErrNoVideo = errors.New("no video source configured")
)

// Detector finds faces in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]embedding.Detection, error)
}

// Embedder turns an image region into a vector.
type Embedder interface {
	Embed(ctx context.Context, r embedding.Region) (embedding.Embedded, bool)
}

// Options are the matching and persistence settings of an engine.
type Options struct {
	Threshold            float64
	TopK                 int
	VideoTopK            int
	Interval             float64 // video sampling interval in seconds
	UseSubjectEmbeddings bool
	UseIndex             bool
	UnidentifiedDir      string
	RequireProvenance    bool
}

// OptionsFromConfig extracts engine options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:            cfg.Match.Threshold,
		TopK:                 cfg.Match.TopK,
		VideoTopK:            cfg.Match.VideoTopK,
		Interval:             cfg.Video.Interval,
		UseSubjectEmbeddings: cfg.Match.UseSubjectEmbeddings,
		UseIndex:             cfg.Match.UseIndex,
		UnidentifiedDir:      cfg.Match.UnidentifiedDir,
		RequireProvenance:    cfg.Database.RequireProvenance,
	}
}

// Deps are the collaborators of an engine. Only Embedder is required; with a nil
// Detector every probe is matched as a whole image.
type Deps struct {
	Detector Detector
	Embedder Embedder
	Loader   *gallery.Loader
	Sampler  *video.Sampler
	Sink     database.FaceMatchWriter
	Evidence database.EvidenceReader
}

// Engine is the face identification pipeline.
type Engine struct {
	opts     Options
	detector Detector
	embedder Embedder
	loader   *gallery.Loader
	sampler  *video.Sampler
	sink     database.FaceMatchWriter
	evidence database.EvidenceReader
	logger   zerolog.Logger

	mu        sync.Mutex
	galleries map[string]*gallery.Gallery
	labeled   map[string]*labeledGallery
}

// labeledGallery is a loaded labeled gallery with its centroids computed once.
type labeledGallery struct {
	*gallery.Labeled
	centroids []facematch.SubjectEmbedding
}

// New creates an engine.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Engine, error) {
	if deps.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	if opts.RequireProvenance && deps.Sink != nil && deps.Evidence == nil {
		return nil, ErrNoEvidenceRegistry
	}
	loader := deps.Loader
	if loader == nil {
		loader = gallery.NewLoader(deps.Embedder, logger)
	}
	return &Engine{
		opts:      opts,
		detector:  deps.Detector,
		embedder:  deps.Embedder,
		loader:    loader,
		sampler:   deps.Sampler,
		sink:      deps.Sink,
		evidence:  deps.Evidence,
		logger:    logger,
		galleries: make(map[string]*gallery.Gallery),
		labeled:   make(map[string]*labeledGallery),
	}, nil
}

// Options returns the engine settings.
func (e *Engine) Options() Options {
	return e.opts
}

// Forget drops every gallery loaded so far, so the next search reads the cache files again.
func (e *Engine) Forget() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.galleries = make(map[string]*gallery.Gallery)
	e.labeled = make(map[string]*labeledGallery)
}

// Preload loads the gallery used by later searches so concurrent probes share one
// build of its cache. A video gallery is the unlabeled one.
func (e *Engine) Preload(ctx context.Context, dir string, labeled bool) error {
	var err error
	if labeled {
		_, err = e.loadLabeled(ctx, dir)
	} else {
		_, err = e.loadGallery(ctx, dir)
	}
	if err != nil {
		return fmt.Errorf("loading gallery %s: %w", dir, err)
	}
	return nil
}

// loadGallery returns the unlabeled gallery in dir, loading it on first use.
// Two callers loading the same directory at once may both build it; the later one wins.
func (e *Engine) loadGallery(ctx context.Context, dir string) (*gallery.Gallery, error) {
	dir = filepath.Clean(dir)
	e.mu.Lock()
	g, ok := e.galleries[dir]
	e.mu.Unlock()
	if ok {
		return g, nil
	}

	g, err := e.loader.LoadGallery(ctx, dir)
	if err != nil {
		return nil, err
	}
	if e.opts.UseIndex {
		g.BuildIndex()
	}

	e.mu.Lock()
	e.galleries[dir] = g
	e.mu.Unlock()
	return g, nil
}

// loadLabeled returns the labeled gallery rooted at root, loading it on first use.
func (e *Engine) loadLabeled(ctx context.Context, root string) (*labeledGallery, error) {
	root = filepath.Clean(root)
	e.mu.Lock()
	lg, ok := e.labeled[root]
	e.mu.Unlock()
	if ok {
		return lg, nil
	}

	l, err := e.loader.LoadLabeledGallery(ctx, root)
	if err != nil {
		return nil, err
	}
	lg = &labeledGallery{Labeled: l, centroids: l.Centroids()}

	e.mu.Lock()
	e.labeled[root] = lg
	e.mu.Unlock()
	return lg, nil
}

// probe is one embedded face (or the whole image) of a probe image.
type probe struct {
	box       *facematch.BoundingBox
	embedding facematch.Embedding
	backend   string
}

// probes detects faces in img and embeds each one. When no face is found, or no
// detector is usable, the whole image becomes the single probe. An empty result
// means not even the whole image could be embedded.
func (e *Engine) probes(ctx context.Context, img image.Image, log zerolog.Logger) []probe {
	var dets []embedding.Detection
	if e.detector != nil {
		var err error
		dets, err = e.detector.Detect(ctx, img)
		if err != nil {
			log.Debug().Err(err).Msg("Face detection unavailable")
			dets = nil
		}
	}

	if len(dets) == 0 {
		log.Info().Msg("No faces detected, using whole-image embedding as the probe")
		emb, ok := e.embedder.Embed(ctx, embedding.WholeImage(img))
		if !ok {
			log.Warn().Msg("Whole-image embedding failed, probe yields no results")
			return nil
		}
		metrics.WholeImageFallbacksTotal.Inc()
		return []probe{{embedding: emb.Vector, backend: emb.Backend}}
	}

	out := make([]probe, 0, len(dets))
	for _, d := range dets {
		box := d.Box
		if len(d.Embedding) > 0 {
			out = append(out, probe{box: &box, embedding: d.Embedding, backend: d.Backend})
			continue
		}
		emb, ok := e.embedder.Embed(ctx, embedding.FaceRegion(img, d))
		if !ok {
			log.Warn().Stringer("bbox", box).Msg("Dropping face without embedding")
			continue
		}
		out = append(out, probe{box: &box, embedding: emb.Vector, backend: emb.Backend})
	}
	return out
}

// loadProbe decodes a probe image. Decode failures are logged and counted.
func (e *Engine) loadProbe(path string, log zerolog.Logger) (image.Image, bool) {
	img, err := embedding.LoadImage(path)
	if err != nil {
		metrics.DecodeFailuresTotal.Inc()
		log.Warn().Err(err).Msg("Failed to decode probe, skipping")
		return nil, false
	}
	return img, true
}
