// Package gallery loads reference galleries and keeps their embeddings in a cache file
// inside the gallery directory. A cache that exists is trusted as is: the loader never
// checks whether images were added, removed or changed since it was written. Deleting
// the cache file (Invalidate) is the only way to pick up gallery edits.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
	"github.com/kozaktomas/evidence-faces/internal/metrics"
)

// ImageEmbedder is the part of embedding.Chain the loader needs.
type ImageEmbedder interface {
	Embed(ctx context.Context, r embedding.Region) (embedding.Embedded, bool)
}

// Gallery is a loaded unlabeled gallery. Entries keep enumeration order, which is the
// tie-break order for ranking.
type Gallery struct {
	Dir       string
	Entries   []facematch.Entry
	Backends  []string
	CreatedAt time.Time
	FromCache bool

	index *Index
}

// Labeled is a loaded labeled gallery, one subject per immediate subdirectory.
type Labeled struct {
	Root      string
	Subjects  []facematch.Subject
	Backends  []string
	CreatedAt time.Time
	FromCache bool
}

// Len returns the number of reference images across all subjects.
func (l *Labeled) Len() int {
	n := 0
	for _, s := range l.Subjects {
		n += len(s.Entries)
	}
	return n
}

// Centroids derives the subject embeddings. They are never stored.
func (l *Labeled) Centroids() []facematch.SubjectEmbedding {
	return facematch.ComputeSubjectEmbeddings(l.Subjects)
}

// Loader builds and caches galleries. It keeps no per-gallery state and is safe for
// concurrent use; concurrent first builds of the same gallery simply race.
type Loader struct {
	embedder ImageEmbedder
	logger   zerolog.Logger

	// Progress, when set, receives a progress bar while a cache is being built.
	Progress io.Writer
}

// NewLoader creates a loader that embeds reference images with e.
func NewLoader(e ImageEmbedder, logger zerolog.Logger) *Loader {
	return &Loader{embedder: e, logger: logger}
}

// LoadGallery returns the gallery in dir, from its cache file when one exists.
// A corrupt or incompatible cache is rebuilt; failing to write the new cache is logged
// and does not fail the load.
func (l *Loader) LoadGallery(ctx context.Context, dir string) (*Gallery, error) {
	dir = filepath.Clean(dir)
	cf, err := l.readCached(dir, KindUnlabeled)
	if err != nil {
		return nil, err
	}
	if cf != nil {
		g := galleryFromCache(dir, cf)
		g.FromCache = true
		return g, nil
	}
	return l.BuildGallery(ctx, dir)
}

// BuildGallery embeds every image under dir and rewrites the cache.
func (l *Loader) BuildGallery(ctx context.Context, dir string) (*Gallery, error) {
	dir = filepath.Clean(dir)
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info().Str("gallery", dir).Int("images", len(files)).Msg("Building gallery cache")
	bar := l.newBar(len(files), "Embedding gallery")

	cf := &cacheFile{Kind: KindUnlabeled, CreatedAt: time.Now().UTC()}
	for _, path := range files {
		if e, ok := l.embedFile(ctx, path); ok {
			cf.Entries = append(cf.Entries, cacheEntry{Path: path, Backend: e.Backend, Embedding: e.Vector})
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	l.save(dir, cf)
	return galleryFromCache(dir, cf), nil
}

// LoadLabeledGallery returns the labeled gallery rooted at root, cached like LoadGallery.
func (l *Loader) LoadLabeledGallery(ctx context.Context, root string) (*Labeled, error) {
	root = filepath.Clean(root)
	cf, err := l.readCached(root, KindLabeled)
	if err != nil {
		return nil, err
	}
	if cf != nil {
		lg := labeledFromCache(root, cf)
		lg.FromCache = true
		return lg, nil
	}
	return l.BuildLabeledGallery(ctx, root)
}

// BuildLabeledGallery embeds every subject directory under root and rewrites the cache.
// Subjects without a single embeddable image are left out.
func (l *Loader) BuildLabeledGallery(ctx context.Context, root string) (*Labeled, error) {
	root = filepath.Clean(root)
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading labeled gallery %s: %w", root, err)
	}

	type subjectFiles struct {
		name  string
		files []string
	}
	var subjects []subjectFiles
	total := 0
	for _, d := range dirs { // ReadDir sorts by name
		if !d.IsDir() {
			continue
		}
		files, err := listImages(filepath.Join(root, d.Name()))
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subjectFiles{name: d.Name(), files: files})
		total += len(files)
	}

	l.logger.Info().Str("gallery", root).Int("subjects", len(subjects)).Int("images", total).Msg("Building labeled gallery cache")
	bar := l.newBar(total, "Embedding subjects")

	cf := &cacheFile{Kind: KindLabeled, CreatedAt: time.Now().UTC()}
	for _, s := range subjects {
		embedded := 0
		for _, path := range s.files {
			if e, ok := l.embedFile(ctx, path); ok {
				cf.Entries = append(cf.Entries, cacheEntry{Subject: s.name, Path: path, Backend: e.Backend, Embedding: e.Vector})
				embedded++
			}
			_ = bar.Add(1)
		}
		if embedded == 0 {
			l.logger.Warn().Str("subject", s.name).Msg("Subject has no embeddable images, leaving it out")
		}
	}
	_ = bar.Finish()

	l.save(root, cf)
	return labeledFromCache(root, cf), nil
}

// readCached returns nil without error when the cache must be (re)built.
func (l *Loader) readCached(dir string, kind Kind) (*cacheFile, error) {
	path := cachePath(dir, kind)
	cf, err := readCache(path, kind)
	switch {
	case err == nil:
		metrics.CacheEventsTotal.WithLabelValues(string(kind), "hit").Inc()
		l.logger.Debug().Str("cache", path).Int("entries", len(cf.Entries)).Msg("Gallery cache hit")
		return cf, nil
	case errors.Is(err, os.ErrNotExist):
		metrics.CacheEventsTotal.WithLabelValues(string(kind), "miss").Inc()
		return nil, nil
	case errors.Is(err, ErrCacheCorrupt):
		metrics.CacheEventsTotal.WithLabelValues(string(kind), "corrupt").Inc()
		l.logger.Error().Str("cache", path).Err(err).Msg("Gallery cache unusable, rebuilding")
		return nil, nil
	default:
		return nil, fmt.Errorf("reading gallery cache: %w", err)
	}
}

func (l *Loader) save(dir string, cf *cacheFile) {
	cf.Backends, cf.Dim = summarize(cf.Entries)
	path := cachePath(dir, cf.Kind)
	if err := writeCache(path, cf); err != nil {
		metrics.CacheEventsTotal.WithLabelValues(string(cf.Kind), "write_error").Inc()
		l.logger.Warn().Str("cache", path).Err(err).Msg("Failed to write gallery cache")
		return
	}
	l.logger.Info().Str("cache", path).Int("entries", len(cf.Entries)).Msg("Gallery cache written")
}

// embedFile embeds one reference image. Undecodable or unembeddable files are skipped.
func (l *Loader) embedFile(ctx context.Context, path string) (embedding.Embedded, bool) {
	img, err := embedding.LoadImage(path)
	if err != nil {
		metrics.DecodeFailuresTotal.Inc()
		l.logger.Warn().Str("path", path).Err(err).Msg("Skipping gallery image")
		return embedding.Embedded{}, false
	}
	e, ok := l.embedder.Embed(ctx, embedding.WholeImage(img))
	if !ok {
		l.logger.Warn().Str("path", path).Msg("No backend could embed gallery image, skipping")
		return embedding.Embedded{}, false
	}
	metrics.GalleryImagesEmbeddedTotal.Inc()
	return e, true
}

func (l *Loader) newBar(n int, desc string) *progressbar.ProgressBar {
	if l.Progress == nil {
		return progressbar.DefaultSilent(int64(n))
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(l.Progress),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// listImages walks dir recursively in lexical order and returns image file paths.
func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && embedding.IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning gallery %s: %w", dir, err)
	}
	return files, nil
}

func summarize(entries []cacheEntry) ([]string, int) {
	var backends []string
	for _, e := range entries {
		if !slices.Contains(backends, e.Backend) {
			backends = append(backends, e.Backend)
		}
	}
	slices.Sort(backends)
	dim := 0
	if len(entries) > 0 {
		dim = len(entries[0].Embedding)
	}
	return backends, dim
}

func galleryFromCache(dir string, cf *cacheFile) *Gallery {
	g := &Gallery{Dir: dir, Backends: cf.Backends, CreatedAt: cf.CreatedAt}
	g.Entries = make([]facematch.Entry, 0, len(cf.Entries))
	for _, e := range cf.Entries {
		g.Entries = append(g.Entries, facematch.Entry{Path: e.Path, Embedding: e.Embedding})
	}
	return g
}

func labeledFromCache(root string, cf *cacheFile) *Labeled {
	lg := &Labeled{Root: root, Backends: cf.Backends, CreatedAt: cf.CreatedAt}
	pos := map[string]int{}
	for _, e := range cf.Entries {
		i, ok := pos[e.Subject]
		if !ok {
			i = len(lg.Subjects)
			pos[e.Subject] = i
			lg.Subjects = append(lg.Subjects, facematch.Subject{Name: e.Subject})
		}
		lg.Subjects[i].Entries = append(lg.Subjects[i].Entries, facematch.Entry{Path: e.Path, Embedding: e.Embedding})
	}
	return lg
}
