package gallery

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	// CacheFileName is stored in the directory of an unlabeled gallery.
	CacheFileName = ".face_cache.gob"
	// LabeledCacheFileName is stored in the root of a labeled gallery.
	LabeledCacheFileName = ".labeled_face_cache.gob"

	cacheMagic   = "evidence-faces/gallery-cache"
	cacheVersion = 1
)

// ErrCacheCorrupt is returned when a cache file cannot be decoded or has an
// incompatible format. Loaders rebuild the cache when they see it.
var ErrCacheCorrupt = errors.New("gallery cache corrupt")

// Kind tells unlabeled and labeled caches apart.
type Kind string

const (
	KindUnlabeled Kind = "unlabeled"
	KindLabeled   Kind = "labeled"
)

// cacheFile is the on-disk layout. Changing it requires bumping cacheVersion.
type cacheFile struct {
	Magic     string
	Version   int
	Kind      Kind
	Backends  []string
	Dim       int
	CreatedAt time.Time
	Entries   []cacheEntry
}

type cacheEntry struct {
	Subject   string // empty for unlabeled galleries
	Path      string
	Backend   string
	Embedding []float32
}

// CacheInfo describes a cache file without loading its vectors into a gallery.
type CacheInfo struct {
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	Version   int       `json:"version"`
	Entries   int       `json:"entries"`
	Subjects  int       `json:"subjects,omitempty"`
	Backends  []string  `json:"backends"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

func cachePath(dir string, kind Kind) string {
	if kind == KindLabeled {
		return filepath.Join(dir, LabeledCacheFileName)
	}
	return filepath.Join(dir, CacheFileName)
}

// readCache decodes the cache file at path. os.ErrNotExist is returned as is; any
// decoding or format problem wraps ErrCacheCorrupt.
func readCache(path string, kind Kind) (*cacheFile, error) {
	f, err := os.Open(path) //nolint:gosec // gallery path is operator input
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cf cacheFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&cf); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrCacheCorrupt, path, err)
	}
	if cf.Magic != cacheMagic {
		return nil, fmt.Errorf("%w: %s is not a gallery cache", ErrCacheCorrupt, path)
	}
	if cf.Version != cacheVersion {
		return nil, fmt.Errorf("%w: %s has format version %d, expected %d", ErrCacheCorrupt, path, cf.Version, cacheVersion)
	}
	if cf.Kind != kind {
		return nil, fmt.Errorf("%w: %s holds a %s gallery, expected %s", ErrCacheCorrupt, path, cf.Kind, kind)
	}
	return &cf, nil
}

// writeCache encodes cf into a temporary file next to path and renames it into place.
// Concurrent builders of the same gallery overwrite each other; the last rename wins.
func writeCache(path string, cf *cacheFile) error {
	cf.Magic = cacheMagic
	cf.Version = cacheVersion

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	w := bufio.NewWriter(tmp)
	if err := gobEncode(w, cf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move cache into place: %w", err)
	}
	return nil
}

// Info reads the cache header of an unlabeled (labeled=false) or labeled gallery.
func Info(dir string, labeled bool) (*CacheInfo, error) {
	kind := KindUnlabeled
	if labeled {
		kind = KindLabeled
	}
	path := cachePath(filepath.Clean(dir), kind)

	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	cf, err := readCache(path, kind)
	if err != nil {
		return nil, err
	}

	subjects := map[string]bool{}
	for _, e := range cf.Entries {
		if e.Subject != "" {
			subjects[e.Subject] = true
		}
	}
	return &CacheInfo{
		Path:      path,
		Kind:      cf.Kind,
		Version:   cf.Version,
		Entries:   len(cf.Entries),
		Subjects:  len(subjects),
		Backends:  cf.Backends,
		Dim:       cf.Dim,
		CreatedAt: cf.CreatedAt,
		SizeBytes: st.Size(),
	}, nil
}

// Invalidate deletes the cache of an unlabeled gallery. A missing cache is not an error.
func Invalidate(dir string) error {
	return removeCache(cachePath(filepath.Clean(dir), KindUnlabeled))
}

// InvalidateLabeled deletes the cache of a labeled gallery.
func InvalidateLabeled(root string) error {
	return removeCache(cachePath(filepath.Clean(root), KindLabeled))
}

func removeCache(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache %s: %w", path, err)
	}
	return nil
}

func gobEncode(w io.Writer, cf *cacheFile) error {
	return gob.NewEncoder(w).Encode(cf)
}
