package gallery

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// brightnessEmbedder maps an image to its top-left pixel brightness so tests can
// predict vectors.
type brightnessEmbedder struct {
	calls atomic.Int32
}

func (b *brightnessEmbedder) Embed(_ context.Context, r embedding.Region) (embedding.Embedded, bool) {
	b.calls.Add(1)
	img := r.Crop()
	c := color.GrayModel.Convert(img.At(img.Bounds().Min.X, img.Bounds().Min.Y)).(color.Gray)
	if c.Y == 0 {
		return embedding.Embedded{}, false // black images are "unembeddable"
	}
	return embedding.Embedded{Vector: facematch.Embedding{float32(c.Y) / 255, 0}, Backend: "brightness"}, true
}

func writePNG(t *testing.T, path string, y uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = y
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLoadGallery_BuildsThenHitsCache(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 100)
	writePNG(t, filepath.Join(dir, "a.png"), 200)
	writePNG(t, filepath.Join(dir, "nested", "c.PNG"), 50)
	writePNG(t, filepath.Join(dir, "black.png"), 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("garbage"), 0o644))

	emb := &brightnessEmbedder{}
	loader := NewLoader(emb, zerolog.Nop())

	first, err := loader.LoadGallery(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.Len(t, first.Entries, 3, "black and undecodable images are skipped")

	want := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "nested", "c.PNG"),
	}
	for i, e := range first.Entries {
		assert.Equal(t, want[i], e.Path, "entries keep lexical walk order")
	}
	assert.FileExists(t, filepath.Join(dir, CacheFileName))
	calls := emb.calls.Load()

	second, err := loader.LoadGallery(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, calls, emb.calls.Load(), "cache hit must not recompute embeddings")
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, []string{"brightness"}, second.Backends)
}

func TestLoadGallery_NoFreshnessCheck(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 200)

	loader := NewLoader(&brightnessEmbedder{}, zerolog.Nop())
	_, err := loader.LoadGallery(context.Background(), dir)
	require.NoError(t, err)

	writePNG(t, filepath.Join(dir, "new.png"), 120)
	g, err := loader.LoadGallery(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, g.Entries, 1, "images added after the cache was written stay invisible")

	require.NoError(t, Invalidate(dir))
	g, err = loader.LoadGallery(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, g.Entries, 2)
}

func TestLoadGallery_CorruptCacheIsRebuilt(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 200)
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), []byte("definitely not gob"), 0o644))

	emb := &brightnessEmbedder{}
	g, err := NewLoader(emb, zerolog.Nop()).LoadGallery(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, g.FromCache)
	assert.Len(t, g.Entries, 1)

	info, err := Info(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Entries)
	assert.Equal(t, cacheVersion, info.Version)
}

func TestReadCache_RejectsOtherFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CacheFileName)

	require.NoError(t, writeCache(path, &cacheFile{Kind: KindLabeled}))
	_, err := readCache(path, KindUnlabeled)
	assert.ErrorIs(t, err, ErrCacheCorrupt, "kind mismatch")

	cf := &cacheFile{Kind: KindUnlabeled}
	require.NoError(t, writeCache(path, cf))
	cf.Version = cacheVersion + 1
	// writeCache stamps the current version, so encode the future one by hand.
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gobEncode(f, cf))
	require.NoError(t, f.Close())
	_, err = readCache(path, KindUnlabeled)
	assert.ErrorIs(t, err, ErrCacheCorrupt, "version mismatch")

	_, err = readCache(filepath.Join(dir, "missing"), KindUnlabeled)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadGallery_WriteFailureIsNotFatal(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 200)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	g, err := NewLoader(&brightnessEmbedder{}, zerolog.Nop()).LoadGallery(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, g.Entries, 1)
	assert.NoFileExists(t, filepath.Join(dir, CacheFileName))
}

func TestLoadGallery_MissingDir(t *testing.T) {
	_, err := NewLoader(&brightnessEmbedder{}, zerolog.Nop()).LoadGallery(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadLabeledGallery(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "bob", "1.png"), 80)
	writePNG(t, filepath.Join(root, "alice", "2.png"), 210)
	writePNG(t, filepath.Join(root, "alice", "sub", "1.png"), 200)
	writePNG(t, filepath.Join(root, "ghost", "black.png"), 0)
	writePNG(t, filepath.Join(root, "loose.png"), 150)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	emb := &brightnessEmbedder{}
	loader := NewLoader(emb, zerolog.Nop())
	lg, err := loader.LoadLabeledGallery(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, lg.Subjects, 2, "subjects without embeddable images are omitted")
	assert.Equal(t, "alice", lg.Subjects[0].Name)
	assert.Equal(t, "bob", lg.Subjects[1].Name)
	assert.Len(t, lg.Subjects[0].Entries, 2)
	assert.Equal(t, 3, lg.Len())
	assert.FileExists(t, filepath.Join(root, LabeledCacheFileName))

	centroids := lg.Centroids()
	require.Len(t, centroids, 2)
	assert.InDelta(t, 1.0, facematch.Norm(centroids[0].Embedding), 1e-6)

	calls := emb.calls.Load()
	cached, err := loader.LoadLabeledGallery(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, calls, emb.calls.Load())
	assert.Equal(t, lg.Subjects, cached.Subjects)

	info, err := Info(root, true)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Subjects)
	assert.Equal(t, 3, info.Entries)

	require.NoError(t, InvalidateLabeled(root))
	assert.NoFileExists(t, filepath.Join(root, LabeledCacheFileName))
	require.NoError(t, InvalidateLabeled(root), "removing a missing cache is fine")
}

func randomEntries(r *rand.Rand, n, dim int) []facematch.Entry {
	entries := make([]facematch.Entry, n)
	for i := range entries {
		v := make(facematch.Embedding, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64() * 0.3)
		}
		entries[i] = facematch.Entry{Path: fmt.Sprintf("g/%03d.png", i), Embedding: v}
	}
	return entries
}

func TestIndex_MatchesExactSearch(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	entries := randomEntries(r, 300, 8)
	// A duplicate vector under another path exercises tie ordering.
	entries = append(entries, facematch.Entry{Path: "g/dup.png", Embedding: entries[42].Embedding})

	g := &Gallery{Entries: entries}
	g.BuildIndex()
	assert.Equal(t, len(entries), g.index.Len())

	queries := []facematch.Embedding{entries[0].Embedding, entries[42].Embedding, entries[299].Embedding}
	for _, e := range randomEntries(rand.New(rand.NewSource(7)), 20, 8) {
		queries = append(queries, e.Embedding)
	}

	for _, threshold := range []float64{0.3, 0.6, 1.0, 100} {
		for _, topK := range []int{0, 1, 3, 10} {
			for qi, q := range queries {
				want := facematch.MatchGallery(q, entries, threshold, topK)
				got := g.Match(q, threshold, topK)
				require.Equal(t, want, got, "threshold=%v topK=%d query=%d", threshold, topK, qi)
			}
		}
	}

	got := g.Match(entries[42].Embedding, 0.6, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "g/042.png", got[0].Target)
	assert.Equal(t, "g/dup.png", got[1].Target)
	assert.Zero(t, got[0].Distance)
}

func TestIndex_PrunesDistantEntries(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(11)), 200, 4)
	x := NewIndex(entries)

	c := x.Candidates(entries[5].Embedding, 0.05, 1)
	assert.Less(t, len(c), len(entries))
	assert.Contains(t, c, entries[5])

	assert.Len(t, x.Candidates(entries[5].Embedding, math.Inf(1), 0), len(entries), "no bound means no pruning")
}

func TestIndex_FallsBackForUnservableProbe(t *testing.T) {
	entries := []facematch.Entry{
		{Path: "a", Embedding: facematch.Embedding{1, 0}},
		{Path: "b", Embedding: facematch.Embedding{0, 1, 0}},
	}
	x := NewIndex(entries)
	assert.Len(t, x.Candidates(facematch.Embedding{1, 2, 3}, 0.6, 1), 2)
	assert.Len(t, NewIndex(nil).Candidates(facematch.Embedding{1}, 0.6, 1), 0)

	c := x.Candidates(facematch.Embedding{1, 0}, 0.6, 1)
	assert.Contains(t, c, entries[1], "entries of another dimension are always kept")
}
