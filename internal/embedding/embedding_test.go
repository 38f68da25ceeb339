package embedding

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/align"
	"github.com/kozaktomas/evidence-faces/internal/config"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

type fakeEmbedder struct {
	name  string
	vec   facematch.Embedding
	err   error
	calls int
}

func (f *fakeEmbedder) Name() string { return f.name }

func (f *fakeEmbedder) Embed(context.Context, Region) (facematch.Embedding, error) {
	f.calls++
	return f.vec, f.err
}

type fakeDetector struct {
	name string
	dets []Detection
	err  error
}

func (f *fakeDetector) Name() string { return f.name }

func (f *fakeDetector) Detect(context.Context, image.Image) ([]Detection, error) {
	return f.dets, f.err
}

func TestDCT_KnownDistances(t *testing.T) {
	ctx := context.Background()
	e := NewDCT()

	white, err := e.Embed(ctx, WholeImage(solidImage(40, 40, color.White)))
	require.NoError(t, err)
	black, err := e.Embed(ctx, WholeImage(solidImage(40, 40, color.Black)))
	require.NoError(t, err)

	assert.Len(t, white, e.Dim())
	assert.InDelta(t, 1.0, facematch.Norm(white), 1e-6)
	assert.Zero(t, facematch.Norm(black))
	assert.InDelta(t, 1.0, facematch.Distance(white, black), 1e-6)
}

func TestDCT_IdenticalImagesAreZeroApart(t *testing.T) {
	ctx := context.Background()
	img := solidImage(64, 48, color.RGBA{R: 200, G: 30, B: 90, A: 255})
	for x := 10; x < 30; x++ {
		img.Set(x, 20, color.White)
	}

	a, err := NewDCT().Embed(ctx, WholeImage(img))
	require.NoError(t, err)
	b, err := NewDCT().Embed(ctx, WholeImage(img))
	require.NoError(t, err)
	assert.Zero(t, facematch.Distance(a, b))
}

func TestDCT_EmptyRegion(t *testing.T) {
	box := facematch.BoundingBox{Top: 100, Left: 100, Bottom: 110, Right: 110}
	_, err := NewDCT().Embed(context.Background(), Region{Image: solidImage(10, 10, color.White), Box: &box})
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestChain_FirstUsableBackendWins(t *testing.T) {
	failing := &fakeEmbedder{name: "broken", err: errors.New("model exploded")}
	empty := &fakeEmbedder{name: "empty"}
	noLandmarks := &fakeEmbedder{name: "aligned", err: align.ErrNoLandmarks}
	good := &fakeEmbedder{name: "good", vec: facematch.Embedding{1, 2}}
	never := &fakeEmbedder{name: "never", vec: facematch.Embedding{3, 4}}

	chain := NewChain(zerolog.Nop(), noLandmarks, failing, empty, good, never)
	got, ok := chain.Embed(context.Background(), WholeImage(solidImage(2, 2, color.White)))

	require.True(t, ok)
	assert.Equal(t, "good", got.Backend)
	assert.Equal(t, facematch.Embedding{1, 2}, got.Vector)
	assert.Zero(t, never.calls, "lower priority backends must not run after a success")
	assert.Equal(t, []string{"aligned", "broken", "empty", "good", "never"}, chain.Names())
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(zerolog.Nop(), &fakeEmbedder{name: "a", err: errors.New("boom")})
	_, ok := chain.Embed(context.Background(), WholeImage(solidImage(2, 2, color.White)))
	assert.False(t, ok)

	_, ok = NewChain(zerolog.Nop()).Embed(context.Background(), WholeImage(solidImage(2, 2, color.White)))
	assert.False(t, ok)
}

func TestDetectorChain(t *testing.T) {
	ctx := context.Background()
	img := solidImage(10, 10, color.White)
	box := facematch.BoundingBox{Top: 1, Left: 1, Bottom: 5, Right: 5}

	t.Run("no detectors", func(t *testing.T) {
		_, err := NewDetectorChain(zerolog.Nop()).Detect(ctx, img)
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("failing detector falls through", func(t *testing.T) {
		chain := NewDetectorChain(zerolog.Nop(),
			&fakeDetector{name: "bad", err: errors.New("no models")},
			&fakeDetector{name: "good", dets: []Detection{{Box: box}}},
		)
		dets, err := chain.Detect(ctx, img)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		assert.Equal(t, "good", dets[0].Backend)
	})

	t.Run("zero faces is an answer", func(t *testing.T) {
		chain := NewDetectorChain(zerolog.Nop(),
			&fakeDetector{name: "first"},
			&fakeDetector{name: "second", dets: []Detection{{Box: box}}},
		)
		dets, err := chain.Detect(ctx, img)
		require.NoError(t, err)
		assert.Empty(t, dets)
	})

	t.Run("all fail", func(t *testing.T) {
		chain := NewDetectorChain(zerolog.Nop(), &fakeDetector{name: "bad", err: errors.New("x")})
		_, err := chain.Detect(ctx, img)
		assert.ErrorIs(t, err, ErrBackendUnavailable)
		var be *BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "bad", be.Backend)
	})
}

func TestAligned(t *testing.T) {
	ctx := context.Background()
	img := solidImage(80, 60, color.Gray{Y: 128})
	inner := &fakeEmbedder{name: "inner", vec: facematch.Embedding{1}}

	t.Run("no landmarks and no locator", func(t *testing.T) {
		a := NewAligned(inner, nil, 0)
		_, err := a.Embed(ctx, WholeImage(img))
		assert.ErrorIs(t, err, align.ErrNoLandmarks)
		assert.Equal(t, "inner-aligned", a.Name())
	})

	t.Run("landmarks on the region", func(t *testing.T) {
		lm := &align.Landmarks{LeftEye: []image.Point{{20, 20}}, RightEye: []image.Point{{50, 25}}}
		got, err := NewAligned(inner, nil, 64).Embed(ctx, Region{Image: img, Landmarks: lm})
		require.NoError(t, err)
		assert.Equal(t, facematch.Embedding{1}, got)
	})

	t.Run("landmarks from the locator", func(t *testing.T) {
		lm := &align.Landmarks{LeftEye: []image.Point{{20, 20}}, RightEye: []image.Point{{50, 20}}}
		locator := &fakeDetector{name: "loc", dets: []Detection{
			{Box: facematch.BoundingBox{Top: 0, Left: 0, Bottom: 5, Right: 5}},
			{Box: facematch.BoundingBox{Top: 10, Left: 10, Bottom: 50, Right: 60}, Landmarks: lm},
		}}
		_, err := NewAligned(inner, locator, 0).Embed(ctx, WholeImage(img))
		require.NoError(t, err)
	})

	t.Run("locator finds no landmarks", func(t *testing.T) {
		locator := &fakeDetector{name: "loc", dets: []Detection{{Box: facematch.BoundingBox{Bottom: 5, Right: 5}}}}
		_, err := NewAligned(inner, locator, 0).Embed(ctx, WholeImage(img))
		assert.ErrorIs(t, err, align.ErrNoLandmarks)
	})
}

func TestRegion_CropKeepsCoordinates(t *testing.T) {
	img := solidImage(100, 100, color.White)
	box := facematch.BoundingBox{Top: 10, Left: 20, Bottom: 30, Right: 60}
	r := Region{Image: img, Box: &box}

	assert.Equal(t, image.Rect(20, 10, 60, 30), r.Crop().Bounds())
	assert.Equal(t, image.Rect(10, 5, 70, 35), r.CropWithMargin(0.25).Bounds())
	assert.Equal(t, img.Bounds(), WholeImage(img).Crop().Bounds())
}

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.bmp", "e.TIF", "f.tiff", "g.webp"} {
		assert.True(t, IsImageFile(name), name)
	}
	for _, name := range []string{"notes.txt", "clip.mp4", ".face_cache.gob", "noext"} {
		assert.False(t, IsImageFile(name), name)
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.png")
	f, err := os.Create(good)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solidImage(3, 3, color.White)))
	require.NoError(t, f.Close())

	img, err := LoadImage(good)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	bad := filepath.Join(dir, "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	_, err = LoadImage(bad)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, ErrDecode)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Path, "missing.png")
}

func TestBuilder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embedding.Backends = []string{"not-compiled", "remote", "dct"}
	cfg.Embedding.URL = ""
	cfg.Detection.Backends = []string{"remote"}

	b := NewBuilder(cfg, zerolog.Nop())
	assert.Equal(t, []string{"dct"}, b.Embedders().Names(), "remote without URL must be skipped")
	assert.Empty(t, b.Detectors().Names())

	cfg.Embedding.URL = "http://localhost:1"
	b = NewBuilder(cfg, zerolog.Nop())
	assert.Equal(t, []string{"remote", "dct"}, b.Embedders().Names())
	assert.Equal(t, []string{"remote"}, b.Detectors().Names())

	embedders, detectors := Available()
	assert.Contains(t, embedders, "dct")
	assert.Contains(t, detectors, "remote")
}

func TestBuilder_WarnsWhenOnlyPerceptual(t *testing.T) {
	cfg := config.Defaults()
	assert.NotContains(t, cfg.Embedding.Backends, "dct", "dct is opt-in")

	var buf bytes.Buffer
	cfg.Embedding.Backends = []string{"remote", "dct"}
	cfg.Embedding.URL = ""
	NewBuilder(cfg, zerolog.New(&buf)).Embedders()
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "No face model available")

	buf.Reset()
	cfg.Embedding.URL = "http://localhost:1"
	NewBuilder(cfg, zerolog.New(&buf)).Embedders()
	assert.NotContains(t, buf.String(), "No face model available", "a face model is in the chain")
}

func TestDetectMIMEType(t *testing.T) {
	assert.Equal(t, "image/jpeg", detectMIMEType([]byte{0xFF, 0xD8, 0xFF, 0, 0, 0, 0, 0}))
	assert.Equal(t, "image/png", detectMIMEType([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}))
	assert.Equal(t, "application/octet-stream", detectMIMEType([]byte{1, 2}))
}

func TestBackendError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&BackendError{Backend: "dlib", Op: "load", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "dlib load: boom", err.Error())
}
