package handlers

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/engine"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// grayEmbedder maps an image to the brightness of its top-left pixel.
type grayEmbedder struct{}

func (grayEmbedder) Embed(_ context.Context, r embedding.Region) (embedding.Embedded, bool) {
	img := r.Crop()
	c := color.GrayModel.Convert(img.At(img.Bounds().Min.X, img.Bounds().Min.Y)).(color.Gray)
	return embedding.Embedded{Vector: facematch.Embedding{float32(c.Y) / 255}, Backend: "gray"}, true
}

func newTestEngine(t *testing.T, deps engine.Deps) *engine.Engine {
	t.Helper()
	deps.Embedder = grayEmbedder{}
	e, err := engine.New(engine.Options{Threshold: 0.1, TopK: 5, VideoTopK: 3, Interval: 5}, deps, zerolog.Nop())
	require.NoError(t, err)
	return e
}

// writePNG writes a w x h image of uniform brightness y.
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

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target), "body: %s", recorder.Body.String())
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	require.Equal(t, expectedMessage, result["error"])
}
