package embedding

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

func newRemoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed/image", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Header.Get("Content-Type") != "image/jpeg" {
			http.Error(w, "unexpected content type", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(imageResponse{Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}})
	})
	mux.HandleFunc("POST /embed/face", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(faceResponse{
			FacesCount: 3,
			Faces: []faceDetection{
				{FaceIndex: 0, Dim: 2, Embedding: []float32{1, 0}, BBox: []float64{10, 20, 30, 50}, DetScore: 0.9},
				{FaceIndex: 1, Dim: 2, Embedding: []float32{0, 1}, BBox: []float64{1, 2}},
				{FaceIndex: 2, Dim: 2, Embedding: []float32{0, 1}, BBox: []float64{500, 500, 600, 600}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemote_Embed(t *testing.T) {
	srv := newRemoteServer(t)
	c := NewRemote(srv.URL+"/", 5*time.Second)

	got, err := c.Embed(context.Background(), WholeImage(solidImage(20, 20, color.White)))
	require.NoError(t, err)
	assert.Equal(t, facematch.Embedding{0.1, 0.2, 0.3}, got)
	assert.Equal(t, "remote", c.Name())
}

func TestRemote_Detect(t *testing.T) {
	srv := newRemoteServer(t)
	c := NewRemote(srv.URL, 5*time.Second)

	dets, err := c.Detect(context.Background(), solidImage(100, 100, color.White))
	require.NoError(t, err)
	require.Len(t, dets, 1, "malformed and out-of-image boxes are dropped")

	assert.Equal(t, facematch.BoundingBox{Top: 20, Left: 10, Bottom: 50, Right: 30}, dets[0].Box)
	assert.Equal(t, facematch.Embedding{1, 0}, dets[0].Embedding)
	assert.Equal(t, "remote", dets[0].Backend)
}

func TestRemote_DetectOnSubImageUsesSourceCoordinates(t *testing.T) {
	srv := newRemoteServer(t)
	c := NewRemote(srv.URL, 5*time.Second)

	sub := solidImage(200, 200, color.White).SubImage(image.Rect(100, 100, 200, 200))
	dets, err := c.Detect(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, facematch.BoundingBox{Top: 120, Left: 110, Bottom: 150, Right: 130}, dets[0].Box)
}

func TestRemote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, time.Second).Embed(context.Background(), WholeImage(solidImage(4, 4, color.Black)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestRemote_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dim":0,"embedding":[]}`))
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, time.Second).Embed(context.Background(), WholeImage(solidImage(4, 4, color.Black)))
	assert.ErrorIs(t, err, ErrNoEmbedding)
}
