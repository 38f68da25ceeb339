package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/config"
	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/database/mock"
	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/engine"
)

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Web.APIToken = token

	chain := embedding.NewChain(zerolog.Nop(), embedding.NewDCT())
	eng, err := engine.New(engine.OptionsFromConfig(cfg), engine.Deps{Embedder: chain}, zerolog.Nop())
	require.NoError(t, err)

	store := mock.NewMatchStore()
	subject := "alice"
	require.NoError(t, store.SaveMatches(context.Background(), []database.FaceMatchRecord{
		{RunID: "r1", Source: "a.jpg", Subject: &subject, Distance: 0.3},
	}))
	return NewServer(cfg, eng, store, zerolog.Nop())
}

func serve(s *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/matches", http.StatusOK},
		{http.MethodGet, "/api/v1/matches/unidentified", http.StatusOK},
		{http.MethodGet, "/api/v1/subjects/top", http.StatusOK},
		{http.MethodPost, "/api/v1/search", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/search", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(s, tt.method, tt.path, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRoutes_Token(t *testing.T) {
	s := newTestServer(t, "s3cret")

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/v1/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/v1/matches", "").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/v1/matches", "s3cret").Code)
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	rec := serve(newTestServer(t, ""), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
