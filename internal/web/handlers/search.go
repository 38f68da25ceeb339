package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/engine"
)

// SearchHandler runs probes on the server's file system through the engine.
type SearchHandler struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(eng *engine.Engine, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{engine: eng, logger: logger}
}

// SearchRequest names a probe and a gallery by their server-side paths.
type SearchRequest struct {
	Probe     string `json:"probe"`
	Gallery   string `json:"gallery"`
	Labeled   bool   `json:"labeled"`
	Persist   bool   `json:"persist"`
	Aggregate bool   `json:"aggregate"`
	RunID     string `json:"run_id"`
}

// SearchResponse wraps the engine result. Persisted is set only when the request asked
// for persistence.
type SearchResponse struct {
	Kind      string                `json:"kind"`
	Result    engine.Result         `json:"result"`
	RunID     string                `json:"run_id,omitempty"`
	Persisted *engine.PersistReport `json:"persisted,omitempty"`
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Probe == "" || req.Gallery == "" {
		respondError(w, http.StatusBadRequest, "probe and gallery are required")
		return
	}
	if _, err := os.Stat(req.Probe); err != nil {
		respondError(w, http.StatusNotFound, "probe not found")
		return
	}

	log := h.logger.With().Str("probe", sanitizeForLog(req.Probe)).Str("gallery", sanitizeForLog(req.Gallery)).Logger()

	res, err := h.engine.Search(r.Context(), req.Probe, req.Gallery, req.Labeled)
	if err != nil {
		log.Warn().Err(err).Msg("Search failed")
		if errors.Is(err, engine.ErrLabeledVideo) {
			respondError(w, http.StatusBadRequest, engine.ErrLabeledVideo.Error())
			return
		}
		if errors.Is(err, engine.ErrNoVideo) {
			respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, "gallery unavailable")
		return
	}

	resp := SearchResponse{Kind: engine.Kind(res), Result: res}
	if !req.Persist {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	resp.RunID = req.RunID
	if resp.RunID == "" {
		resp.RunID = uuid.NewString()
	}
	report, err := h.engine.Persist(r.Context(), res, engine.ModeFor(req.Aggregate), resp.RunID)
	switch {
	case errors.Is(err, engine.ErrNoSink):
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	case errors.Is(err, database.ErrUnregisteredEvidence):
		respondError(w, http.StatusConflict, "probe is not registered as evidence")
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to persist matches")
		respondError(w, http.StatusInternalServerError, "failed to persist matches")
		return
	}
	resp.Persisted = report
	respondJSON(w, http.StatusOK, resp)
}
