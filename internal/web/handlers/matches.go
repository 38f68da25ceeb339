package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/evidence-faces/internal/constants"
	"github.com/kozaktomas/evidence-faces/internal/database"
)

// MatchesHandler serves persisted match records. All endpoints are read-only.
type MatchesHandler struct {
	reader database.FaceMatchReader
	logger zerolog.Logger
}

// NewMatchesHandler creates a new matches handler. A nil reader makes every
// endpoint answer 503.
func NewMatchesHandler(reader database.FaceMatchReader, logger zerolog.Logger) *MatchesHandler {
	return &MatchesHandler{reader: reader, logger: logger}
}

// MatchesResponse is a page of records.
type MatchesResponse struct {
	Matches []database.FaceMatchRecord `json:"matches"`
	Count   int                        `json:"count"`
}

// List returns records filtered by run_id, source, subject and max_distance, newest first.
func (h *MatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}

	limit, ok := queryInt(r, "limit", constants.DefaultListLimit, constants.MaxListLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	maxDistance, ok := queryFloat(r, "max_distance")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid max_distance")
		return
	}

	q := r.URL.Query()
	filter := database.MatchFilter{
		RunID:       q.Get("run_id"),
		Source:      q.Get("source"),
		Subject:     q.Get("subject"),
		MaxDistance: maxDistance,
		Limit:       limit,
	}

	records, err := h.reader.ListMatches(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list matches")
		respondError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	respondMatches(w, records)
}

// Unidentified returns records without a subject label, newest first.
func (h *MatchesHandler) Unidentified(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	limit, ok := queryInt(r, "limit", constants.DefaultListLimit, constants.MaxListLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	records, err := h.reader.ListUnidentified(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list unidentified matches")
		respondError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	respondMatches(w, records)
}

// TopSubjects ranks subjects by the number of distinct sources they were matched in.
func (h *MatchesHandler) TopSubjects(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		respondError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	limit, ok := queryInt(r, "limit", constants.DefaultTopSubjects, constants.MaxListLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	counts, err := h.reader.CountBySubject(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count subjects")
		respondError(w, http.StatusInternalServerError, "failed to count subjects")
		return
	}
	if counts == nil {
		counts = []database.SubjectCount{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"subjects": counts})
}

func respondMatches(w http.ResponseWriter, records []database.FaceMatchRecord) {
	if records == nil {
		records = []database.FaceMatchRecord{}
	}
	respondJSON(w, http.StatusOK, MatchesResponse{Matches: records, Count: len(records)})
}
