package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/tr-translate/internal/database"
)

// manualProvider is recorded for translations written through the API.
const manualProvider = "manual"

type SegmentsHandler struct {
	db SegmentStore
}

func NewSegmentsHandler(db SegmentStore) *SegmentsHandler {
	return &SegmentsHandler{db: db}
}

func (h *SegmentsHandler) Routes(r chi.Router) {
	r.Get("/segments/{segmentID}", h.GetSegment)
}

func (h *SegmentsHandler) WriteRoutes(r chi.Router) {
	r.Put("/segments/{segmentID}/translation", h.UpdateTranslation)
}

func (h *SegmentsHandler) segmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := PathInt64(r, "segmentID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid segment ID")
		return 0, false
	}
	if h.db == nil {
		WriteError(w, http.StatusServiceUnavailable, "segment store not configured")
		return 0, false
	}
	return id, true
}

func (h *SegmentsHandler) GetSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.segmentID(w, r)
	if !ok {
		return
	}
	seg, err := h.db.GetSegment(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "segment not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("segment_id", id).Msg("get segment failed")
		WriteError(w, http.StatusInternalServerError, "failed to get segment")
		return
	}
	WriteJSON(w, http.StatusOK, seg)
}

// UpdateTranslation overwrites a segment's translation by hand. The
// relay is not involved.
func (h *SegmentsHandler) UpdateTranslation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.segmentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Translation string `json:"translation"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	text := strings.TrimSpace(body.Translation)
	if text == "" {
		WriteError(w, http.StatusBadRequest, "translation is required")
		return
	}

	err := h.db.UpdateSegmentTranslation(r.Context(), id, text, manualProvider)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "segment not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("segment_id", id).Msg("update segment translation failed")
		WriteError(w, http.StatusInternalServerError, "failed to update translation")
		return
	}

	seg, err := h.db.GetSegment(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("segment_id", id).Msg("reload segment failed")
		WriteError(w, http.StatusInternalServerError, "failed to get segment")
		return
	}
	WriteJSON(w, http.StatusOK, seg)
}
