package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/tr-translate/internal/database"
	"github.com/snarg/tr-translate/internal/storage"
	"github.com/snarg/tr-translate/internal/transcript"
	"github.com/snarg/tr-translate/internal/translate"
)

type TranscriptionsHandler struct {
	db      SegmentStore
	live    LiveDataSource
	exports storage.ExportStore
}

func NewTranscriptionsHandler(db SegmentStore, live LiveDataSource, exports storage.ExportStore) *TranscriptionsHandler {
	return &TranscriptionsHandler{db: db, live: live, exports: exports}
}

func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Get("/transcriptions/{id}/segments", h.ListSegments)
	r.Get("/transcriptions/{id}/text", h.GetText)
	r.Get("/transcriptions/{id}/export", h.GetExport)
}

func (h *TranscriptionsHandler) WriteRoutes(r chi.Router) {
	r.Put("/transcriptions/{id}/segments", h.ReplaceSegments)
	r.Post("/transcriptions/{id}/translate", h.Translate)
}

// pathTranscription reads {id} or writes a 400 and returns false.
func pathTranscription(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid transcription ID")
		return "", false
	}
	return id, true
}

func (h *TranscriptionsHandler) requireDB(w http.ResponseWriter) bool {
	if h.db == nil {
		WriteError(w, http.StatusServiceUnavailable, "segment store not configured")
		return false
	}
	return true
}

// loadSegments fetches a transcription's segments, writing 404/500 on failure.
func (h *TranscriptionsHandler) loadSegments(w http.ResponseWriter, r *http.Request, id string) ([]database.Segment, bool) {
	segments, err := h.db.ListSegments(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("transcription_id", id).Msg("list segments failed")
		WriteError(w, http.StatusInternalServerError, "failed to list segments")
		return nil, false
	}
	if len(segments) == 0 {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return nil, false
	}
	return segments, true
}

// ListSegments returns every segment of a transcription in start order.
func (h *TranscriptionsHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTranscription(w, r)
	if !ok || !h.requireDB(w) {
		return
	}
	segments, ok := h.loadSegments(w, r, id)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"transcription_id": id,
		"segments":         segments,
		"total":            len(segments),
	})
}

type segmentInput struct {
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
	Text      string `json:"text"`
}

// ReplaceSegments swaps the stored segments of a transcription for the
// request body. Existing translations are discarded.
func (h *TranscriptionsHandler) ReplaceSegments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTranscription(w, r)
	if !ok || !h.requireDB(w) {
		return
	}

	var body struct {
		Segments []segmentInput `json:"segments"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(body.Segments) == 0 {
		WriteError(w, http.StatusBadRequest, "segments are required")
		return
	}

	segments := make([]database.Segment, 0, len(body.Segments))
	for i, in := range body.Segments {
		text := strings.TrimSpace(in.Text)
		switch {
		case text == "":
			WriteErrorDetail(w, http.StatusBadRequest, "invalid segment", fmt.Sprintf("segment %d: text is required", i))
			return
		case in.StartTime < 0 || in.EndTime < in.StartTime:
			WriteErrorDetail(w, http.StatusBadRequest, "invalid segment", fmt.Sprintf("segment %d: need 0 <= start_time <= end_time", i))
			return
		}
		segments = append(segments, database.Segment{
			TranscriptionID: id,
			StartTime:       in.StartTime,
			EndTime:         in.EndTime,
			Text:            text,
		})
	}

	stored, err := h.db.ReplaceSegments(r.Context(), id, segments)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("transcription_id", id).Msg("replace segments failed")
		WriteError(w, http.StatusInternalServerError, "failed to store segments")
		return
	}

	hlog.FromRequest(r).Info().Str("transcription_id", id).Int("segments", len(stored)).Msg("segments replaced")
	WriteJSON(w, http.StatusOK, map[string]any{
		"transcription_id": id,
		"segments":         stored,
		"total":            len(stored),
	})
}

// Translate queues every segment of a transcription. Completion is
// announced by a transcription_translated event.
func (h *TranscriptionsHandler) Translate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTranscription(w, r)
	if !ok {
		return
	}
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "translation not available")
		return
	}

	queued, err := h.live.TranslateTranscription(r.Context(), id)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"transcription_id": id,
			"queued":           queued,
		})
	case errors.Is(err, ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "segment store not configured")
	case errors.Is(err, database.ErrNotFound):
		WriteError(w, http.StatusNotFound, "transcription not found")
	case errors.Is(err, translate.ErrQueueFull):
		WriteErrorDetail(w, http.StatusServiceUnavailable, err.Error(),
			fmt.Sprintf("%d segments queued before the queue filled", queued))
	default:
		hlog.FromRequest(r).Error().Err(err).Str("transcription_id", id).Msg("translate transcription failed")
		WriteError(w, http.StatusInternalServerError, "failed to queue transcription")
	}
}

// GetText renders the transcription as plain text. view=text (default)
// gives the original with paragraph breaks; view=translation gives the
// stored translations.
func (h *TranscriptionsHandler) GetText(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTranscription(w, r)
	if !ok {
		return
	}
	view, ok := transcript.ParseView(r.URL.Query().Get("view"))
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid view: must be text or translation")
		return
	}
	if !h.requireDB(w) {
		return
	}
	segments, ok := h.loadSegments(w, r, id)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, transcript.Render(view, segments))
}

// GetExport serves the stored translation export written when a
// transcription finished translating.
func (h *TranscriptionsHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTranscription(w, r)
	if !ok {
		return
	}
	if h.exports == nil {
		WriteError(w, http.StatusServiceUnavailable, "export storage not configured")
		return
	}

	key := storage.ExportKey(id)
	if !h.exports.Exists(r.Context(), key) {
		WriteError(w, http.StatusNotFound, "export not found")
		return
	}
	rc, err := h.exports.Open(r.Context(), key)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("open export failed")
		WriteError(w, http.StatusInternalServerError, "failed to open export")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.txt"`, id))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}
