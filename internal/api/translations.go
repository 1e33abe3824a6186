package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/tr-translate/internal/translate"
)

type TranslationsHandler struct {
	tr Translator
}

func NewTranslationsHandler(tr Translator) *TranslationsHandler {
	return &TranslationsHandler{tr: tr}
}

func (h *TranslationsHandler) Routes(r chi.Router) {
	r.Get("/translations/stats", h.Stats)
	r.Get("/translations/options", h.GetOptions)
}

func (h *TranslationsHandler) WriteRoutes(r chi.Router) {
	r.Post("/translations", h.Create)
	r.Put("/translations/options", h.SetOptions)
}

type createTranslationRequest struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// Create queues text for translation. The result arrives as a
// "translation" SSE event (and on the MQTT result topic) carrying the
// returned id.
func (h *TranslationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createTranslationRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		WriteError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	if !h.tr.Enqueue(body.Text, body.ID) {
		stats := h.tr.Stats()
		if !stats.Running {
			WriteError(w, http.StatusServiceUnavailable, "translation relay is not running")
			return
		}
		hlog.FromRequest(r).Warn().Str("id", body.ID).Int("pending", stats.Pending).Msg("translation queue full")
		WriteError(w, http.StatusServiceUnavailable, translate.ErrQueueFull.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"id": body.ID})
}

func (h *TranslationsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.tr.Stats())
}

func (h *TranslationsHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.tr.Options())
}

// SetOptions changes the prompt and/or model for subsequent requests.
// Omitted or empty fields keep their current value.
func (h *TranslationsHandler) SetOptions(w http.ResponseWriter, r *http.Request) {
	var body translate.Options
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	body.Prompt = strings.TrimSpace(body.Prompt)
	body.Model = strings.TrimSpace(body.Model)
	if body.Prompt == "" && body.Model == "" {
		WriteError(w, http.StatusBadRequest, "prompt or model is required")
		return
	}

	h.tr.SetOptions(body)
	opts := h.tr.Options()
	hlog.FromRequest(r).Info().Str("model", opts.Model).Msg("translation options updated")
	WriteJSON(w, http.StatusOK, opts)
}
