package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/tr-translate/internal/translate"
)

type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Provider      translate.Provider   `json:"provider"`
	Checks        map[string]string    `json:"checks"`
	Queue         translate.QueueStats `json:"queue"`
	Watcher       *WatcherStatusData   `json:"watcher,omitempty"`
}

type HealthHandler struct {
	tr        Translator
	db        SegmentStore
	mqtt      MQTTStatus
	live      LiveDataSource
	version   string
	startTime time.Time
}

func NewHealthHandler(tr Translator, db SegmentStore, mqtt MQTTStatus, live LiveDataSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		tr:        tr,
		db:        db,
		mqtt:      mqtt,
		live:      live,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports "healthy", "degraded" (backend or broker unreachable;
// translations fall back to the original text) or "unhealthy" (relay
// stopped or database down, 503).
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}
	fail := func() {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	stats := h.tr.Stats()
	switch {
	case !stats.Running:
		checks["relay"] = "stopped"
		fail()
	case !stats.Available:
		checks["relay"] = "unavailable"
		degrade()
	default:
		checks["relay"] = "ok"
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			fail()
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	var watcher *WatcherStatusData
	if h.live != nil {
		watcher = h.live.WatcherStatus()
	}
	if watcher != nil {
		checks["file_watcher"] = watcher.Status
	} else {
		checks["file_watcher"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Provider:      stats.Provider,
		Checks:        checks,
		Queue:         stats,
		Watcher:       watcher,
	})
}
