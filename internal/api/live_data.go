package api

import (
	"context"
	"errors"

	"github.com/snarg/tr-translate/internal/database"
	"github.com/snarg/tr-translate/internal/translate"
)

// ErrUnavailable is returned by LiveDataSource methods whose backing
// component (segment store, watcher) is not configured.
var ErrUnavailable = errors.New("not configured")

// Translator is the relay as seen by the HTTP layer.
type Translator interface {
	// Enqueue queues text for translation. Returns false if the queue is full or stopped.
	Enqueue(text, id string) bool
	SetOptions(opts translate.Options)
	Options() translate.Options
	Stats() translate.QueueStats
}

// LiveDataSource provides real-time data from the ingest pipeline to the API layer.
// The pipeline implements this interface; api owns it to avoid circular imports.
type LiveDataSource interface {
	// Subscribe returns a channel that receives SSE events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent

	// TranslateTranscription enqueues every segment of a stored transcription
	// and returns how many were queued.
	TranslateTranscription(ctx context.Context, transcriptionID string) (int, error)

	// WatcherStatus returns the file watcher status, or nil if not active.
	WatcherStatus() *WatcherStatusData
}

// SegmentStore is the persistence used by the transcription routes.
type SegmentStore interface {
	ListSegments(ctx context.Context, transcriptionID string) ([]database.Segment, error)
	ReplaceSegments(ctx context.Context, transcriptionID string, segments []database.Segment) ([]database.Segment, error)
	GetSegment(ctx context.Context, id int64) (*database.Segment, error)
	UpdateSegmentTranslation(ctx context.Context, id int64, translation, provider string) error
	HealthCheck(ctx context.Context) error
}

// WatcherStatusData represents the status of the transcript drop directory.
type WatcherStatusData struct {
	Status         string `json:"status"` // "watching", "backfilling", "stopped"
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	LinesEnqueued  int64  `json:"lines_enqueued"`
}

// EventFilter specifies which events an SSE subscriber wants to receive.
type EventFilter struct {
	Types          []string // "translation", "translation:fallback", ...
	Transcriptions []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID              string `json:"event_id"`
	Type            string `json:"event_type"`
	SubType         string `json:"sub_type,omitempty"`
	Timestamp       string `json:"timestamp"`
	TranscriptionID string `json:"transcription_id,omitempty"`
	Data            []byte `json:"-"` // pre-serialized JSON payload
}
