package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/tr-translate/internal/api"
	"github.com/snarg/tr-translate/internal/database"
	"github.com/snarg/tr-translate/internal/metrics"
	"github.com/snarg/tr-translate/internal/storage"
	"github.com/snarg/tr-translate/internal/transcript"
	"github.com/snarg/tr-translate/internal/translate"
)

// SegmentStore is the subset of the database the pipeline reads and writes.
type SegmentStore interface {
	ListSegments(ctx context.Context, transcriptionID string) ([]database.Segment, error)
	UpdateSegmentTranslations(ctx context.Context, rows []database.SegmentTranslation) error
	PurgeSegmentsOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Publisher sends translation results to the message broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Pipeline connects transcript sources (MQTT, HTTP, watch directory) to the
// translation relay and fans results out to the event bus, segment store,
// broker and export storage.
type Pipeline struct {
	relay       translate.Relay
	db          SegmentStore
	mqtt        Publisher
	resultTopic string
	exports     storage.ExportStore
	retention   time.Duration
	log         zerolog.Logger

	eventBus *EventBus
	batches  *batchTracker
	writes   *Batcher[database.SegmentTranslation]
	watcher  *FileWatcher

	ctx      context.Context
	cancel   context.CancelFunc
	exportWG sync.WaitGroup
	finished chan struct{}

	msgCount atomic.Int64
}

type PipelineOptions struct {
	Translate translate.Config
	// NewRelay builds the relay; defaults to translate.New.
	NewRelay func(translate.Config) (translate.Relay, error)

	// Nil DB, MQTT or Exports disables that output.
	DB            SegmentStore
	Retention     time.Duration // segment age purged daily; 0 disables
	MQTT          Publisher
	ResultTopic   string
	Exports       storage.ExportStore
	WatchDir      string
	WatchBackfill bool
	Log           zerolog.Logger
}

// NewPipeline builds the pipeline and its relay. The relay is not started
// until Start.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Log.With().Str("component", "ingest").Logger()

	p := &Pipeline{
		db:          opts.DB,
		mqtt:        opts.MQTT,
		resultTopic: opts.ResultTopic,
		exports:     opts.Exports,
		retention:   opts.Retention,
		log:         log,
		eventBus:    NewEventBus(1024),
		batches:     newBatchTracker(),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}

	tc := opts.Translate
	tc.OnResult = p.HandleResult
	tc.OnFinished = p.relayFinished
	tc.OnHistoryReset = p.historyReset
	tc.Log = opts.Log.With().Str("component", "translate").Logger()

	newRelay := opts.NewRelay
	if newRelay == nil {
		newRelay = translate.New
	}
	relay, err := newRelay(tc)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create relay: %w", err)
	}
	p.relay = relay

	if p.db != nil {
		p.writes = NewBatcher[database.SegmentTranslation](50, time.Second, p.flushTranslations)
	}
	if opts.WatchDir != "" {
		p.watcher = newFileWatcher(p, opts.WatchDir, opts.WatchBackfill)
	}

	return p, nil
}

// Start launches the relay, the watch directory and periodic stats logging.
func (p *Pipeline) Start() error {
	p.relay.Start()
	if p.watcher != nil {
		if err := p.watcher.Start(); err != nil {
			return fmt.Errorf("start file watcher: %w", err)
		}
	}
	go p.statsLoop()
	if p.db != nil && p.retention > 0 {
		go p.maintenanceLoop()
	}
	p.log.Info().Str("provider", p.relay.Provider().Label()).Msg("ingest pipeline started")
	return nil
}

// Stop halts intake, waits for the relay to exit, then flushes pending
// segment writes and exports.
func (p *Pipeline) Stop() {
	p.log.Info().Int64("total_messages", p.msgCount.Load()).Msg("ingest pipeline stopping")
	if p.watcher != nil {
		p.watcher.Stop()
	}
	p.relay.Stop()
	if p.writes != nil {
		p.writes.Stop()
	}
	p.exportWG.Wait()
	p.cancel()
}

// Finished is closed once the relay loop has exited.
func (p *Pipeline) Finished() <-chan struct{} { return p.finished }

// Relay returns the underlying translation relay.
func (p *Pipeline) Relay() translate.Relay { return p.relay }

// ── api.Translator ───────────────────────────────────────────────────

// Enqueue forwards text to the relay, counting rejections from a full queue.
func (p *Pipeline) Enqueue(text, id string) bool {
	if p.relay.Enqueue(text, id) {
		return true
	}
	if p.relay.Stats().Running {
		metrics.QueueDroppedTotal.WithLabelValues(p.relay.Provider().Label()).Inc()
	}
	return false
}

func (p *Pipeline) SetOptions(opts translate.Options) { p.relay.SetOptions(opts) }
func (p *Pipeline) Options() translate.Options        { return p.relay.Options() }
func (p *Pipeline) Stats() translate.QueueStats       { return p.relay.Stats() }

// ── api.LiveDataSource ───────────────────────────────────────────────

func (p *Pipeline) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	return p.eventBus.Subscribe(filter)
}

func (p *Pipeline) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	return p.eventBus.ReplaySince(lastEventID, filter)
}

func (p *Pipeline) WatcherStatus() *api.WatcherStatusData {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Status()
}

// TranslateTranscription enqueues every stored segment of a transcription.
// When all of them have come back, the combined translation is exported and
// a transcription_translated event is published.
func (p *Pipeline) TranslateTranscription(ctx context.Context, transcriptionID string) (int, error) {
	if p.db == nil {
		return 0, api.ErrUnavailable
	}
	segments, err := p.db.ListSegments(ctx, transcriptionID)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, database.ErrNotFound
	}

	b := p.batches.start(transcriptionID, segments)
	for i, s := range segments {
		if !p.Enqueue(s.Text, SegmentCorrelationID(s.ID, b.gen)) {
			p.batches.cancel(b)
			p.log.Warn().
				Str("transcription_id", transcriptionID).
				Int("queued", i).
				Int("segments", len(segments)).
				Msg("translation queue full, transcription only partly queued")
			return i, translate.ErrQueueFull
		}
	}
	p.log.Debug().Str("transcription_id", transcriptionID).Int("segments", len(segments)).Msg("enqueued segments for translation")
	return len(segments), nil
}

// ── metrics.LiveStats ────────────────────────────────────────────────

func (p *Pipeline) QueueDepth() int         { return p.relay.Stats().Pending }
func (p *Pipeline) SSESubscriberCount() int { return p.eventBus.SubscriberCount() }
func (p *Pipeline) PendingBatches() int     { return p.batches.len() }

// ── relay callbacks ──────────────────────────────────────────────────

// HandleResult is the relay's OnResult callback. It runs on the relay's
// worker goroutine, one result at a time.
func (p *Pipeline) HandleResult(res translate.Result) {
	provider := res.Provider.Label()
	outcome := "translated"
	if res.Fallback {
		outcome = "fallback"
		metrics.TranslationFailuresTotal.WithLabelValues(provider, string(res.Reason)).Inc()
	}
	metrics.TranslationsTotal.WithLabelValues(provider, outcome).Inc()
	metrics.TranslationDuration.WithLabelValues(provider).Observe(res.Duration.Seconds())

	var transcriptionID string
	if segID, gen, ok := ParseSegmentID(res.ID); ok {
		if p.writes != nil {
			p.writes.Add(database.SegmentTranslation{ID: segID, Translation: res.Text, Provider: provider})
		}
		b, done := p.batches.complete(segID, gen, res.Text, res.Fallback)
		if b != nil {
			transcriptionID = b.transcriptionID
		}
		if done {
			p.export(b)
		}
	}

	p.eventBus.Publish(EventData{
		Type:            EventTranslation,
		SubType:         outcome,
		TranscriptionID: transcriptionID,
		Payload:         res,
	})
	p.publishResult(res)
}

func (p *Pipeline) relayFinished() {
	p.eventBus.Publish(EventData{Type: EventTranslationFinished, Payload: p.relay.Stats()})
	close(p.finished)
}

func (p *Pipeline) historyReset() {
	metrics.HistoryResetsTotal.Inc()
	p.eventBus.Publish(EventData{Type: EventHistoryReset, Payload: map[string]string{"provider": p.relay.Provider().Label()}})
}

// ── MQTT ─────────────────────────────────────────────────────────────

// HandleMessage is the MQTT message handler for the input topics.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	p.msgCount.Add(1)
	metrics.MQTTMessagesTotal.Inc()

	route := ParseTopic(topic)
	if route == nil {
		p.log.Debug().Str("topic", topic).Msg("ignoring message on empty topic")
		return
	}

	switch route.Handler {
	case "transcript":
		msg := parseTranscript(topic, payload)
		if msg.Text == "" {
			p.log.Debug().Str("topic", topic).Msg("ignoring empty transcript")
			return
		}
		if !p.Enqueue(msg.Text, msg.ID) {
			p.log.Warn().Str("topic", topic).Str("id", msg.ID).Msg("transcript not queued")
		}

	case "options":
		var opts OptionsMessage
		if err := json.Unmarshal(payload, &opts); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("invalid options payload")
			return
		}
		p.SetOptions(translate.Options{Prompt: opts.Prompt, Model: opts.Model})

	case "translate":
		id := parseTranslate(payload)
		if id == "" {
			p.log.Warn().Str("topic", topic).Msg("translate request without transcription id")
			return
		}
		ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
		defer cancel()
		if _, err := p.TranslateTranscription(ctx, id); err != nil {
			p.log.Warn().Err(err).Str("transcription_id", id).Msg("translate request failed")
		}
	}
}

func (p *Pipeline) publishResult(res translate.Result) {
	if p.mqtt == nil || p.resultTopic == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := p.mqtt.Publish(p.resultTopic, data); err != nil {
		p.log.Warn().Err(err).Str("id", res.ID).Msg("failed to publish translation")
	}
}

// ── persistence ──────────────────────────────────────────────────────

func (p *Pipeline) flushTranslations(rows []database.SegmentTranslation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.db.UpdateSegmentTranslations(ctx, rows); err != nil {
		p.log.Error().Err(err).Int("rows", len(rows)).Msg("failed to store segment translations")
		return
	}
	p.log.Debug().Int("rows", len(rows)).Msg("segment translations stored")
}

// TranscriptionTranslated is the payload of a transcription_translated event.
type TranscriptionTranslated struct {
	TranscriptionID string `json:"transcription_id"`
	Segments        int    `json:"segments"`
	Fallbacks       int    `json:"fallbacks"`
	ExportKey       string `json:"export_key,omitempty"`
	Store           string `json:"store,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
}

// export writes the combined translation of a finished batch and announces it.
func (p *Pipeline) export(b *batch) {
	p.exportWG.Add(1)
	go func() {
		defer p.exportWG.Done()

		evt := TranscriptionTranslated{
			TranscriptionID: b.transcriptionID,
			Segments:        len(b.segments),
			Fallbacks:       b.fallbacks,
			DurationMs:      time.Since(b.started).Milliseconds(),
		}

		if p.exports != nil {
			key := storage.ExportKey(b.transcriptionID)
			text := transcript.TranslationText(b.segments)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := p.exports.Save(ctx, key, []byte(text), "text/plain; charset=utf-8")
			cancel()

			if err != nil {
				metrics.ExportsTotal.WithLabelValues("error").Inc()
				p.log.Error().Err(err).Str("transcription_id", b.transcriptionID).Msg("translation export failed")
			} else {
				metrics.ExportsTotal.WithLabelValues("ok").Inc()
				evt.ExportKey = key
				evt.Store = p.exports.Type()
			}
		}

		p.log.Info().
			Str("transcription_id", b.transcriptionID).
			Int("segments", evt.Segments).
			Int("fallbacks", evt.Fallbacks).
			Str("export_key", evt.ExportKey).
			Msg("transcription translated")

		p.eventBus.Publish(EventData{
			Type:            EventTranscriptionTranslated,
			TranscriptionID: b.transcriptionID,
			Payload:         evt,
		})
	}()
}

// statsLoop logs relay counters every 60 seconds.
func (p *Pipeline) statsLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	var lastCompleted int64
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			s := p.relay.Stats()
			delta := s.Completed - lastCompleted
			lastCompleted = s.Completed

			p.log.Info().
				Int64("messages", p.msgCount.Load()).
				Int64("completed", s.Completed).
				Int64("last_60s", delta).
				Int64("fallbacks", s.Fallbacks).
				Int64("dropped", s.Dropped).
				Int("pending", s.Pending).
				Int("batches", p.batches.len()).
				Msg("stats")
		}
	}
}

// maintenanceLoop purges expired segments at startup and then daily.
func (p *Pipeline) maintenanceLoop() {
	p.runMaintenance()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runMaintenance()
		}
	}
}

func (p *Pipeline) runMaintenance() {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancel()

	n, err := p.db.PurgeSegmentsOlderThan(ctx, p.retention)
	if err != nil {
		p.log.Error().Err(err).Msg("segment purge failed")
		return
	}
	if n > 0 {
		p.log.Info().Int64("deleted", n).Dur("retention", p.retention).Msg("purged expired segments")
	}
}
