package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snarg/tr-translate/internal/api"
)

// ── EventBus Publish/Subscribe ────────────────────────────────────────

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		defer cancel()

		eb.Publish(EventData{
			Type:            EventTranslation,
			SubType:         "translated",
			TranscriptionID: "t1",
			Payload:         map[string]string{"text": "Bonjour"},
		})

		select {
		case evt := <-ch:
			if evt.Type != EventTranslation {
				t.Errorf("Type = %q, want translation", evt.Type)
			}
			if evt.TranscriptionID != "t1" {
				t.Errorf("TranscriptionID = %q, want t1", evt.TranscriptionID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["text"] != "Bonjour" {
				t.Errorf("payload text = %q, want Bonjour", payload["text"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{Types: []string{EventTranscriptionTranslated}})
		defer cancel()

		eb.Publish(EventData{Type: EventTranslation, Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		cancel()

		eb.Publish(EventData{Type: EventTranslation, Payload: "x"})

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
			// expected: channel not closed, just removed from map
		}
		if eb.SubscriberCount() != 0 {
			t.Errorf("SubscriberCount = %d, want 0", eb.SubscriberCount())
		}
	})

	t.Run("multiple_subscribers", func(t *testing.T) {
		eb := NewEventBus(64)
		ch1, cancel1 := eb.Subscribe(api.EventFilter{})
		defer cancel1()
		ch2, cancel2 := eb.Subscribe(api.EventFilter{})
		defer cancel2()

		eb.Publish(EventData{Type: EventTranslation, Payload: "x"})

		for i, ch := range []<-chan api.SSEEvent{ch1, ch2} {
			select {
			case evt := <-ch:
				if evt.Type != EventTranslation {
					t.Errorf("subscriber %d: Type = %q, want translation", i, evt.Type)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d: timed out", i)
			}
		}
	})
}

// ── EventBus ReplaySince ─────────────────────────────────────────────

func TestEventBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: EventTranslation, Payload: "a"})
		eb.Publish(EventData{Type: EventTranslationFinished, Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: EventTranslation, Payload: "a"})
		firstID := eb.ReplaySince("", api.EventFilter{})[0].ID

		eb.Publish(EventData{Type: EventTranslationFinished, Payload: "b"})

		events := eb.ReplaySince(firstID, api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != EventTranslationFinished {
			t.Errorf("Type = %q, want translation_finished", events[0].Type)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: EventTranslation, TranscriptionID: "a", Payload: "a"})
		eb.Publish(EventData{Type: EventTranslation, TranscriptionID: "b", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{Transcriptions: []string{"b"}})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (filtered)", len(events))
		}
		if events[0].TranscriptionID != "b" {
			t.Errorf("TranscriptionID = %q, want b", events[0].TranscriptionID)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: EventTranslation, Payload: "a"})

		events := eb.ReplaySince("nonexistent-id", api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})

	t.Run("ring_wraps", func(t *testing.T) {
		eb := NewEventBus(2)
		for i := 0; i < 5; i++ {
			eb.Publish(EventData{Type: EventTranslation, Payload: i})
		}
		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
		if string(events[1].Data) != "4" {
			t.Errorf("newest = %s, want 4", events[1].Data)
		}
	})
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  api.SSEEvent
		filter api.EventFilter
		want   bool
	}{
		{
			name:   "empty_filter_matches_all",
			event:  api.SSEEvent{Type: EventTranslation, TranscriptionID: "t1"},
			filter: api.EventFilter{},
			want:   true,
		},
		{
			name:   "type_match",
			event:  api.SSEEvent{Type: EventTranslation},
			filter: api.EventFilter{Types: []string{EventTranslation}},
			want:   true,
		},
		{
			name:   "type_no_match",
			event:  api.SSEEvent{Type: EventTranslation},
			filter: api.EventFilter{Types: []string{EventTranslationFinished}},
			want:   false,
		},
		{
			name:   "compound_type_exact_match",
			event:  api.SSEEvent{Type: EventTranslation, SubType: "fallback"},
			filter: api.EventFilter{Types: []string{"translation:fallback"}},
			want:   true,
		},
		{
			name:   "compound_type_wrong_subtype",
			event:  api.SSEEvent{Type: EventTranslation, SubType: "translated"},
			filter: api.EventFilter{Types: []string{"translation:fallback"}},
			want:   false,
		},
		{
			name:   "plain_type_matches_any_subtype",
			event:  api.SSEEvent{Type: EventTranslation, SubType: "fallback"},
			filter: api.EventFilter{Types: []string{" translation "}},
			want:   true,
		},
		{
			name:   "transcription_match",
			event:  api.SSEEvent{Type: EventTranslation, TranscriptionID: "t1"},
			filter: api.EventFilter{Transcriptions: []string{"t1", "t2"}},
			want:   true,
		},
		{
			name:   "transcription_no_match",
			event:  api.SSEEvent{Type: EventTranslation, TranscriptionID: "t3"},
			filter: api.EventFilter{Transcriptions: []string{"t1"}},
			want:   false,
		},
		{
			name:   "untied_event_passes_transcription_filter",
			event:  api.SSEEvent{Type: EventTranslationFinished},
			filter: api.EventFilter{Transcriptions: []string{"t1"}},
			want:   true,
		},
		{
			name:   "multi_one_fails",
			event:  api.SSEEvent{Type: EventTranslation, TranscriptionID: "t2"},
			filter: api.EventFilter{Types: []string{EventTranslation}, Transcriptions: []string{"t1"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesFilter(tt.event, tt.filter); got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}
