package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/tr-translate/internal/config"
	"github.com/snarg/tr-translate/internal/database"
	"github.com/snarg/tr-translate/internal/storage"
	"github.com/snarg/tr-translate/internal/translate"
)

const testTranscription = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

type fakeTranslator struct {
	mu      sync.Mutex
	queued  []string // ids
	full    bool
	opts    translate.Options
	stopped bool
	down    bool
}

func (f *fakeTranslator) Enqueue(text, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.stopped {
		return false
	}
	f.queued = append(f.queued, id)
	return true
}

func (f *fakeTranslator) SetOptions(o translate.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.Prompt != "" {
		f.opts.Prompt = o.Prompt
	}
	if o.Model != "" {
		f.opts.Model = o.Model
	}
}

func (f *fakeTranslator) Options() translate.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func (f *fakeTranslator) Stats() translate.QueueStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return translate.QueueStats{
		Provider:  translate.ProviderOllama,
		Running:   !f.stopped,
		Available: !f.down,
		Pending:   len(f.queued),
	}
}

type fakeStore struct {
	segments  map[string][]database.Segment
	providers []string
	healthy   error
}

func (f *fakeStore) ListSegments(_ context.Context, tid string) ([]database.Segment, error) {
	return f.segments[tid], nil
}

func (f *fakeStore) ReplaceSegments(_ context.Context, tid string, segs []database.Segment) ([]database.Segment, error) {
	out := make([]database.Segment, len(segs))
	for i, s := range segs {
		s.ID = int64(i + 1)
		out[i] = s
	}
	f.segments[tid] = out
	return out, nil
}

func (f *fakeStore) GetSegment(_ context.Context, id int64) (*database.Segment, error) {
	for _, segs := range f.segments {
		for i := range segs {
			if segs[i].ID == id {
				s := segs[i]
				return &s, nil
			}
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) UpdateSegmentTranslation(_ context.Context, id int64, translation, provider string) error {
	for _, segs := range f.segments {
		for i := range segs {
			if segs[i].ID == id {
				segs[i].Translation = translation
				f.providers = append(f.providers, provider)
				return nil
			}
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) HealthCheck(context.Context) error { return f.healthy }

type fakeLive struct {
	mu        sync.Mutex
	events    chan SSEEvent
	replay    []SSEEvent
	filter    EventFilter
	translate func(id string) (int, error)
	watcher   *WatcherStatusData
}

func (f *fakeLive) Subscribe(filter EventFilter) (<-chan SSEEvent, func()) {
	f.mu.Lock()
	f.filter = filter
	f.mu.Unlock()
	return f.events, func() {}
}

func (f *fakeLive) ReplaySince(string, EventFilter) []SSEEvent { return f.replay }

func (f *fakeLive) TranslateTranscription(_ context.Context, id string) (int, error) {
	return f.translate(id)
}

func (f *fakeLive) WatcherStatus() *WatcherStatusData { return f.watcher }

type fakeMQTT struct{ connected bool }

func (f fakeMQTT) IsConnected() bool { return f.connected }

type testServer struct {
	handler http.Handler
	tr      *fakeTranslator
	db      *fakeStore
	live    *fakeLive
	exports *storage.LocalStore
}

func newTestServer(t *testing.T, mutate func(*ServerOptions)) *testServer {
	t.Helper()
	ts := &testServer{
		tr: &fakeTranslator{opts: translate.Options{Prompt: "p", Model: "m"}},
		db: &fakeStore{segments: map[string][]database.Segment{}},
		live: &fakeLive{
			events:    make(chan SSEEvent, 4),
			translate: func(string) (int, error) { return 0, database.ErrNotFound },
		},
		exports: storage.NewLocalStore(t.TempDir()),
	}
	opts := ServerOptions{
		Config:     &config.Config{HTTPAddr: ":0"},
		Translator: ts.tr,
		Live:       ts.live,
		DB:         ts.db,
		Exports:    ts.exports,
		Version:    "test",
		StartTime:  time.Now(),
		Log:        zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts.handler = NewServer(opts).Handler()
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// ── Translations ─────────────────────────────────────────────────────

func TestCreateTranslation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		setup  func(*fakeTranslator)
		status int
	}{
		{"with_id", `{"text":"hola","id":"abc"}`, nil, http.StatusAccepted},
		{"without_id", `{"text":"hola"}`, nil, http.StatusAccepted},
		{"empty_text", `{"text":"   "}`, nil, http.StatusBadRequest},
		{"invalid_json", `{"text":`, nil, http.StatusBadRequest},
		{"queue_full", `{"text":"hola"}`, func(f *fakeTranslator) { f.full = true }, http.StatusServiceUnavailable},
		{"stopped", `{"text":"hola"}`, func(f *fakeTranslator) { f.stopped = true }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			if tt.setup != nil {
				tt.setup(ts.tr)
			}
			rec := ts.do("POST", "/api/v1/translations", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if rec.Code != http.StatusAccepted {
				return
			}
			var resp map[string]string
			decodeBody(t, rec, &resp)
			if resp["id"] == "" || len(ts.tr.queued) != 1 || ts.tr.queued[0] != resp["id"] {
				t.Errorf("id = %q, queued = %v", resp["id"], ts.tr.queued)
			}
			if tt.name == "with_id" && resp["id"] != "abc" {
				t.Errorf("id = %q, want abc", resp["id"])
			}
		})
	}
}

func TestTranslationOptions(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do("PUT", "/api/v1/translations/options", `{"model":"llama3.2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var opts translate.Options
	decodeBody(t, rec, &opts)
	if opts.Prompt != "p" || opts.Model != "llama3.2" {
		t.Errorf("options = %+v, want prompt kept and model replaced", opts)
	}

	if rec := ts.do("PUT", "/api/v1/translations/options", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty options: status = %d, want 400", rec.Code)
	}

	rec = ts.do("GET", "/api/v1/translations/options", "")
	decodeBody(t, rec, &opts)
	if opts.Model != "llama3.2" {
		t.Errorf("GET options = %+v", opts)
	}
}

func TestTranslationStats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.tr.queued = []string{"a", "b"}

	rec := ts.do("GET", "/api/v1/translations/stats", "")
	var stats translate.QueueStats
	decodeBody(t, rec, &stats)
	if stats.Pending != 2 || stats.Provider != translate.ProviderOllama {
		t.Errorf("stats = %+v", stats)
	}
}

// ── Transcriptions ───────────────────────────────────────────────────

func TestTranscriptionSegments(t *testing.T) {
	ts := newTestServer(t, nil)
	path := "/api/v1/transcriptions/" + testTranscription + "/segments"

	if rec := ts.do("GET", path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown transcription: status = %d, want 404", rec.Code)
	}
	if rec := ts.do("GET", "/api/v1/transcriptions/not-a-uuid/segments", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}

	rec := ts.do("PUT", path, `{"segments":[{"start_time":0,"end_time":900,"text":" hola "},{"start_time":4000,"end_time":5000,"text":"adiós"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body)
	}

	rec = ts.do("GET", path, "")
	var resp struct {
		Segments []database.Segment `json:"segments"`
		Total    int                `json:"total"`
	}
	decodeBody(t, rec, &resp)
	if resp.Total != 2 || resp.Segments[0].Text != "hola" || resp.Segments[1].StartTime != 4000 {
		t.Errorf("segments = %+v", resp)
	}
}

func TestReplaceSegmentsValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no_segments", `{"segments":[]}`},
		{"empty_text", `{"segments":[{"start_time":0,"end_time":1,"text":""}]}`},
		{"end_before_start", `{"segments":[{"start_time":10,"end_time":5,"text":"x"}]}`},
		{"negative_start", `{"segments":[{"start_time":-1,"end_time":5,"text":"x"}]}`},
		{"malformed", `[`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			rec := ts.do("PUT", "/api/v1/transcriptions/"+testTranscription+"/segments", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// ── Segments ─────────────────────────────────────────────────────────

func TestSegments(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.db.segments[testTranscription] = []database.Segment{
		{ID: 7, TranscriptionID: testTranscription, Text: "hola"},
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"get", "GET", "/api/v1/segments/7", "", http.StatusOK},
		{"get_missing", "GET", "/api/v1/segments/8", "", http.StatusNotFound},
		{"get_bad_id", "GET", "/api/v1/segments/abc", "", http.StatusBadRequest},
		{"get_zero_id", "GET", "/api/v1/segments/0", "", http.StatusBadRequest},
		{"update_empty", "PUT", "/api/v1/segments/7/translation", `{"translation":"  "}`, http.StatusBadRequest},
		{"update_malformed", "PUT", "/api/v1/segments/7/translation", `{`, http.StatusBadRequest},
		{"update_missing", "PUT", "/api/v1/segments/8/translation", `{"translation":"hi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	t.Run("update", func(t *testing.T) {
		rec := ts.do("PUT", "/api/v1/segments/7/translation", `{"translation":" hello "}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var seg database.Segment
		decodeBody(t, rec, &seg)
		if seg.Translation != "hello" {
			t.Errorf("translation = %q, want hello", seg.Translation)
		}
		if len(ts.db.providers) != 1 || ts.db.providers[0] != "manual" {
			t.Errorf("providers = %v, want [manual]", ts.db.providers)
		}
	})

	t.Run("no_database", func(t *testing.T) {
		ts := newTestServer(t, func(o *ServerOptions) { o.DB = nil })
		if rec := ts.do("GET", "/api/v1/segments/7", ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestTranscriptionText(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.db.segments[testTranscription] = []database.Segment{
		{ID: 1, StartTime: 0, EndTime: 1000, Text: "hola", Translation: "hello"},
		{ID: 2, StartTime: 3500, EndTime: 4000, Text: "adiós", Translation: "goodbye"},
	}
	base := "/api/v1/transcriptions/" + testTranscription + "/text"

	tests := []struct {
		query  string
		status int
		want   string
	}{
		{"", http.StatusOK, "hola\n\nadiós"},
		{"?view=text", http.StatusOK, "hola\n\nadiós"},
		{"?view=translation", http.StatusOK, "hello goodbye"},
		{"?view=subtitles", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := ts.do("GET", base+tt.query, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.want != "" && rec.Body.String() != tt.want {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestTranslateTranscription(t *testing.T) {
	tests := []struct {
		name   string
		result func(string) (int, error)
		status int
	}{
		{"queued", func(string) (int, error) { return 3, nil }, http.StatusAccepted},
		{"not_found", func(string) (int, error) { return 0, database.ErrNotFound }, http.StatusNotFound},
		{"no_store", func(string) (int, error) { return 0, ErrUnavailable }, http.StatusServiceUnavailable},
		{"queue_full", func(string) (int, error) { return 1, translate.ErrQueueFull }, http.StatusServiceUnavailable},
		{"other", func(string) (int, error) { return 0, errors.New("boom") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			var gotID string
			ts.live.translate = func(id string) (int, error) {
				gotID = id
				return tt.result(id)
			}
			rec := ts.do("POST", "/api/v1/transcriptions/"+testTranscription+"/translate", "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if gotID != testTranscription {
				t.Errorf("transcription id = %q", gotID)
			}
		})
	}
}

func TestTranscriptionExport(t *testing.T) {
	ts := newTestServer(t, nil)
	path := "/api/v1/transcriptions/" + testTranscription + "/export"

	if rec := ts.do("GET", path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing export: status = %d, want 404", rec.Code)
	}

	if err := ts.exports.Save(context.Background(), storage.ExportKey(testTranscription), []byte("hello goodbye"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	rec := ts.do("GET", path, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "hello goodbye" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body)
	}
}

func TestNoDatabase(t *testing.T) {
	ts := newTestServer(t, func(o *ServerOptions) { o.DB = nil; o.Exports = nil })
	for _, path := range []string{
		"/api/v1/transcriptions/" + testTranscription + "/segments",
		"/api/v1/transcriptions/" + testTranscription + "/text",
		"/api/v1/transcriptions/" + testTranscription + "/export",
	} {
		if rec := ts.do("GET", path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s: status = %d, want 503", path, rec.Code)
		}
	}
}

// ── Health ───────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*testServer)
		mqtt   MQTTStatus
		status string
		code   int
	}{
		{"healthy", nil, fakeMQTT{connected: true}, "healthy", http.StatusOK},
		{"backend_down", func(ts *testServer) { ts.tr.down = true }, nil, "degraded", http.StatusOK},
		{"mqtt_disconnected", nil, fakeMQTT{}, "degraded", http.StatusOK},
		{"relay_stopped", func(ts *testServer) { ts.tr.stopped = true }, nil, "unhealthy", http.StatusServiceUnavailable},
		{"db_down", func(ts *testServer) { ts.db.healthy = errors.New("down") }, nil, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(o *ServerOptions) { o.MQTT = tt.mqtt })
			if tt.setup != nil {
				tt.setup(ts)
			}
			rec := ts.do("GET", "/api/v1/health", "")
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
			var resp HealthResponse
			decodeBody(t, rec, &resp)
			if resp.Status != tt.status {
				t.Errorf("status = %q, want %q (checks %v)", resp.Status, tt.status, resp.Checks)
			}
			if resp.Provider != translate.ProviderOllama {
				t.Errorf("provider = %q", resp.Provider)
			}
		})
	}
}

// ── Auth ─────────────────────────────────────────────────────────────

func TestServerAuth(t *testing.T) {
	ts := newTestServer(t, func(o *ServerOptions) { o.Config.AuthToken = "secret" })

	if rec := ts.do("GET", "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without token: status = %d, want 200", rec.Code)
	}
	if rec := ts.do("POST", "/api/v1/translations", `{"text":"hola"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("write without token: status = %d, want 401", rec.Code)
	}
	if rec := ts.do("GET", "/api/v1/translations/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("read without token: status = %d, want 401", rec.Code)
	}
	if rec := ts.do("POST", "/api/v1/translations", `{"text":"hola"}`, "Authorization", "Bearer secret"); rec.Code != http.StatusAccepted {
		t.Errorf("write with token: status = %d, want 202", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do("GET", "/api/v1/translations/stats", "")

	rec := ts.do("GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tr_translate_http_requests_total") {
		t.Error("metrics output missing tr_translate_http_requests_total")
	}
}

// ── Events ───────────────────────────────────────────────────────────

func TestStreamEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.live.replay = []SSEEvent{{ID: "1-1", Type: "translation", Data: []byte(`{"text":"old"}`)}}
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET",
		srv.URL+"/api/v1/events/stream?types=translation:fallback,history_reset&transcription="+testTranscription, nil)
	req.Header.Set("Last-Event-ID", "1-0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	ts.live.events <- SSEEvent{ID: "1-2", Type: "history_reset", Data: []byte(`{}`)}

	reader := bufio.NewReader(resp.Body)
	var ids []string
	deadline := time.Now().Add(3 * time.Second)
	for len(ids) < 2 && time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if id, ok := strings.CutPrefix(strings.TrimSpace(line), "id: "); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) != 2 || ids[0] != "1-1" || ids[1] != "1-2" {
		t.Errorf("event ids = %v, want [1-1 1-2]", ids)
	}

	ts.live.mu.Lock()
	f := ts.live.filter
	ts.live.mu.Unlock()
	if len(f.Types) != 2 || f.Types[0] != "translation:fallback" || len(f.Transcriptions) != 1 {
		t.Errorf("filter = %+v", f)
	}
}

func TestServerShutdownEndsStreams(t *testing.T) {
	live := &fakeLive{events: make(chan SSEEvent)}
	srv := NewServer(ServerOptions{
		Config:     &config.Config{HTTPAddr: "127.0.0.1:0"},
		Translator: &fakeTranslator{},
		Live:       live,
		StartTime:  time.Now(),
		Log:        zerolog.Nop(),
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/events/stream")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown with an open stream: %v after %v", err, time.Since(start))
	}
	if err := <-served; err != nil {
		t.Errorf("Serve = %v, want nil after Shutdown", err)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Errorf("stream did not end cleanly: %v", err)
	}
}
