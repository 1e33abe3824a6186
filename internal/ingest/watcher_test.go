package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestCompleteLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"no_newline", "partial", nil},
		{"one_line", "hola\n", []string{"hola"}},
		{"trailing_partial", "uno\ndos\ntr", []string{"uno", "dos"}},
		{"crlf", "uno\r\ndos\r\n", []string{"uno", "dos"}},
		{"blank_lines", "\n\nx\n", []string{"", "", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := completeLines([]byte(tt.in))
			if len(got) != len(tt.want) {
				t.Fatalf("completeLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if n := countLines([]byte(tt.in)); n != len(tt.want) {
				t.Errorf("countLines = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestFileWatcher_ProcessFile(t *testing.T) {
	dir := t.TempDir()
	tp := newTestPipeline(t, PipelineOptions{})
	fw := newFileWatcher(tp.Pipeline, dir, false)
	path := filepath.Join(dir, "radio.txt")

	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("uno\n\ndos\ntr")
	fw.processFile(path)
	reqs := tp.relay.requests()
	if len(reqs) != 2 {
		t.Fatalf("enqueued %d lines, want 2: %+v", len(reqs), reqs)
	}
	if reqs[0].ID != "file:radio.txt:1" || reqs[1].ID != "file:radio.txt:3" || reqs[1].Text != "dos" {
		t.Errorf("requests = %+v", reqs)
	}

	// Only the newly terminated line is picked up.
	write("uno\n\ndos\ntres\n")
	fw.processFile(path)
	reqs = tp.relay.requests()
	if len(reqs) != 3 || reqs[2].Text != "tres" || reqs[2].ID != "file:radio.txt:4" {
		t.Errorf("requests = %+v", reqs)
	}

	// Rewritten shorter file is read from the start.
	write("nuevo\n")
	fw.processFile(path)
	reqs = tp.relay.requests()
	if len(reqs) != 4 || reqs[3].Text != "nuevo" || reqs[3].ID != "file:radio.txt:1" {
		t.Errorf("requests = %+v", reqs)
	}

	s := fw.Status()
	if s.LinesEnqueued != 4 || s.FilesProcessed != 3 {
		t.Errorf("status = %+v", s)
	}
}

// A backfill pass and a debounce timer reading the same growing file must
// not see each other's reads as a truncation.
func TestFileWatcher_ConcurrentProcessFile(t *testing.T) {
	dir := t.TempDir()
	tp := newTestPipeline(t, PipelineOptions{})
	fw := newFileWatcher(tp.Pipeline, dir, true)
	path := filepath.Join(dir, "radio.txt")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	const lines = 40
	var wg sync.WaitGroup
	for i := 0; i < lines; i++ {
		if _, err := fmt.Fprintf(f, "linea %d\n", i+1); err != nil {
			t.Fatal(err)
		}
		wg.Add(2)
		go func() { defer wg.Done(); fw.processFile(path) }()
		go func() { defer wg.Done(); fw.processFile(path) }()
	}
	wg.Wait()
	fw.processFile(path)

	seen := make(map[string]int)
	for _, r := range tp.relay.requests() {
		seen[r.ID]++
	}
	if len(seen) != lines {
		t.Errorf("enqueued %d distinct lines, want %d", len(seen), lines)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s enqueued %d times", id, n)
		}
	}
	if got := fw.Status().LinesEnqueued; got != lines {
		t.Errorf("LinesEnqueued = %d, want %d", got, lines)
	}
}

func TestFileWatcher_Watch(t *testing.T) {
	t.Run("skips_existing_without_backfill", func(t *testing.T) {
		dir := t.TempDir()
		existing := filepath.Join(dir, "old.txt")
		if err := os.WriteFile(existing, []byte("viejo\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		tp := newTestPipeline(t, PipelineOptions{WatchDir: dir})
		if s := tp.WatcherStatus(); s == nil || s.Status != "watching" {
			t.Fatalf("status = %+v, want watching", s)
		}

		f, err := os.OpenFile(existing, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		f.WriteString("nuevo\n")
		f.Close()

		waitRequests(t, tp, 1)
		reqs := tp.relay.requests()
		if reqs[0].Text != "nuevo" || reqs[0].ID != "file:old.txt:2" {
			t.Errorf("requests = %+v", reqs)
		}
	})

	t.Run("backfill", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("uno\ndos\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "ignored.json"), []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		tp := newTestPipeline(t, PipelineOptions{WatchDir: dir, WatchBackfill: true})
		waitRequests(t, tp, 2)
	})

	t.Run("missing_dir", func(t *testing.T) {
		tp := newTestPipeline(t, PipelineOptions{})
		fw := newFileWatcher(tp.Pipeline, filepath.Join(t.TempDir(), "nope"), false)
		if err := fw.Start(); err == nil {
			fw.Stop()
			t.Error("expected error for missing directory")
		}
	})
}

func waitRequests(t *testing.T, tp *testPipeline, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(tp.relay.requests()) >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("got %d requests, want %d", len(tp.relay.requests()), n)
}
