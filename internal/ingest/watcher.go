package ingest

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/tr-translate/internal/api"
	"github.com/snarg/tr-translate/internal/metrics"
)

const watchDebounce = 500 * time.Millisecond

// FileWatcher monitors a drop directory for .txt transcript files and
// enqueues every line appended to them. This provides an alternative to
// MQTT-based ingestion for recorders that only write plain text.
type FileWatcher struct {
	pipeline *Pipeline
	watchDir string
	backfill bool
	log      zerolog.Logger

	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// Complete lines already handled, per file.
	seenMu sync.Mutex
	seen   map[string]int

	// Backfill and debounce timers may reach the same file at once.
	fileMu    sync.Mutex
	fileLocks map[string]*sync.Mutex

	filesProcessed atomic.Int64
	linesEnqueued  atomic.Int64
	status         atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

func newFileWatcher(p *Pipeline, watchDir string, backfill bool) *FileWatcher {
	fw := &FileWatcher{
		pipeline:       p,
		watchDir:       watchDir,
		backfill:       backfill,
		log:            p.log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]int),
		fileLocks:      make(map[string]*sync.Mutex),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds the directory tree to fsnotify and begins watching. Existing
// files are either translated in full (backfill) or marked as already seen.
func (fw *FileWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	var existing []string
	dirCount := 0
	err = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == fw.watchDir {
				return err
			}
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
			return nil
		}
		if isTranscriptFile(path) {
			existing = append(existing, path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", fw.watchDir, err)
	}

	if !fw.backfill {
		for _, path := range existing {
			if data, err := os.ReadFile(path); err == nil {
				fw.seen[path] = countLines(data)
			}
		}
	}

	fw.log.Info().
		Int("directories", dirCount).
		Int("existing_files", len(existing)).
		Bool("backfill", fw.backfill).
		Str("watch_dir", fw.watchDir).
		Msg("file watcher initialized")

	go fw.watchLoop()

	if fw.backfill && len(existing) > 0 {
		go fw.runBackfill(existing)
	} else {
		fw.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher and drops pending debounced reads.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.watcher != nil {
		fw.watcher.Close()
	}

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("lines_enqueued", fw.linesEnqueued.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       fw.watchDir,
		FilesProcessed: fw.filesProcessed.Load(),
		LinesEnqueued:  fw.linesEnqueued.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.pipeline.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fw.forget(event.Name)
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !isTranscriptFile(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing so a burst of writes is read once.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(watchDebounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(watchDebounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.processFile(path)
	})
}

// processFile enqueues the complete lines of path not handled before.
// A trailing line without a newline waits until it is terminated. A file
// that shrank is treated as rewritten and read from the start.
func (fw *FileWatcher) processFile(path string) {
	mu := fw.fileLock(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to read transcript file")
		return
	}

	lines := completeLines(data)

	fw.seenMu.Lock()
	from := fw.seen[path]
	if len(lines) < from {
		fw.log.Info().Str("path", path).Msg("transcript file truncated, rereading")
		from = 0
	}
	fw.seen[path] = len(lines)
	fw.seenMu.Unlock()

	if from == len(lines) {
		return
	}

	name := filepath.Base(path)
	enqueued := 0
	for i := from; i < len(lines); i++ {
		text := strings.TrimSpace(lines[i])
		if text == "" {
			continue
		}
		metrics.WatchedLinesTotal.Inc()
		if !fw.pipeline.Enqueue(text, fileCorrelationID(name, i+1)) {
			fw.log.Warn().Str("path", path).Int("line", i+1).Msg("transcript line not queued")
			continue
		}
		enqueued++
	}
	fw.linesEnqueued.Add(int64(enqueued))
	fw.filesProcessed.Add(1)

	fw.log.Debug().Str("path", path).Int("lines", enqueued).Msg("transcript lines enqueued")
}

// fileLock returns the mutex that serializes processing of path. Entries
// outlive forget so a removed and recreated file keeps the same lock.
func (fw *FileWatcher) fileLock(path string) *sync.Mutex {
	fw.fileMu.Lock()
	defer fw.fileMu.Unlock()
	mu, ok := fw.fileLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		fw.fileLocks[path] = mu
	}
	return mu
}

func (fw *FileWatcher) forget(path string) {
	fw.seenMu.Lock()
	delete(fw.seen, path)
	fw.seenMu.Unlock()
}

// runBackfill processes files that existed at startup, oldest first.
func (fw *FileWatcher) runBackfill(paths []string) {
	fw.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	files := make([]fileEntry, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: p, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	fw.log.Info().Int("files", len(files)).Msg("backfill starting")

	for _, f := range files {
		select {
		case <-fw.pipeline.ctx.Done():
			fw.log.Info().Msg("backfill interrupted by shutdown")
			return
		default:
		}
		if s, _ := fw.status.Load().(string); s == "stopped" {
			return
		}
		fw.processFile(f.path)
	}

	fw.status.CompareAndSwap("backfilling", "watching")
	fw.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

// fileCorrelationID identifies a line of a watched file; line is 1-based.
func fileCorrelationID(name string, line int) string {
	return fmt.Sprintf("file:%s:%d", name, line)
}

func isTranscriptFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".txt")
}

// completeLines returns the newline-terminated lines of data, without the
// terminators. "\r\n" endings are accepted.
func completeLines(data []byte) []string {
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil
	}
	lines := strings.Split(string(data[:end]), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func countLines(data []byte) int {
	return bytes.Count(data, []byte{'\n'})
}
