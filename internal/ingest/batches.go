package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/snarg/tr-translate/internal/database"
)

const segmentIDPrefix = "seg:"

// SegmentCorrelationID is the relay correlation id used for a stored
// segment. gen identifies the transcription batch the request belongs to;
// 0 means no batch.
func SegmentCorrelationID(id int64, gen uint64) string {
	if gen == 0 {
		return fmt.Sprintf("%s%d", segmentIDPrefix, id)
	}
	return fmt.Sprintf("%s%d:%d", segmentIDPrefix, id, gen)
}

// ParseSegmentID extracts the segment id and batch generation from a
// correlation id produced by SegmentCorrelationID.
func ParseSegmentID(correlationID string) (id int64, gen uint64, ok bool) {
	rest, ok := strings.CutPrefix(correlationID, segmentIDPrefix)
	if !ok {
		return 0, 0, false
	}
	idPart, genPart, hasGen := strings.Cut(rest, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, false
	}
	if hasGen {
		gen, err = strconv.ParseUint(genPart, 10, 64)
		if err != nil || gen == 0 {
			return 0, 0, false
		}
	}
	return id, gen, true
}

// batch is one "translate this transcription" request in flight.
type batch struct {
	transcriptionID string
	gen             uint64
	segments        []database.Segment
	index           map[int64]int // segment id → position in segments
	remaining       int
	fallbacks       int
	started         time.Time
}

// batchTracker follows transcription batches until every segment has come
// back from the relay.
type batchTracker struct {
	mu              sync.Mutex
	lastGen         uint64
	byTranscription map[string]*batch
	bySegment       map[int64]*batch
}

func newBatchTracker() *batchTracker {
	return &batchTracker{
		byTranscription: make(map[string]*batch),
		bySegment:       make(map[int64]*batch),
	}
}

// start registers a batch for segments, superseding any batch already
// running for the same transcription. Results carrying the generation of a
// superseded batch no longer count towards any batch.
func (t *batchTracker) start(transcriptionID string, segments []database.Segment) *batch {
	b := &batch{
		transcriptionID: transcriptionID,
		segments:        append([]database.Segment(nil), segments...),
		index:           make(map[int64]int, len(segments)),
		remaining:       len(segments),
		started:         time.Now(),
	}
	for i, s := range segments {
		b.index[s.ID] = i
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastGen++
	b.gen = t.lastGen
	if old, ok := t.byTranscription[transcriptionID]; ok {
		t.removeLocked(old)
	}
	t.byTranscription[transcriptionID] = b
	for id := range b.index {
		t.bySegment[id] = b
	}
	return b
}

// cancel stops tracking b. Results for its segments are still written to
// the store but no export happens.
func (t *batchTracker) cancel(b *batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byTranscription[b.transcriptionID] == b {
		t.removeLocked(b)
	}
}

// complete records the translation of one segment for batch generation
// gen. It returns the owning batch (nil if the segment is not part of a
// live batch of that generation) and whether that was the last
// outstanding segment. A finished batch is no longer tracked and is owned
// by the caller.
func (t *batchTracker) complete(segmentID int64, gen uint64, translation string, fallback bool) (*batch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.bySegment[segmentID]
	if !ok || gen == 0 || b.gen != gen {
		return nil, false
	}
	delete(t.bySegment, segmentID)

	b.segments[b.index[segmentID]].Translation = translation
	if fallback {
		b.fallbacks++
	}
	b.remaining--
	if b.remaining > 0 {
		return b, false
	}
	delete(t.byTranscription, b.transcriptionID)
	return b, true
}

func (t *batchTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byTranscription)
}

func (t *batchTracker) removeLocked(b *batch) {
	delete(t.byTranscription, b.transcriptionID)
	for id := range b.index {
		if t.bySegment[id] == b {
			delete(t.bySegment, id)
		}
	}
}
