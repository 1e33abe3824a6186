package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a segment does not exist.
var ErrNotFound = errors.New("not found")

// Segment is one timed piece of a transcription. Times are milliseconds
// from the start of the recording.
type Segment struct {
	ID              int64      `json:"id"`
	TranscriptionID string     `json:"transcription_id"`
	StartTime       int        `json:"start_time"`
	EndTime         int        `json:"end_time"`
	Text            string     `json:"text"`
	Translation     string     `json:"translation"`
	TranslatedAt    *time.Time `json:"translated_at,omitempty"`
}

// SegmentTranslation is a pending translation write.
type SegmentTranslation struct {
	ID          int64
	Translation string
	Provider    string
}

const segmentColumns = `id, transcription_id::text, start_time, end_time, text, translation, translated_at`

func scanSegment(row pgx.Row) (Segment, error) {
	var s Segment
	err := row.Scan(&s.ID, &s.TranscriptionID, &s.StartTime, &s.EndTime, &s.Text, &s.Translation, &s.TranslatedAt)
	return s, err
}

// ListSegments returns the segments of a transcription ordered by start time.
func (db *DB) ListSegments(ctx context.Context, transcriptionID string) ([]Segment, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+segmentColumns+`
		FROM transcription_segments
		WHERE transcription_id = $1
		ORDER BY start_time, id`, transcriptionID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

// GetSegment returns a single segment, or ErrNotFound.
func (db *DB) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	s, err := scanSegment(db.Pool.QueryRow(ctx,
		`SELECT `+segmentColumns+` FROM transcription_segments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %d: %w", id, err)
	}
	return &s, nil
}

// UpdateSegmentTranslation stores the translation of one segment.
func (db *DB) UpdateSegmentTranslation(ctx context.Context, id int64, translation, provider string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE transcription_segments
		SET translation = $2, translation_provider = $3, translated_at = now()
		WHERE id = $1`, id, translation, provider)
	if err != nil {
		return fmt.Errorf("update segment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSegmentTranslations writes a batch of translations in one round trip.
// Rows that no longer exist are skipped.
func (db *DB) UpdateSegmentTranslations(ctx context.Context, rows []SegmentTranslation) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`UPDATE transcription_segments
			SET translation = $2, translation_provider = $3, translated_at = now()
			WHERE id = $1`, r.ID, r.Translation, r.Provider)
	}
	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("update segment translations: %w", err)
		}
	}
	return nil
}

// ReplaceSegments swaps every segment of a transcription for the given set
// inside one transaction. IDs on the input are ignored; the stored rows
// (with their new IDs) are returned.
func (db *DB) ReplaceSegments(ctx context.Context, transcriptionID string, segments []Segment) ([]Segment, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcription_segments WHERE transcription_id = $1`, transcriptionID); err != nil {
		return nil, fmt.Errorf("delete segments: %w", err)
	}

	stored := make([]Segment, 0, len(segments))
	for _, s := range segments {
		row := tx.QueryRow(ctx,
			`INSERT INTO transcription_segments (transcription_id, start_time, end_time, text, translation)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+segmentColumns,
			transcriptionID, s.StartTime, s.EndTime, s.Text, s.Translation)
		out, err := scanSegment(row)
		if err != nil {
			return nil, fmt.Errorf("insert segment: %w", err)
		}
		stored = append(stored, out)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	db.log.Debug().Str("transcription_id", transcriptionID).Int("segments", len(stored)).Msg("segments replaced")
	return stored, nil
}
