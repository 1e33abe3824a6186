package database

import (
	"context"
	"fmt"
	"time"
)

// PurgeSegmentsOlderThan deletes segments created before now - retention.
// A transcription is removed as a whole once its newest segment has aged
// out, so a partly purged transcription is never left behind.
func (db *DB) PurgeSegmentsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM transcription_segments
		WHERE transcription_id IN (
			SELECT transcription_id
			FROM transcription_segments
			GROUP BY transcription_id
			HAVING max(created_at) < now() - $1::interval
		)`, retentionInterval(retention))
	if err != nil {
		return 0, fmt.Errorf("purge segments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// retentionInterval formats d as a PostgreSQL interval literal.
func retentionInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}
