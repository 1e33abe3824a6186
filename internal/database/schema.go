package database

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transcription_segments (
    id               bigserial PRIMARY KEY,
    transcription_id uuid        NOT NULL,
    start_time       integer     NOT NULL DEFAULT 0,
    end_time         integer     NOT NULL DEFAULT 0,
    text             text        NOT NULL DEFAULT '',
    translation      text        NOT NULL DEFAULT '',
    created_at       timestamptz NOT NULL DEFAULT now()
);
`

// InitSchema creates the segment table on a fresh database.
// It is a no-op when transcription_segments already exists.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcription_segments')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
