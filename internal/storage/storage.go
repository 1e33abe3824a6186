package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/tr-translate/internal/config"
)

// ExportStore abstracts where finished translations are written.
type ExportStore interface {
	// Save stores data under key, e.g. translations/{transcription_id}.txt.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for a stored export.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an export exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// ExportKey returns the storage key of a transcription's translation export.
func ExportKey(transcriptionID string) string {
	return "translations/" + transcriptionID + ".txt"
}

// New creates an ExportStore based on config. The returned Stopper must be
// stopped on shutdown (it is a no-op for single-backend stores).
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, exportDir string, log zerolog.Logger) (ExportStore, Stopper, error) {
	if !cfg.Enabled() {
		return NewLocalStore(exportDir), nopStopper{}, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCopy {
		return s3store, nopStopper{}, nil
	}

	uploader := NewAsyncUploader(s3store, 256, log)
	uploader.Start(2)
	return NewTieredStore(s3store, NewLocalStore(exportDir), uploader, log), uploader, nil
}

// Stopper is a background service that must be stopped on shutdown.
type Stopper interface {
	Stop()
}

type nopStopper struct{}

func (nopStopper) Stop() {}
