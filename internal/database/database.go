package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	connectTimeout = 10 * time.Second
	healthTimeout  = 2 * time.Second

	// healthSQL fails when the segment table is missing or unreadable,
	// not only when the server is down.
	healthSQL = `SELECT 1 FROM transcription_segments LIMIT 1`
)

// Options configures the segment store pool. Zero sizes keep pgx defaults.
type Options struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// DB is the transcription segment store.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Connect(ctx context.Context, opts Options, log zerolog.Logger) (*DB, error) {
	cfg, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool for %s: %w", redactDSN(opts.URL), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", redactDSN(opts.URL), err)
	}

	log.Info().
		Str("dsn", redactDSN(opts.URL)).
		Str("database", cfg.ConnConfig.Database).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("segment store connected")

	return &DB{Pool: pool, log: log}, nil
}

// poolConfig parses the DSN and applies the configured pool size.
func poolConfig(opts Options) (*pgxpool.Config, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("database URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL %s: %w", redactDSN(opts.URL), err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("min conns %d exceeds max conns %d", cfg.MinConns, cfg.MaxConns)
	}
	return cfg, nil
}

// HealthCheck reads from transcription_segments with a short deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := db.Pool.Exec(ctx, healthSQL); err != nil {
		return fmt.Errorf("segment store health: %w", err)
	}
	return nil
}

// redactDSN hides the password in both URL and keyword/value DSNs so the
// connection string can be logged.
func redactDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "[invalid dsn]"
		}
		if q := u.Query(); q.Has("password") {
			q.Set("password", "xxxxx")
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}

	fields := strings.Fields(dsn)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}

func (db *DB) Close() {
	db.log.Info().Msg("closing segment store pool")
	db.Pool.Close()
}
