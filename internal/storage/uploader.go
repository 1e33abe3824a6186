package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// uploadTarget is the subset of S3Store the uploader writes to.
type uploadTarget interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// AsyncUploader copies exports to S3 without blocking the pipeline.
// Files are already on local disk before being enqueued here.
type AsyncUploader struct {
	target   uploadTarget
	ch       chan uploadJob
	wg       sync.WaitGroup
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	failed   atomic.Int64
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(target uploadTarget, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		target: target,
		ch:     make(chan uploadJob, bufferSize),
		log:    log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking; drops with a warning if full or stopped.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	if u.stopped.Load() {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data, contentType: contentType}:
	default:
		u.log.Warn().Str("key", key).Msg("upload queue full, skipping (export kept locally)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop drains queued uploads and waits for the workers to exit.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

// Failed returns the number of uploads that returned an error.
func (u *AsyncUploader) Failed() int64 { return u.failed.Load() }

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.target.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (export kept locally)")
		}
		cancel()
	}
}
