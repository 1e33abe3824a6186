package translate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// queue is the single-consumer loop shared by both relays. Requests are
// handled strictly one at a time; the poll ticker gives the owner a chance
// to run idle bookkeeping between requests.
type queue struct {
	provider     Provider
	jobs         chan Request
	quit         chan struct{}
	done         chan struct{}
	ctx          context.Context // cancelled by Stop; parent of back-end calls
	cancel       context.CancelFunc
	pollInterval time.Duration
	onResult     func(Result)
	onFinished   func()
	log          zerolog.Logger

	optsMu sync.RWMutex
	opts   Options

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	completed atomic.Int64
	fallbacks atomic.Int64
	dropped   atomic.Int64
}

func newQueue(provider Provider, cfg Config, opts Options) *queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &queue{
		provider:     provider,
		jobs:         make(chan Request, cfg.QueueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: cfg.PollInterval,
		onResult:     cfg.OnResult,
		onFinished:   cfg.OnFinished,
		log:          cfg.Log.With().Str("provider", provider.Label()).Logger(),
		opts:         opts,
	}
}

// Enqueue adds a request to the queue. Returns false if the queue is full or stopped.
func (q *queue) Enqueue(text, id string) bool {
	if q.stopped.Load() {
		return false
	}
	select {
	case q.jobs <- Request{Text: text, ID: id, Enqueued: time.Now()}:
		q.log.Debug().Str("id", id).Str("text", preview(text)).Msg("enqueued transcript for translation")
		return true
	default:
		q.dropped.Add(1)
		q.log.Warn().Str("id", id).Int("capacity", cap(q.jobs)).Msg("translation queue full, dropping transcript")
		return false
	}
}

func (q *queue) SetOptions(opts Options) {
	q.optsMu.Lock()
	defer q.optsMu.Unlock()
	if opts.Prompt != "" {
		q.opts.Prompt = opts.Prompt
	}
	if opts.Model != "" {
		q.opts.Model = opts.Model
	}
	q.log.Debug().Str("model", q.opts.Model).Msg("translation options changed")
}

func (q *queue) Options() Options {
	q.optsMu.RLock()
	defer q.optsMu.RUnlock()
	return q.opts
}

func (q *queue) Provider() Provider { return q.provider }

func (q *queue) stats() QueueStats {
	return QueueStats{
		Provider:  q.provider,
		Running:   q.started.Load() && !q.stopped.Load(),
		Pending:   len(q.jobs),
		Completed: q.completed.Load(),
		Fallbacks: q.fallbacks.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// start launches the loop. setup runs on the worker goroutine before the
// first request is taken; idle runs on every poll timeout.
func (q *queue) start(setup func(), handle func(Request) Result, idle func()) {
	if q.stopped.Load() || !q.started.CompareAndSwap(false, true) {
		return
	}
	q.log.Info().Int("queue_size", cap(q.jobs)).Dur("poll_interval", q.pollInterval).Msg("translation relay started")
	go q.run(setup, handle, idle)
}

// Stop signals the loop, aborts any back-end call in flight and waits for
// the loop to exit.
func (q *queue) Stop() {
	q.stopOnce.Do(func() {
		q.stopped.Store(true)
		close(q.quit)
		q.cancel()
	})
	if q.started.Load() {
		<-q.done
	}
}

func (q *queue) run(setup func(), handle func(Request) Result, idle func()) {
	defer close(q.done)
	defer q.finish()

	if setup != nil {
		setup()
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.quit:
			return
		default:
		}

		select {
		case <-q.quit:
			return
		case req := <-q.jobs:
			q.emit(handle(req))
		case <-ticker.C:
			if idle != nil {
				idle()
			}
		}
	}
}

// callContext bounds one back-end call by timeout and by Stop.
func (q *queue) callContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(q.ctx, timeout)
}

func (q *queue) emit(res Result) {
	if res.Fallback {
		q.fallbacks.Add(1)
	} else {
		q.completed.Add(1)
	}
	if q.onResult != nil {
		q.onResult(res)
	}
}

func (q *queue) finish() {
	q.log.Info().
		Int64("completed", q.completed.Load()).
		Int64("fallbacks", q.fallbacks.Load()).
		Int("abandoned", len(q.jobs)).
		Msg("translation relay stopped")
	if q.onFinished != nil {
		q.onFinished()
	}
}

// fallback logs err and returns a Result carrying the original text.
func (q *queue) fallback(req Request, start time.Time, err error) Result {
	kind := KindOf(err)
	q.log.Warn().Err(err).Str("id", req.ID).Str("reason", string(kind)).Msg("translation failed, using original text")
	return Result{
		ID:       req.ID,
		Text:     req.Text,
		Original: req.Text,
		Provider: q.provider,
		Fallback: true,
		Reason:   kind,
		Duration: time.Since(start),
	}
}

func (q *queue) success(req Request, start time.Time, text string) Result {
	d := time.Since(start)
	q.log.Debug().Str("id", req.ID).Dur("duration", d).Str("translation", preview(text)).Msg("translation complete")
	return Result{
		ID:       req.ID,
		Text:     text,
		Original: req.Text,
		Provider: q.provider,
		Duration: d,
	}
}

func preview(s string) string {
	const n = 50
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
