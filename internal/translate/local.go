package translate

import (
	"sync/atomic"
	"time"
)

const probeTimeout = 5 * time.Second

// LocalRelay translates through a locally hosted Ollama server, keeping a
// rolling conversation so the model sees earlier segments as context.
type LocalRelay struct {
	*queue
	client              *OllamaClient
	history             *History
	conversationTimeout time.Duration
	requestTimeout      time.Duration
	onHistoryReset      func()

	available    atomic.Bool
	resets       atomic.Int64
	lastActivity time.Time // worker goroutine only
}

// NewLocalRelay creates a relay for the Ollama server at cfg.OllamaBaseURL.
// The server is probed when the relay starts.
func NewLocalRelay(cfg Config) *LocalRelay {
	cfg = cfg.withDefaults()
	q := newQueue(ProviderOllama, cfg, Options{Prompt: cfg.Prompt, Model: cfg.OllamaModel})
	q.log.Debug().
		Str("base_url", cfg.OllamaBaseURL).
		Str("model", cfg.OllamaModel).
		Int("history_length", cfg.HistoryLength).
		Dur("conversation_timeout", cfg.ConversationTimeout).
		Msg("local translator configured")

	return &LocalRelay{
		queue:               q,
		client:              NewOllamaClient(cfg.OllamaBaseURL, cfg.HTTPClient),
		history:             NewHistory(cfg.HistoryLength),
		conversationTimeout: cfg.ConversationTimeout,
		requestTimeout:      cfg.RequestTimeout,
		onHistoryReset:      cfg.OnHistoryReset,
	}
}

func (l *LocalRelay) Start() {
	l.queue.start(l.setup, l.handle, l.idle)
}

// Stop halts the loop and discards the conversation.
func (l *LocalRelay) Stop() {
	l.queue.Stop()
	l.history.Reset()
}

func (l *LocalRelay) Stats() QueueStats {
	s := l.queue.stats()
	s.Available = l.available.Load()
	s.HistoryLen = l.history.Len()
	s.HistoryResets = l.resets.Load()
	return s
}

func (l *LocalRelay) setup() {
	l.history.Reset()
	l.lastActivity = time.Now()
	l.probe()
}

func (l *LocalRelay) probe() bool {
	ctx, cancel := l.callContext(probeTimeout)
	defer cancel()

	if err := l.client.Ping(ctx); err != nil {
		l.available.Store(false)
		l.log.Error().Err(err).Msg("failed to connect to ollama server")
		return false
	}
	l.available.Store(true)
	l.log.Debug().Msg("ollama server is available")
	return true
}

// idle clears the conversation once nothing has arrived for the timeout.
// It only runs while the queue is empty; a zero timeout clears on the first
// empty poll and a negative one never clears.
func (l *LocalRelay) idle() {
	if l.conversationTimeout < 0 || l.history.Len() == 0 || len(l.jobs) > 0 {
		return
	}
	if time.Since(l.lastActivity) > l.conversationTimeout {
		l.resetHistory()
	}
}

func (l *LocalRelay) resetHistory() {
	if l.history.Len() == 0 {
		return
	}
	l.log.Debug().Dur("timeout", l.conversationTimeout).Msg("resetting conversation history after inactivity")
	l.history.Reset()
	l.resets.Add(1)
	if l.onHistoryReset != nil {
		l.onHistoryReset()
	}
}

func (l *LocalRelay) handle(req Request) Result {
	start := time.Now()

	// A request can arrive before the poll tick notices the idle period.
	if l.conversationTimeout > 0 && time.Since(l.lastActivity) > l.conversationTimeout {
		l.resetHistory()
	}
	l.lastActivity = start

	if !l.available.Load() && !l.probe() {
		return l.fallback(req, start, failure(FailureUnavailable, "ollama server is not available"))
	}

	opts := l.Options()
	history := l.history.Messages()
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: opts.Prompt})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: req.Text})

	l.log.Debug().
		Str("id", req.ID).
		Int("history_len", len(history)).
		Int("messages", len(messages)).
		Msg("sending chat request to ollama")

	ctx, cancel := l.callContext(l.requestTimeout)
	defer cancel()

	reply, err := l.client.Chat(ctx, opts.Model, messages)
	if err != nil {
		return l.fallback(req, start, err)
	}

	text := StripReasoning(reply)
	if text == "" {
		return l.fallback(req, start, failure(FailureMalformed, "empty translation after removing reasoning"))
	}

	l.history.Append(req.Text, text)
	return l.success(req, start, text)
}
