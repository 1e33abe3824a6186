package translate

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider names a translation back-end.
type Provider string

const (
	ProviderOllama Provider = "OLLAMA" // locally hosted Ollama server, with conversation history
	ProviderOpenAI Provider = "OPENAI" // OpenAI-compatible chat completions, stateless
)

// ParseProvider maps a TRANSLATION_PROVIDER value to a Provider.
// Anything other than OLLAMA selects the cloud relay.
func ParseProvider(s string) Provider {
	if strings.EqualFold(strings.TrimSpace(s), string(ProviderOllama)) {
		return ProviderOllama
	}
	return ProviderOpenAI
}

// Label returns the lowercase form used in logs and metric labels.
func (p Provider) Label() string { return strings.ToLower(string(p)) }

// Relay forwards transcript text to a translation back-end and emits the
// results through Config.OnResult, one request at a time, in arrival order.
type Relay interface {
	// Enqueue adds text to the queue. Returns false if the queue is full or
	// the relay has been stopped. Safe for concurrent use.
	Enqueue(text, id string) bool

	// Start launches the worker goroutine. Calling it more than once is a no-op.
	Start()

	// Stop signals the worker to exit and waits for it. The loop notices the
	// signal at the next poll boundary; an in-flight request is allowed to finish.
	Stop()

	// SetOptions swaps the prompt and/or model used for subsequent requests.
	// Empty fields keep their current value.
	SetOptions(opts Options)

	Options() Options
	Stats() QueueStats
	Provider() Provider
}

// Options are the user-facing translation settings.
type Options struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// Request is a pending translation.
type Request struct {
	Text     string
	ID       string // correlation id, empty if the caller did not supply one
	Enqueued time.Time
}

// Result is emitted once per Request.
type Result struct {
	ID       string        `json:"id,omitempty"`
	Text     string        `json:"text"`
	Original string        `json:"original"`
	Provider Provider      `json:"provider"`
	Fallback bool          `json:"fallback"`
	Reason   FailureKind   `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// QueueStats reports the current state of a relay.
type QueueStats struct {
	Provider      Provider `json:"provider"`
	Available     bool     `json:"available"`
	Running       bool     `json:"running"`
	Pending       int      `json:"pending"`
	Completed     int64    `json:"completed"`
	Fallbacks     int64    `json:"fallbacks"`
	Dropped       int64    `json:"dropped"`
	HistoryLen    int      `json:"history_len"`
	HistoryResets int64    `json:"history_resets"`
}

// Config configures a relay. It is read once at construction.
type Config struct {
	Provider Provider
	Prompt   string

	// Local relay
	OllamaBaseURL       string
	OllamaModel         string
	HistoryLength       int           // exchanges kept; each exchange is two messages
	ConversationTimeout time.Duration // idle period after which history is cleared

	// Cloud relay
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string

	QueueSize      int
	PollInterval   time.Duration
	RequestTimeout time.Duration

	// HTTPClient overrides the client used for back-end calls (tests).
	HTTPClient *http.Client

	OnResult       func(Result)
	OnFinished     func()
	OnHistoryReset func() // local relay only, called after an idle reset
	Log            zerolog.Logger
}

const (
	DefaultPrompt         = "Translate each message from the user into English. Reply with the translation only."
	DefaultQueueSize      = 1000
	DefaultPollInterval   = time.Second
	DefaultRequestTimeout = 2 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// New builds the relay for cfg.Provider. The choice is made once; the
// returned relay never switches back-ends.
func New(cfg Config) (Relay, error) {
	switch cfg.Provider {
	case ProviderOllama:
		if _, err := url.ParseRequestURI(cfg.OllamaBaseURL); err != nil {
			return nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.OllamaBaseURL, err)
		}
		return NewLocalRelay(cfg), nil
	case ProviderOpenAI, "":
		if cfg.OpenAIBaseURL != "" {
			if _, err := url.ParseRequestURI(cfg.OpenAIBaseURL); err != nil {
				return nil, fmt.Errorf("invalid openai base url %q: %w", cfg.OpenAIBaseURL, err)
			}
		}
		return NewCloudRelay(cfg), nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.Provider)
	}
}
