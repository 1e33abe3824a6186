package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// CloudRelay translates through an OpenAI-compatible chat completion API.
// Each request is independent; no conversation is kept.
type CloudRelay struct {
	*queue
	client         *openai.Client // nil when no credentials are configured
	requestTimeout time.Duration
}

// NewCloudRelay creates a relay for the OpenAI API, or for a compatible
// server when cfg.OpenAIBaseURL is set. Without an API key or a custom base
// URL the relay still runs, but every request falls back to the original text.
func NewCloudRelay(cfg Config) *CloudRelay {
	cfg = cfg.withDefaults()
	q := newQueue(ProviderOpenAI, cfg, Options{Prompt: cfg.Prompt, Model: cfg.Model})

	r := &CloudRelay{queue: q, requestTimeout: cfg.RequestTimeout}
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		q.log.Warn().Msg("OPENAI_API_KEY not set, translations will return the original text")
		return r
	}

	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	oc.HTTPClient = cfg.HTTPClient
	r.client = openai.NewClientWithConfig(oc)

	q.log.Debug().Str("base_url", oc.BaseURL).Str("model", cfg.Model).Msg("cloud translator configured")
	return r
}

func (c *CloudRelay) Start() {
	c.queue.start(nil, c.handle, nil)
}

func (c *CloudRelay) Stats() QueueStats {
	s := c.queue.stats()
	s.Available = c.client != nil
	return s
}

func (c *CloudRelay) handle(req Request) Result {
	start := time.Now()

	if c.client == nil {
		return c.fallback(req, start, failure(FailureNotConfigured, "openai client is not available"))
	}

	ctx, cancel := c.callContext(c.requestTimeout)
	defer cancel()

	text, err := c.complete(ctx, req.Text)
	if err != nil {
		return c.fallback(req, start, err)
	}
	return c.success(req, start, text)
}

func (c *CloudRelay) complete(ctx context.Context, text string) (string, error) {
	opts := c.Options()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: opts.Prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", &Error{Kind: FailureDecode, Err: err}
		}
		return "", &Error{Kind: FailureRequest, Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", failure(FailureMalformed, "completion %q has no choices", resp.ID)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", failure(FailureMalformed, "completion %q has empty content", resp.ID)
	}
	return content, nil
}
