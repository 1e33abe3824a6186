package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaClient talks to the chat endpoint of a locally hosted Ollama server.
type OllamaClient struct {
	baseURL string
	client  *http.Client
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Pointers distinguish a missing field from an empty one.
type ollamaChatResp struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
}

// NewOllamaClient creates a client for the server at baseURL.
func NewOllamaClient(baseURL string, client *http.Client) *OllamaClient {
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Ping checks that the server answers GET {baseURL} with 200.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return failure(FailureUnavailable, "create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return failure(FailureUnavailable, "ollama probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return failure(FailureUnavailable, "ollama probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Chat posts a non-streaming chat request and returns the raw reply content.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(ollamaChatReq{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", failure(FailureRequest, "marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", failure(FailureRequest, "create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", failure(FailureRequest, "ollama chat: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure(FailureRequest, "read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", failure(FailureRequest, "ollama API error (status %d): %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out ollamaChatResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", failure(FailureDecode, "decode response: %w", err)
	}
	if out.Message == nil || out.Message.Content == nil {
		return "", failure(FailureMalformed, "unexpected response format: %s", truncate(string(raw), 200))
	}
	return *out.Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
