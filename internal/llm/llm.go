// Package llm is a thin client for OpenAI-compatible chat completion APIs.
// Callers that need deterministic output get temperature 0 unconditionally;
// the platform never uses the LLM for anything sampled.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned when no LLM is configured.
var ErrUnavailable = errors.New("llm: not configured")

// Request is a single completion request.
type Request struct {
	System     string
	Prompt     string
	JSONObject bool // ask the API for a JSON-object response
}

// Client produces a completion for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Disabled is the client used when no LLM endpoint is configured. Every call
// fails with ErrUnavailable so callers fall through to their deterministic
// fallbacks.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

// HTTPClient calls an OpenAI-compatible /v1/chat/completions endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New creates a client for the given endpoint. baseURL empty means the
// OpenAI API; model empty means gpt-4o-mini.
func New(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const completeAttempts = 3

// Complete sends the request and returns the completion text with any code
// fences stripped. Transient failures are retried up to three times with a
// short linear backoff.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 500 * time.Millisecond):
			}
		}
		out, retryable, err := c.complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("llm: %d attempts failed: %w", completeAttempts, lastErr)
}

func (c *HTTPClient) complete(ctx context.Context, req Request) (out string, retryable bool, err error) {
	body := chatRequest{
		Model:       c.model,
		Temperature: 0,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONObject {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", false, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("llm: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("llm: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("llm: api error: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("llm: unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("llm: empty choices")
	}
	return StripFences(parsed.Choices[0].Message.Content), false, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, and trims whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line if the fence opened with one.
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, " \t{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
