// Package client provides typed HTTP clients for the rota services. In the
// split topology each service reaches its peers through these clients; the
// method signatures mirror the in-process services so the composition root
// can swap one for the other.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/rota/internal/apperr"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the target service (e.g. "http://learner:8002").
	BaseURL string

	// Token is a service JWT issued at startup. Empty disables the
	// Authorization header, matching a deployment with auth off.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is the shared HTTP transport under the typed service clients.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a Client from the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("client: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}

	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindDependencyUnavailable,
			fmt.Sprintf("client: %s %s", req.Method, req.URL.Path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("client: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

// parseErrorResponse maps a server error envelope back onto the apperr
// taxonomy so callers handle remote failures the same way as local ones.
func parseErrorResponse(statusCode int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return apperr.New(apperr.KindFromCode(envelope.Error.Code), envelope.Error.Message)
	}
	return apperr.Newf(apperr.KindInternal, "client: unexpected response: status %d: %s",
		statusCode, strings.TrimSpace(string(body)))
}
