// ABOUTME: HTTP client for the print-bridge control API
// ABOUTME: Shared by the CLI subcommands and backend services that submit jobs

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client calls the bridge's control API. Build one with New; methods are safe
// for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets a bearer token sent with every request. Required when the
// bridge runs with a jwt_secret configured.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New builds a client for the bridge at baseURL, e.g. "http://localhost:8080".
// Calls have no client-side timeout of their own; bound them with the context.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the control API.
type APIError struct {
	Status  int
	Message string

	// JobID is set when the bridge had already dispatched the job before
	// failing, e.g. a print that timed out waiting for the agent's result.
	JobID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge API: %s (status %d)", e.Message, e.Status)
}

// Health checks GET /health on a running bridge.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Ready checks GET /health/ready and returns the server's status line, e.g.
// "ready (2 agents)". A bridge with no registered agents answers 503.
func (c *Client) Ready(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health/ready", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	status := strings.TrimSpace(string(raw))
	if resp.StatusCode != http.StatusOK {
		return status, &APIError{Status: resp.StatusCode, Message: status}
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.httpc.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError drains resp into an APIError. Most failures arrive as
// {"error": "..."}; POST /api/print sends its regular body on a timeout, and
// the health endpoints answer in plain text.
func apiError(resp *http.Response) *APIError {
	var wire struct {
		Err     string `json:"error"`
		Message string `json:"message"`
		JobID   string `json:"jobId"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &wire)

	msg := wire.Err
	if msg == "" {
		msg = wire.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg, JobID: wire.JobID}
}
