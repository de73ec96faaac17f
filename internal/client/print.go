// ABOUTME: Print dispatch call for the control API client
// ABOUTME: Submits a job via POST /api/print and waits for the agent's result

package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PrintRequest is the body for POST /api/print. Payload is the raw print
// data; set Encoding to "base64" when it is binary.
type PrintRequest struct {
	TenantID  string `json:"tenantId"`
	Payload   string `json:"payload"`
	Encoding  string `json:"encoding,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

// PrintResult is the bridge's answer to a print dispatch. Success reflects
// the agent's own report; a refused print is still a delivered result.
type PrintResult struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Print submits a job and blocks until the agent answers or the bridge gives
// up. Bridge-side failures come back as *APIError carrying the status the
// bridge assigned: 503 no agent connected, 502 send failure, 504 timeout
// (with the JobID of the abandoned job).
func (c *Client) Print(ctx context.Context, req PrintRequest) (*PrintResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/print", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result PrintResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &result, nil
}

// PrintBytes base64-encodes raw printer data and submits it. A timeout of 0
// uses the bridge's configured default.
func (c *Client) PrintBytes(ctx context.Context, tenantID string, data []byte, timeout time.Duration) (*PrintResult, error) {
	return c.Print(ctx, PrintRequest{
		TenantID:  tenantID,
		Payload:   base64.StdEncoding.EncodeToString(data),
		Encoding:  "base64",
		TimeoutMs: timeout.Milliseconds(),
	})
}
