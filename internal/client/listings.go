// ABOUTME: Read-only listing calls for the control API client
// ABOUTME: Connected agents, the job journal, and agent lifecycle events

package client

import (
	"context"
	"strconv"
)

// Agent is one row of GET /api/agents. Timestamps are RFC 3339 strings;
// LastHealthAt is empty until the agent's first health report.
type Agent struct {
	TenantID     string `json:"tenantId"`
	SessionID    string `json:"sessionId"`
	State        string `json:"state"`
	ConnectedAt  string `json:"connected_at"`
	LastHealthAt string `json:"last_health_at,omitempty"`
}

// Job is one row of GET /api/jobs, newest first.
type Job struct {
	JobID      string `json:"jobId"`
	TenantID   string `json:"tenantId"`
	State      string `json:"state"`
	Message    string `json:"message,omitempty"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

// AgentEvent is one row of GET /api/events, newest first.
type AgentEvent struct {
	SessionID string `json:"sessionId"`
	TenantID  string `json:"tenantId"`
	Event     string `json:"event"`
	CreatedAt string `json:"created_at"`
}

// Agents lists the currently connected agents.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.getJSON(ctx, "/api/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Jobs returns recent job journal rows. A limit of 0 uses the server default.
func (c *Client) Jobs(ctx context.Context, limit int) ([]Job, error) {
	var out []Job
	if err := c.getJSON(ctx, withLimit("/api/jobs", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentEvents returns recent agent lifecycle rows. A limit of 0 uses the
// server default.
func (c *Client) AgentEvents(ctx context.Context, limit int) ([]AgentEvent, error) {
	var out []AgentEvent
	if err := c.getJSON(ctx, withLimit("/api/events", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}
