// ABOUTME: Bridge lifecycle events: topics, payload types, and the Publisher interface.
// ABOUTME: Publishing is fire-and-forget; nothing in the dispatch path depends on it.

package events

import (
	"context"
	"time"
)

// Event topic constants.
const (
	TopicJobDispatched = "print.job.dispatched"
	TopicJobCompleted  = "print.job.completed"
	TopicJobFailed     = "print.job.failed"

	TopicAgentRegistered   = "print.agent.registered"
	TopicAgentDisconnected = "print.agent.disconnected"
	TopicAgentDisplaced    = "print.agent.displaced"
)

// Event types

// JobDispatched is published when a job has been handed to an agent session.
type JobDispatched struct {
	JobID    string    `json:"job_id"`
	TenantID string    `json:"tenant_id"`
	At       time.Time `json:"at"`
}

// JobCompleted is published when an agent answers a job. Success=false is an
// agent-reported failure, still a completed exchange.
type JobCompleted struct {
	JobID    string    `json:"job_id"`
	TenantID string    `json:"tenant_id"`
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// JobFailed is published when the bridge gives up on a job without an agent
// answer. Reason is "timeout" or "send_failed".
type JobFailed struct {
	JobID    string    `json:"job_id"`
	TenantID string    `json:"tenant_id"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// AgentRegistered is published when a session completes registration.
type AgentRegistered struct {
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	At        time.Time `json:"at"`
}

// AgentDisconnected is published when a registered session closes.
type AgentDisconnected struct {
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	At        time.Time `json:"at"`
}

// AgentDisplaced is published when a newer registration closes an older
// session for the same tenant.
type AgentDisplaced struct {
	OldSessionID string    `json:"old_session_id"`
	NewSessionID string    `json:"new_session_id"`
	TenantID     string    `json:"tenant_id"`
	At           time.Time `json:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher discards all events. Used when no broker is configured.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(ctx context.Context, topic string, event any) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
