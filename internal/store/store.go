// ABOUTME: Store interface and data types for print-bridge persistence
// ABOUTME: Defines the Job and AgentEvent records kept for audit and the jobs API

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateJob is returned when trying to record a job id that already exists
var ErrDuplicateJob = errors.New("job already exists")

// Job state constants. Every job starts dispatched and ends in exactly one of
// the terminal states.
const (
	JobStateDispatched = "dispatched"
	JobStateCompleted  = "completed"
	JobStateFailed     = "failed"
	JobStateTimedOut   = "timed_out"
)

// Job is the persisted lifecycle record of one print job.
type Job struct {
	JobID      string
	TenantID   string
	State      string
	Message    string // agent answer or failure detail, "" while dispatched
	CreatedAt  time.Time
	ResolvedAt *time.Time // nil while dispatched
}

// Agent event type constants
const (
	AgentEventRegistered   = "registered"
	AgentEventDisconnected = "disconnected"
	AgentEventDisplaced    = "displaced"
)

// AgentEvent is one row of the agent connection audit trail.
type AgentEvent struct {
	ID        int64
	SessionID string
	TenantID  string
	Event     string
	CreatedAt time.Time
}

// Store defines the persistence operations used by the bridge.
type Store interface {
	// JobDispatched records a new job in the dispatched state.
	JobDispatched(ctx context.Context, jobID, tenantID string) error

	// JobResolved moves a job to a terminal state with the outcome message.
	// Returns ErrNotFound if the job was never recorded.
	JobResolved(ctx context.Context, jobID, state, message string) error

	// GetJob retrieves one job by id. Returns ErrNotFound if it doesn't exist.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// RecentJobs returns the newest jobs, most recent first.
	RecentJobs(ctx context.Context, limit int) ([]*Job, error)

	// RecordAgentEvent appends one row to the agent connection audit trail.
	RecordAgentEvent(ctx context.Context, sessionID, tenantID, event string) error

	// RecentAgentEvents returns the newest agent events, most recent first.
	RecentAgentEvents(ctx context.Context, limit int) ([]*AgentEvent, error)

	// Close releases the underlying database.
	Close() error
}
