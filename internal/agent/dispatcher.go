// ABOUTME: Job dispatcher: turns send-a-job plus a later result event into one awaitable call.
// ABOUTME: Owns the correlation table; a periodic sweep rejects jobs whose deadline has passed.

package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waitronhq/print-bridge/internal/events"
	"github.com/waitronhq/print-bridge/internal/metrics"
	"github.com/waitronhq/print-bridge/internal/protocol"
)

// Dispatch timing defaults.
const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultSweepInterval   = time.Second
)

// Job journal states. A job reaches exactly one of the terminal states.
const (
	JobStateDispatched = "dispatched"
	JobStateCompleted  = "completed"
	JobStateFailed     = "failed"
	JobStateTimedOut   = "timed_out"
)

// DispatchResult is the single value delivered on a dispatch future. Err is
// set for timeout; otherwise Success and Message carry the agent's answer. An
// agent answering success=false is a normal result, not an error.
type DispatchResult struct {
	Success bool
	Message string
	Err     error
}

// JobJournal records job lifecycle rows for observability. Journal failures
// are logged and never fail a dispatch. A nil journal disables recording.
type JobJournal interface {
	JobDispatched(ctx context.Context, jobID, tenantID string) error
	JobResolved(ctx context.Context, jobID, state, message string) error
}

// pendingJob is one correlation table entry.
type pendingJob struct {
	tenantID     string
	ch           chan DispatchResult
	deadline     time.Time
	dispatchedAt time.Time
}

// DispatcherOptions configures a Dispatcher. Zero values pick defaults; nil
// collaborators are replaced with no-ops.
type DispatcherOptions struct {
	DefaultTimeout time.Duration
	SweepInterval  time.Duration
	Journal        JobJournal
	Events         events.Publisher
	Metrics        metrics.Metrics
	Logger         *slog.Logger
}

// Dispatcher correlates outbound jobs with inbound results. Exactly one of
// {result, timeout, dispatch-failure} terminates every job: the result path
// and the sweep share one remove-then-check primitive, so a job can never
// resolve twice, and no entry outlives its deadline by more than a sweep tick.
type Dispatcher struct {
	registry *Registry
	journal  JobJournal
	events   events.Publisher
	metrics  metrics.Metrics
	logger   *slog.Logger

	defaultTimeout time.Duration
	sweepInterval  time.Duration

	pending map[string]*pendingJob
	mu      sync.Mutex
	closed  bool

	done chan struct{}
}

// NewDispatcher creates a Dispatcher and starts its sweep goroutine. Call
// Close to stop it.
func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultDispatchTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		registry:       registry,
		journal:        opts.Journal,
		events:         opts.Events,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With("component", "dispatcher"),
		defaultTimeout: opts.DefaultTimeout,
		sweepInterval:  opts.SweepInterval,
		pending:        make(map[string]*pendingJob),
		done:           make(chan struct{}),
	}
	go d.sweep()
	return d
}

// Dispatch sends payload to the tenant's agent and returns the job id plus a
// future for the result. The returned channel is buffered and receives exactly
// one DispatchResult; abandoning it is safe, the sweep reclaims the entry at
// the deadline. timeout <= 0 selects the configured default.
//
// Fails synchronously with ErrNoAgentConnected when the tenant has no live
// session, and with ErrDispatchFailed when the transport rejects the send.
// Neither failure leaves a correlation entry behind. ctx covers journal writes
// only; cancelling it does not cancel the job.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, payload []byte, timeout time.Duration) (string, <-chan DispatchResult, error) {
	if tenantID == "" {
		return "", nil, fmt.Errorf("tenant id is required")
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	sess, ok := d.registry.Lookup(tenantID)
	if !ok {
		return "", nil, ErrNoAgentConnected
	}

	jobID := uuid.NewString()
	now := time.Now()
	job := &pendingJob{
		tenantID:     tenantID,
		ch:           make(chan DispatchResult, 1),
		deadline:     now.Add(timeout),
		dispatchedAt: now,
	}

	d.mu.Lock()
	d.pending[jobID] = job
	d.mu.Unlock()

	d.recordDispatched(ctx, jobID, tenantID)

	wire := protocol.Job{
		JobID:   jobID,
		Payload: base64.StdEncoding.EncodeToString(payload),
		Format:  protocol.FormatBase64,
	}
	if err := sess.Send(protocol.EventJob, wire); err != nil {
		d.take(jobID)
		d.recordResolved(jobID, tenantID, JobStateFailed, err.Error())
		d.metrics.IncJobsFailed(tenantID, "send_failed")
		d.publish(events.TopicJobFailed, events.JobFailed{
			JobID: jobID, TenantID: tenantID, Reason: "send_failed", At: time.Now(),
		})
		d.logger.Warn("job send failed",
			"job_id", jobID,
			"tenant_id", tenantID,
			"session_id", sess.ID(),
			"error", err,
		)
		return "", nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	d.metrics.IncJobsDispatched(tenantID)
	d.publish(events.TopicJobDispatched, events.JobDispatched{
		JobID: jobID, TenantID: tenantID, At: now,
	})
	d.logger.Debug("job dispatched",
		"job_id", jobID,
		"tenant_id", tenantID,
		"session_id", sess.ID(),
		"timeout", timeout,
	)
	return jobID, job.ch, nil
}

// HandleResult resolves the future for jobID, if it is still pending. Late,
// duplicate, and unknown results are discarded: whichever of the result path
// and the sweep takes the entry first wins, the other finds nothing.
func (d *Dispatcher) HandleResult(jobID string, success bool, message string) {
	job, ok := d.take(jobID)
	if !ok {
		d.logger.Debug("result for unknown or already-resolved job", "job_id", jobID)
		return
	}

	job.ch <- DispatchResult{Success: success, Message: message}

	elapsed := time.Since(job.dispatchedAt)
	state := JobStateCompleted
	if !success {
		state = JobStateFailed
	}
	d.recordResolved(jobID, job.tenantID, state, message)
	d.metrics.IncJobsCompleted(job.tenantID, resultStatus(success))
	d.metrics.ObserveDispatchDuration(job.tenantID, elapsed.Seconds())
	d.publish(events.TopicJobCompleted, events.JobCompleted{
		JobID: jobID, TenantID: job.tenantID, Success: success, Message: message, At: time.Now(),
	})
	d.logger.Debug("job resolved",
		"job_id", jobID,
		"tenant_id", job.tenantID,
		"success", success,
		"elapsed", elapsed,
	)
}

// Pending returns the number of outstanding correlation entries.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops the sweep goroutine. Idempotent. Outstanding futures are left
// to their deadlines; the process is shutting down with them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
}

// take removes and returns the entry for jobID. This is the single removal
// primitive shared by the result path and the sweep; remove-then-check keeps
// resolution exactly-once.
func (d *Dispatcher) take(jobID string) (*pendingJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.pending[jobID]
	if ok {
		delete(d.pending, jobID)
	}
	return job, ok
}

func (d *Dispatcher) sweep() {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.expireOverdue(time.Now())
		}
	}
}

// expireOverdue rejects every entry whose deadline has passed. Futures are
// delivered outside the lock.
func (d *Dispatcher) expireOverdue(now time.Time) int {
	type expired struct {
		id  string
		job *pendingJob
	}

	d.mu.Lock()
	var overdue []expired
	for id, job := range d.pending {
		if now.After(job.deadline) {
			delete(d.pending, id)
			overdue = append(overdue, expired{id: id, job: job})
		}
	}
	d.mu.Unlock()

	for _, e := range overdue {
		e.job.ch <- DispatchResult{Err: ErrDispatchTimeout}
		d.recordResolved(e.id, e.job.tenantID, JobStateTimedOut, "no result before deadline")
		d.metrics.IncJobsFailed(e.job.tenantID, "timeout")
		d.publish(events.TopicJobFailed, events.JobFailed{
			JobID: e.id, TenantID: e.job.tenantID, Reason: "timeout", At: now,
		})
		d.logger.Warn("job timed out",
			"job_id", e.id,
			"tenant_id", e.job.tenantID,
			"deadline", e.job.deadline,
		)
	}
	return len(overdue)
}

func (d *Dispatcher) recordDispatched(ctx context.Context, jobID, tenantID string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.JobDispatched(ctx, jobID, tenantID); err != nil {
		d.logger.Warn("job journal write failed", "job_id", jobID, "error", err)
	}
}

func (d *Dispatcher) recordResolved(jobID, tenantID, state, message string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.JobResolved(context.Background(), jobID, state, message); err != nil {
		d.logger.Warn("job journal write failed", "job_id", jobID, "error", err)
	}
}

func (d *Dispatcher) publish(topic string, event any) {
	if err := d.events.Publish(context.Background(), topic, event); err != nil {
		d.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}

func resultStatus(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
