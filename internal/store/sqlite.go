// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides job and agent-event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds so the stored strings
// sort chronologically; the stdlib nano format trims trailing zeros and doesn't.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists (":memory:" has none)
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			job_id      TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			state       TEXT NOT NULL DEFAULT 'dispatched',
			message     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			resolved_at TEXT,

			CHECK (state IN ('dispatched', 'completed', 'failed', 'timed_out'))
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

		CREATE TABLE IF NOT EXISTS agent_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			tenant_id  TEXT NOT NULL,
			event      TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (event IN ('registered', 'disconnected', 'displaced'))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_tenant ON agent_events(tenant_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_agent_events_created ON agent_events(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: early deployments recorded job states without the outcome
	// message. SQLite doesn't support ADD COLUMN IF NOT EXISTS, so check first.
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('jobs') WHERE name = 'message'`).Scan(&exists)
	if err != nil {
		if _, err := s.db.Exec(`ALTER TABLE jobs ADD COLUMN message TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("adding message column to jobs: %w", err)
		}
		s.logger.Info("applied migration", "column", "message", "table", "jobs")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// JobDispatched records a new job in the dispatched state.
func (s *SQLiteStore) JobDispatched(ctx context.Context, jobID, tenantID string) error {
	query := `
		INSERT INTO jobs (job_id, tenant_id, state, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		jobID,
		tenantID,
		JobStateDispatched,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("recorded job dispatch", "job_id", jobID, "tenant_id", tenantID)
	return nil
}

// JobResolved moves a job to a terminal state with the outcome message.
func (s *SQLiteStore) JobResolved(ctx context.Context, jobID, state, message string) error {
	query := `
		UPDATE jobs
		SET state = ?, message = ?, resolved_at = ?
		WHERE job_id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		state,
		message,
		time.Now().UTC().Format(timeFormat),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("recorded job resolution", "job_id", jobID, "state", state)
	return nil
}

// GetJob retrieves a job by id.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT job_id, tenant_id, state, message, created_at, resolved_at
		FROM jobs
		WHERE job_id = ?
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// RecentJobs returns the newest jobs, most recent first.
func (s *SQLiteStore) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT job_id, tenant_id, state, message, created_at, resolved_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}

	return jobs, nil
}

// RecordAgentEvent appends one row to the agent connection audit trail.
func (s *SQLiteStore) RecordAgentEvent(ctx context.Context, sessionID, tenantID, event string) error {
	query := `
		INSERT INTO agent_events (session_id, tenant_id, event, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sessionID,
		tenantID,
		event,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting agent event: %w", err)
	}

	s.logger.Debug("recorded agent event", "session_id", sessionID, "tenant_id", tenantID, "event", event)
	return nil
}

// RecentAgentEvents returns the newest agent events, most recent first.
func (s *SQLiteStore) RecentAgentEvents(ctx context.Context, limit int) ([]*AgentEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, tenant_id, event, created_at
		FROM agent_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		var ev AgentEvent
		var createdAtStr string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.TenantID, &ev.Event, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning agent event: %w", err)
		}
		ev.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent events: %w", err)
	}

	return events, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job row, parsing the timestamp columns.
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var createdAtStr string
	var resolvedAtStr sql.NullString

	if err := row.Scan(
		&job.JobID,
		&job.TenantID,
		&job.State,
		&job.Message,
		&createdAtStr,
		&resolvedAtStr,
	); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	job.CreatedAt = createdAt

	if resolvedAtStr.Valid {
		resolvedAt, err := time.Parse(timeFormat, resolvedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		job.ResolvedAt = &resolvedAt
	}

	return &job, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
