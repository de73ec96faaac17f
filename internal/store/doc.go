// Package store provides persistent storage for the bridge using SQLite.
//
// # Data Models
//
//   - Job: The lifecycle record of one print job, from dispatched to a
//     terminal state (completed, failed, timed_out) with the outcome message.
//   - AgentEvent: One row of the agent connection audit trail (registered,
//     disconnected, displaced).
//
// The store records history only; live dispatch state lives in memory in the
// agent package. A lost or slow database write never fails a print job.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The pure-Go modernc.org/sqlite driver keeps builds cgo-free. Timestamps are
// stored as fixed-width RFC 3339 strings so they sort chronologically.
//
// # Usage
//
// Open a store:
//
//	s, err := store.NewSQLiteStore("/var/lib/print-bridge/bridge.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// Use ":memory:" for tests.
package store
