// Package agent manages reverse connections from on-premises print agents.
//
// # Overview
//
// Print agents dial out from a restaurant's LAN and register for their
// tenant. This package owns everything between the transport and the caller:
// the session abstraction, the per-tenant registry, and the job dispatcher
// that correlates outbound jobs with inbound results.
//
// # Session
//
// Session is a transport-agnostic bidirectional channel. The concrete
// WSSession wraps a gorilla/websocket connection with the usual pump split:
// ReadPump delivers inbound frames on the connection's goroutine, WritePump
// drains a buffered send queue and keeps the peer alive with pings. Send
// never blocks beyond that buffering.
//
// A session's lifecycle is Connecting → AwaitingRegistration → Registered →
// Closed, with Closed reachable from every state. A session binds to exactly
// one tenant for its whole life.
//
// # Registry
//
// The Registry maps tenant id → current live session, at most one per tenant.
// Registration is last-wins: a new agent instance for a tenant displaces and
// closes the previous session. Unregister only removes an entry while it
// still points at the closing session, so a slow close from a displaced
// session cannot evict its replacement.
//
// # Dispatcher
//
// Dispatch looks up the tenant's session, assigns a fresh job id, inserts a
// correlation entry with a deadline, sends the job, and returns a buffered
// channel carrying exactly one DispatchResult:
//
//	jobID, ch, err := dispatcher.Dispatch(ctx, "T1", payload, 30*time.Second)
//	if err != nil {
//	    // ErrNoAgentConnected or ErrDispatchFailed, nothing in flight
//	}
//	res := <-ch // agent's answer, or Err == ErrDispatchTimeout
//
// Results arrive via HandleResult; entries whose deadline passes are rejected
// by a periodic sweep. Both paths remove entries through one primitive, so
// every job resolves exactly once. Late or duplicate results are discarded at
// debug level.
//
// # Thread safety
//
// Registry and Dispatcher are safe for concurrent use. Registry mutations
// hold its mutex end to end; the displaced session is closed after unlock so
// its close callback can re-enter Unregister without deadlocking.
package agent
