// ABOUTME: Sentinel errors for the agent bridge: registration, dispatch, and session failures.
// ABOUTME: Callers branch with errors.Is; HTTP handlers map these to status codes.

package agent

import "errors"

// ErrInvalidRegistration indicates a registration message with a missing or
// malformed tenant id. The session is told and then closed.
var ErrInvalidRegistration = errors.New("invalid registration")

// ErrRegistrationTimeout indicates a connection that never registered within
// the registration window. The session is told and then closed.
var ErrRegistrationTimeout = errors.New("registration timeout")

// ErrNoAgentConnected indicates a dispatch attempt for a tenant with no live
// agent session. Returned synchronously, before anything is sent.
var ErrNoAgentConnected = errors.New("no agent connected")

// ErrDispatchFailed indicates the transport rejected the outbound job send.
// Returned immediately rather than waiting out the timeout.
var ErrDispatchFailed = errors.New("dispatch failed")

// ErrDispatchTimeout indicates no result arrived before the job's deadline.
var ErrDispatchTimeout = errors.New("dispatch timeout")

// ErrSessionClosed indicates a send on a session that has already closed.
var ErrSessionClosed = errors.New("session closed")

// ErrSendBufferFull indicates the session's outbound buffer is saturated.
var ErrSendBufferFull = errors.New("session send buffer full")
