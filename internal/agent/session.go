// ABOUTME: Agent session: lifecycle states plus the websocket-backed implementation.
// ABOUTME: Registry and Dispatcher depend only on the Session interface, never on the transport.

package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waitronhq/print-bridge/internal/protocol"
)

// DefaultRegistrationWindow is how long a new session may stay unregistered
// before it is closed.
const DefaultRegistrationWindow = 10 * time.Second

// State is the lifecycle state of an agent session.
type State int

const (
	// StateConnecting is the initial state, entered when the transport
	// accepts the connection.
	StateConnecting State = iota
	// StateAwaitingRegistration means the registration window is open.
	StateAwaitingRegistration
	// StateRegistered means the session is bound to a tenant.
	StateRegistered
	// StateClosed is terminal and reachable from every other state.
	StateClosed
)

// String returns the state name used in logs and the agents API.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingRegistration:
		return "awaiting_registration"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a bidirectional channel to one connected agent. Implementations
// wrap a concrete push transport; everything above this interface is
// transport-agnostic.
type Session interface {
	// ID returns the connection identifier assigned at accept time.
	ID() string
	// TenantID returns the bound tenant, or "" before registration.
	TenantID() string
	// State returns the current lifecycle state.
	State() State
	// ConnectedAt returns when the transport accepted the connection.
	ConnectedAt() time.Time
	// LastHealthAt returns the time of the last health report, zero if none.
	LastHealthAt() time.Time
	// Send encodes one wire event and hands it to the transport's buffered
	// writer. It never blocks beyond that buffering: a closed session returns
	// ErrSessionClosed, a saturated buffer ErrSendBufferFull.
	Send(event string, data any) error
	// Close tears the session down. Idempotent; the close callback fires
	// exactly once, whatever the cause.
	Close() error
}

// SessionOptions tunes the websocket session. Zero values pick the defaults.
type SessionOptions struct {
	WriteWait      time.Duration // max time to write one message (default 10s)
	PongWait       time.Duration // read deadline between pongs (default 60s)
	PingPeriod     time.Duration // ping interval, must be < PongWait (default 9/10 of PongWait)
	MaxMessageSize int64         // read limit in bytes (default 256 KiB)
	SendBuffer     int           // outbound queue length (default 64)
}

func (o *SessionOptions) withDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 256 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

// WSSession is the websocket-backed Session. The Gateway owns it for its
// lifetime: it runs the pumps, drives the registration state machine, and
// hands the session to the Registry once registered.
type WSSession struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	opts   SessionOptions
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	tenantID     string
	connectedAt  time.Time
	lastHealthAt time.Time
	onClose      func()
}

// NewWSSession wraps an accepted websocket connection. The caller must start
// WritePump and ReadPump for the session to move traffic.
func NewWSSession(id string, conn *websocket.Conn, opts SessionOptions, logger *slog.Logger) *WSSession {
	opts.withDefaults()
	return &WSSession{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, opts.SendBuffer),
		opts:        opts,
		logger:      logger.With("session_id", id),
		state:       StateConnecting,
		connectedAt: time.Now(),
	}
}

// ID returns the session's connection identifier.
func (s *WSSession) ID() string { return s.id }

// TenantID returns the bound tenant, or "" before registration.
func (s *WSSession) TenantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantID
}

// State returns the current lifecycle state.
func (s *WSSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectedAt returns when the transport accepted the connection.
func (s *WSSession) ConnectedAt() time.Time { return s.connectedAt }

// LastHealthAt returns the time of the last health report, zero if none.
func (s *WSSession) LastHealthAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHealthAt
}

// OnClose registers the close callback. Must be called before the pumps start.
func (s *WSSession) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// MarkAwaitingRegistration opens the registration window.
func (s *WSSession) MarkAwaitingRegistration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateAwaitingRegistration
	}
}

// MarkRegistered binds the session to a tenant. Only legal from
// AwaitingRegistration: a session keeps one tenant for its whole life.
func (s *WSSession) MarkRegistered(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingRegistration {
		return fmt.Errorf("cannot register in state %s", s.state)
	}
	s.state = StateRegistered
	s.tenantID = tenantID
	return nil
}

// RecordHealth stamps the last health report time.
func (s *WSSession) RecordHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHealthAt = time.Now()
}

// Send encodes one event and queues it for the write pump.
func (s *WSSession) Send(event string, data any) error {
	raw, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	select {
	case s.send <- raw:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears down the transport and fires the close callback exactly once.
func (s *WSSession) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	close(s.send)
	onClose := s.onClose
	s.mu.Unlock()

	err := s.conn.Close()
	if onClose != nil {
		onClose()
	}
	return err
}

// CloseIfAwaiting closes the session only if the registration window is still
// open, queueing one error event first so the write pump can flush it before
// tearing down the transport. The check and the close happen under one lock,
// so a registration racing the window timer lands on exactly one side.
// Reports whether the session was closed.
func (s *WSSession) CloseIfAwaiting(message string) bool {
	raw, err := protocol.Encode(protocol.EventError, protocol.Error{Message: message})
	if err != nil {
		raw = nil
	}

	s.mu.Lock()
	if s.state != StateAwaitingRegistration {
		s.mu.Unlock()
		return false
	}
	if raw != nil {
		select {
		case s.send <- raw:
		default:
		}
	}
	s.state = StateClosed
	close(s.send)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return true
}

// ReadPump reads frames until the connection dies, passing each raw message to
// handler. It runs on the connection's goroutine; handler calls for one
// session therefore never run concurrently with each other. Closes the
// session on return.
func (s *WSSession) ReadPump(handler func(raw []byte)) {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Debug("close after read pump", "error", err)
		}
	}()

	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("session read ended", "error", err)
			}
			return
		}
		handler(raw)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
// Must run on its own goroutine, one per session.
func (s *WSSession) WritePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.logger.Debug("session write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
