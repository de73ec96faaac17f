// ABOUTME: Websocket endpoint where print agents connect, register, and report results
// ABOUTME: Drives the per-session registration state machine and routes inbound events

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waitronhq/print-bridge/internal/agent"
	"github.com/waitronhq/print-bridge/internal/auth"
	"github.com/waitronhq/print-bridge/internal/events"
	"github.com/waitronhq/print-bridge/internal/idgen"
	"github.com/waitronhq/print-bridge/internal/protocol"
	"github.com/waitronhq/print-bridge/internal/store"
)

// handleBridge upgrades an agent connection and runs its session until the
// connection dies. One goroutine per agent, plus the session's write pump.
func (g *Gateway) handleBridge(w http.ResponseWriter, r *http.Request) {
	if g.verifier != nil {
		token, errMsg := auth.BearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			g.logger.Warn("bridge connection rejected", "reason", errMsg, "remote", r.RemoteAddr)
			http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
			return
		}
		subject, err := g.verifier.Verify(token)
		if err != nil {
			g.logger.Warn("bridge connection rejected", "reason", "invalid token", "remote", r.RemoteAddr)
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		g.logger.Debug("bridge connection authenticated", "subject", subject)
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		g.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sessionID, err := idgen.NewSessionID()
	if err != nil {
		g.logger.Error("generating session id", "error", err)
		_ = conn.Close()
		return
	}

	sess := agent.NewWSSession(sessionID, conn, agent.SessionOptions{
		PingPeriod: g.config.Agents.PingInterval,
		PongWait:   g.config.Agents.PongTimeout,
		SendBuffer: g.config.Agents.SendBuffer,
	}, g.logger)

	g.logger.Info("agent connection accepted", "session_id", sessionID, "remote", r.RemoteAddr)
	g.runSession(sess)
}

// bridgeConn binds one session to the gateway's registry, dispatcher, and
// journal. regTimer is touched only on the session's read goroutine; the
// expiry callback goes through CloseIfAwaiting, which is safe from any
// goroutine.
type bridgeConn struct {
	gateway  *Gateway
	sess     *agent.WSSession
	regTimer *time.Timer
}

// runSession moves the session into the registration window and pumps frames
// until the connection dies. Blocks for the session's lifetime.
func (g *Gateway) runSession(sess *agent.WSSession) {
	b := &bridgeConn{gateway: g, sess: sess}

	sess.OnClose(b.onSessionClose)
	go sess.WritePump()

	sess.MarkAwaitingRegistration()
	b.regTimer = time.AfterFunc(g.registrationWindow, b.expireRegistration)

	sess.ReadPump(b.handleFrame)
}

// expireRegistration fires when the registration window lapses. A session that
// registered in the meantime is left alone.
func (b *bridgeConn) expireRegistration() {
	if b.sess.CloseIfAwaiting("registration timeout: no register event received") {
		b.gateway.logger.Warn("registration window expired, closing session",
			"session_id", b.sess.ID(),
		)
	}
}

// onSessionClose runs exactly once when the session closes, whatever the
// cause: remote disconnect, registration timeout, or displacement by a newer
// registration. Only a still-current registry entry is torn down; the
// identity check in Unregister keeps a displaced session's late close from
// evicting its replacement.
func (b *bridgeConn) onSessionClose() {
	g := b.gateway
	tenantID := b.sess.TenantID()
	if tenantID == "" {
		g.logger.Debug("unregistered session closed", "session_id", b.sess.ID())
		return
	}

	if g.registry.Unregister(tenantID, b.sess) {
		g.metrics.SetAgentsConnected(g.registry.Stats().RegisteredCount)
		g.recordAgentEvent(b.sess.ID(), tenantID, store.AgentEventDisconnected)
		g.publishEvent(events.TopicAgentDisconnected, events.AgentDisconnected{
			SessionID: b.sess.ID(),
			TenantID:  tenantID,
			At:        time.Now(),
		})
	}
}

// handleFrame decodes one inbound frame and routes it by event type. Runs on
// the session's read goroutine, so frames from one agent are handled in order.
func (b *bridgeConn) handleFrame(raw []byte) {
	g := b.gateway

	env, err := protocol.Decode(raw)
	if err != nil {
		if b.sess.CloseIfAwaiting("invalid registration: malformed frame") {
			g.logger.Warn("malformed frame during registration, closing session",
				"session_id", b.sess.ID(),
				"error", err,
			)
			return
		}
		g.logger.Warn("malformed frame", "session_id", b.sess.ID(), "error", err)
		_ = b.sess.Send(protocol.EventError, protocol.Error{Message: "malformed frame"})
		return
	}

	// The first event on a session must be register.
	if env.Event != protocol.EventRegister &&
		b.sess.CloseIfAwaiting("invalid registration: expected register event") {
		g.logger.Warn("session sent events before registering, closing",
			"session_id", b.sess.ID(),
			"event", env.Event,
		)
		return
	}

	switch env.Event {
	case protocol.EventRegister:
		b.handleRegister(env.Data)
	case protocol.EventResult:
		b.handleResult(env.Data)
	case protocol.EventHealth:
		b.handleHealthReport(env.Data)
	default:
		g.logger.Warn("unknown event", "session_id", b.sess.ID(), "event", env.Event)
		_ = b.sess.Send(protocol.EventError, protocol.Error{Message: "unknown event: " + env.Event})
	}
}

// handleRegister validates the registration, binds the session to its tenant,
// and installs it in the registry. Last registration wins: an older session
// for the same tenant is closed.
func (b *bridgeConn) handleRegister(data json.RawMessage) {
	g := b.gateway

	var reg protocol.Register
	if err := json.Unmarshal(data, &reg); err != nil || strings.TrimSpace(reg.TenantID) == "" {
		if b.sess.CloseIfAwaiting("invalid registration: tenantId is required") {
			g.logger.Warn("invalid registration, closing session",
				"session_id", b.sess.ID(),
			)
			return
		}
		// A registered session re-sending garbage keeps its binding.
		_ = b.sess.Send(protocol.EventError, protocol.Error{Message: "invalid registration: tenantId is required"})
		return
	}
	tenantID := strings.TrimSpace(reg.TenantID)

	if err := b.sess.MarkRegistered(tenantID); err != nil {
		// Already registered: the original binding stands, the session stays up.
		g.logger.Warn("duplicate registration rejected",
			"session_id", b.sess.ID(),
			"tenant_id", b.sess.TenantID(),
			"requested_tenant_id", tenantID,
		)
		_ = b.sess.Send(protocol.EventError, protocol.Error{Message: "already registered"})
		return
	}
	b.regTimer.Stop()

	displaced := g.registry.Register(tenantID, b.sess)
	g.metrics.SetAgentsConnected(g.registry.Stats().RegisteredCount)

	if displaced != nil {
		g.recordAgentEvent(displaced.ID(), tenantID, store.AgentEventDisplaced)
		g.publishEvent(events.TopicAgentDisplaced, events.AgentDisplaced{
			OldSessionID: displaced.ID(),
			NewSessionID: b.sess.ID(),
			TenantID:     tenantID,
			At:           time.Now(),
		})
	}

	g.recordAgentEvent(b.sess.ID(), tenantID, store.AgentEventRegistered)
	g.publishEvent(events.TopicAgentRegistered, events.AgentRegistered{
		SessionID: b.sess.ID(),
		TenantID:  tenantID,
		At:        time.Now(),
	})

	if err := b.sess.Send(protocol.EventConnected, protocol.Connected{
		Message: "agent connected for tenant " + tenantID,
	}); err != nil {
		g.logger.Debug("sending connected ack", "session_id", b.sess.ID(), "error", err)
	}
}

// handleResult forwards an agent's answer to the dispatcher, which resolves
// the matching pending job. Unknown job ids are the dispatcher's problem; it
// discards them quietly.
func (b *bridgeConn) handleResult(data json.RawMessage) {
	g := b.gateway

	var res protocol.Result
	if err := json.Unmarshal(data, &res); err != nil || res.JobID == "" {
		g.logger.Warn("malformed result event", "session_id", b.sess.ID(), "error", err)
		return
	}

	g.dispatcher.HandleResult(res.JobID, res.Success, res.Message)
}

// handleHealthReport records an agent's periodic health ping. Advisory only;
// liveness is decided by the websocket ping/pong cycle.
func (b *bridgeConn) handleHealthReport(data json.RawMessage) {
	g := b.gateway

	var h protocol.Health
	if err := json.Unmarshal(data, &h); err != nil {
		g.logger.Warn("malformed health event", "session_id", b.sess.ID(), "error", err)
		return
	}

	b.sess.RecordHealth()
	g.logger.Debug("agent health report",
		"session_id", b.sess.ID(),
		"tenant_id", b.sess.TenantID(),
		"status", h.Status,
		"timestamp", h.Timestamp,
	)
}

// recordAgentEvent appends one audit row, logging instead of failing.
func (g *Gateway) recordAgentEvent(sessionID, tenantID, event string) {
	if err := g.store.RecordAgentEvent(context.Background(), sessionID, tenantID, event); err != nil {
		g.logger.Warn("recording agent event", "event", event, "error", err)
	}
}

// publishEvent emits one lifecycle event, logging instead of failing.
func (g *Gateway) publishEvent(topic string, event any) {
	if err := g.publisher.Publish(context.Background(), topic, event); err != nil {
		g.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
