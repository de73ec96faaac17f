// ABOUTME: End-to-end tests for the websocket bridge: registration, dispatch, teardown.
// ABOUTME: Drives a real gateway over httptest connections with the gorilla dialer.

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waitronhq/print-bridge/internal/auth"
	"github.com/waitronhq/print-bridge/internal/config"
	"github.com/waitronhq/print-bridge/internal/protocol"
	"github.com/waitronhq/print-bridge/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			BridgeAddr: "localhost:0",
			HTTPAddr:   "localhost:0",
		},
		Database: config.DatabaseConfig{
			Path: ":memory:",
		},
		Agents: config.AgentsConfig{
			RegistrationWindow: 500 * time.Millisecond,
			DispatchTimeout:    2 * time.Second,
			SweepInterval:      20 * time.Millisecond,
		},
	}
}

func newGatewayWithConfig(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	t.Cleanup(func() {
		gw.dispatcher.Close()
		_ = gw.store.Close()
	})
	return gw
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return newGatewayWithConfig(t, testConfig())
}

// startBridge serves the bridge handler and returns a ws:// URL for it.
func startBridge(t *testing.T, gw *Gateway) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(gw.handleBridge))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialBridge(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing bridge: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := protocol.Encode(event, data)
	if err != nil {
		t.Fatalf("encoding %s event: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("writing %s event: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	return env
}

// expectClosed fails unless the next read reports a dead connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
}

func waitForCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// register performs the register handshake and consumes the connected ack.
func register(t *testing.T, conn *websocket.Conn, tenantID string) {
	t.Helper()
	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: tenantID})
	env := readEvent(t, conn)
	if env.Event != protocol.EventConnected {
		t.Fatalf("expected connected event, got %q", env.Event)
	}
}

func TestBridge_RegisterReceivesConnectedAck(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))

	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: "tenant-1"})

	env := readEvent(t, conn)
	if env.Event != protocol.EventConnected {
		t.Fatalf("expected connected event, got %q", env.Event)
	}
	var ack protocol.Connected
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("decoding connected data: %v", err)
	}
	if !strings.Contains(ack.Message, "tenant-1") {
		t.Errorf("connected message = %q, want tenant mention", ack.Message)
	}

	if _, ok := gw.registry.Lookup("tenant-1"); !ok {
		t.Errorf("tenant-1 not in registry after connected ack")
	}
	if got := gw.registry.Stats().RegisteredCount; got != 1 {
		t.Errorf("RegisteredCount = %d, want 1", got)
	}
}

func TestBridge_RegisterTrimsTenantID(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))

	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: "  tenant-1  "})
	env := readEvent(t, conn)
	if env.Event != protocol.EventConnected {
		t.Fatalf("expected connected event, got %q", env.Event)
	}

	if _, ok := gw.registry.Lookup("tenant-1"); !ok {
		t.Errorf("trimmed tenant id not in registry")
	}
}

func TestBridge_RegistrationWindowExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Agents.RegistrationWindow = 150 * time.Millisecond
	gw := newGatewayWithConfig(t, cfg)
	conn := dialBridge(t, startBridge(t, gw))

	// Never register: the bridge owes us an error event, then the close.
	env := readEvent(t, conn)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}
	var wireErr protocol.Error
	if err := json.Unmarshal(env.Data, &wireErr); err != nil {
		t.Fatalf("decoding error data: %v", err)
	}
	if !strings.Contains(wireErr.Message, "registration timeout") {
		t.Errorf("error message = %q, want registration timeout", wireErr.Message)
	}

	expectClosed(t, conn)
	if got := gw.registry.Stats().RegisteredCount; got != 0 {
		t.Errorf("RegisteredCount = %d, want 0", got)
	}
}

func TestBridge_EmptyTenantClosesSession(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))

	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: "   "})

	env := readEvent(t, conn)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}
	var wireErr protocol.Error
	if err := json.Unmarshal(env.Data, &wireErr); err != nil {
		t.Fatalf("decoding error data: %v", err)
	}
	if !strings.Contains(wireErr.Message, "tenantId is required") {
		t.Errorf("error message = %q, want tenantId is required", wireErr.Message)
	}

	expectClosed(t, conn)
}

func TestBridge_EventBeforeRegisterCloses(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))

	sendEvent(t, conn, protocol.EventHealth, protocol.Health{Status: "ok"})

	env := readEvent(t, conn)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}
	var wireErr protocol.Error
	if err := json.Unmarshal(env.Data, &wireErr); err != nil {
		t.Fatalf("decoding error data: %v", err)
	}
	if !strings.Contains(wireErr.Message, "expected register event") {
		t.Errorf("error message = %q, want expected register event", wireErr.Message)
	}

	expectClosed(t, conn)
}

func TestBridge_MalformedFrameBeforeRegisterCloses(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	env := readEvent(t, conn)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}

	expectClosed(t, conn)
}

func TestBridge_DuplicateRegisterKeepsBinding(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))

	register(t, conn, "tenant-1")

	// Second register on the same session is rejected without closing it.
	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: "tenant-2"})
	env := readEvent(t, conn)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}
	var wireErr protocol.Error
	if err := json.Unmarshal(env.Data, &wireErr); err != nil {
		t.Fatalf("decoding error data: %v", err)
	}
	if wireErr.Message != "already registered" {
		t.Errorf("error message = %q, want already registered", wireErr.Message)
	}

	if _, ok := gw.registry.Lookup("tenant-2"); ok {
		t.Errorf("tenant-2 should not be registered")
	}
	if _, ok := gw.registry.Lookup("tenant-1"); !ok {
		t.Errorf("tenant-1 binding should survive the duplicate register")
	}

	// The session is still live: another duplicate still gets an answer.
	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: "tenant-3"})
	if env := readEvent(t, conn); env.Event != protocol.EventError {
		t.Fatalf("expected error event after second duplicate, got %q", env.Event)
	}
}

func TestBridge_LastRegistrationWins(t *testing.T) {
	gw := newTestGateway(t)
	url := startBridge(t, gw)

	first := dialBridge(t, url)
	register(t, first, "tenant-1")

	second := dialBridge(t, url)
	register(t, second, "tenant-1")

	// The older session is closed, the newer one owns the tenant.
	expectClosed(t, first)
	if got := gw.registry.Stats().RegisteredCount; got != 1 {
		t.Errorf("RegisteredCount = %d, want 1", got)
	}

	// The displacement is in the journal before the new ack is sent.
	trail, err := gw.store.RecentAgentEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("reading agent events: %v", err)
	}
	found := false
	for _, evt := range trail {
		if evt.Event == store.AgentEventDisplaced && evt.TenantID == "tenant-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("no displaced event in journal: %+v", trail)
	}
}

func TestBridge_ResultResolvesDispatch(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))
	register(t, conn, "tenant-1")

	jobID, resultCh, err := gw.dispatcher.Dispatch(context.Background(), "tenant-1", []byte("receipt #42"), time.Second)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	env := readEvent(t, conn)
	if env.Event != protocol.EventJob {
		t.Fatalf("expected job event, got %q", env.Event)
	}
	var job protocol.Job
	if err := json.Unmarshal(env.Data, &job); err != nil {
		t.Fatalf("decoding job data: %v", err)
	}
	if job.JobID != jobID {
		t.Errorf("wire job id = %q, want %q", job.JobID, jobID)
	}
	if job.Format != protocol.FormatBase64 {
		t.Errorf("job format = %q, want %q", job.Format, protocol.FormatBase64)
	}
	payload, err := base64.StdEncoding.DecodeString(job.Payload)
	if err != nil {
		t.Fatalf("decoding job payload: %v", err)
	}
	if string(payload) != "receipt #42" {
		t.Errorf("job payload = %q, want %q", payload, "receipt #42")
	}

	sendEvent(t, conn, protocol.EventResult, protocol.Result{
		JobID:   jobID,
		Success: true,
		Message: "printed",
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("dispatch result error: %v", res.Err)
		}
		if !res.Success || res.Message != "printed" {
			t.Errorf("result = %+v, want success with message printed", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no dispatch result within 2s")
	}

	// The journal catches up once the result path finishes.
	waitForCond(t, 2*time.Second, func() bool {
		stored, err := gw.store.GetJob(context.Background(), jobID)
		return err == nil && stored.State == store.JobStateCompleted
	})
}

func TestBridge_HealthReportRecorded(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))
	register(t, conn, "tenant-1")

	sendEvent(t, conn, protocol.EventHealth, protocol.Health{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	})

	waitForCond(t, 2*time.Second, func() bool {
		snapshot := gw.registry.Snapshot()
		return len(snapshot) == 1 && !snapshot[0].LastHealthAt.IsZero()
	})
}

func TestBridge_UnknownEventAnsweredWithError(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))
	register(t, conn, "tenant-1")

	sendEvent(t, conn, "reboot", struct{}{})

	env := readEvent(t, conn)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}
	var wireErr protocol.Error
	if err := json.Unmarshal(env.Data, &wireErr); err != nil {
		t.Fatalf("decoding error data: %v", err)
	}
	if !strings.Contains(wireErr.Message, "unknown event") {
		t.Errorf("error message = %q, want unknown event", wireErr.Message)
	}

	// Still registered, still live.
	if _, ok := gw.registry.Lookup("tenant-1"); !ok {
		t.Errorf("tenant-1 should still be registered")
	}
}

func TestBridge_DisconnectUnregisters(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialBridge(t, startBridge(t, gw))
	register(t, conn, "tenant-1")

	_ = conn.Close()

	waitForCond(t, 2*time.Second, func() bool {
		trail, err := gw.store.RecentAgentEvents(context.Background(), 10)
		if err != nil {
			return false
		}
		for _, evt := range trail {
			if evt.Event == store.AgentEventDisconnected && evt.TenantID == "tenant-1" {
				return true
			}
		}
		return false
	})
	if got := gw.registry.Stats().RegisteredCount; got != 0 {
		t.Errorf("RegisteredCount = %d, want 0", got)
	}
}

func TestBridge_AuthRejectsMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "test-secret"
	gw := newGatewayWithConfig(t, cfg)
	url := startBridge(t, gw)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected handshake to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestBridge_AuthAcceptsValidToken(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "test-secret"
	gw := newGatewayWithConfig(t, cfg)
	url := startBridge(t, gw)

	token, err := auth.NewJWTVerifier([]byte("test-secret")).Generate("print-agent", time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dialing with valid token: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	sendEvent(t, conn, protocol.EventRegister, protocol.Register{TenantID: "tenant-1"})
	if env := readEvent(t, conn); env.Event != protocol.EventConnected {
		t.Fatalf("expected connected event, got %q", env.Event)
	}
}
