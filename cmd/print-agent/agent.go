// ABOUTME: Bridge session loop: register, receive jobs, print, report results
// ABOUTME: Reconnects with exponential backoff whenever the connection drops

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waitronhq/print-bridge/internal/protocol"
)

// Agent owns the printer backend and keeps one bridge session alive.
type Agent struct {
	cfg     *Config
	printer Printer
	logger  *slog.Logger
}

func NewAgent(cfg *Config, logger *slog.Logger) (*Agent, error) {
	printer, err := newPrinter(cfg.Printer)
	if err != nil {
		return nil, err
	}
	return &Agent{cfg: cfg, printer: printer, logger: logger}, nil
}

// Run connects to the bridge and blocks until ctx is canceled. Every session
// failure is retried with exponential backoff, capped at reconnect_max; a
// session that held for over a minute resets the backoff.
func (a *Agent) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		start := time.Now()
		err := a.runSession(ctx)
		held := time.Since(start)

		if ctx.Err() != nil {
			return nil
		}
		if held > time.Minute {
			backoff = time.Second
		}
		if err != nil {
			a.logger.Warn("bridge session ended", "error", err, "retry_in", backoff)
		} else {
			a.logger.Warn("bridge connection lost", "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > a.cfg.Bridge.ReconnectMax {
			backoff = a.cfg.Bridge.ReconnectMax
		}
	}
}

func (a *Agent) runSession(ctx context.Context) error {
	header := http.Header{}
	if a.cfg.Bridge.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Bridge.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.Bridge.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing bridge: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dialing bridge: %w", err)
	}

	sess := &agentSession{
		conn:    conn,
		printer: a.printer,
		logger:  a.logger,
	}
	return sess.run(ctx, a.cfg)
}

// agentSession is one live connection to the bridge.
type agentSession struct {
	conn    *websocket.Conn
	printer Printer
	logger  *slog.Logger

	// writeMu serializes frames from the job loop and the health ticker.
	writeMu sync.Mutex
}

func (s *agentSession) writeEvent(event string, data any) error {
	raw, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *agentSession) readEvent() (*protocol.Envelope, error) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(raw)
}

func (s *agentSession) run(ctx context.Context, cfg *Config) error {
	defer s.conn.Close()

	// Unblock the read loop when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-stop:
		}
	}()

	if err := s.writeEvent(protocol.EventRegister, protocol.Register{TenantID: cfg.Bridge.TenantID}); err != nil {
		return fmt.Errorf("sending register: %w", err)
	}

	// The bridge answers with connected, or error right before closing.
	env, err := s.readEvent()
	if err != nil {
		return fmt.Errorf("awaiting registration ack: %w", err)
	}
	switch env.Event {
	case protocol.EventConnected:
		var ack protocol.Connected
		_ = json.Unmarshal(env.Data, &ack)
		s.logger.Info("registered with bridge", "tenant_id", cfg.Bridge.TenantID, "message", ack.Message)
	case protocol.EventError:
		var wireErr protocol.Error
		_ = json.Unmarshal(env.Data, &wireErr)
		return fmt.Errorf("registration rejected: %s", wireErr.Message)
	default:
		return fmt.Errorf("unexpected %s event during registration", env.Event)
	}

	go s.healthLoop(stop, cfg.Bridge.HealthInterval)

	// Jobs are handled in arrival order, one at a time.
	for {
		env, err := s.readEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from bridge: %w", err)
		}

		switch env.Event {
		case protocol.EventJob:
			s.handleJob(ctx, env.Data)
		case protocol.EventError:
			var wireErr protocol.Error
			_ = json.Unmarshal(env.Data, &wireErr)
			s.logger.Warn("bridge error", "message", wireErr.Message)
		default:
			s.logger.Debug("ignoring event", "event", env.Event)
		}
	}
}

func (s *agentSession) healthLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := s.writeEvent(protocol.EventHealth, protocol.Health{
				Status:    "ok",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				s.logger.Debug("health report failed", "error", err)
				return
			}
		}
	}
}

func (s *agentSession) handleJob(ctx context.Context, data json.RawMessage) {
	var job protocol.Job
	if err := json.Unmarshal(data, &job); err != nil || job.JobID == "" {
		s.logger.Warn("malformed job event", "error", err)
		return
	}

	success, message := s.printJob(ctx, job)
	if err := s.writeEvent(protocol.EventResult, protocol.Result{
		JobID:   job.JobID,
		Success: success,
		Message: message,
	}); err != nil {
		s.logger.Warn("sending result", "job_id", job.JobID, "error", err)
	}
}

func (s *agentSession) printJob(ctx context.Context, job protocol.Job) (bool, string) {
	if job.Format != "" && job.Format != protocol.FormatBase64 {
		return false, fmt.Sprintf("unsupported payload format %q", job.Format)
	}
	payload, err := base64.StdEncoding.DecodeString(job.Payload)
	if err != nil {
		return false, "payload is not valid base64"
	}

	start := time.Now()
	if err := s.printer.Print(ctx, payload); err != nil {
		s.logger.Error("print failed", "job_id", job.JobID, "error", err)
		return false, err.Error()
	}

	s.logger.Info("job printed",
		"job_id", job.JobID,
		"bytes", len(payload),
		"elapsed", time.Since(start),
	)
	return true, fmt.Sprintf("printed %d bytes", len(payload))
}
