// ABOUTME: Shared test doubles for the agent package: fakeSession and a quiet logger.
// ABOUTME: fakeSession implements Session with recorded sends and injectable send errors.

package agent

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/waitronhq/print-bridge/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sentEvent is one recorded Send call.
type sentEvent struct {
	event string
	data  any
}

// fakeSession implements Session without a transport.
type fakeSession struct {
	id     string
	tenant string

	mu      sync.Mutex
	sent    []sentEvent
	closed  bool
	sendErr error
	onClose func()
}

func newFakeSession(id, tenant string) *fakeSession {
	return &fakeSession{id: id, tenant: tenant}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) TenantID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenant
}

func (f *fakeSession) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return StateClosed
	}
	if f.tenant != "" {
		return StateRegistered
	}
	return StateAwaitingRegistration
}

func (f *fakeSession) ConnectedAt() time.Time  { return time.Time{} }
func (f *fakeSession) LastHealthAt() time.Time { return time.Time{} }

func (f *fakeSession) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSessionClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{event: event, data: data})
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

// lastJob returns the most recently sent job payload, if any.
func (f *fakeSession) lastJob() (protocol.Job, bool) {
	events := f.sentEvents()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].event == protocol.EventJob {
			if j, ok := events[i].data.(protocol.Job); ok {
				return j, true
			}
		}
	}
	return protocol.Job{}, false
}
