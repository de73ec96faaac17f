// ABOUTME: Tenant → live agent session registry with last-registration-wins semantics.
// ABOUTME: One entry per tenant; a late close from a displaced session never evicts its replacement.

package agent

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry maps each tenant to its current live agent session. At most one
// session per tenant: registering over an existing entry closes the older
// session, because a new agent instance has taken over for that tenant.
type Registry struct {
	sessions map[string]Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

// RegistryStats is the observability snapshot exposed via stats endpoints.
type RegistryStats struct {
	RegisteredCount int
}

// AgentStatus describes one registered agent for the HTTP API.
type AgentStatus struct {
	TenantID     string
	SessionID    string
	State        string
	ConnectedAt  time.Time
	LastHealthAt time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		logger:   logger,
	}
}

// Register records s as the tenant's current session and returns the session
// it displaced, if any. The displaced session is closed here, outside the
// registry lock: its close callback will call Unregister, which must not
// deadlock against this mutation.
func (r *Registry) Register(tenantID string, s Session) Session {
	r.mu.Lock()
	old, exists := r.sessions[tenantID]
	if exists && old == s {
		r.mu.Unlock()
		return nil
	}
	r.sessions[tenantID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	if exists {
		r.logger.Info("agent replaced, closing stale session",
			"tenant_id", tenantID,
			"old_session_id", old.ID(),
			"new_session_id", s.ID(),
		)
		if err := old.Close(); err != nil {
			r.logger.Debug("closing displaced session", "error", err)
		}
		return old
	}

	r.logger.Info("=== AGENT CONNECTED ===",
		"tenant_id", tenantID,
		"session_id", s.ID(),
		"total_agents", total,
	)
	return nil
}

// Unregister removes the tenant's entry only if it still points at s. A close
// event from a session that has already been replaced is a no-op, so a slow
// disconnect can never evict the newer, valid registration.
func (r *Registry) Unregister(tenantID string, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.sessions[tenantID]
	if !exists || current != s {
		return false
	}
	delete(r.sessions, tenantID)
	r.logger.Info("=== AGENT DISCONNECTED ===",
		"tenant_id", tenantID,
		"session_id", s.ID(),
		"total_agents", len(r.sessions),
	)
	return true
}

// Lookup returns the tenant's current session. Read-only, never blocks beyond
// the read lock.
func (r *Registry) Lookup(tenantID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Stats returns the registered-tenant count.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{RegisteredCount: len(r.sessions)}
}

// Snapshot returns the registered agents sorted by tenant id.
func (r *Registry) Snapshot() []AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentStatus, 0, len(r.sessions))
	for tenantID, s := range r.sessions {
		out = append(out, AgentStatus{
			TenantID:     tenantID,
			SessionID:    s.ID(),
			State:        s.State().String(),
			ConnectedAt:  s.ConnectedAt(),
			LastHealthAt: s.LastHealthAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
