// ABOUTME: Registry tests: last-registration-wins, stale-close guard, lookup, stats.
// ABOUTME: Uses fakeSession; no transport involved.

package agent

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(testLogger())
	s := newFakeSession("ses-1", "T1")

	if displaced := r.Register("T1", s); displaced != nil {
		t.Errorf("Register() displaced %v, want nil", displaced.ID())
	}

	got, ok := r.Lookup("T1")
	if !ok {
		t.Fatal("Lookup(T1) = not found, want session")
	}
	if got.ID() != "ses-1" {
		t.Errorf("Lookup(T1).ID() = %q, want %q", got.ID(), "ses-1")
	}
	if stats := r.Stats(); stats.RegisteredCount != 1 {
		t.Errorf("Stats().RegisteredCount = %d, want 1", stats.RegisteredCount)
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry(testLogger())
	if _, ok := r.Lookup("nobody"); ok {
		t.Error("Lookup(nobody) = found, want not found")
	}
}

func TestRegistry_DoubleRegister_LastWins(t *testing.T) {
	r := NewRegistry(testLogger())
	first := newFakeSession("ses-1", "T1")
	second := newFakeSession("ses-2", "T1")

	r.Register("T1", first)
	displaced := r.Register("T1", second)

	if displaced == nil || displaced.ID() != "ses-1" {
		t.Fatalf("Register() displaced = %v, want ses-1", displaced)
	}
	if !first.isClosed() {
		t.Error("first session not closed after being displaced")
	}
	if second.isClosed() {
		t.Error("second session closed, want open")
	}

	got, ok := r.Lookup("T1")
	if !ok || got.ID() != "ses-2" {
		t.Errorf("Lookup(T1) = %v, want ses-2", got)
	}
	if stats := r.Stats(); stats.RegisteredCount != 1 {
		t.Errorf("Stats().RegisteredCount = %d, want exactly 1 entry", stats.RegisteredCount)
	}
}

func TestRegistry_StaleCloseGuard(t *testing.T) {
	r := NewRegistry(testLogger())
	first := newFakeSession("ses-1", "T1")
	second := newFakeSession("ses-2", "T1")

	r.Register("T1", first)
	r.Register("T1", second)

	// The displaced session's close event arrives late. It must not evict
	// the newer registration.
	if removed := r.Unregister("T1", first); removed {
		t.Error("Unregister() with stale session removed the entry")
	}

	got, ok := r.Lookup("T1")
	if !ok || got.ID() != "ses-2" {
		t.Errorf("Lookup(T1) after stale unregister = %v, want ses-2", got)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(testLogger())
	s := newFakeSession("ses-1", "T1")

	r.Register("T1", s)
	if removed := r.Unregister("T1", s); !removed {
		t.Error("Unregister() = false, want true")
	}
	if _, ok := r.Lookup("T1"); ok {
		t.Error("Lookup(T1) after unregister = found, want not found")
	}
	if stats := r.Stats(); stats.RegisteredCount != 0 {
		t.Errorf("Stats().RegisteredCount = %d, want 0", stats.RegisteredCount)
	}
}

func TestRegistry_UnregisterUnknownTenant(t *testing.T) {
	r := NewRegistry(testLogger())
	if removed := r.Unregister("T1", newFakeSession("ses-1", "T1")); removed {
		t.Error("Unregister() on empty registry = true, want false")
	}
}

func TestRegistry_SameSessionTwice(t *testing.T) {
	r := NewRegistry(testLogger())
	s := newFakeSession("ses-1", "T1")

	r.Register("T1", s)
	if displaced := r.Register("T1", s); displaced != nil {
		t.Errorf("re-registering the same session displaced %v, want nil", displaced.ID())
	}
	if s.isClosed() {
		t.Error("session closed by re-registering itself")
	}
}

func TestRegistry_DisplacedCloseCallbackReenters(t *testing.T) {
	// The bridge wires each session's close callback to Unregister. When a
	// registration displaces an older session, that callback fires from
	// inside Register's code path and must neither deadlock nor evict the
	// new entry.
	r := NewRegistry(testLogger())
	first := newFakeSession("ses-1", "T1")
	first.onClose = func() { r.Unregister("T1", first) }
	second := newFakeSession("ses-2", "T1")

	r.Register("T1", first)
	r.Register("T1", second)

	got, ok := r.Lookup("T1")
	if !ok || got.ID() != "ses-2" {
		t.Errorf("Lookup(T1) = %v, want ses-2", got)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register("T2", newFakeSession("ses-2", "T2"))
	r.Register("T1", newFakeSession("ses-1", "T1"))

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d entries, want 2", len(snap))
	}
	if snap[0].TenantID != "T1" || snap[1].TenantID != "T2" {
		t.Errorf("Snapshot() not sorted by tenant: %v, %v", snap[0].TenantID, snap[1].TenantID)
	}
	if snap[0].State != "registered" {
		t.Errorf("Snapshot()[0].State = %q, want %q", snap[0].State, "registered")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tenant := fmt.Sprintf("T%d", n)
			s := newFakeSession(fmt.Sprintf("ses-%d", n), tenant)
			r.Register(tenant, s)
			r.Lookup(tenant)
			if n%2 == 0 {
				r.Unregister(tenant, s)
			}
		}(i)
	}
	wg.Wait()

	if stats := r.Stats(); stats.RegisteredCount != 10 {
		t.Errorf("Stats().RegisteredCount = %d, want 10", stats.RegisteredCount)
	}
}
