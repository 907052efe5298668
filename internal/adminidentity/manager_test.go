package adminidentity

import (
	"testing"
	"time"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestAttachCreatesRecordAndIsNotAReconnectionFirstTime(t *testing.T) {
	m := newManager(t)
	reconnected, err := m.Attach("admin-1", "sock-1", "Ada")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if reconnected {
		t.Fatalf("first attach reported as reconnection")
	}

	rec, count, ok := m.Get("admin-1")
	if !ok {
		t.Fatalf("Get: admin-1 not found")
	}
	if rec.DisplayName != "Ada" || count != 1 {
		t.Fatalf("unexpected record: %+v, count=%d", rec, count)
	}
}

func TestAttachReportsReconnectionWhenOwningSessions(t *testing.T) {
	m := newManager(t)
	m.Attach("admin-1", "sock-1", "Ada")
	if err := m.AddOwnedSession("admin-1", "s1"); err != nil {
		t.Fatalf("AddOwnedSession: %v", err)
	}
	m.Detach("sock-1")

	reconnected, err := m.Attach("admin-1", "sock-2", "Ada")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !reconnected {
		t.Fatalf("expected reconnection report on reattach with owned sessions")
	}
}

func TestAssertOwnsAndOwnerOf(t *testing.T) {
	m := newManager(t)
	m.Attach("admin-1", "sock-1", "Ada")
	m.AddOwnedSession("admin-1", "s1")

	if !m.AssertOwns("admin-1", "s1") {
		t.Fatalf("AssertOwns(admin-1, s1) = false, want true")
	}
	if m.AssertOwns("admin-2", "s1") {
		t.Fatalf("AssertOwns(admin-2, s1) = true, want false")
	}
	owner, ok := m.OwnerOf("s1")
	if !ok || owner != "admin-1" {
		t.Fatalf("OwnerOf(s1) = (%q, %v), want (admin-1, true)", owner, ok)
	}
}

func TestRemoveOwnedSessionClearsOwnership(t *testing.T) {
	m := newManager(t)
	m.Attach("admin-1", "sock-1", "Ada")
	m.AddOwnedSession("admin-1", "s1")
	if err := m.RemoveOwnedSession("admin-1", "s1"); err != nil {
		t.Fatalf("RemoveOwnedSession: %v", err)
	}
	if m.AssertOwns("admin-1", "s1") {
		t.Fatalf("session still owned after removal")
	}
}

func TestSweepPurgesIdleUnownedAdminsOnly(t *testing.T) {
	m := newManager(t)
	m.Attach("admin-1", "sock-1", "Ada") // has active socket
	m.Attach("admin-2", "sock-2", "Bob")
	m.AddOwnedSession("admin-2", "s1") // owns a session
	m.Attach("admin-3", "sock-3", "Cid")
	m.Detach("sock-1")
	m.Detach("sock-3") // idle and unowned; eligible for purge

	m.mu.Lock()
	m.byAdmin["admin-3"].record.LastSeen = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	purged := m.Sweep(time.Hour)
	if len(purged) != 1 || purged[0] != "admin-3" {
		t.Fatalf("purged = %v, want [admin-3]", purged)
	}
	if _, _, ok := m.Get("admin-1"); !ok {
		t.Fatalf("admin-1 should not be purged (has active socket)")
	}
	if _, _, ok := m.Get("admin-2"); !ok {
		t.Fatalf("admin-2 should not be purged (owns a session)")
	}
}
