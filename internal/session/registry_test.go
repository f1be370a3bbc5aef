package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeConn records close calls for assertions.
type fakeConn struct {
	mu          sync.Mutex
	open        bool
	closeReason string
	sent        [][]byte
	onClose     func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true}
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	c.open = false
	c.closeReason = reason
	hook := c.onClose
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(timeout, time.Hour) // sweep manually in tests
	t.Cleanup(r.Shutdown)
	return r
}

func TestCreateIndexesByUser(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, time.Minute)
	s := r.Create(newFakeConn(), "user-1", "a@b.com", nil)

	if s.ID == "" {
		t.Fatal("expected generated session id")
	}
	if got := r.Get(s.ID); got != s {
		t.Fatal("Get did not return the created session")
	}

	sessions := r.ByUserID("user-1")
	if len(sessions) != 1 || sessions[0].ID != s.ID {
		t.Fatalf("unexpected user index: %v", sessions)
	}

	if got := r.ByEmail("a@b.com"); got == nil || got.ID != s.ID {
		t.Fatal("ByEmail did not resolve the session")
	}
	if got := r.ByEmail("missing@b.com"); got != nil {
		t.Fatal("ByEmail should return nil for unknown email")
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := r.Create(newFakeConn(), "user-1", "", nil)
		if seen[s.ID] {
			t.Fatalf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestRemoveCleansUserIndex(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, time.Minute)
	s1 := r.Create(newFakeConn(), "user-1", "", nil)
	s2 := r.Create(newFakeConn(), "user-1", "", nil)

	if !r.Remove(s1.ID) {
		t.Fatal("first Remove should report true")
	}
	if r.Remove(s1.ID) {
		t.Fatal("repeat Remove should report false")
	}

	if len(r.ByUserID("user-1")) != 1 {
		t.Fatal("user index should still hold the remaining session")
	}

	r.Remove(s2.ID)
	if sessions := r.ByUserID("user-1"); sessions != nil {
		t.Fatalf("user index entry should be gone, got %v", sessions)
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, time.Minute)
	s := r.Create(newFakeConn(), "user-1", "", nil)
	before := s.LastHeartbeat

	time.Sleep(5 * time.Millisecond)
	if !r.UpdateHeartbeat(s.ID) {
		t.Fatal("UpdateHeartbeat should succeed for a live session")
	}
	if !s.LastHeartbeat.After(before) {
		t.Fatal("heartbeat should move forward")
	}

	r.Remove(s.ID)
	if r.UpdateHeartbeat(s.ID) {
		t.Fatal("UpdateHeartbeat should report false for a removed session")
	}
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 50*time.Millisecond)

	staleConn := newFakeConn()
	stale := r.Create(staleConn, "user-1", "", nil)

	freshConn := newFakeConn()
	fresh := r.Create(freshConn, "user-2", "", nil)

	time.Sleep(70 * time.Millisecond)
	r.UpdateHeartbeat(fresh.ID)
	r.sweep()

	if r.Get(stale.ID) != nil {
		t.Fatal("stale session should be removed by sweep")
	}
	if staleConn.reason() != CloseReasonTimeout {
		t.Fatalf("stale transport closed with %q, want %q", staleConn.reason(), CloseReasonTimeout)
	}
	if r.Get(fresh.ID) == nil {
		t.Fatal("heartbeated session should survive the sweep")
	}
	if !freshConn.IsOpen() {
		t.Fatal("fresh transport should stay open")
	}
}

func TestSweepClosesTransportBeforeRemoval(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 10*time.Millisecond)
	conn := newFakeConn()
	s := r.Create(conn, "user-1", "a@b.com", nil)

	stillRegistered := false
	conn.onClose = func() {
		stillRegistered = r.Get(s.ID) != nil
	}

	time.Sleep(20 * time.Millisecond)
	r.sweep()

	if conn.reason() != CloseReasonTimeout {
		t.Fatalf("transport closed with %q, want %q", conn.reason(), CloseReasonTimeout)
	}
	if !stillRegistered {
		t.Fatal("transport was closed after the session had already been removed")
	}
	if r.Get(s.ID) != nil {
		t.Fatal("session should be removed once its transport is closed")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Minute, time.Hour)
	c1 := newFakeConn()
	c2 := newFakeConn()
	r.Create(c1, "user-1", "", nil)
	r.Create(c2, "user-2", "", nil)

	r.Shutdown()
	r.Shutdown() // second call must be a no-op

	if r.Count() != 0 {
		t.Fatalf("expected cleared registry, got %d sessions", r.Count())
	}
	for i, c := range []*fakeConn{c1, c2} {
		if c.reason() != CloseReasonShutdown {
			t.Errorf("conn %d closed with %q, want %q", i, c.reason(), CloseReasonShutdown)
		}
	}
}
