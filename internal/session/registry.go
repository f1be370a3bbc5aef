// Package session provides the in-memory directory of live chat
// connections.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Close reasons passed to the transport when the registry tears a
// connection down.
const (
	CloseReasonTimeout  = "session timeout"
	CloseReasonShutdown = "server shutdown"
)

// Conn is the transport handle owned by a session. The gateway wraps
// the real socket; tests substitute fakes.
type Conn interface {
	// Send writes one text frame to the peer.
	Send(ctx context.Context, data []byte) error
	// Close closes the transport with a human-readable reason.
	Close(reason string) error
	// IsOpen reports whether the transport can still accept writes.
	IsOpen() bool
}

// Session represents one live, authenticated connection. Sessions are
// owned by the Registry; callers hold the id and re-resolve before each
// use because a session can be removed concurrently.
type Session struct {
	ID            string
	UserID        string
	UserEmail     string
	Conn          Conn
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	Metadata      map[string]string
}

// Registry indexes sessions by id and by user id, sweeps stale sessions
// in the background, and closes everything on shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{} // userID -> set of session ids
	timeout  time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry and starts the staleness sweep.
// Sessions quiet for longer than timeout are closed and removed.
func NewRegistry(timeout, sweepInterval time.Duration) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
		timeout:  timeout,
		done:     make(chan struct{}),
	}
	go r.sweepLoop(sweepInterval)
	return r
}

// Create registers a new session for an authenticated connection.
func (r *Registry) Create(conn Conn, userID, userEmail string, metadata map[string]string) *Session {
	now := time.Now()
	s := &Session{
		ID:            uuid.New().String(),
		UserID:        userID,
		UserEmail:     userEmail,
		Conn:          conn,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Metadata:      metadata,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][s.ID] = struct{}{}
	r.mu.Unlock()

	slog.Info("session registered", "session_id", s.ID, "user_id", userID)
	return s
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// ByUserID returns every live session belonging to a user.
func (r *Registry) ByUserID(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	sessions := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := r.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// ByEmail returns the first session matching an email. A user with
// several tabs has several matches; any one of them serves.
func (r *Registry) ByEmail(email string) *Session {
	if email == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.UserEmail == email {
			return s
		}
	}
	return nil
}

// UpdateHeartbeat bumps the session's heartbeat. It returns false when
// the session no longer exists, telling the caller to stop pinging.
// The timestamp only moves forward.
func (r *Registry) UpdateHeartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if now := time.Now(); now.After(s.LastHeartbeat) {
		s.LastHeartbeat = now
	}
	return true
}

// Remove deletes a session from both indexes. Idempotent: removing a
// missing session returns false.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	if ids, ok := r.byUser[s.UserID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes and removes every session whose heartbeat is older than
// the timeout. Close errors are logged and never block removal.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.timeout)

	r.mu.Lock()
	var stale []*Session
	for _, s := range r.sessions {
		if s.LastHeartbeat.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	// Close first, so the peer receives the timeout reason while the
	// session is still resolvable, then drop it from the indexes.
	for _, s := range stale {
		if err := s.Conn.Close(CloseReasonTimeout); err != nil {
			slog.Warn("failed to close stale session", "session_id", s.ID, "error", err)
		}
		r.Remove(s.ID)
		slog.Info("session swept", "session_id", s.ID, "user_id", s.UserID)
	}
}

// Shutdown stops the sweep, closes every transport best-effort, and
// clears all state. Intended to run exactly once during process
// termination; extra calls are no-ops.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		sessions := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			sessions = append(sessions, s)
		}
		r.sessions = make(map[string]*Session)
		r.byUser = make(map[string]map[string]struct{})
		r.mu.Unlock()

		for _, s := range sessions {
			if err := s.Conn.Close(CloseReasonShutdown); err != nil {
				slog.Debug("failed to close session during shutdown", "session_id", s.ID, "error", err)
			}
		}
		slog.Info("session registry shut down", "closed", len(sessions))
	})
}
