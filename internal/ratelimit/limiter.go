// Package ratelimit implements fixed-window request limiting keyed by
// an arbitrary string (client IP or user id).
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window counter limiter. The window resets lazily:
// the first request after resetAt starts a fresh window. State is
// in-memory only; a restart clears it, which is acceptable for
// short-window abuse protection.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	limit   int
	window  time.Duration
	done    chan struct{}
	once    sync.Once
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// New creates a limiter allowing limit requests per window per key and
// starts the background eviction goroutine.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		entries: make(map[string]*windowEntry),
		limit:   limit,
		window:  window,
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow reports whether a request under key fits in the current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = &windowEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	entry.count++
	return entry.count <= l.limit
}

// Stop terminates the eviction goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// evictLoop periodically removes expired entries to bound memory.
func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, entry := range l.entries {
				if now.After(entry.resetAt) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
