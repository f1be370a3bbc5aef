// Package cache provides a key-normalized TTL cache with
// stale-while-revalidate semantics and inflight request deduplication.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher produces the value for a cache key. It is only invoked on the
// miss path or during background revalidation.
type Fetcher func(ctx context.Context) (any, error)

// Service is a bounded LRU cache. Reads never fail: only the wrapped
// fetcher can error, and that error reaches miss-path callers only.
type Service struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	refreshing map[string]struct{}
	group      singleflight.Group
	ttl        time.Duration
	maxEntries int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	inflight  atomic.Int64
}

type entry struct {
	key  string
	at   time.Time
	data any
	elem *list.Element
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Entries   int64 `json:"entries"`
	Inflight  int64 `json:"inflight"`
	Evictions int64 `json:"evictions"`
}

// New creates a cache holding at most maxEntries values, each fresh for
// ttl after its last store.
func New(ttl time.Duration, maxEntries int) *Service {
	return &Service{
		entries:    make(map[string]*entry),
		order:      list.New(),
		refreshing: make(map[string]struct{}),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Key builds the canonical cache key for a kind and parameter map.
// Parameters are serialized in sorted key order so permuted but
// equivalent maps collide on the same key.
func Key(kind string, params map[string]string) string {
	if len(params) == 0 {
		return kind
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// FetchWithCache returns the cached value for (kind, params), fetching
// it when absent. A present-but-stale entry is returned immediately and
// refreshed once in the background. Concurrent miss-path callers for
// the same key share a single fetch.
func (s *Service) FetchWithCache(ctx context.Context, kind string, params map[string]string, fetch Fetcher) (any, error) {
	key := Key(kind, params)

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.hits.Add(1)
		s.order.MoveToFront(e.elem)
		data := e.data
		stale := time.Since(e.at) > s.ttl
		if stale {
			if _, busy := s.refreshing[key]; !busy {
				s.refreshing[key] = struct{}{}
				go s.revalidate(key, fetch)
			}
		}
		s.mu.Unlock()
		return data, nil
	}
	s.misses.Add(1)
	s.mu.Unlock()

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	v, err, _ := s.group.Do(key, func() (any, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.store(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// revalidate refreshes a stale entry without blocking any caller. The
// fetch runs detached from the triggering request's context so a client
// disconnect does not abort it; a failure leaves the stale entry in
// place for the next caller.
func (s *Service) revalidate(key string, fetch Fetcher) {
	defer func() {
		s.mu.Lock()
		delete(s.refreshing, key)
		s.mu.Unlock()
	}()

	data, err := fetch(context.Background())
	if err != nil {
		slog.Warn("cache revalidation failed, serving stale entry", "key", key, "error", err)
		return
	}
	s.store(key, data)
}

func (s *Service) store(key string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.data = data
		e.at = time.Now()
		s.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, at: time.Now(), data: data}
	e.elem = s.order.PushFront(e)
	s.entries[key] = e

	for len(s.entries) > s.maxEntries {
		back := s.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		s.order.Remove(back)
		delete(s.entries, victim.key)
		s.evictions.Add(1)
	}
}

// Invalidate removes entries by exact key, by prefix, or entirely when
// both keys and prefix are empty. It returns the number removed.
func (s *Service) Invalidate(keys []string, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	switch {
	case len(keys) > 0:
		for _, key := range keys {
			if e, ok := s.entries[key]; ok {
				s.order.Remove(e.elem)
				delete(s.entries, key)
				removed++
			}
		}
	case prefix != "":
		for key, e := range s.entries {
			if strings.HasPrefix(key, prefix) {
				s.order.Remove(e.elem)
				delete(s.entries, key)
				removed++
			}
		}
	default:
		removed = len(s.entries)
		s.entries = make(map[string]*entry)
		s.order.Init()
	}
	return removed
}

// GetStats returns a snapshot of the cache counters.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	entries := int64(len(s.entries))
	s.mu.Unlock()

	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Entries:   entries,
		Inflight:  s.inflight.Load(),
		Evictions: s.evictions.Load(),
	}
}
