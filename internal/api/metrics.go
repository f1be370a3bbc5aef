package api

import (
	"fmt"
	"net/http"

	"trendwire/internal/cache"

	"github.com/go-chi/chi/v5"
)

// StatsSource exposes cache counters. The cache service implements it.
type StatsSource interface {
	GetStats() cache.Stats
}

// SessionCounter reports how many sessions are currently live. The
// session registry implements it.
type SessionCounter interface {
	Count() int
}

// MetricsHandler serves runtime counters in a line-oriented text format.
type MetricsHandler struct {
	stats    StatsSource
	sessions SessionCounter
}

// NewMetricsHandler creates a metrics handler.
func NewMetricsHandler(stats StatsSource, sessions SessionCounter) *MetricsHandler {
	return &MetricsHandler{stats: stats, sessions: sessions}
}

// RegisterRoutes registers the metrics route.
func (h *MetricsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/metrics", h.Metrics)
}

// Metrics writes one counter per line.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	s := h.stats.GetStats()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "cache_hits_total %d\n", s.Hits)
	fmt.Fprintf(w, "cache_misses_total %d\n", s.Misses)
	fmt.Fprintf(w, "cache_entries %d\n", s.Entries)
	fmt.Fprintf(w, "cache_inflight %d\n", s.Inflight)
	fmt.Fprintf(w, "cache_evictions_total %d\n", s.Evictions)
	fmt.Fprintf(w, "sessions_active %d\n", h.sessions.Count())
}
