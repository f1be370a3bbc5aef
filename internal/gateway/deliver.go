package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const sendTimeout = 10 * time.Second

// SendMessageToSession delivers a normalized message over the first
// healthy path: the originating session, then every other session of
// the same user, then the session resolved by email. Transport errors
// are logged per attempt and never abort the remaining chain. Returns
// false when no live session accepted the frame; callers then fall back
// to persistence for offline delivery.
func (g *Gateway) SendMessageToSession(sessionID string, msg *OutgoingMessage, userID, userEmail string) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal outgoing message", "correlation_id", msg.CorrelationID, "error", err)
		return false
	}

	attempted := make(map[string]bool)

	if g.trySend(sessionID, data, attempted) {
		return true
	}

	for _, s := range g.registry.ByUserID(userID) {
		if g.trySend(s.ID, data, attempted) {
			slog.Info("message delivered to fallback session",
				"session_id", s.ID, "user_id", userID, "correlation_id", msg.CorrelationID)
			return true
		}
	}

	if s := g.registry.ByEmail(userEmail); s != nil {
		if g.trySend(s.ID, data, attempted) {
			slog.Info("message delivered via email lookup",
				"session_id", s.ID, "correlation_id", msg.CorrelationID)
			return true
		}
	}

	slog.Warn("message undeliverable to any live session",
		"session_id", sessionID, "user_id", userID, "correlation_id", msg.CorrelationID)
	return false
}

// trySend writes to one session, re-resolved through the registry at
// the moment of use. Each session is attempted at most once per chain.
func (g *Gateway) trySend(sessionID string, data []byte, attempted map[string]bool) bool {
	if sessionID == "" || attempted[sessionID] {
		return false
	}
	attempted[sessionID] = true

	s := g.registry.Get(sessionID)
	if s == nil || !s.Conn.IsOpen() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.Conn.Send(ctx, data); err != nil {
		slog.Warn("session send failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}
