// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"trendwire/internal/domain"
)

// Repository defines the narrow persistence contract consumed by the
// chat pipeline. Every call made from the live message path is
// best-effort at the call site: failures are logged and swallowed so a
// user's chat never fails because a write did.
type Repository interface {
	// GetOrCreateDefaultChannel returns the id of the user's default
	// channel, creating it on first use.
	GetOrCreateDefaultChannel(ctx context.Context, userID string) (int64, error)

	// SaveMessage persists a chat message and returns its id.
	SaveMessage(ctx context.Context, msg *domain.Message) (int64, error)

	// RecentMessages returns the newest messages for a channel, newest
	// first, bounded by limit.
	RecentMessages(ctx context.Context, channelID int64, limit int) ([]*domain.Message, error)

	// LogAuditMessage records an in/out audit entry for a user.
	LogAuditMessage(ctx context.Context, userID, direction, payload string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
