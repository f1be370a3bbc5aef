package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// isBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// isLockedError checks if the error is a "database is locked" error.
// This is another form of SQLite concurrency error.
func isLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// isConflictError checks if the error is either a SQLITE_BUSY or
// "database is locked" error. Both warrant retry logic.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	return isBusyError(err) || isLockedError(err)
}

const (
	busyMaxRetries = 3
	busyBaseDelay  = 50 * time.Millisecond
)

// withBusyRetry runs op, retrying with exponential backoff when SQLite
// reports a lock conflict. Non-conflict errors return immediately.
func withBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < busyMaxRetries; i++ {
		err = op()
		if err == nil || !isConflictError(err) {
			return err
		}
		if i < busyMaxRetries-1 {
			delay := busyBaseDelay * time.Duration(1<<i)
			slog.Debug("database locked, retrying", "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}
