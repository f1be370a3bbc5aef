package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trendwire/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. modernc
	// applies each _pragma to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, name)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		user_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL,
		structured_data BLOB,
		metadata BLOB,
		webhook_response BLOB,
		media_url TEXT,
		media_type TEXT,
		media_caption TEXT,
		correlation_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const defaultChannelName = "general"

// GetOrCreateDefaultChannel returns the user's default channel id,
// creating the channel on first use.
func (s *SQLiteStore) GetOrCreateDefaultChannel(ctx context.Context, userID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM channels WHERE user_id = ? AND name = ?`,
		userID, defaultChannelName,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("query default channel: %w", err)
	}

	// RETURNING yields the surviving row id on both the insert and the
	// conflict path, so a racing creation cannot leak a stale rowid
	// from this connection's previous insert.
	err = withBusyRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO channels (user_id, name, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id, name) DO UPDATE SET name = name
			 RETURNING id`,
			userID, defaultChannelName, time.Now().Unix(),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("create default channel: %w", err)
	}
	return id, nil
}

// SaveMessage persists a chat message and returns its id.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var id int64
	err := withBusyRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO messages
			 (channel_id, user_id, role, content, content_type, structured_data,
			  metadata, webhook_response, media_url, media_type, media_caption,
			  correlation_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 RETURNING id`,
			msg.ChannelID, nullString(msg.UserID), string(msg.Role), msg.Content,
			string(msg.ContentType), msg.StructuredData, msg.Metadata,
			msg.WebhookResponse, nullString(msg.MediaURL), nullString(msg.MediaType),
			nullString(msg.MediaCaption), nullString(msg.CorrelationID),
			msg.CreatedAt.Unix(),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	return id, nil
}

// RecentMessages returns the newest messages for a channel, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, channelID int64, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, user_id, role, content, content_type,
		        structured_data, metadata, webhook_response,
		        media_url, media_type, media_caption, correlation_id, created_at
		 FROM messages WHERE channel_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var userID, mediaURL, mediaType, caption, corrID sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&msg.ID, &msg.ChannelID, &userID, &msg.Role, &msg.Content,
			&msg.ContentType, &msg.StructuredData, &msg.Metadata,
			&msg.WebhookResponse, &mediaURL, &mediaType, &caption,
			&corrID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.UserID = userID.String
		msg.MediaURL = mediaURL.String
		msg.MediaType = mediaType.String
		msg.MediaCaption = caption.String
		msg.CorrelationID = corrID.String
		msg.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

// LogAuditMessage records an in/out audit entry for a user.
func (s *SQLiteStore) LogAuditMessage(ctx context.Context, userID, direction, payload string) error {
	err := withBusyRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO audit_log (user_id, direction, payload, created_at)
			 VALUES (?, ?, ?, ?)`,
			userID, direction, payload, time.Now().Unix(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
