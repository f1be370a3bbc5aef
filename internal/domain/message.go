// Package domain contains core domain types for the trendwire backend.
package domain

import (
	"time"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType categorizes the payload carried by a message.
type ContentType string

const (
	ContentTypeText    ContentType = "text"
	ContentTypeImage   ContentType = "image"
	ContentTypeVideo   ContentType = "video"
	ContentTypeLink    ContentType = "link"
	ContentTypeTrends  ContentType = "trends"
	ContentTypeTopics  ContentType = "topics"
	ContentTypeSummary ContentType = "summary"
)

// ValidContentType reports whether ct is one of the fixed content types.
func ValidContentType(ct ContentType) bool {
	switch ct {
	case ContentTypeText, ContentTypeImage, ContentTypeVideo,
		ContentTypeLink, ContentTypeTrends, ContentTypeTopics, ContentTypeSummary:
		return true
	}
	return false
}

// Message represents a persisted chat message.
type Message struct {
	ID              int64       `json:"id"`
	ChannelID       int64       `json:"channel_id"`
	UserID          string      `json:"user_id,omitempty"`
	Role            Role        `json:"role"`
	Content         string      `json:"content"`
	ContentType     ContentType `json:"content_type"`
	StructuredData  []byte      `json:"structured_data,omitempty"`
	Metadata        []byte      `json:"metadata,omitempty"`
	WebhookResponse []byte      `json:"webhook_response,omitempty"`
	MediaURL        string      `json:"media_url,omitempty"`
	MediaType       string      `json:"media_type,omitempty"`
	MediaCaption    string      `json:"media_caption,omitempty"`
	CorrelationID   string      `json:"correlation_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Channel groups messages for a user. Every user has a default channel
// created lazily on first use.
type Channel struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
