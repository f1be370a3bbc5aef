// Package gateway accepts WebSocket connections, runs the per-connection
// message state machine, and fans assistant replies out to live
// sessions.
package gateway

// inboundFrame is the envelope for every client-to-server frame.
type inboundFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Button is one tappable reply option attached to an assistant message.
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// OutgoingMessage is the canonical assistant payload written to the
// socket. Upstream responses of any shape are normalized into it.
type OutgoingMessage struct {
	Type            string   `json:"type"`
	Role            string   `json:"role"`
	CorrelationID   string   `json:"correlationId"`
	Content         string   `json:"content"`
	ContentType     string   `json:"contentType"`
	StructuredData  any      `json:"structuredData,omitempty"`
	Metadata        any      `json:"metadata,omitempty"`
	CacheTag        string   `json:"cacheTag,omitempty"`
	Buttons         []Button `json:"buttons,omitempty"`
	WebhookResponse any      `json:"webhookResponse,omitempty"`
	MediaURL        string   `json:"mediaUrl,omitempty"`
	MediaType       string   `json:"mediaType,omitempty"`
	MediaCaption    string   `json:"mediaCaption,omitempty"`
}

// control frames sent by the server.
type connectedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type typedFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type          string `json:"type"`
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}
