package api

import (
	"log/slog"
	"net/http"

	"trendwire/internal/auth"
	"trendwire/internal/domain"
	"trendwire/internal/gateway"
	"trendwire/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Deliverer pushes a normalized message to a live session, falling back
// across the user's other sessions. The gateway implements it.
type Deliverer interface {
	SendMessageToSession(sessionID string, msg *gateway.OutgoingMessage, userID, userEmail string) bool
}

// MessageHandler handles server-initiated message delivery. Upstream
// workflows call it to push async replies that were not ready during
// the original chat turn.
type MessageHandler struct {
	verifier  auth.Verifier
	deliverer Deliverer
	repo      store.Repository
}

// NewMessageHandler creates a message handler with injected collaborators.
func NewMessageHandler(verifier auth.Verifier, deliverer Deliverer, repo store.Repository) *MessageHandler {
	return &MessageHandler{verifier: verifier, deliverer: deliverer, repo: repo}
}

// RegisterRoutes registers message routes.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/messages/send", h.Send)
}

type sendRequest struct {
	UserID         string           `json:"userId"`
	Email          string           `json:"email"`
	SessionID      string           `json:"sessionId"`
	Content        string           `json:"content"`
	ContentType    string           `json:"contentType"`
	CorrelationID  string           `json:"correlationId"`
	StructuredData any              `json:"structuredData"`
	Metadata       any              `json:"metadata"`
	Buttons        []gateway.Button `json:"buttons"`
	MediaURL       string           `json:"mediaUrl"`
	MediaType      string           `json:"mediaType"`
	MediaCaption   string           `json:"mediaCaption"`
}

// Send delivers a message to one of the target user's live sessions.
// When no session accepts it, the message is persisted so the client
// picks it up on the next history fetch, and the response reports
// delivered=false.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	if _, err := h.verifier.Verify(bearerToken(r)); err != nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" && req.StructuredData == nil && req.MediaURL == "" {
		Error(w, http.StatusBadRequest, "message has no deliverable content")
		return
	}
	if req.UserID == "" && req.Email == "" && req.SessionID == "" {
		Error(w, http.StatusBadRequest, "no delivery target")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = string(domain.ContentTypeText)
	}
	if !domain.ValidContentType(domain.ContentType(contentType)) {
		Error(w, http.StatusBadRequest, "unknown content type")
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	msg := &gateway.OutgoingMessage{
		Type:           "message",
		Role:           string(domain.RoleAssistant),
		CorrelationID:  correlationID,
		Content:        req.Content,
		ContentType:    contentType,
		StructuredData: req.StructuredData,
		Metadata:       req.Metadata,
		Buttons:        req.Buttons,
		MediaURL:       req.MediaURL,
		MediaType:      req.MediaType,
		MediaCaption:   req.MediaCaption,
	}

	delivered := h.deliverer.SendMessageToSession(req.SessionID, msg, req.UserID, req.Email)
	if !delivered {
		h.persistForPickup(r, req.UserID, msg)
	}

	status := http.StatusOK
	if !delivered {
		status = http.StatusAccepted
	}
	JSON(w, status, map[string]interface{}{
		"delivered":     delivered,
		"correlationId": correlationID,
	})
}

// persistForPickup stores an undelivered push so it survives until the
// user reconnects. Requires a user id; delivery targeted purely by
// session or email has nowhere durable to land.
func (h *MessageHandler) persistForPickup(r *http.Request, userID string, msg *gateway.OutgoingMessage) {
	if h.repo == nil || userID == "" {
		return
	}
	channelID, err := h.repo.GetOrCreateDefaultChannel(r.Context(), userID)
	if err != nil {
		slog.Warn("failed to resolve default channel for push", "user_id", userID, "error", err)
		return
	}
	record := &domain.Message{
		ChannelID:     channelID,
		UserID:        userID,
		Role:          domain.RoleAssistant,
		Content:       msg.Content,
		ContentType:   domain.ContentType(msg.ContentType),
		MediaURL:      msg.MediaURL,
		MediaType:     msg.MediaType,
		MediaCaption:  msg.MediaCaption,
		CorrelationID: msg.CorrelationID,
	}
	record.StructuredData = marshalField(msg.StructuredData)
	record.Metadata = marshalField(msg.Metadata)
	if _, err := h.repo.SaveMessage(r.Context(), record); err != nil {
		slog.Warn("failed to persist undelivered push", "user_id", userID, "error", err)
	}
}
