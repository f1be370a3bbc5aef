package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"trendwire/internal/auth"
	"trendwire/internal/domain"
	"trendwire/internal/ratelimit"
	"trendwire/internal/session"
	"trendwire/internal/store"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WebhookSender is the upstream invocation contract consumed by the
// chat pipeline.
type WebhookSender interface {
	SendMessage(ctx context.Context, userEmail, message, sessionID, correlationID, userID string) (any, error)
}

// Gateway upgrades inbound sockets, authenticates them, and runs the
// per-connection message loop.
type Gateway struct {
	verifier          auth.Verifier
	registry          *session.Registry
	userLimiter       *ratelimit.Limiter
	webhook           WebhookSender
	repo              store.Repository
	heartbeatInterval time.Duration
	allowedOrigin     string
	isDev             bool
}

// New creates a gateway. All collaborators are injected so tests can
// substitute fakes.
func New(verifier auth.Verifier, registry *session.Registry, userLimiter *ratelimit.Limiter,
	webhook WebhookSender, repo store.Repository, heartbeatInterval time.Duration,
	allowedOrigin string, isDev bool) *Gateway {
	return &Gateway{
		verifier:          verifier,
		registry:          registry,
		userLimiter:       userLimiter,
		webhook:           webhook,
		repo:              repo,
		heartbeatInterval: heartbeatInterval,
		allowedOrigin:     allowedOrigin,
		isDev:             isDev,
	}
}

// wsConn adapts websocket.Conn to session.Conn. Writes are serialized
// because the heartbeat goroutine and the pipeline share the socket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	open atomic.Bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn}
	c.open.Store(true)
	return c
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if !c.open.Load() {
		return fmt.Errorf("connection closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends a protocol-level ping and waits for the pong. Control
// frames are serialized by the library, so this is safe alongside Send.
func (c *wsConn) Ping(ctx context.Context) error {
	if !c.open.Load() {
		return fmt.Errorf("connection closed")
	}
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close(reason string) error {
	c.open.Store(false)
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) IsOpen() bool {
	return c.open.Load()
}

// markClosed flips the open flag without issuing a close frame, for
// transport-level failures where the peer is already gone.
func (c *wsConn) markClosed() {
	c.open.Store(false)
}

// ServeHTTP handles the WebSocket upgrade and runs the connection until
// it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}

	// connecting -> authenticated: the bearer token travels as a query
	// parameter because browsers cannot set headers on WebSocket
	// upgrades.
	identity, err := g.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		slog.Warn("WebSocket auth failed", "ip", r.RemoteAddr, "error", err)
		_ = ws.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	conn := newWSConn(ws)
	sess := g.registry.Create(conn, identity.UserID, identity.Email, nil)
	defer func() {
		g.registry.Remove(sess.ID)
		conn.markClosed()
		_ = ws.Close(websocket.StatusNormalClosure, "connection ended")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// authenticated -> active: tell the client its session id.
	if err := g.sendJSON(ctx, conn, connectedFrame{Type: "connected", SessionID: sess.ID}); err != nil {
		slog.Warn("failed to send connected frame", "session_id", sess.ID, "error", err)
		return
	}

	go g.heartbeatLoop(ctx, cancel, sess.ID, conn)

	g.readLoop(ctx, sess, conn)
	slog.Info("connection closed", "session_id", sess.ID, "user_id", sess.UserID)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || g.allowedOrigin == "*" || origin == g.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", g.allowedOrigin)
	return false
}

// heartbeatLoop pings the client on a fixed interval using
// protocol-level ping frames, keeping the application wire format free
// of server-initiated pings. A failed ping or a vanished session ends
// the connection.
func (g *Gateway) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, sessionID string, conn *wsConn) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.registry.Get(sessionID) == nil {
				cancel()
				return
			}
			pingCtx, pingCancel := context.WithTimeout(ctx, sendTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("heartbeat ping failed, dropping session", "session_id", sessionID, "error", err)
				g.registry.Remove(sessionID)
				cancel()
				return
			}
			// The pong proves liveness even for clients that never send
			// application-level pings.
			g.registry.UpdateHeartbeat(sessionID)
		}
	}
}

// readLoop processes inbound frames strictly in arrival order.
func (g *Gateway) readLoop(ctx context.Context, sess *session.Session, conn *wsConn) {
	for {
		_, data, err := conn.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sess.ID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "session_id", sess.ID, "error", err)
			}
			conn.markClosed()
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("discarding malformed frame", "session_id", sess.ID, "error", err)
			continue
		}

		switch frame.Type {
		case "ping":
			g.registry.UpdateHeartbeat(sess.ID)
			if err := g.sendJSON(ctx, conn, typedFrame{Type: "pong"}); err != nil {
				slog.Debug("failed to send pong", "session_id", sess.ID, "error", err)
			}
		case "pong":
			g.registry.UpdateHeartbeat(sess.ID)
		case "message":
			g.handleChatMessage(ctx, sess, conn, frame)
		case "typing_start", "typing_stop":
			// Reserved for presence features.
		case "read_receipt":
			slog.Debug("read receipt", "session_id", sess.ID, "message_id", frame.MessageID)
		default:
			// Unknown types are ignored for forward compatibility.
			slog.Debug("unknown frame type", "session_id", sess.ID, "type", frame.Type)
		}
	}
}

// handleChatMessage runs one chat turn: rate limit, audit, webhook,
// normalize, deliver. Persistence failures never fail the turn.
func (g *Gateway) handleChatMessage(ctx context.Context, sess *session.Session, conn *wsConn, frame inboundFrame) {
	if frame.Content == "" {
		slog.Debug("ignoring empty chat message", "session_id", sess.ID)
		return
	}

	correlationID := uuid.New().String()

	if !g.userLimiter.Allow(sess.UserID) {
		slog.Info("chat rate limited", "user_id", sess.UserID, "session_id", sess.ID)
		g.sendError(ctx, conn, "rate limit exceeded, slow down", correlationID)
		return
	}

	// A disconnect mid-turn must not abort the upstream call or the
	// writes that record its outcome; the reply falls through to the
	// delivery fallback chain instead.
	turnCtx := context.WithoutCancel(ctx)

	g.persistInbound(turnCtx, sess, frame.Content, correlationID)
	g.audit(sess.UserID, "in", map[string]any{
		"correlation_id": correlationID,
		"session_id":     sess.ID,
		"length":         len(frame.Content),
	})

	// typing_start must reach the client before the reply or the
	// matching typing_stop; both writes happen on this goroutine.
	if err := g.sendJSON(ctx, conn, typedFrame{Type: "typing_start"}); err != nil {
		slog.Debug("failed to send typing_start", "session_id", sess.ID, "error", err)
	}

	result, err := g.webhook.SendMessage(turnCtx, sess.UserEmail, frame.Content, sess.ID, correlationID, sess.UserID)

	if sendErr := g.sendJSON(ctx, conn, typedFrame{Type: "typing_stop"}); sendErr != nil {
		slog.Debug("failed to send typing_stop", "session_id", sess.ID, "error", sendErr)
	}

	if err != nil {
		slog.Error("webhook call failed", "user_id", sess.UserID, "correlation_id", correlationID, "error", err)
		g.sendError(ctx, conn, err.Error(), correlationID)
		return
	}

	msg := Normalize(result, correlationID)
	if msg == nil {
		// The workflow only triggered a downstream async process; the
		// reply, if any, arrives later through the push endpoint.
		slog.Info("no immediate content in webhook response",
			"user_id", sess.UserID, "correlation_id", correlationID)
		g.audit(sess.UserID, "out", map[string]any{
			"correlation_id": correlationID,
			"delivered":      false,
			"reason":         "no immediate content",
		})
		return
	}

	delivered := g.SendMessageToSession(sess.ID, msg, sess.UserID, sess.UserEmail)
	g.persistAssistant(turnCtx, sess, msg)
	g.audit(sess.UserID, "out", map[string]any{
		"correlation_id": msg.CorrelationID,
		"delivered":      delivered,
		"content_type":   msg.ContentType,
	})
}

func (g *Gateway) sendError(ctx context.Context, conn *wsConn, message, correlationID string) {
	if err := g.sendJSON(ctx, conn, errorFrame{Type: "error", Error: message, CorrelationID: correlationID}); err != nil {
		slog.Debug("failed to send error frame", "error", err)
	}
}

func (g *Gateway) sendJSON(ctx context.Context, conn *wsConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}

// persistInbound stores the user's message best-effort.
func (g *Gateway) persistInbound(ctx context.Context, sess *session.Session, content, correlationID string) {
	if g.repo == nil {
		return
	}
	channelID, err := g.repo.GetOrCreateDefaultChannel(ctx, sess.UserID)
	if err != nil {
		slog.Warn("failed to resolve default channel", "user_id", sess.UserID, "error", err)
		return
	}
	if _, err := g.repo.SaveMessage(ctx, &domain.Message{
		ChannelID:     channelID,
		UserID:        sess.UserID,
		Role:          domain.RoleUser,
		Content:       content,
		ContentType:   domain.ContentTypeText,
		CorrelationID: correlationID,
	}); err != nil {
		slog.Warn("failed to persist inbound message", "user_id", sess.UserID, "error", err)
	}
}

// persistAssistant stores the normalized reply best-effort. Undelivered
// replies still land here so the push endpoint can replay them.
func (g *Gateway) persistAssistant(ctx context.Context, sess *session.Session, msg *OutgoingMessage) {
	if g.repo == nil {
		return
	}
	channelID, err := g.repo.GetOrCreateDefaultChannel(ctx, sess.UserID)
	if err != nil {
		slog.Warn("failed to resolve default channel", "user_id", sess.UserID, "error", err)
		return
	}
	record := &domain.Message{
		ChannelID:     channelID,
		UserID:        sess.UserID,
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
	record.WebhookResponse = marshalField(msg.WebhookResponse)
	if _, err := g.repo.SaveMessage(ctx, record); err != nil {
		slog.Warn("failed to persist assistant message", "user_id", sess.UserID, "error", err)
	}
}

// audit writes an audit entry best-effort with its own short deadline
// so a slow disk cannot stall the pipeline.
func (g *Gateway) audit(userID, direction string, payload map[string]any) {
	if g.repo == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.repo.LogAuditMessage(ctx, userID, direction, string(data)); err != nil {
		slog.Warn("failed to write audit entry", "user_id", userID, "error", err)
	}
}

func marshalField(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
