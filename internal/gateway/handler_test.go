package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"trendwire/internal/auth"
	"trendwire/internal/ratelimit"
	"trendwire/internal/session"

	"github.com/coder/websocket"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (*auth.Identity, error) {
	if token == "good" {
		return &auth.Identity{UserID: "user-1", Email: "a@b.com"}, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeWebhook struct {
	result any
	err    error
}

func (f *fakeWebhook) SendMessage(ctx context.Context, userEmail, message, sessionID, correlationID, userID string) (any, error) {
	return f.result, f.err
}

func newSocketTest(t *testing.T, hook *fakeWebhook, userLimit int) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(time.Minute, time.Hour)
	t.Cleanup(registry.Shutdown)
	limiter := ratelimit.New(userLimit, time.Minute)
	t.Cleanup(limiter.Stop)

	g := New(fakeVerifier{}, registry, limiter, hook, nil, time.Minute, "*", true)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, srv.URL+"/?token="+token, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "test done") })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return frame
}

func writeFrame(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, _ := json.Marshal(frame)
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestConnectSendsSessionID(t *testing.T) {
	t.Parallel()

	srv, registry := newSocketTest(t, &fakeWebhook{}, 100)
	ws := dial(t, srv, "good")

	frame := readFrame(t, ws)
	if frame["type"] != "connected" {
		t.Fatalf("expected connected frame, got %v", frame)
	}
	sessionID, _ := frame["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("connected frame missing session id")
	}
	if registry.Get(sessionID) == nil {
		t.Fatal("session not registered")
	}
}

func TestAuthFailureClosesSocket(t *testing.T) {
	t.Parallel()

	srv, registry := newSocketTest(t, &fakeWebhook{}, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, srv.URL+"/?token=bad", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.CloseNow()

	_, _, err = ws.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if registry.Count() != 0 {
		t.Fatal("no session may exist after auth failure")
	}
}

func TestChatTurnDeliversNormalizedReply(t *testing.T) {
	t.Parallel()

	hook := &fakeWebhook{result: map[string]any{"content": "hi there"}}
	srv, _ := newSocketTest(t, hook, 100)
	ws := dial(t, srv, "good")
	readFrame(t, ws) // connected

	writeFrame(t, ws, map[string]any{"type": "message", "content": "assuntos"})

	// typing_start must arrive before typing_stop and the reply.
	if frame := readFrame(t, ws); frame["type"] != "typing_start" {
		t.Fatalf("expected typing_start, got %v", frame)
	}
	if frame := readFrame(t, ws); frame["type"] != "typing_stop" {
		t.Fatalf("expected typing_stop, got %v", frame)
	}
	frame := readFrame(t, ws)
	if frame["type"] != "message" || frame["role"] != "assistant" {
		t.Fatalf("expected assistant message, got %v", frame)
	}
	if frame["content"] != "hi there" || frame["contentType"] != "text" {
		t.Fatalf("unexpected reply payload: %v", frame)
	}
	if id, _ := frame["correlationId"].(string); id == "" {
		t.Fatal("reply missing correlation id")
	}
}

func TestWebhookFailureSendsErrorFrame(t *testing.T) {
	t.Parallel()

	hook := &fakeWebhook{err: errors.New("upstream exhausted")}
	srv, _ := newSocketTest(t, hook, 100)
	ws := dial(t, srv, "good")
	readFrame(t, ws) // connected

	writeFrame(t, ws, map[string]any{"type": "message", "content": "hello"})

	if frame := readFrame(t, ws); frame["type"] != "typing_start" {
		t.Fatalf("expected typing_start, got %v", frame)
	}
	if frame := readFrame(t, ws); frame["type"] != "typing_stop" {
		t.Fatalf("expected typing_stop, got %v", frame)
	}
	frame := readFrame(t, ws)
	if frame["type"] != "error" {
		t.Fatalf("expected error frame, got %v", frame)
	}
	if id, _ := frame["correlationId"].(string); id == "" {
		t.Fatal("error frame must carry the correlation id")
	}
}

func TestRateLimitedMessageGetsErrorWithoutUpstreamCall(t *testing.T) {
	t.Parallel()

	hook := &fakeWebhook{result: map[string]any{"content": "ok"}}
	srv, _ := newSocketTest(t, hook, 1)
	ws := dial(t, srv, "good")
	readFrame(t, ws) // connected

	writeFrame(t, ws, map[string]any{"type": "message", "content": "first"})
	for _, want := range []string{"typing_start", "typing_stop", "message"} {
		if frame := readFrame(t, ws); frame["type"] != want {
			t.Fatalf("expected %s, got %v", want, frame)
		}
	}

	writeFrame(t, ws, map[string]any{"type": "message", "content": "second"})
	frame := readFrame(t, ws)
	if frame["type"] != "error" {
		t.Fatalf("expected immediate error frame for rate-limited turn, got %v", frame)
	}
}

func TestPingGetsPong(t *testing.T) {
	t.Parallel()

	srv, _ := newSocketTest(t, &fakeWebhook{}, 100)
	ws := dial(t, srv, "good")
	readFrame(t, ws) // connected

	writeFrame(t, ws, map[string]any{"type": "ping"})
	if frame := readFrame(t, ws); frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v", frame)
	}
}

func TestUnknownFrameTypesAreIgnored(t *testing.T) {
	t.Parallel()

	srv, _ := newSocketTest(t, &fakeWebhook{}, 100)
	ws := dial(t, srv, "good")
	readFrame(t, ws) // connected

	writeFrame(t, ws, map[string]any{"type": "presence_subscribe"})
	writeFrame(t, ws, map[string]any{"type": "ping"})
	// The unknown frame produced no reply; the next frame read is the pong.
	if frame := readFrame(t, ws); frame["type"] != "pong" {
		t.Fatalf("expected pong after ignored frame, got %v", frame)
	}
}

func TestHeartbeatSendsNoApplicationFrames(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry(time.Minute, time.Hour)
	t.Cleanup(registry.Shutdown)
	limiter := ratelimit.New(100, time.Minute)
	t.Cleanup(limiter.Stop)

	g := New(fakeVerifier{}, registry, limiter, &fakeWebhook{}, nil, 30*time.Millisecond, "*", true)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	ws := dial(t, srv, "good")
	frame := readFrame(t, ws)
	sessionID := frame["sessionId"].(string)

	// Keep a read pending so protocol pings are answered with pongs;
	// any application frame arriving here violates the wire contract.
	unexpected := make(chan []byte, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, data, err := ws.Read(ctx)
		if err == nil {
			unexpected <- data
		}
	}()

	// Several heartbeat intervals pass while the client sends nothing.
	time.Sleep(200 * time.Millisecond)

	select {
	case data := <-unexpected:
		t.Fatalf("server wrote an application frame during heartbeats: %s", data)
	default:
	}
	if registry.Get(sessionID) == nil {
		t.Fatal("session dropped while heartbeat pings were being answered")
	}
}

func TestDisconnectRemovesSession(t *testing.T) {
	t.Parallel()

	srv, registry := newSocketTest(t, &fakeWebhook{}, 100)
	ws := dial(t, srv, "good")
	frame := readFrame(t, ws)
	sessionID := frame["sessionId"].(string)

	_ = ws.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Get(sessionID) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session still registered after disconnect")
}
