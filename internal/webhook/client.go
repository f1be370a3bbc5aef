package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"trendwire/internal/cache"
)

const (
	backoffBase = time.Second
	backoffCap  = 8 * time.Second
	previewLen  = 48
)

// ResponseCache is the slice of the cache the client needs.
type ResponseCache interface {
	FetchWithCache(ctx context.Context, kind string, params map[string]string, fetch cache.Fetcher) (any, error)
}

// Client invokes the n8n workflow webhook. Each send classifies the
// command, derives a cache key, and routes through the response cache
// unless the classification demands a direct call.
type Client struct {
	httpClient    *http.Client
	url           string
	timeout       time.Duration
	retryAttempts int
	backoff       []time.Duration
	cache         ResponseCache
}

// NewClient creates a webhook client. retryAttempts counts retries after
// the first attempt; the backoff schedule doubles from one second and
// caps at eight.
func NewClient(url string, timeout time.Duration, retryAttempts int, responseCache ResponseCache) *Client {
	backoff := make([]time.Duration, retryAttempts)
	d := backoffBase
	for i := range backoff {
		backoff[i] = d
		d *= 2
		if d > backoffCap {
			d = backoffCap
		}
	}
	return &Client{
		httpClient:    &http.Client{},
		url:           url,
		timeout:       timeout,
		retryAttempts: retryAttempts,
		backoff:       backoff,
		cache:         responseCache,
	}
}

// envelope is the fixed request shape POSTed to the workflow webhook.
type envelope struct {
	Event         string `json:"event"`
	RemoteID      string `json:"remoteId"`
	Message       string `json:"message"`
	Timestamp     string `json:"timestamp"`
	SessionID     string `json:"sessionId"`
	CorrelationID string `json:"correlationId"`
	UserID        string `json:"userId"`
}

// SendMessage classifies the command and invokes the webhook, serving
// and storing cacheable classes through the response cache.
func (c *Client) SendMessage(ctx context.Context, userEmail, message, sessionID, correlationID, userID string) (any, error) {
	cls := Classify(message)
	if cls.Direct || c.cache == nil {
		return c.invoke(ctx, userEmail, message, sessionID, correlationID, userID)
	}

	params := cls.CacheParams(userEmail, time.Now())
	return c.cache.FetchWithCache(ctx, string(cls.Kind), params, func(fctx context.Context) (any, error) {
		return c.invoke(fctx, userEmail, message, sessionID, correlationID, userID)
	})
}

// invoke POSTs the envelope with a per-attempt timeout and retries on
// any transport error or non-2xx status. The last error surfaces after
// the retry budget is spent.
func (c *Client) invoke(ctx context.Context, userEmail, message, sessionID, correlationID, userID string) (any, error) {
	env := envelope{
		Event:         "chat_message",
		RemoteID:      "web:" + HashEmail(userEmail),
		Message:       message,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		SessionID:     sessionID,
		CorrelationID: correlationID,
		UserID:        userID,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook envelope: %w", err)
	}

	attempts := 1 + c.retryAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		slog.Info("webhook attempt",
			"attempt", attempt,
			"attempts", attempts,
			"correlation_id", correlationID,
			"preview", preview(message),
		)

		result, err := c.post(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Warn("webhook attempt failed",
			"attempt", attempt,
			"correlation_id", correlationID,
			"error", err,
		)

		if attempt < attempts {
			wait := c.backoff[attempt-1]
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil, fmt.Errorf("webhook failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		// Workflows occasionally reply with bare text; deliver it as
		// plain content rather than failing the turn.
		return map[string]any{"content": string(data)}, nil
	}
	return result, nil
}

// preview truncates a message for log lines so content never leaks at
// volume.
func preview(message string) string {
	runes := []rune(message)
	if len(runes) <= previewLen {
		return message
	}
	return string(runes[:previewLen]) + "..."
}
