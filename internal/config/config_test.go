package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:      "8080",
		DBPath:    "./data/test.db",
		JWTSecret: "secret",
		Webhook: WebhookConfig{
			URL:            "http://localhost:5678/webhook/chat",
			RequestTimeout: 30 * time.Second,
			RetryAttempts:  2,
		},
		Cache: CacheConfig{
			TTL:        15 * time.Minute,
			MaxEntries: 100,
		},
		RateLimit: RateLimitConfig{
			IPLimit:    120,
			IPWindow:   time.Minute,
			UserLimit:  20,
			UserWindow: time.Minute,
		},
		Session: SessionConfig{
			HeartbeatInterval: 30 * time.Second,
			Timeout:           2 * time.Minute,
			SweepInterval:     time.Minute,
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsMissingWebhookURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Webhook.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty N8N_WEBHOOK_URL")
	}
}

func TestValidateRejectsShortSessionTimeout(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Session.Timeout = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when timeout <= heartbeat interval")
	}
}

func TestLoadUsesDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("N8N_WEBHOOK_URL", "http://localhost:5678/webhook/chat")
	t.Setenv("WEBHOOK_TIMEOUT", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	// Unparseable durations fall back rather than fail startup.
	if cfg.Webhook.RequestTimeout != 30*time.Second {
		t.Errorf("expected fallback webhook timeout, got %v", cfg.Webhook.RequestTimeout)
	}
	if cfg.Webhook.RetryAttempts != 2 {
		t.Errorf("expected default retry attempts 2, got %d", cfg.Webhook.RetryAttempts)
	}
}
