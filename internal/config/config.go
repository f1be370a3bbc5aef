// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	JWTSecret   string
	Webhook     WebhookConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	Session     SessionConfig
}

// WebhookConfig controls the upstream workflow webhook client.
type WebhookConfig struct {
	URL            string
	RequestTimeout time.Duration
	RetryAttempts  int
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// RateLimitConfig holds the two limiter windows: API-wide per IP and
// per-user chat throughput.
type RateLimitConfig struct {
	IPLimit    int
	IPWindow   time.Duration
	UserLimit  int
	UserWindow time.Duration
}

// SessionConfig controls heartbeat and staleness sweeping.
type SessionConfig struct {
	HeartbeatInterval time.Duration
	Timeout           time.Duration
	SweepInterval     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/trendwire.db"),
		JWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
		Webhook: WebhookConfig{
			URL:            getEnv("N8N_WEBHOOK_URL", ""),
			RequestTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
			RetryAttempts:  getEnvInt("WEBHOOK_RETRY_ATTEMPTS", 2),
		},
		Cache: CacheConfig{
			TTL:        getEnvDuration("CACHE_TTL", 15*time.Minute),
			MaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 500),
		},
		RateLimit: RateLimitConfig{
			IPLimit:    getEnvInt("RATE_LIMIT_IP_REQUESTS", 120),
			IPWindow:   getEnvDuration("RATE_LIMIT_IP_WINDOW", time.Minute),
			UserLimit:  getEnvInt("RATE_LIMIT_USER_REQUESTS", 20),
			UserWindow: getEnvDuration("RATE_LIMIT_USER_WINDOW", time.Minute),
		},
		Session: SessionConfig{
			HeartbeatInterval: getEnvDuration("SESSION_HEARTBEAT_INTERVAL", 30*time.Second),
			Timeout:           getEnvDuration("SESSION_TIMEOUT", 2*time.Minute),
			SweepInterval:     getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET cannot be empty")
	}
	if c.Webhook.URL == "" {
		return fmt.Errorf("N8N_WEBHOOK_URL cannot be empty")
	}
	if c.Webhook.RetryAttempts < 0 {
		return fmt.Errorf("WEBHOOK_RETRY_ATTEMPTS must be >= 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be > 0")
	}
	if c.RateLimit.IPLimit <= 0 || c.RateLimit.UserLimit <= 0 {
		return fmt.Errorf("rate limits must be > 0")
	}
	if c.Session.Timeout <= c.Session.HeartbeatInterval {
		return fmt.Errorf("SESSION_TIMEOUT must exceed SESSION_HEARTBEAT_INTERVAL")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
