// Trendwire - real-time chat backend for the trends assistant
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trendwire/internal/api"
	"trendwire/internal/auth"
	"trendwire/internal/cache"
	"trendwire/internal/config"
	"trendwire/internal/gateway"
	"trendwire/internal/middleware"
	"trendwire/internal/ratelimit"
	"trendwire/internal/session"
	"trendwire/internal/store"
	"trendwire/internal/webhook"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies. Everything is constructed here and passed
	// down explicitly.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ipLimiter := ratelimit.New(cfg.RateLimit.IPLimit, cfg.RateLimit.IPWindow)
	defer ipLimiter.Stop()
	userLimiter := ratelimit.New(cfg.RateLimit.UserLimit, cfg.RateLimit.UserWindow)
	defer userLimiter.Stop()

	responseCache := cache.New(cfg.Cache.TTL, cfg.Cache.MaxEntries)

	webhookClient := webhook.NewClient(cfg.Webhook.URL, cfg.Webhook.RequestTimeout,
		cfg.Webhook.RetryAttempts, responseCache)

	registry := session.NewRegistry(cfg.Session.Timeout, cfg.Session.SweepInterval)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	gw := gateway.New(verifier, registry, userLimiter, webhookClient, repo,
		cfg.Session.HeartbeatInterval, cfg.FrontendURL, cfg.IsDevelopment())

	// Initialize handlers.
	messageHandler := api.NewMessageHandler(verifier, gw, repo)
	metricsHandler := api.NewMetricsHandler(responseCache, registry)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(ratelimit.Middleware(ipLimiter))

	healthHandler.RegisterHealth(r)
	metricsHandler.RegisterRoutes(r)
	messageHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", gw.ServeHTTP)

	// Create server. WriteTimeout stays 0 so long-lived sockets are not
	// cut off by the HTTP layer.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Close every live session with a shutdown reason before taking the
	// listener down.
	registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
