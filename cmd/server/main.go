// drift - anonymous 1:1 chat pairing server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/api"
	"github.com/driftchat/drift/internal/chat"
	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/middleware"
	"github.com/driftchat/drift/internal/store"
	"github.com/driftchat/drift/internal/ws"
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

	// Initialize dependencies.
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

	pool, err := newPool(cfg)
	if err != nil {
		slog.Error("Failed to initialize waiting pool", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	svc := chat.NewService(repo, pool, hub, logger)

	// Refill the waiting pool from sessions that were waiting when the
	// process last stopped.
	if err := svc.Rebuild(context.Background()); err != nil {
		slog.Error("Failed to rebuild waiting pool", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	wsHandler := ws.NewHandler(svc, hub, cfg.FrontendURL, cfg.IsDevelopment())
	chatHandler := api.NewChatHandler(svc, repo)
	healthHandler := api.NewHealthHandler(repo)
	adminHandler := api.NewAdminHandler(repo, hub, svc, cfg.AdminToken, cfg.ChatLogSize)
	if cfg.AdminToken == "" {
		slog.Info("Admin interface disabled (ADMIN_TOKEN not set)")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	adminHandler.RegisterRoutes(r)

	// Anonymous-identity routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(svc, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Create server. WriteTimeout stays 0 so websocket chats are not cut off.
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newPool selects the waiting pool backend: Redis when REDIS_URL is set,
// otherwise in-process.
func newPool(cfg *config.Config) (chat.Pool, error) {
	if cfg.RedisURL == "" {
		return chat.NewMemoryPool(), nil
	}

	var client *redis.Client
	if strings.HasPrefix(cfg.RedisURL, "redis://") {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	slog.Info("Waiting pool backed by Redis", "url", cfg.RedisURL)
	return chat.NewRedisPool(client), nil
}

// allowedOrigins derives the CORS allow list from configuration.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
