// CodeFlow - Collaborative Session Coordinator
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/codeflow-dev/codeflow/internal/auth"
	"github.com/codeflow-dev/codeflow/internal/config"
	"github.com/codeflow-dev/codeflow/internal/directory"
	"github.com/codeflow-dev/codeflow/internal/editor"
	"github.com/codeflow-dev/codeflow/internal/hub"
	"github.com/codeflow-dev/codeflow/internal/lock"
	"github.com/codeflow-dev/codeflow/internal/middleware"
	"github.com/codeflow-dev/codeflow/internal/presence"
	"github.com/codeflow-dev/codeflow/internal/projectsync"
	"github.com/codeflow-dev/codeflow/internal/sandbox"
	"github.com/codeflow-dev/codeflow/internal/store"
	"github.com/codeflow-dev/codeflow/internal/terminal"
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
	st := store.NewRedis(cfg.RedisAddr, cfg.RedisDB)
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close state store", "error", closeErr)
		}
	}()

	if err := st.Ping(context.Background()); err != nil {
		slog.Error("State store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("State store connected", "addr", cfg.RedisAddr)

	dir, err := directory.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize identity directory", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			slog.Error("Failed to close identity directory", "error", closeErr)
		}
	}()

	if err := dir.Ping(context.Background()); err != nil {
		slog.Error("Identity directory health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Identity directory connected", "path", cfg.DBPath)

	mgr, err := sandbox.NewDockerManager(cfg.SandboxImage)
	if err != nil {
		slog.Error("Failed to initialize sandbox manager", "error", err)
		os.Exit(1)
	}
	slog.Info("Sandbox manager initialized", "image", cfg.SandboxImage)

	var syncer projectsync.Syncer
	if cfg.Sync.Enabled {
		minioSyncer, err := projectsync.NewMinio(cfg.Sync)
		if err != nil {
			slog.Error("Failed to initialize project sync", "error", err)
			os.Exit(1)
		}
		if err := minioSyncer.EnsureBucket(context.Background()); err != nil {
			slog.Error("Failed to ensure sync bucket", "error", err)
			os.Exit(1)
		}
		syncer = minioSyncer
		slog.Info("Project sync enabled", "bucket", cfg.Sync.Bucket)
	}

	// Initialize services.
	authn := auth.New(cfg.JWTSecret)
	registry := presence.NewRegistry(st, dir)
	locks := lock.NewManager(st, cfg.LockTTL)
	broadcastHub := hub.NewHub()
	sm := terminal.NewSessionManager()

	// Initialize handlers.
	editorHandler := editor.NewHandler(authn, registry, locks, broadcastHub, dir, mgr, syncer, cfg.ProjectsDir, cfg.IsDevelopment())
	terminalHandler := terminal.NewWebSocketHandler(authn, mgr, sm, cfg.ProjectsDir, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// WebSocket endpoints.
	r.Get("/ws/editor", editorHandler.ServeHTTP)
	r.Get("/ws/terminal", terminalHandler.ServeHTTP)

	// Create server.
	// Note: WebSocket connections require long timeouts (no WriteTimeout).
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
