package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/taskgraph/internal/server/config"
	"github.com/iudanet/taskgraph/internal/server/handlers"
	"github.com/iudanet/taskgraph/internal/server/jwt"
	"github.com/iudanet/taskgraph/internal/server/middleware"
	"github.com/iudanet/taskgraph/internal/server/notify"
	"github.com/iudanet/taskgraph/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.AccessTokenTTL)
	hub := notify.NewHub(logger)

	authHandler := handlers.NewAuthHandler(logger, store, jwtService)
	projectsHandler := handlers.NewProjectsHandler(logger, store, hub)
	subscribeHandler := handlers.NewSubscribeHandler(logger, hub)
	healthHandler := handlers.NewHealthHandler(logger, store, Version)

	authRequired := middleware.AuthMiddleware(logger, jwtService)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.Handle("GET /api/v1/projects", authRequired(http.HandlerFunc(projectsHandler.List)))
	mux.Handle("GET /api/v1/projects/{id}", authRequired(http.HandlerFunc(projectsHandler.Get)))
	mux.Handle("PUT /api/v1/projects/{id}", authRequired(http.HandlerFunc(projectsHandler.Save)))
	mux.Handle("POST /api/v1/projects/{id}/entities", authRequired(http.HandlerFunc(projectsHandler.WriteEntities)))
	mux.Handle("POST /api/v1/projects/{id}/entities/delete", authRequired(http.HandlerFunc(projectsHandler.DeleteEntities)))
	mux.Handle("GET /api/v1/subscribe", authRequired(http.HandlerFunc(subscribeHandler.Subscribe)))

	rateLimit := middleware.RateLimitMiddleware(
		middleware.Limit{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
		middleware.Limit{Requests: cfg.AuthRateLimitRequests, Window: cfg.AuthRateLimitWindow},
		logger)

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(
			rateLimit(mux)))

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Addr,
			"version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("listen failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func printVersion() {
	fmt.Printf("taskgraph server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
