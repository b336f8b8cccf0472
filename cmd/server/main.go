// Package main provides the entry point for the slidecast server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/slidecast/internal/bootstrap"
	"github.com/maauso/slidecast/internal/config"
	"github.com/maauso/slidecast/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting slidecast",
		slog.Int("port", cfg.Port),
		slog.String("deck", cfg.DeckPath),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("advance", cfg.Advance),
		slog.Bool("autoplay", cfg.Autoplay),
		slog.Bool("tts", cfg.TTSURL != ""),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	deps.Engine.Start(engineCtx)

	handlers := server.NewHandlers(deps.Engine, deps.Fetches, logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Request contexts derive from requestCtx so that open event streams
	// end when shutdown begins.
	requestCtx, endRequests := context.WithCancel(context.Background())
	defer endRequests()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /events streams for as long as the client listens.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return requestCtx },
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errCh:
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	endRequests()
	if err := srv.Shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown failed: %w", err))
	}
	deps.Engine.Close(ctx)
	deps.Fetches.Shutdown()

	if runErr != nil {
		return runErr
	}
	logger.Info("server stopped gracefully")
	return nil
}
