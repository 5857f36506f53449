// Command worker runs the reference lease/execute/report loop against a
// control plane's HTTP queue endpoints. It is a boundary demo of the
// queue/event contract, not a plugin runtime — see internal/worker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noetl/noetl-sub007/internal/config"
	"github.com/noetl/noetl-sub007/internal/tracing"
	"github.com/noetl/noetl-sub007/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	tracingCleanup, err := tracing.InitGlobalTracer(context.Background(), &cfg.Observability)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracingCleanup()

	transport := tracing.HTTPClientMiddleware(http.DefaultTransport)
	client := worker.NewClient(cfg.Worker.ServerURL, transport)
	w := worker.New(cfg.Worker, "", client, logger)

	health := worker.NewHealthServer(w, cfg.Worker.HealthPort)
	go func() {
		logger.Info("starting worker health server", "port", cfg.Worker.HealthPort)
		if err := health.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		logger.Info("starting worker pool", "server_url", cfg.Worker.ServerURL, "concurrency", cfg.Worker.Concurrency)
		if err := w.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("worker pool stopped with error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	cancel()
	w.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server forced to shutdown", "error", err)
	}

	logger.Info("worker stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
