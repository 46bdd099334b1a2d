// Package main is the entrypoint for the idphoto API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kadrio/idphoto/internal/api"
	"github.com/kadrio/idphoto/internal/api/handler"
	mw "github.com/kadrio/idphoto/internal/api/middleware"
	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/config"
	"github.com/kadrio/idphoto/internal/dispatch"
	"github.com/kadrio/idphoto/internal/imgproc"
	"github.com/kadrio/idphoto/internal/janitor"
	"github.com/kadrio/idphoto/internal/limiter"
	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	uploadPerMinute = 5
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "data_dir", cfg.Storage.DataDir,
		"workers", cfg.Workers.Max)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Prepare storage
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	files := storage.New(cfg.Storage.DataDir, cfg.Storage.MaxFilesPerSession,
		cfg.Storage.MaxUploadBytes, slog.Default())

	// 3. Task registry and dispatcher
	reg := registry.New()
	proc := imgproc.New(slog.Default())
	dispatcher := dispatch.New(reg, files, proc, cfg.Workers.Max, cfg.Workers.QueueSize, slog.Default())
	defer dispatcher.Close()
	slog.Info("dispatcher started", "workers", cfg.Workers.Max, "queue_size", cfg.Workers.QueueSize)

	// 4. Admission control: sliding window (Redis-backed when configured)
	// plus circuit breaker
	var windows limiter.WindowStore = limiter.NewMemoryWindows()
	if cfg.RateLimit.RedisURL != "" {
		redisWindows, err := limiter.NewRedisWindows(cfg.RateLimit.RedisURL)
		if err != nil {
			return fmt.Errorf("create redis limiter backend: %w", err)
		}
		if err := redisWindows.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer redisWindows.Close()
		windows = redisWindows
		slog.Info("redis limiter backend connected")
	}

	rateLimit := mw.NewRateLimit(limiter.NewSlidingWindow(
		windows, cfg.RateLimit.PerMinute, time.Minute, cfg.RateLimit.Burst))
	uploadLimit := mw.NewRateLimit(limiter.NewSlidingWindow(
		limiter.NewMemoryWindows(), uploadPerMinute, time.Minute, cfg.RateLimit.Burst))
	breaker := mw.NewBreaker(limiter.NewCircuitBreaker(
		cfg.Circuit.FailureThreshold, cfg.Circuit.RecoveryTimeout))

	// 5. Janitor
	jan := janitor.New(reg, cfg.Storage.DataDir, cfg.Storage.FileTTL, cfg.Cleanup.TaskTTL,
		cfg.Cleanup.Interval, cfg.Cleanup.ErrorRetry, slog.Default())
	go jan.Run(ctx)
	slog.Info("janitor started", "interval", cfg.Cleanup.Interval.String(),
		"file_ttl", cfg.Storage.FileTTL.String(), "task_ttl", cfg.Cleanup.TaskTTL.String())

	// 6. Build router with dependencies
	deps := api.Dependencies{
		RateLimit:       rateLimit,
		UploadRateLimit: uploadLimit,
		Breaker:         breaker,

		HealthHandler:        healthHandler(cfg.Storage.DataDir),
		UploadHandler:        handler.NewUploadHandler(reg, files, dispatcher, cfg.DocumentParams, cfg.Storage.MaxUploadBytes),
		StatusHandler:        handler.NewStatusHandler(reg),
		SessionStatusHandler: handler.NewSessionStatusHandler(reg),
		DownloadHandler:      handler.NewDownloadHandler(files),
		ClearHandler:         handler.NewClearHandler(files, reg),
		StatsHandler:         handler.NewStatsHandler(reg),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let queued jobs finish before the deferred Close returns
	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks that the data directory is writable.
func healthHandler(dataDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probe := filepath.Join(dataDir, ".healthcheck")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"Storage is not writable", map[string]string{"storage": "degraded"})
			return
		}
		_ = os.Remove(probe)

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": map[string]string{"storage": "ok"},
		})
	}
}
