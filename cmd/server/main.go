package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/database"
	"github.com/stemsi/examhub/internal/handler"
	"github.com/stemsi/examhub/internal/logger"
	"github.com/stemsi/examhub/internal/middleware"
	"github.com/stemsi/examhub/internal/repository"
	"github.com/stemsi/examhub/internal/router"
	"github.com/stemsi/examhub/internal/service"
	"github.com/stemsi/examhub/internal/telemetry"
	"github.com/stemsi/examhub/internal/validator"
	"github.com/stemsi/examhub/internal/worker"
)

const workerDrainTimeout = 10 * time.Second

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("tick_interval", cfg.TickInterval).
		Bool("auto_submit", cfg.AutoSubmitOnExpiry).
		Msg("Starting ExamHub")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Tracing (opt-in) ──────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OtelEndpoint, cfg.OtelServiceName)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	attemptStore := repository.NewAttemptStore(rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, rdb, log)
	sessionService := service.NewExamSessionService(examService, attemptStore, resultRepo, service.SessionOptions{
		TickInterval:       cfg.TickInterval,
		AutoSubmitOnExpiry: cfg.AutoSubmitOnExpiry,
		IdleTimeout:        cfg.SessionIdleTimeout,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(sessionService, log),
		WS:            handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		Health:        handler.NewHealthHandler(pool, rdb, sessionService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	archiveWorker := worker.NewResultArchiveWorker(resultRepo, rdb, log)
	go archiveWorker.Start(workerCtx)
	go sessionService.StartReaper(workerCtx)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	limiter.StartCleanup(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load every exam into Redis BEFORE accepting traffic.
	if err := examService.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop live timers. Every tick is already persisted, so attempts resume on restart.
	sessionService.Shutdown()

	// 3. Stop background workers and wait for the archive queue to drain.
	workerCancel()
	select {
	case <-archiveWorker.Done():
	case <-time.After(workerDrainTimeout):
		log.Warn().Msg("Archive worker did not drain in time")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Tracing shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
