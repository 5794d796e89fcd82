package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/database"
	"github.com/stemsi/exot-sync/internal/handler"
	"github.com/stemsi/exot-sync/internal/logger"
	"github.com/stemsi/exot-sync/internal/observability"
	"github.com/stemsi/exot-sync/internal/repository"
	"github.com/stemsi/exot-sync/internal/router"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
	"github.com/stemsi/exot-sync/internal/worker"
)

var version = "dev"

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "authority")
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("version", version).
		Msg("Starting EXOT authority")

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, version)
	if err != nil {
		log.Warn().Err(err).Msg("Sentry disabled")
	}
	defer flush()

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Store & Services ───────────────────────────────────
	store := repository.NewPgStore(pool)
	authService := service.NewAuthService(cfg.JWTSecret, cfg.BcryptCost)
	reconcileService := service.NewReconcileService(store, rdb, cfg.ActivityLogLimit, log)

	fileStore, err := service.NewFileStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("file_store", cfg.FileStore).Msg("Failed to initialize file store")
	}
	mediaService := service.NewMediaService(fileStore, cfg.MaxUploadBytes, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Sync:  handler.NewSyncHandler(reconcileService, log),
		Media: handler.NewMediaHandler(mediaService, cfg.MaxUploadBytes),
		WS:    handler.NewWSHandler(rdb, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": store,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		}),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	trimWorker := worker.NewActivityTrimWorker(store, rdb, log)
	go func() {
		trimWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	// 2. Stop the trim worker and let it drain its queue.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Worker drain timed out")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
