package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/bus"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/database"
	"github.com/stemsi/exot-sync/internal/handler"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/logger"
	"github.com/stemsi/exot-sync/internal/observability"
	"github.com/stemsi/exot-sync/internal/remote"
	"github.com/stemsi/exot-sync/internal/resolver"
	"github.com/stemsi/exot-sync/internal/router"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/syncengine"
	"github.com/stemsi/exot-sync/internal/validator"
)

var version = "dev"

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "desk")
	log.Info().
		Str("port", cfg.Desk.Port).
		Str("backend", cfg.Sync.Backend).
		Str("broadcast", cfg.Desk.Broadcast).
		Str("version", version).
		Msg("Starting EXOT desk")

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, version)
	if err != nil {
		log.Warn().Err(err).Msg("Sentry disabled")
	}
	defer flush()

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Local Cache ──────────────────────────────────────────────
	db, err := database.NewSQLiteDB(ctx, cfg.Desk.CachePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local cache")
	}
	defer db.Close()

	store, err := localcache.Open(ctx, localcache.NewSQLitePersister(db), localcache.Options{
		QuotaBytes: cfg.Desk.CacheQuotaBytes,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load local cache")
	}

	// ─── Connect to Redis (only when something needs it) ───────────────
	var rdb *redis.Client
	if cfg.Sync.Backend == config.BackendRedis || cfg.Desk.Broadcast == "redis" {
		rdb, err = database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	// ─── Select Sync Backend ───────────────────────────────────────────
	origin := cfg.Desk.ID
	if origin == "" {
		origin = "desk-" + shortHost()
	}

	var adapter remote.Adapter
	var signals syncengine.SignalFeed
	switch cfg.Sync.Backend {
	case config.BackendRedis:
		adapter = remote.NewRedisAdapter(rdb, origin, cfg.Sync.Timeout, log)
	default:
		adapter = remote.NewHTTPAdapter(remote.HTTPOptions{
			BaseURL: cfg.Sync.AuthorityURL,
			Token:   cfg.Sync.Token,
			Origin:  origin,
			Timeout: cfg.Sync.Timeout,
		}, log)
		if cfg.Sync.Signals {
			src, err := bus.NewSignalSource(cfg.Sync.AuthorityURL, cfg.Sync.Token, log)
			if err != nil {
				log.Warn().Err(err).Msg("Signal feed disabled")
			} else {
				signals = src
			}
		}
	}
	defer adapter.Close()

	// A desk runs one engine, so peers are only reachable through Redis
	// unless several engines share this process.
	var broadcaster bus.Broadcaster
	switch cfg.Desk.Broadcast {
	case "redis":
		broadcaster = bus.NewRedisBroadcaster(rdb, log)
	case "memory":
		broadcaster = bus.NewMemoryBroadcaster()
	}
	if broadcaster != nil {
		defer broadcaster.Close()
	}

	// ─── Start Sync Engine ─────────────────────────────────────────────
	engine := syncengine.New(store, adapter, syncengine.Options{
		Origin:       origin,
		PollInterval: cfg.Sync.PollInterval,
		Debounce:     cfg.Sync.Debounce,
		Resolver:     resolver.New(cfg.Sync.SkewBuffer),
		Broadcaster:  broadcaster,
		Signals:      signals,
		OnError:      observability.Reporter(log),
	}, log)
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start sync engine")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	var uploader remote.FileUploader
	if u, ok := adapter.(remote.FileUploader); ok {
		uploader = u
	}

	authService := service.NewAuthService(cfg.JWTSecret, cfg.BcryptCost)
	activityService := service.NewActivityService(store, cfg.ActivityLogLimit, log)
	classService := service.NewClassService(store, log)
	studentService := service.NewStudentService(store, classService, activityService, log)
	userService := service.NewUserService(store, authService, activityService, log)
	rewardService := service.NewRewardService(store, userService, activityService, log)
	settingService := service.NewSettingService(store, log)
	questionService := service.NewQuestionService(store, uploader, activityService, log)
	statsService := service.NewStatsService(store, userService)
	backupService := service.NewBackupService(store, activityService, log)
	exportService := service.NewExportService(store, statsService, activityService, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.DeskHandlers{
		Auth:      handler.NewAuthHandler(userService),
		Student:   handler.NewStudentHandler(studentService),
		User:      handler.NewUserHandler(userService),
		Class:     handler.NewClassHandler(classService),
		Reward:    handler.NewRewardHandler(rewardService),
		Activity:  handler.NewActivityHandler(activityService),
		Setting:   handler.NewSettingHandler(settingService),
		Question:  handler.NewQuestionHandler(questionService),
		Dashboard: handler.NewDashboardHandler(statsService),
		Backup:    handler.NewBackupHandler(backupService),
		Export:    handler.NewExportHandler(exportService),
		Status:    handler.NewStatusHandler(engine, store, log),
		Health:    handler.NewHealthHandler(nil),
	}

	r := router.SetupDeskRouter(authService, userService, handlers, cfg)

	// Loopback only: the desk UI runs on the same machine.
	srv := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Desk.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Desk listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	engine.Stop()
	log.Info().Msg("Shutdown complete")
}

func shortHost() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	if len(host) > 16 {
		host = host[:16]
	}
	return host
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
