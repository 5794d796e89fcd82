package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/handler"
	"github.com/stemsi/exot-sync/internal/metrics"
	"github.com/stemsi/exot-sync/internal/middleware"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// syncRequestsPerMinute caps one desk. A full push is seven requests.
const syncRequestsPerMinute = 600

// Handlers groups the authority's handler instances for route setup.
type Handlers struct {
	Sync   *handler.SyncHandler
	Media  *handler.MediaHandler
	WS     *handler.WSHandler
	Health *handler.HealthHandler
}

// SetupRouter configures the authority's route groups.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	validator.Setup()
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(corsMiddleware(cfg.AllowedOrigins))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Full pulls are large and compress well.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:      middleware.DefaultBrotliConfig.Quality,
		SkipPrefixes: []string{"/uploads/"},
	}))

	// Uploaded question material, cached aggressively since names are UUIDs.
	if cfg.FileStore != "s3" {
		uploadsGroup := router.Group("/uploads")
		uploadsGroup.Use(middleware.CacheControl(31536000))
		{
			uploadsGroup.Static("/", cfg.UploadDir)
		}
	}

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ─── 1. Sync Group (Device JWT) ────────────────────────────────────
	syncAPI := router.Group("/api/v1")
	syncLimiter := middleware.NewRateLimiter(syncRequestsPerMinute, time.Minute, middleware.ByDesk)
	syncAPI.Use(middleware.RequireDeviceJWT(authService), syncLimiter.Middleware(), middleware.NoStore())
	{
		syncAPI.GET("/sync", handlers.Sync.Pull)
		syncAPI.PUT("/sync/settings/:key", handlers.Sync.PushSetting)
		syncAPI.POST("/sync/:collection", handlers.Sync.Push)
		syncAPI.POST("/files", handlers.Media.UploadFile)
	}

	// ─── 2. WebSocket Group (Device JWT via ?token or header) ──────────
	if handlers.WS != nil {
		ws := router.Group("/ws/v1")
		ws.Use(middleware.RequireDeviceJWT(authService))
		{
			ws.GET("/sync/signals", handlers.WS.SignalStream)
		}
	}

	return router
}

// corsMiddleware restricts to AllowedOrigins when set and otherwise allows
// all origins so dev works without extra config.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID, response.HeaderOrigin}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	return cors.New(corsConfig)
}
