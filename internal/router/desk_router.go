package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/handler"
	"github.com/stemsi/exot-sync/internal/metrics"
	"github.com/stemsi/exot-sync/internal/middleware"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// DeskHandlers groups the desk agent's handler instances.
type DeskHandlers struct {
	Auth      *handler.AuthHandler
	Student   *handler.StudentHandler
	User      *handler.UserHandler
	Class     *handler.ClassHandler
	Reward    *handler.RewardHandler
	Activity  *handler.ActivityHandler
	Setting   *handler.SettingHandler
	Question  *handler.QuestionHandler
	Dashboard *handler.DashboardHandler
	Backup    *handler.BackupHandler
	Export    *handler.ExportHandler
	Status    *handler.StatusHandler
	Health    *handler.HealthHandler
}

// SetupDeskRouter configures the loopback API the desk UI talks to.
func SetupDeskRouter(
	authService *service.AuthService,
	users middleware.UserChecker,
	handlers *DeskHandlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	validator.Setup()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Rate limiter for login (30 requests per minute per IP).
	loginLimiter := middleware.NewRateLimiter(30, time.Minute, middleware.ByClientIP)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", loginLimiter.Middleware(), handlers.Auth.Login)
	}

	session := []gin.HandlerFunc{
		middleware.RequireSession(authService),
		middleware.CheckSessionUser(users),
	}
	adminOnly := middleware.RequireRole(model.RolePanitiaUtama)

	authed := auth.Group("", session...)
	{
		authed.POST("/logout", handlers.Auth.Logout)
		authed.GET("/me", handlers.Auth.Me)
		authed.PUT("/password", handlers.Auth.ChangePassword)
	}

	// ─── 2. Desk Group (Session) ───────────────────────────────────────
	api := router.Group("/api/v1", session...)
	{
		// Sync status
		api.GET("/status", handlers.Status.GetStatus)
		api.POST("/status/sync", handlers.Status.SyncNow)
		api.GET("/events", handlers.Status.Events)

		// Students
		api.GET("/students", handlers.Student.ListStudents)
		api.GET("/students/:id", handlers.Student.GetStudent)
		api.POST("/students", adminOnly, handlers.Student.CreateStudent)
		api.POST("/students/import", adminOnly, handlers.Student.ImportStudents)
		api.PUT("/students/:id", adminOnly, handlers.Student.UpdateStudent)
		api.DELETE("/students/:id", adminOnly, handlers.Student.DeleteStudent)
		api.POST("/students/:id/attendance", handlers.Student.MarkAttendance)
		api.PUT("/students/:id/score", handlers.Student.UpdateScore)

		// Classes
		api.GET("/classes", handlers.Class.ListClasses)
		api.POST("/classes", adminOnly, handlers.Class.CreateClass)
		api.PUT("/classes/:name", adminOnly, handlers.Class.RenameClass)
		api.DELETE("/classes/:name", adminOnly, handlers.Class.DeleteClass)

		// Users
		api.GET("/users", adminOnly, handlers.User.ListUsers)
		api.GET("/users/examiners", handlers.User.ListExaminers)
		api.POST("/users", adminOnly, handlers.User.CreateUser)
		api.PUT("/users/:id", adminOnly, handlers.User.UpdateUser)
		api.DELETE("/users/:id", adminOnly, handlers.User.DeleteUser)
		api.POST("/users/:id/reward", adminOnly, handlers.Reward.GenerateReward)

		// Rewards
		api.GET("/rewards", handlers.Reward.ListRewards)
		api.GET("/rewards/:code", handlers.Reward.GetReward)
		api.POST("/rewards/claim", adminOnly, handlers.Reward.ClaimReward)

		// Questions
		api.GET("/questions", handlers.Question.ListQuestions)
		api.POST("/questions", adminOnly, handlers.Question.CreateQuestion)
		api.DELETE("/questions/:id", adminOnly, handlers.Question.DeleteQuestion)

		// Statistics
		api.GET("/stats", handlers.Dashboard.GetStatistics)
		api.GET("/stats/ranking", handlers.Dashboard.GetRanking)
		api.GET("/stats/subjects", handlers.Dashboard.GetSubjectStats)
		api.GET("/stats/rooms", handlers.Dashboard.GetRoomStats)
		api.GET("/examiner/students", handlers.Dashboard.GetMyStudents)
		api.GET("/examiner/progress", handlers.Dashboard.GetMyProgress)

		// Activity log
		api.GET("/activity", handlers.Activity.ListActivity)
		api.DELETE("/activity", adminOnly, handlers.Activity.ClearActivity)

		// Settings
		api.GET("/settings", handlers.Setting.GetSettings)
		api.PUT("/settings", adminOnly, handlers.Setting.SaveSettings)
		api.POST("/settings/dark-mode/toggle", handlers.Setting.ToggleDarkMode)
		api.POST("/settings/sound/toggle", handlers.Setting.ToggleSound)
		api.PUT("/settings/:key", adminOnly, handlers.Setting.SetSetting)

		// Backup
		api.GET("/backup", adminOnly, handlers.Backup.ExportBackup)
		api.POST("/backup/restore", adminOnly, handlers.Backup.RestoreBackup)

		// Results export
		api.GET("/export/results", adminOnly, handlers.Export.ExportResults)
	}

	return router
}
