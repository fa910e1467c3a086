package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
	"github.com/orrn/printq/internal/obs"
)

type RouterDeps struct {
	Config   *config.Config
	Queue    *core.Queue
	DB       *db.DB
	Auth     *middleware.AuthMiddleware
	Archiver *archive.Archiver
	Logger   *slog.Logger
}

// NewRouter assembles the HTTP surface. Archive routes are mounted only when
// an archiver is configured.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := gin.New()
	r.Use(gin.Recovery(), obs.GinMiddleware(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		if err := deps.DB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	api := r.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/session", deps.Auth.SessionHandler)
	auth.POST("/setup", deps.Auth.SetupHandler)
	auth.POST("/login", deps.Auth.LoginHandler)
	auth.POST("/logout", deps.Auth.LogoutHandler)
	auth.GET("/status", deps.Auth.StatusHandler)
	auth.PUT("/password", deps.Auth.RequireAdmin(), deps.Auth.ChangePasswordHandler)

	public := api.Group("", deps.Auth.OptionalAuth())
	RegisterQueueRoutes(public, NewQueueHandler(deps.Queue))

	user := api.Group("", deps.Auth.RequireUser())
	admin := api.Group("/admin", deps.Auth.RequireAdmin())

	RegisterJobRoutes(user, admin, NewJobHandler(deps.Queue, deps.DB.Audit, logger))
	RegisterAdminRoutes(admin, NewAdminHandler(deps.Queue, deps.DB.Audit, deps.DB.Counters, logger))
	RegisterWebhookRoutes(admin, NewWebhookHandler(deps.DB.Webhooks, deps.DB.Audit, logger))
	RegisterSettingsRoutes(admin, NewSettingsHandler(deps.DB.Settings, deps.Archiver, deps.DB.Audit, deps.Config, logger))
	if deps.Archiver != nil {
		RegisterArchiveRoutes(admin, NewArchiveHandler(deps.Archiver, deps.DB.Archive, deps.DB.Audit, logger))
	}

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			logger.Error("request", attrs...)
		case status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
	}
}
