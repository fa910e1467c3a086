package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/db"
)

const settingsKeyArchiveDays = "archive_days"

type SettingsHandler struct {
	settings *db.SettingsOperations
	archiver *archive.Archiver
	audit    *db.AuditOperations
	config   *config.Config
	logger   *slog.Logger
}

type SettingsResponse struct {
	ArchiveDays int `json:"archive_days"`
}

type ServerConfigResponse struct {
	Port               int    `json:"port"`
	DatabaseDriver     string `json:"database_driver"`
	DatabasePath       string `json:"database_path"`
	ArchivePath        string `json:"archive_path"`
	ConfirmationWindow string `json:"confirmation_window"`
	PrintDuration      string `json:"print_duration"`
	PollInterval       string `json:"poll_interval"`
	MaxRetries         int    `json:"max_retries"`
	RetryDelay         string `json:"retry_delay"`
	WebhookWorkers     int    `json:"webhook_workers"`
	SchedulerLease     bool   `json:"scheduler_lease"`
	LogLevel           string `json:"log_level"`
	LogFormat          string `json:"log_format"`
}

type UpdateArchiveSettingsRequest struct {
	ArchiveDays int `json:"archive_days" binding:"required,min=1,max=365"`
}

func NewSettingsHandler(settings *db.SettingsOperations, archiver *archive.Archiver, audit *db.AuditOperations, cfg *config.Config, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SettingsHandler{
		settings: settings,
		archiver: archiver,
		audit:    audit,
		config:   cfg,
		logger:   logger,
	}
}

// StoredArchiveDays returns the archive retention saved by an admin, or
// fallback when none was saved.
func StoredArchiveDays(ctx context.Context, settings *db.SettingsOperations, fallback int) int {
	if setting, err := settings.GetSetting(ctx, settingsKeyArchiveDays); err == nil {
		if days, err := strconv.Atoi(setting.Value); err == nil && days > 0 {
			return days
		}
	}
	return fallback
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, SettingsResponse{
		ArchiveDays: StoredArchiveDays(c.Request.Context(), h.settings, h.config.Database.ArchiveDays),
	})
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:               h.config.Server.Port,
		DatabaseDriver:     h.config.Database.Driver,
		DatabasePath:       h.config.Database.Path,
		ArchivePath:        h.config.Database.ArchivePath,
		ConfirmationWindow: h.config.Printer.ConfirmationWindow.String(),
		PrintDuration:      h.config.Printer.PrintDuration.String(),
		PollInterval:       h.config.Printer.PollInterval.String(),
		MaxRetries:         h.config.Queue.MaxRetries,
		RetryDelay:         h.config.Queue.RetryDelay.String(),
		WebhookWorkers:     h.config.Webhooks.WorkerCount,
		SchedulerLease:     h.config.Redis.Enabled(),
		LogLevel:           h.config.Logging.Level,
		LogFormat:          h.config.Logging.Format,
	})
}

func (h *SettingsHandler) UpdateArchiveSettings(c *gin.Context) {
	var req UpdateArchiveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.settings.SetSetting(c.Request.Context(), settingsKeyArchiveDays, strconv.Itoa(req.ArchiveDays), false); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update archive days",
		})
		return
	}
	if h.archiver != nil {
		h.archiver.SetArchiveDays(req.ArchiveDays)
	}

	recordAudit(c, h.audit, h.logger, "settings.archive", "setting", settingsKeyArchiveDays, gin.H{"archive_days": req.ArchiveDays})
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Archive settings updated",
		"archive_days": req.ArchiveDays,
	})
}

func RegisterSettingsRoutes(r *gin.RouterGroup, h *SettingsHandler) {
	r.GET("/settings", h.GetSettings)
	r.GET("/settings/server", h.GetServerConfig)
	r.PUT("/settings/archive", h.UpdateArchiveSettings)
}
