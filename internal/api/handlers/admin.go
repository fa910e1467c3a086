package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
	"github.com/orrn/printq/internal/export"
)

type AuditQuery struct {
	Action     string `form:"action"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset" binding:"min=0"`
}

type StatsQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

type StatsResponse struct {
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Days     []*db.PrintCounter     `json:"days"`
	Jobs     int64                  `json:"jobs"`
	Pages    int64                  `json:"pages"`
	Revenue  int64                  `json:"revenue"`
	ByStatus map[core.JobStatus]int `json:"by_status"`
}

// AdminHandler serves reporting routes: audit trail, daily totals and the
// spreadsheet export.
type AdminHandler struct {
	queue    *core.Queue
	audit    *db.AuditOperations
	counters *db.CounterOperations
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdminHandler(queue *core.Queue, audit *db.AuditOperations, counters *db.CounterOperations, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AdminHandler{
		queue:    queue,
		audit:    audit,
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *AdminHandler) ListAudit(c *gin.Context) {
	var query AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	if query.Limit <= 0 || query.Limit > 200 {
		query.Limit = 50
	}

	logs, err := h.audit.ListAuditLogs(c.Request.Context(), db.AuditFilter{
		Action:     query.Action,
		EntityType: query.EntityType,
		EntityID:   query.EntityID,
	}, query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve audit log"})
		return
	}
	if logs == nil {
		logs = []*db.AuditLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": logs,
		"limit":   query.Limit,
		"offset":  query.Offset,
		"count":   len(logs),
	})
}

// Stats returns daily print totals for ?from=YYYY-MM-DD&to=YYYY-MM-DD
// (default: the last 30 days) and the current job count per status.
func (h *AdminHandler) Stats(c *gin.Context) {
	var query StatsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	to := h.now().UTC()
	from := to.AddDate(0, 0, -29)
	var err error
	if query.From != "" {
		if from, err = time.Parse("2006-01-02", query.From); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "from must be YYYY-MM-DD"})
			return
		}
	}
	if query.To != "" {
		if to, err = time.Parse("2006-01-02", query.To); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "to must be YYYY-MM-DD"})
			return
		}
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "from must not be after to"})
		return
	}

	days, err := h.counters.GetCounters(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve counters"})
		return
	}

	jobs, err := h.queue.ListJobs(c.Request.Context())
	if err != nil {
		respondCoreError(c, err)
		return
	}

	resp := StatsResponse{
		From:     from.Format("2006-01-02"),
		To:       to.Format("2006-01-02"),
		Days:     days,
		ByStatus: make(map[core.JobStatus]int),
	}
	if resp.Days == nil {
		resp.Days = []*db.PrintCounter{}
	}
	for _, d := range days {
		resp.Jobs += d.Jobs
		resp.Pages += d.Pages
		resp.Revenue += d.Revenue
	}
	for _, j := range jobs {
		resp.ByStatus[j.Status]++
	}

	c.JSON(http.StatusOK, resp)
}

// ExportJobs downloads the live job table as an xlsx workbook.
func (h *AdminHandler) ExportJobs(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	jobs, err := h.queue.ListJobs(c.Request.Context(), statuses...)
	if err != nil {
		respondCoreError(c, err)
		return
	}

	filename := fmt.Sprintf("printq_jobs_%s.xlsx", h.now().UTC().Format("20060102_150405"))
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)

	if err := export.WriteJobsXLSX(c.Writer, jobs); err != nil {
		h.logger.Error("failed to export jobs", "error", err)
		c.Abort()
		return
	}
	recordAudit(c, h.audit, h.logger, "jobs.export", "job", "", gin.H{"count": len(jobs)})
}

// recordAudit writes an audit entry. Failures are logged and never fail the
// request that triggered them.
func recordAudit(c *gin.Context, audit *db.AuditOperations, logger *slog.Logger, action, entityType, entityID string, details interface{}) {
	if audit == nil {
		return
	}
	detailsJSON := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}
	err := audit.CreateAuditLog(c.Request.Context(), &db.AuditLog{
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		DetailsJSON: detailsJSON,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		logger.Warn("failed to write audit log", "action", action, "entity_id", entityID, "error", err)
	}
}

func RegisterAdminRoutes(r *gin.RouterGroup, h *AdminHandler) {
	r.GET("/audit", h.ListAudit)
	r.GET("/stats", h.Stats)
	r.GET("/export/jobs", h.ExportJobs)
}
