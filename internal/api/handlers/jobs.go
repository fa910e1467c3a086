package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

type CreateJobRequest struct {
	Name       string `json:"name" binding:"required"`
	SizeBytes  int64  `json:"size_bytes" binding:"min=0"`
	PageCount  int    `json:"page_count" binding:"required,min=1"`
	PrintSides string `json:"print_sides"`
	PrintColor string `json:"print_color"`
	PayNow     bool   `json:"pay_now"`
}

type JobResponse struct {
	*core.Job
	EstimatedWaitMinutes *float64 `json:"estimated_wait_minutes,omitempty"`
}

type ListJobsQuery struct {
	Status string `form:"status"`
}

// JobHandler serves the owner-facing job routes and the admin job actions.
type JobHandler struct {
	queue  *core.Queue
	audit  *db.AuditOperations
	logger *slog.Logger
}

func NewJobHandler(queue *core.Queue, audit *db.AuditOperations, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JobHandler{queue: queue, audit: audit, logger: logger}
}

func (h *JobHandler) toResponse(j *core.Job) JobResponse {
	resp := JobResponse{Job: j}
	if j.Status.IsAdmitted() && j.QueuePosition > 0 {
		wait := h.queue.EstimateWaitMinutes(j.QueuePosition)
		resp.EstimatedWaitMinutes = &wait
	}
	return resp
}

func (h *JobHandler) toResponses(jobs []*core.Job) []JobResponse {
	responses := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		responses = append(responses, h.toResponse(j))
	}
	return responses
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	ownerID, _ := middleware.OwnerID(c)

	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.queue.Submit(c.Request.Context(), core.SubmitRequest{
		OwnerID: ownerID,
		File: core.FileMeta{
			Name:      req.Name,
			SizeBytes: req.SizeBytes,
			PageCount: req.PageCount,
		},
		Sides:  core.PrintSides(req.PrintSides),
		Color:  core.PrintColor(req.PrintColor),
		PayNow: req.PayNow,
	})
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(job))
}

func (h *JobHandler) ListMyJobs(c *gin.Context) {
	ownerID, _ := middleware.OwnerID(c)

	jobs, err := h.queue.ListJobsForOwner(c.Request.Context(), ownerID)
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  h.toResponses(jobs),
		"count": len(jobs),
	})
}

func (h *JobHandler) GetMyJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.toResponse(job))
}

// PayJob records a successful payment reported by the payment provider.
func (h *JobHandler) PayJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	job, err := h.queue.Pay(c.Request.Context(), job.ID)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(job))
}

func (h *JobHandler) ConfirmJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	job, err := h.queue.ConfirmPresence(c.Request.Context(), job.ID)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(job))
}

// ownedJob loads the :id job and answers 404 when it belongs to someone else.
func (h *JobHandler) ownedJob(c *gin.Context) (*core.Job, bool) {
	ownerID, _ := middleware.OwnerID(c)

	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondCoreError(c, err)
		return nil, false
	}
	if job.OwnerID != ownerID {
		respondCoreError(c, core.ErrNotFound)
		return nil, false
	}
	return job, true
}

// AdminListJobs lists jobs in queue order. ?status=pending,paid filters.
func (h *JobHandler) AdminListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	statuses, err := parseStatuses(query.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	jobs, err := h.queue.ListJobs(c.Request.Context(), statuses...)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	holder := h.queue.PrinterHolder()

	c.JSON(http.StatusOK, gin.H{
		"jobs":         h.toResponses(jobs),
		"count":        len(jobs),
		"printer_job":  holder,
		"printer_busy": holder != "",
	})
}

func (h *JobHandler) AdminGetJob(c *gin.Context) {
	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(job))
}

func (h *JobHandler) AdminConfirm(c *gin.Context) {
	h.adminAction(c, "job.confirm", h.queue.ConfirmPresence)
}

func (h *JobHandler) AdminSkip(c *gin.Context) {
	h.adminAction(c, "job.skip", h.queue.AdminSkip)
}

func (h *JobHandler) AdminForcePrint(c *gin.Context) {
	h.adminAction(c, "job.force_print", h.queue.AdminForcePrint)
}

func (h *JobHandler) AdminPay(c *gin.Context) {
	h.adminAction(c, "job.pay", h.queue.Pay)
}

func (h *JobHandler) adminAction(c *gin.Context, action string, fn func(context.Context, string) (*core.Job, error)) {
	id := c.Param("id")
	job, err := fn(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("admin action rejected", "action", action, "job_id", id, "error", err)
		respondCoreError(c, err)
		return
	}

	recordAudit(c, h.audit, h.logger, action, "job", job.ID, gin.H{
		"status":        job.Status,
		"payment_state": job.PaymentState,
	})
	c.JSON(http.StatusOK, h.toResponse(job))
}

func parseStatuses(raw string) ([]core.JobStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var statuses []core.JobStatus
	for _, part := range strings.Split(raw, ",") {
		s := core.JobStatus(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, errors.New("unknown status: " + string(s))
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func RegisterJobRoutes(user, admin *gin.RouterGroup, h *JobHandler) {
	user.POST("/jobs", h.CreateJob)
	user.GET("/jobs", h.ListMyJobs)
	user.GET("/jobs/:id", h.GetMyJob)
	user.POST("/jobs/:id/pay", h.PayJob)
	user.POST("/jobs/:id/confirm", h.ConfirmJob)

	admin.GET("/jobs", h.AdminListJobs)
	admin.GET("/jobs/:id", h.AdminGetJob)
	admin.POST("/jobs/:id/confirm", h.AdminConfirm)
	admin.POST("/jobs/:id/skip", h.AdminSkip)
	admin.POST("/jobs/:id/force-print", h.AdminForcePrint)
	admin.POST("/jobs/:id/pay", h.AdminPay)
}
