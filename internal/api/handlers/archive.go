package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/db"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
	records  *db.ArchiveOperations
	audit    *db.AuditOperations
	logger   *slog.Logger
}

func NewArchiveHandler(archiver *archive.Archiver, records *db.ArchiveOperations, audit *db.AuditOperations, logger *slog.Logger) *ArchiveHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ArchiveHandler{
		archiver: archiver,
		records:  records,
		audit:    audit,
		logger:   logger,
	}
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archives"})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives: archives,
		Count:    len(archives),
	})
}

func (h *ArchiveHandler) GetArchiveInfo(c *gin.Context) {
	info, err := h.archiver.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		h.archiveError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *ArchiveHandler) DownloadArchive(c *gin.Context) {
	filename := c.Param("filename")
	path, err := h.archiver.ArchivePath(filename)
	if err != nil {
		h.archiveError(c, err)
		return
	}
	c.FileAttachment(path, filename)
}

func (h *ArchiveHandler) DeleteArchive(c *gin.Context) {
	filename := c.Param("filename")
	if err := h.archiver.DeleteArchive(c.Request.Context(), filename); err != nil {
		h.archiveError(c, err)
		return
	}

	recordAudit(c, h.audit, h.logger, "archive.delete", "archive", filename, nil)
	c.JSON(http.StatusOK, gin.H{"message": "archive deleted"})
}

func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		h.logger.Error("manual archive run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "archive completed with errors",
			"error":   err.Error(),
		})
		return
	}

	recordAudit(c, h.audit, h.logger, "archive.run", "archive", "", gin.H{"archived": n})
	c.JSON(http.StatusOK, gin.H{
		"message":  "archive completed successfully",
		"archived": n,
	})
}

// ListArchivedJobs pages through the index of jobs moved into archives.
func (h *ArchiveHandler) ListArchivedJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.records.GetArchiveJobs(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archived jobs"})
		return
	}
	if records == nil {
		records = []*db.ArchiveJob{}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   records,
		"limit":  limit,
		"offset": offset,
		"count":  len(records),
	})
}

type ArchiveStatsResponse struct {
	TotalArchives   int    `json:"total_archives"`
	TotalSize       int64  `json:"total_size_bytes"`
	TotalJobsStored int    `json:"total_jobs_stored"`
	OldestArchive   string `json:"oldest_archive,omitempty"`
	NewestArchive   string `json:"newest_archive,omitempty"`
	ArchiveDays     int    `json:"archive_days"`
}

func (h *ArchiveHandler) GetArchiveStats(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get archive stats"})
		return
	}

	resp := ArchiveStatsResponse{
		TotalArchives: len(archives),
		ArchiveDays:   h.archiver.GetArchiveDays(),
	}
	for _, a := range archives {
		resp.TotalSize += a.Size
		if n, err := h.records.CountByFile(c.Request.Context(), a.Filename); err == nil {
			resp.TotalJobsStored += n
		}
		if resp.OldestArchive == "" || a.Filename < resp.OldestArchive {
			resp.OldestArchive = a.Filename
		}
		if resp.NewestArchive == "" || a.Filename > resp.NewestArchive {
			resp.NewestArchive = a.Filename
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ArchiveHandler) archiveError(c *gin.Context, err error) {
	if errors.Is(err, archive.ErrArchiveNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
		return
	}
	h.logger.Error("archive request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "archive operation failed"})
}

func RegisterArchiveRoutes(r *gin.RouterGroup, h *ArchiveHandler) {
	r.GET("/archives", h.ListArchives)
	r.GET("/archives/stats", h.GetArchiveStats)
	r.GET("/archives/jobs", h.ListArchivedJobs)
	r.POST("/archives/run", h.TriggerArchive)
	r.GET("/archives/files/:filename", h.GetArchiveInfo)
	r.GET("/archives/files/:filename/download", h.DownloadArchive)
	r.DELETE("/archives/files/:filename", h.DeleteArchive)
}
