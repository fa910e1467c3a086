package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondCoreError maps queue errors to HTTP statuses. State and validation
// errors carry their message to the caller; store failures do not.
func respondCoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Job not found"})
	case errors.Is(err, core.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_state", Message: err.Error()})
	case errors.Is(err, core.ErrPrinterBusy):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "printer_busy", Message: err.Error()})
	case errors.Is(err, core.ErrStatusConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: "Job changed concurrently, retry"})
	case errors.Is(err, core.ErrStandby):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "scheduler_standby", Message: "This replica does not run the scheduler, retry against the active one"})
	case errors.Is(err, core.ErrStore):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable", Message: "Job store is unavailable, retry later"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Unexpected error"})
	}
}
