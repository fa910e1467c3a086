package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/core"
)

type QuoteQuery struct {
	Sides string `form:"sides"`
	Color string `form:"color"`
	Pages int    `form:"pages" binding:"required"`
}

type QuoteResponse struct {
	Sides   core.PrintSides `json:"sides"`
	Color   core.PrintColor `json:"color"`
	Pages   int             `json:"pages"`
	PerPage int64           `json:"per_page"`
	Price   int64           `json:"price"`
}

// QueueHandler serves the public read-only queue and pricing views.
type QueueHandler struct {
	queue *core.Queue
}

func NewQueueHandler(queue *core.Queue) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// GetQueue reports queue stats. With a user session the caller's position and
// wait estimate are included.
func (h *QueueHandler) GetQueue(c *gin.Context) {
	ownerID, _ := middleware.OwnerID(c)

	stats, err := h.queue.QueueStats(c.Request.Context(), ownerID)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QueueHandler) GetPricing(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Pricing())
}

func (h *QueueHandler) Quote(c *gin.Context) {
	var query QuoteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	sides, err := core.ParseSides(query.Sides)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	color, err := core.ParseColor(query.Color)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	price, err := h.queue.Price(sides, color, query.Pages)
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, QuoteResponse{
		Sides:   sides,
		Color:   color,
		Pages:   query.Pages,
		PerPage: h.queue.Pricing().PerPage(sides, color),
		Price:   price,
	})
}

func RegisterQueueRoutes(r *gin.RouterGroup, h *QueueHandler) {
	r.GET("/queue", h.GetQueue)
	r.GET("/pricing", h.GetPricing)
	r.GET("/pricing/quote", h.Quote)
}
