package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"sentiment-engine/internal/coordinator"
	"sentiment-engine/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type snapshotRequest struct {
	Pair      string `json:"pair" binding:"required"`
	Timeframe string `json:"timeframe"`
}

// Sync runs one batch for the posted selection and returns its report.
func (h *Handler) Sync(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.sync")
	defer span.End()

	var sel domain.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("pair", sel.Pair))

	report, err := h.svc.Sync(ctx, sel)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetState(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-state")
	defer span.End()

	c.JSON(http.StatusOK, h.svc.State())
}

func (h *Handler) LoadSnapshot(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.load-snapshot")
	defer span.End()

	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("pair", req.Pair), attribute.String("timeframe", req.Timeframe))

	restored, err := h.svc.LoadSnapshot(ctx, req.Pair, req.Timeframe)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored, "state": h.svc.State()})
}

// GetNews filters the current news by sentiment, topic and source query
// parameters. Empty or "all" disables a filter.
func (h *Handler) GetNews(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-news")
	defer span.End()

	var criteria domain.FilterCriteria
	if err := c.ShouldBindQuery(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := h.svc.News(criteria)
	span.SetAttributes(attribute.Int("count", len(items)))
	c.JSON(http.StatusOK, gin.H{"news": items, "count": len(items)})
}

func (h *Handler) GetStreamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.StreamStatus())
}

func (h *Handler) GetHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-history")
	defer span.End()

	pair := strings.ToUpper(strings.TrimSpace(c.Query("pair")))
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	span.SetAttributes(attribute.String("pair", pair), attribute.Int("limit", limit))

	records, err := h.svc.History(ctx, pair, limit)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []domain.BatchRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"batches": records})
}

func statusFor(err error) int {
	switch {
	case isBadRequest(err):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrSelectionBusy):
		return http.StatusConflict
	case isUnavailable(err), errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
