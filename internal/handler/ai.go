package handler

import (
	"errors"
	"net/http"

	"sentiment-engine/internal/domain"
	"sentiment-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

func (h *Handler) Vote(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.vote")
	defer span.End()

	var vote domain.VoteRequest
	if err := c.ShouldBindJSON(&vote); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	stats, err := h.svc.Vote(ctx, vote)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Summary and Report accept an optional "provider" field: auto, openai or
// backend. Missing headlines and asset are taken from the current state.
func (h *Handler) Summary(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ai-summary")
	defer span.End()

	var req domain.SummaryRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	span.SetAttributes(attribute.String("provider", req.Provider))

	resp, err := h.svc.Summary(ctx, req)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Narrative(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ai-narrative")
	defer span.End()

	var req domain.NarrativeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	resp, err := h.svc.Narrative(ctx, req)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Report(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ai-report")
	defer span.End()

	var opts service.ReportOptions
	if !bindOptionalJSON(c, &opts) {
		return
	}
	span.SetAttributes(attribute.String("provider", opts.Provider), attribute.String("language", opts.Language))

	resp, err := h.svc.Report(ctx, opts)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bindOptionalJSON decodes the body into dst when one was sent. It writes a
// 400 and returns false on a malformed body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func isBadRequest(err error) bool {
	return errors.Is(err, service.ErrInvalidSelection) ||
		errors.Is(err, service.ErrInvalidVote) ||
		errors.Is(err, service.ErrUnknownProvider)
}

func isUnavailable(err error) bool {
	return errors.Is(err, service.ErrAdvisorDisabled) || errors.Is(err, service.ErrHistoryDisabled)
}
