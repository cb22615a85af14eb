package handler

import (
	"context"
	"net/http"

	"sentiment-engine/internal/domain"
	"sentiment-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// SentimentService is the subset of service.SentimentService the routes use.
type SentimentService interface {
	Sync(ctx context.Context, sel domain.Selection) (domain.BatchReport, error)
	State() domain.SyncResult
	LoadSnapshot(ctx context.Context, pair, timeframe string) (int, error)
	News(criteria domain.FilterCriteria) []domain.NewsItem
	StreamStatus() service.StreamStatus
	Vote(ctx context.Context, vote domain.VoteRequest) (*domain.PollStats, error)
	Summary(ctx context.Context, req domain.SummaryRequest) (*domain.SummaryResponse, error)
	Narrative(ctx context.Context, req domain.NarrativeRequest) (*domain.NarrativeResponse, error)
	Report(ctx context.Context, opts service.ReportOptions) (*domain.ReportResponse, error)
	History(ctx context.Context, pair string, limit int) ([]domain.BatchRecord, error)
}

// Relay upgrades a request into a live feed connection.
type Relay interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type Handler struct {
	tracer trace.Tracer
	svc    SentimentService
	relay  Relay
	apiKey string
}

func New(tracer trace.Tracer, svc SentimentService, apiKey string) *Handler {
	return &Handler{
		tracer: tracer,
		svc:    svc,
		apiKey: apiKey,
	}
}

func (h *Handler) SetRelay(r Relay) { h.relay = r }

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/ws", h.ServeWS)

	api := r.Group("/api")
	api.GET("/state", h.GetState)
	api.GET("/news", h.GetNews)
	api.GET("/stream/status", h.GetStreamStatus)
	api.GET("/history", h.GetHistory)

	mutating := api.Group("", RequireAPIKey(h.apiKey))
	mutating.POST("/sync", h.Sync)
	mutating.POST("/snapshot/load", h.LoadSnapshot)
	mutating.POST("/poll/vote", h.Vote)
	mutating.POST("/ai/summary", h.Summary)
	mutating.POST("/ai/narrative", h.Narrative)
	mutating.POST("/ai/report", h.Report)
}
