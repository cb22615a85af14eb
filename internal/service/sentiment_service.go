package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"sentiment-engine/internal/domain"
	"sentiment-engine/internal/stream"
	"sentiment-engine/internal/ta"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxContextHeadlines = 10

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrInvalidVote      = errors.New("user_id and vote_type (bullish or bearish) are required")
	ErrAdvisorDisabled  = errors.New("local AI advisor is not configured")
	ErrHistoryDisabled  = errors.New("batch history is not configured")
	ErrUnknownProvider  = errors.New("unknown AI provider")
)

// Coordinator is the sync core the service fronts.
type Coordinator interface {
	Sync(ctx context.Context, sel domain.Selection) (domain.BatchReport, error)
	State() domain.SyncResult
	Selection() domain.Selection
	LoadCachedSnapshot(ctx context.Context, pair, timeframe string) (int, error)
	FilterSources(criteria domain.FilterCriteria) []domain.NewsItem
	ApplyPollStats(pair string, stats domain.PollStats) bool
}

type LiveChannel interface {
	Activate(ctx context.Context, pair string) error
	Status() stream.Status
}

// Backend covers the backend calls that are not part of a sync batch.
type Backend interface {
	SubmitVote(ctx context.Context, vote domain.VoteRequest) (*domain.PollStats, error)
	Summarize(ctx context.Context, req domain.SummaryRequest) (*domain.SummaryResponse, error)
	Narrative(ctx context.Context, req domain.NarrativeRequest) (*domain.NarrativeResponse, error)
	GenerateReport(ctx context.Context, req domain.ReportRequest) (*domain.ReportResponse, error)
}

type Advisor interface {
	Summarize(ctx context.Context, req domain.SummaryRequest) (*domain.SummaryResponse, error)
	GenerateReport(ctx context.Context, req domain.ReportRequest) (*domain.ReportResponse, error)
}

type HistoryReader interface {
	ListBatches(ctx context.Context, pair string, limit int) ([]domain.BatchRecord, error)
}

// ReportOptions are the caller-supplied parts of a report request; the rest
// comes from the current state.
type ReportOptions struct {
	WhaleStats domain.WhaleStats `json:"whale_stats"`
	Language   string            `json:"language"`
	Provider   string            `json:"provider"`
}

type StreamStatus struct {
	stream.Status
	ActivePair string `json:"active_pair"`
}

type SentimentService struct {
	tracer  trace.Tracer
	coord   Coordinator
	channel LiveChannel
	backend Backend
	advisor Advisor
	history HistoryReader
}

func NewSentimentService(tracer trace.Tracer, coord Coordinator, channel LiveChannel, backend Backend) *SentimentService {
	return &SentimentService{
		tracer:  tracer,
		coord:   coord,
		channel: channel,
		backend: backend,
	}
}

func (s *SentimentService) SetAdvisor(a Advisor) { s.advisor = a }

func (s *SentimentService) SetHistory(h HistoryReader) { s.history = h }

// Sync points the live channel at the pair and runs one batch.
func (s *SentimentService) Sync(ctx context.Context, sel domain.Selection) (domain.BatchReport, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.sync")
	defer span.End()

	sel = sel.Normalize()
	if err := sel.Validate(); err != nil {
		return domain.BatchReport{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	span.SetAttributes(attribute.String("selection", sel.String()))

	if s.channel != nil {
		if err := s.channel.Activate(ctx, sel.Pair); err != nil {
			log.Printf("sentiment-service: activate stream failed pair=%s err=%v", sel.Pair, err)
		}
	}
	return s.coord.Sync(ctx, sel)
}

// Refresh re-syncs the active selection, or def when nothing is selected yet.
func (s *SentimentService) Refresh(ctx context.Context, def domain.Selection) (domain.BatchReport, error) {
	sel := s.coord.Selection()
	if sel.Pair == "" {
		sel = def
	}
	return s.Sync(ctx, sel)
}

func (s *SentimentService) State() domain.SyncResult {
	return s.coord.State()
}

func (s *SentimentService) LoadSnapshot(ctx context.Context, pair, timeframe string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.load-snapshot")
	defer span.End()
	return s.coord.LoadCachedSnapshot(ctx, pair, timeframe)
}

func (s *SentimentService) News(criteria domain.FilterCriteria) []domain.NewsItem {
	return s.coord.FilterSources(criteria)
}

func (s *SentimentService) StreamStatus() StreamStatus {
	out := StreamStatus{ActivePair: s.coord.Selection().Pair}
	if s.channel != nil {
		out.Status = s.channel.Status()
	} else {
		out.Status = stream.Status{State: stream.StateDisconnected}
	}
	return out
}

// Vote forwards a poll vote and merges the returned stats into state.
func (s *SentimentService) Vote(ctx context.Context, vote domain.VoteRequest) (*domain.PollStats, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.vote")
	defer span.End()

	vote.UserID = strings.TrimSpace(vote.UserID)
	vote.VoteType = strings.ToLower(strings.TrimSpace(vote.VoteType))
	if vote.UserID == "" || (vote.VoteType != "bullish" && vote.VoteType != "bearish") {
		return nil, ErrInvalidVote
	}

	stats, err := s.backend.SubmitVote(ctx, vote)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if pair := s.coord.Selection().Pair; pair != "" {
		s.coord.ApplyPollStats(pair, *stats)
	}
	return stats, nil
}

// Summary fills missing headlines and asset from state, then routes to the
// local advisor or the backend according to req.Provider.
func (s *SentimentService) Summary(ctx context.Context, req domain.SummaryRequest) (*domain.SummaryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.summary")
	defer span.End()

	state := s.coord.State()
	if len(req.Headlines) == 0 {
		req.Headlines = headlines(state.News)
	}
	if strings.TrimSpace(req.Asset) == "" {
		req.Asset = state.Selection.Symbol()
	}

	local, err := s.useAdvisor(req.Provider)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("local", local))
	if local {
		return s.advisor.Summarize(ctx, req)
	}
	return s.backend.Summarize(ctx, req)
}

func (s *SentimentService) Narrative(ctx context.Context, req domain.NarrativeRequest) (*domain.NarrativeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.narrative")
	defer span.End()

	state := s.coord.State()
	if len(req.Headlines) == 0 {
		req.Headlines = headlines(state.News)
	}
	if strings.TrimSpace(req.Asset) == "" {
		req.Asset = state.Selection.Symbol()
	}
	return s.backend.Narrative(ctx, req)
}

// Report assembles a report request from state: recent headlines, the
// latest sentiment score and the correlation statistic.
func (s *SentimentService) Report(ctx context.Context, opts ReportOptions) (*domain.ReportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.report")
	defer span.End()

	state := s.coord.State()
	req := domain.ReportRequest{
		Headlines:   headlines(state.News),
		Correlation: state.CorrelationStat,
		WhaleStats:  opts.WhaleStats,
		Language:    opts.Language,
	}
	if n := len(state.Correlation); n > 0 {
		req.Score = state.Correlation[n-1].Score
		scores := make([]float64, n)
		for i, p := range state.Correlation {
			scores[i] = p.Score
		}
		req.ScoreMean, req.ScoreStd = ta.MeanStd(scores)
	}

	local, err := s.useAdvisor(opts.Provider)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("local", local))
	if local {
		return s.advisor.GenerateReport(ctx, req)
	}
	return s.backend.GenerateReport(ctx, req)
}

func (s *SentimentService) History(ctx context.Context, pair string, limit int) ([]domain.BatchRecord, error) {
	ctx, span := s.tracer.Start(ctx, "sentiment-service.history")
	defer span.End()

	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.ListBatches(ctx, pair, limit)
}

func (s *SentimentService) useAdvisor(provider string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "auto":
		return s.advisor != nil, nil
	case "openai", "local":
		if s.advisor == nil {
			return false, ErrAdvisorDisabled
		}
		return true, nil
	case "backend":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

func headlines(items []domain.NewsItem) []string {
	out := make([]string, 0, maxContextHeadlines)
	for _, item := range items {
		if len(out) == maxContextHeadlines {
			break
		}
		if c := strings.TrimSpace(item.Content); c != "" {
			out = append(out, c)
		}
	}
	return out
}
