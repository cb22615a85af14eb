package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"sentiment-engine/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SentimentAPI is the client for the trading backend's /sentiment endpoints.
type SentimentAPI struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewSentimentAPI creates a client. ratePerMin <= 0 disables client-side rate limiting.
func NewSentimentAPI(tracer trace.Tracer, baseURL string, ratePerMin int) *SentimentAPI {
	api := &SentimentAPI{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
		limiter: NewRateLimiter(ratePerMin),
	}
	return api
}

type newsWire struct {
	ID          domain.FlexString `json:"id"`
	Source      string            `json:"source"`
	Content     string            `json:"content"`
	Text        string            `json:"text"`
	Title       string            `json:"title"`
	Sentiment   string            `json:"sentiment"`
	Label       string            `json:"label"`
	Timestamp   domain.FlexTime   `json:"timestamp"`
	PublishedAt domain.FlexTime   `json:"published_at"`
	URL         string            `json:"url"`
	ImpactScore *domain.FlexFloat `json:"impact_score"`
	ImpactLevel string            `json:"impact_level"`
}

func (w newsWire) toDomain() (domain.NewsItem, bool) {
	content := sanitizeText(firstNonEmpty(w.Content, w.Text, w.Title), 2000)
	if content == "" {
		return domain.NewsItem{}, false
	}
	published := w.PublishedAt.Time
	if published.IsZero() {
		published = w.Timestamp.Time
	}
	item := domain.NewsItem{
		ID:          string(w.ID),
		Source:      sanitizeText(w.Source, 120),
		Content:     content,
		Sentiment:   normalizeLabel(firstNonEmpty(w.Sentiment, w.Label)),
		PublishedAt: published,
		URL:         strings.TrimSpace(w.URL),
		ImpactLevel: strings.TrimSpace(w.ImpactLevel),
	}
	if item.ID == "" {
		item.ID = item.Source + ":" + published.Format(time.RFC3339Nano)
	}
	if w.ImpactScore != nil {
		v := float64(*w.ImpactScore)
		item.ImpactScore = &v
	}
	return item, true
}

// normalizeLabel maps loose labels to Positive, Negative or Neutral.
func normalizeLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive", "bullish", "pos":
		return "Positive"
	case "negative", "bearish", "neg":
		return "Negative"
	case "", "neutral":
		return "Neutral"
	default:
		return strings.TrimSpace(label)
	}
}

func (a *SentimentAPI) FetchNews(ctx context.Context, sel domain.Selection, limit int) ([]domain.NewsItem, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-news")
	defer span.End()
	span.SetAttributes(attribute.String("pair", sel.Pair))

	q := url.Values{}
	q.Set("symbol", sel.Symbol())
	q.Set("model", string(sel.Model))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	body, err := a.get(ctx, "/sentiment/news", q)
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}
	raw, err := unwrapList(body, "news", "data", "items")
	if err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	var rows []newsWire
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	items := make([]domain.NewsItem, 0, len(rows))
	for _, row := range rows {
		if item, ok := row.toDomain(); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (a *SentimentAPI) FetchFearGreed(ctx context.Context) (*domain.FearGreedReading, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-fear-greed")
	defer span.End()

	body, err := a.get(ctx, "/sentiment/fear-greed", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch fear-greed: %w", err)
	}
	var payload struct {
		Value          domain.FlexFloat `json:"value"`
		Classification string           `json:"value_classification"`
		Timestamp      domain.FlexTime  `json:"timestamp"`
	}
	if err := json.Unmarshal(unwrapObject(body, "data"), &payload); err != nil {
		return nil, fmt.Errorf("decode fear-greed: %w", err)
	}
	if strings.TrimSpace(payload.Classification) == "" {
		return nil, fmt.Errorf("decode fear-greed: missing value_classification")
	}
	ts := payload.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &domain.FearGreedReading{
		Value:          int(clamp(float64(payload.Value), 0, 100)),
		Classification: strings.TrimSpace(payload.Classification),
		Timestamp:      ts,
		Source:         "backend",
	}, nil
}

func (a *SentimentAPI) FetchCorrelation(ctx context.Context, sel domain.Selection) ([]domain.CorrelationPoint, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-correlation")
	defer span.End()
	span.SetAttributes(attribute.String("pair", sel.Pair), attribute.String("timeframe", sel.Timeframe))

	q := url.Values{}
	q.Set("symbol", sel.Symbol())
	q.Set("period", sel.Timeframe)
	q.Set("model", string(sel.Model))
	body, err := a.get(ctx, "/sentiment/correlation", q)
	if err != nil {
		return nil, fmt.Errorf("fetch correlation: %w", err)
	}
	raw, err := unwrapList(body, "data", "series", "points")
	if err != nil {
		return nil, fmt.Errorf("decode correlation: %w", err)
	}
	return decodeCorrelation(raw)
}

func decodeCorrelation(raw []byte) ([]domain.CorrelationPoint, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode correlation: %w", err)
	}
	points := make([]domain.CorrelationPoint, 0, len(rows))
	for i, row := range rows {
		var pt domain.CorrelationPoint
		var ts domain.FlexTime
		rawTime, ok := row["time"]
		if !ok {
			rawTime, ok = row["timestamp"]
		}
		if !ok {
			return nil, fmt.Errorf("decode correlation: row %d has no time", i)
		}
		if err := json.Unmarshal(rawTime, &ts); err != nil {
			return nil, fmt.Errorf("decode correlation row %d: %w", i, err)
		}
		pt.Time = ts.Time

		var price, score domain.FlexFloat
		if err := json.Unmarshal(row["price"], &price); err != nil {
			return nil, fmt.Errorf("decode correlation row %d price: %w", i, err)
		}
		if err := json.Unmarshal(row["score"], &score); err != nil {
			return nil, fmt.Errorf("decode correlation row %d score: %w", i, err)
		}
		pt.Price = float64(price)
		pt.Score = float64(score)

		for k, v := range row {
			switch k {
			case "time", "timestamp", "price", "score":
				continue
			}
			var anyVal any
			if json.Unmarshal(v, &anyVal) != nil {
				continue
			}
			if f, ok := asFloat(anyVal); ok {
				if pt.Metrics == nil {
					pt.Metrics = make(map[string]float64)
				}
				pt.Metrics[k] = f
			}
		}
		points = append(points, pt)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

func (a *SentimentAPI) FetchHeatmap(ctx context.Context, sel domain.Selection) ([]domain.HeatmapCell, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-heatmap")
	defer span.End()

	q := url.Values{}
	q.Set("model", string(sel.Model))
	body, err := a.get(ctx, "/sentiment/heatmap", q)
	if err != nil {
		return nil, fmt.Errorf("fetch heatmap: %w", err)
	}
	raw, err := unwrapList(body, "data", "cells", "heatmap")
	if err != nil {
		return nil, fmt.Errorf("decode heatmap: %w", err)
	}
	var rows []struct {
		Symbol    string           `json:"symbol"`
		Score     domain.FlexFloat `json:"score"`
		Sentiment domain.FlexFloat `json:"sentiment"`
		Mentions  domain.FlexFloat `json:"mentions"`
		Change24h domain.FlexFloat `json:"change_24h"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode heatmap: %w", err)
	}
	cells := make([]domain.HeatmapCell, 0, len(rows))
	for _, row := range rows {
		symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if symbol == "" {
			continue
		}
		score := float64(row.Score)
		if score == 0 {
			score = float64(row.Sentiment)
		}
		cells = append(cells, domain.HeatmapCell{
			Symbol:    symbol,
			Score:     score,
			Mentions:  int(row.Mentions),
			Change24h: float64(row.Change24h),
		})
	}
	return cells, nil
}

type pollWire struct {
	BullishPct domain.FlexFloat `json:"bullish_pct"`
	BearishPct domain.FlexFloat `json:"bearish_pct"`
	TotalVotes domain.FlexFloat `json:"total_votes"`
}

func (w pollWire) toDomain() *domain.PollStats {
	stats := domain.NewPollStats(float64(w.BullishPct), float64(w.BearishPct), float64(w.TotalVotes))
	return &stats
}

// DecodePollStats parses a poll stats payload, bare or wrapped in stats/data.
func DecodePollStats(body []byte) (*domain.PollStats, error) {
	var w pollWire
	if err := json.Unmarshal(unwrapObject(body, "stats", "data"), &w); err != nil {
		return nil, fmt.Errorf("decode poll stats: %w", err)
	}
	return w.toDomain(), nil
}

func (a *SentimentAPI) FetchPollStats(ctx context.Context, sel domain.Selection) (*domain.PollStats, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-poll-stats")
	defer span.End()

	q := url.Values{}
	q.Set("symbol", sel.Symbol())
	body, err := a.get(ctx, "/sentiment/poll-stats", q)
	if err != nil {
		return nil, fmt.Errorf("fetch poll stats: %w", err)
	}
	return DecodePollStats(body)
}

func (a *SentimentAPI) FetchInfluencers(ctx context.Context, sel domain.Selection) ([]domain.Influencer, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-influencers")
	defer span.End()

	q := url.Values{}
	q.Set("symbol", sel.Symbol())
	body, err := a.get(ctx, "/sentiment/influencers", q)
	if err != nil {
		return nil, fmt.Errorf("fetch influencers: %w", err)
	}
	raw, err := unwrapList(body, "data", "influencers")
	if err != nil {
		return nil, fmt.Errorf("decode influencers: %w", err)
	}
	var rows []struct {
		Name      string           `json:"name"`
		Handle    string           `json:"handle"`
		Platform  string           `json:"platform"`
		Followers domain.FlexFloat `json:"followers"`
		Sentiment string           `json:"sentiment"`
		Score     domain.FlexFloat `json:"score"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode influencers: %w", err)
	}
	out := make([]domain.Influencer, 0, len(rows))
	for _, row := range rows {
		name := sanitizeText(firstNonEmpty(row.Name, row.Handle), 120)
		if name == "" {
			continue
		}
		out = append(out, domain.Influencer{
			Name:      name,
			Handle:    strings.TrimSpace(row.Handle),
			Platform:  strings.TrimSpace(row.Platform),
			Followers: int(row.Followers),
			Sentiment: normalizeLabel(row.Sentiment),
			Score:     float64(row.Score),
		})
	}
	return out, nil
}

func (a *SentimentAPI) FetchSocialDominance(ctx context.Context, sel domain.Selection) ([]domain.DominancePoint, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.fetch-social-dominance")
	defer span.End()

	q := url.Values{}
	q.Set("symbol", sel.Symbol())
	q.Set("period", sel.Timeframe)
	body, err := a.get(ctx, "/sentiment/social-dominance", q)
	if err != nil {
		return nil, fmt.Errorf("fetch social dominance: %w", err)
	}
	raw, err := unwrapList(body, "data", "series")
	if err != nil {
		return nil, fmt.Errorf("decode social dominance: %w", err)
	}
	var rows []struct {
		Time      domain.FlexTime  `json:"time"`
		Timestamp domain.FlexTime  `json:"timestamp"`
		Value     domain.FlexFloat `json:"value"`
		Dominance domain.FlexFloat `json:"dominance"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode social dominance: %w", err)
	}
	out := make([]domain.DominancePoint, 0, len(rows))
	for _, row := range rows {
		ts := row.Time.Time
		if ts.IsZero() {
			ts = row.Timestamp.Time
		}
		v := float64(row.Value)
		if v == 0 {
			v = float64(row.Dominance)
		}
		out = append(out, domain.DominancePoint{Time: ts, Value: v})
	}
	return out, nil
}

func (a *SentimentAPI) SubmitVote(ctx context.Context, vote domain.VoteRequest) (*domain.PollStats, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.submit-vote")
	defer span.End()

	body, err := a.post(ctx, "/sentiment/poll/vote", vote)
	if err != nil {
		return nil, fmt.Errorf("submit vote: %w", err)
	}
	return DecodePollStats(body)
}

func (a *SentimentAPI) Summarize(ctx context.Context, req domain.SummaryRequest) (*domain.SummaryResponse, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.ai-summary")
	defer span.End()

	body, err := a.post(ctx, "/sentiment/ai-summary", req)
	if err != nil {
		return nil, fmt.Errorf("ai summary: %w", err)
	}
	var out domain.SummaryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode ai summary: %w", err)
	}
	if out.Provider == "" {
		out.Provider = "backend"
	}
	return &out, nil
}

func (a *SentimentAPI) Narrative(ctx context.Context, req domain.NarrativeRequest) (*domain.NarrativeResponse, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.narrative")
	defer span.End()

	body, err := a.post(ctx, "/sentiment/narrative", req)
	if err != nil {
		return nil, fmt.Errorf("narrative: %w", err)
	}
	var out domain.NarrativeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode narrative: %w", err)
	}
	return &out, nil
}

func (a *SentimentAPI) GenerateReport(ctx context.Context, req domain.ReportRequest) (*domain.ReportResponse, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment-api.generate-report")
	defer span.End()

	body, err := a.post(ctx, "/sentiment/generate-report", req)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	var out domain.ReportResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if out.Provider == "" {
		out.Provider = "backend"
	}
	return &out, nil
}

func (a *SentimentAPI) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	target := a.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return a.do(ctx, http.MethodGet, target, nil)
}

func (a *SentimentAPI) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return a.do(ctx, http.MethodPost, a.baseURL+path, data)
}

func (a *SentimentAPI) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("backend API error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return io.ReadAll(resp.Body)
}
