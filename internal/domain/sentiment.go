package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type ModelVariant string

const (
	ModelVader   ModelVariant = "vader"
	ModelFinBERT ModelVariant = "finbert"
	ModelLLM     ModelVariant = "llm"
)

// SupportedModels lists the sentiment scoring models the backend exposes.
var SupportedModels = []ModelVariant{ModelVader, ModelFinBERT, ModelLLM}

// SupportedTimeframes defines the correlation windows the backend serves.
var SupportedTimeframes = []string{"1h", "4h", "1d", "7d", "30d"}

// Sub-resource names. They double as cache namespaces and status keys.
const (
	ResourceNews            = "news"
	ResourceFearGreed       = "fear_greed"
	ResourceCorrelation     = "correlation"
	ResourceHeatmap         = "heatmap"
	ResourcePoll            = "poll"
	ResourceInfluencers     = "influencers"
	ResourceSocialDominance = "social_dominance"
)

// AllResources is the fixed set of sub-fetches issued by one batch.
var AllResources = []string{
	ResourceNews,
	ResourceFearGreed,
	ResourceCorrelation,
	ResourceHeatmap,
	ResourcePoll,
	ResourceInfluencers,
	ResourceSocialDominance,
}

// Selection identifies one logical batch of fetches.
type Selection struct {
	Pair      string       `json:"pair"`
	Timeframe string       `json:"timeframe"`
	Model     ModelVariant `json:"model"`
}

// Normalize upper-cases the pair and lower-cases timeframe and model.
func (s Selection) Normalize() Selection {
	return Selection{
		Pair:      strings.ToUpper(strings.TrimSpace(s.Pair)),
		Timeframe: strings.ToLower(strings.TrimSpace(s.Timeframe)),
		Model:     ModelVariant(strings.ToLower(strings.TrimSpace(string(s.Model)))),
	}
}

func (s Selection) Validate() error {
	if s.Pair == "" {
		return fmt.Errorf("pair is required")
	}
	if !IsSupportedTimeframe(s.Timeframe) {
		return fmt.Errorf("unsupported timeframe: %q", s.Timeframe)
	}
	if !IsSupportedModel(s.Model) {
		return fmt.Errorf("unsupported model: %q", s.Model)
	}
	return nil
}

// Symbol returns the base asset of the pair, e.g. BTC for BTC/USDT.
func (s Selection) Symbol() string {
	base, _, _ := strings.Cut(s.Pair, "/")
	return base
}

func (s Selection) String() string {
	return s.Pair + "|" + s.Timeframe + "|" + string(s.Model)
}

func IsSupportedTimeframe(tf string) bool {
	for _, v := range SupportedTimeframes {
		if v == tf {
			return true
		}
	}
	return false
}

func IsSupportedModel(m ModelVariant) bool {
	for _, v := range SupportedModels {
		if v == m {
			return true
		}
	}
	return false
}

type NewsItem struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Content     string    `json:"content"`
	Sentiment   string    `json:"sentiment"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url,omitempty"`
	ImpactScore *float64  `json:"impact_score,omitempty"`
	ImpactLevel string    `json:"impact_level,omitempty"`
}

type FearGreedReading struct {
	Value          int       `json:"value"`
	Classification string    `json:"value_classification"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source,omitempty"`
}

// CorrelationPoint pairs a price with the sentiment score at the same instant.
type CorrelationPoint struct {
	Time    time.Time          `json:"time"`
	Price   float64            `json:"price"`
	Score   float64            `json:"score"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

type HeatmapCell struct {
	Symbol    string  `json:"symbol"`
	Score     float64 `json:"score"`
	Mentions  int     `json:"mentions"`
	Change24h float64 `json:"change_24h"`
}

type PollStats struct {
	BullishPct float64 `json:"bullish_pct"`
	BearishPct float64 `json:"bearish_pct"`
	TotalVotes int     `json:"total_votes"`
}

// NewPollStats clamps percentages to [0, 100] and the vote count to >= 0.
func NewPollStats(bullishPct, bearishPct, totalVotes float64) PollStats {
	return PollStats{
		BullishPct: clampPct(bullishPct),
		BearishPct: clampPct(bearishPct),
		TotalVotes: int(math.Max(0, totalVotes)),
	}
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

type Influencer struct {
	Name      string  `json:"name"`
	Handle    string  `json:"handle"`
	Platform  string  `json:"platform"`
	Followers int     `json:"followers"`
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

type DominancePoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type ResourceState string

const (
	ResourcePending ResourceState = "pending"
	ResourceOK      ResourceState = "ok"
	ResourceFailed  ResourceState = "failed"
	ResourceStale   ResourceState = "stale"
)

type ResourceStatus struct {
	State     ResourceState `json:"state"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitempty"`
}

// SyncResult is the merged view of every sub-resource for the active selection.
type SyncResult struct {
	Selection       Selection                 `json:"selection"`
	Generation      uint64                    `json:"generation"`
	Syncing         bool                      `json:"syncing"`
	News            []NewsItem                `json:"news"`
	FearGreed       *FearGreedReading         `json:"fear_greed,omitempty"`
	Correlation     []CorrelationPoint        `json:"correlation"`
	CorrelationStat float64                   `json:"correlation_stat"`
	Heatmap         []HeatmapCell             `json:"heatmap"`
	Poll            *PollStats                `json:"poll,omitempty"`
	Influencers     []Influencer              `json:"influencers"`
	SocialDominance []DominancePoint          `json:"social_dominance"`
	LastPrice       *float64                  `json:"last_price,omitempty"`
	Status          map[string]ResourceStatus `json:"status"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// NewSyncResult returns an empty result with every resource pending.
func NewSyncResult(sel Selection) SyncResult {
	status := make(map[string]ResourceStatus, len(AllResources))
	for _, r := range AllResources {
		status[r] = ResourceStatus{State: ResourcePending}
	}
	return SyncResult{Selection: sel, Status: status}
}

// Clone returns a deep copy safe to hand to readers.
func (r SyncResult) Clone() SyncResult {
	out := r
	out.News = append([]NewsItem(nil), r.News...)
	out.Correlation = append([]CorrelationPoint(nil), r.Correlation...)
	out.Heatmap = append([]HeatmapCell(nil), r.Heatmap...)
	out.Influencers = append([]Influencer(nil), r.Influencers...)
	out.SocialDominance = append([]DominancePoint(nil), r.SocialDominance...)
	if r.FearGreed != nil {
		fg := *r.FearGreed
		out.FearGreed = &fg
	}
	if r.Poll != nil {
		p := *r.Poll
		out.Poll = &p
	}
	if r.LastPrice != nil {
		v := *r.LastPrice
		out.LastPrice = &v
	}
	out.Status = make(map[string]ResourceStatus, len(r.Status))
	for k, v := range r.Status {
		out.Status[k] = v
	}
	return out
}

// FilterCriteria narrows the news list. Empty or "All" disables a field.
type FilterCriteria struct {
	Sentiment string `json:"sentiment" form:"sentiment"`
	Topic     string `json:"topic" form:"topic"`
	Source    string `json:"source" form:"source"`
}

type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyPartial NotificationLevel = "partial"
	NotifyError   NotificationLevel = "error"
)

// BatchReport summarizes one completed or superseded batch.
type BatchReport struct {
	BatchID     string            `json:"batch_id"`
	Generation  uint64            `json:"generation"`
	Selection   Selection         `json:"selection"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Succeeded   []string          `json:"succeeded"`
	Failed      map[string]string `json:"failed"`
	Cancelled   bool              `json:"cancelled"`
	Correlation float64           `json:"correlation"`
}

func (r BatchReport) Level() NotificationLevel {
	switch {
	case len(r.Failed) == 0:
		return NotifySuccess
	case len(r.Succeeded) > 0:
		return NotifyPartial
	default:
		return NotifyError
	}
}

// BatchNotification is the single user-facing message emitted per batch.
type BatchNotification struct {
	BatchID   string            `json:"batch_id"`
	Pair      string            `json:"pair"`
	Timeframe string            `json:"timeframe"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	Time      time.Time         `json:"time"`
}

// BatchRecord is the archived form of a finished batch.
type BatchRecord struct {
	BatchID     string            `json:"batch_id"`
	Pair        string            `json:"pair"`
	Timeframe   string            `json:"timeframe"`
	Model       string            `json:"model"`
	Correlation float64           `json:"correlation"`
	Poll        *PollStats        `json:"poll,omitempty"`
	FearGreed   *int              `json:"fear_greed,omitempty"`
	Succeeded   []string          `json:"succeeded"`
	Failed      map[string]string `json:"failed"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}
