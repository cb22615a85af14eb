package domain

import (
	"encoding/json"
	"time"
)

type StreamMessageType string

const (
	StreamVoteUpdate      StreamMessageType = "VOTE_UPDATE"
	StreamPriceUpdate     StreamMessageType = "PRICE_UPDATE"
	StreamSentimentUpdate StreamMessageType = "SENTIMENT_UPDATE"
)

// RawStreamMessage is the envelope delivered by the backend stream.
type RawStreamMessage struct {
	Type StreamMessageType `json:"type"`
	Data json.RawMessage   `json:"data"`
}

type PriceTick struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamMessage is a decoded stream payload. Exactly one of Vote, Price or
// Sentiment is set, matching Type.
type StreamMessage struct {
	Type       StreamMessageType `json:"type"`
	Pair       string            `json:"pair"`
	Vote       *PollStats        `json:"vote,omitempty"`
	Price      *PriceTick        `json:"price,omitempty"`
	Sentiment  *CorrelationPoint `json:"sentiment,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Vote requests and AI text payloads forwarded to the backend.

type VoteRequest struct {
	UserID   string `json:"user_id"`
	VoteType string `json:"vote_type"`
}

type SummaryRequest struct {
	Headlines []string `json:"headlines"`
	Asset     string   `json:"asset"`
	Provider  string   `json:"provider"`
}

type SummaryResponse struct {
	Summary  string `json:"summary"`
	Provider string `json:"provider"`
}

type NarrativeRequest struct {
	Headlines []string `json:"headlines"`
	Asset     string   `json:"asset"`
}

type NarrativeWord struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

type NarrativeResponse struct {
	Narrative string          `json:"narrative"`
	Words     []NarrativeWord `json:"words"`
}

type WhaleStats struct {
	Inflow  float64 `json:"inflow"`
	Outflow float64 `json:"outflow"`
	Net     float64 `json:"net"`
}

type ReportRequest struct {
	Headlines   []string   `json:"headlines"`
	Score       float64    `json:"score"`
	ScoreMean   float64    `json:"score_mean"`
	ScoreStd    float64    `json:"score_std"`
	Correlation float64    `json:"correlation"`
	WhaleStats  WhaleStats `json:"whale_stats"`
	Language    string     `json:"language"`
}

type ReportResponse struct {
	Report   string `json:"report"`
	Provider string `json:"provider"`
}
