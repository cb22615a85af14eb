package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentiment-engine/internal/domain"
)

var (
	ErrMalformed   = errors.New("malformed stream message")
	ErrUnknownType = errors.New("unknown stream message type")
)

type envelope struct {
	Type   domain.StreamMessageType `json:"type"`
	Pair   string                   `json:"pair"`
	Symbol string                   `json:"symbol"`
	Data   json.RawMessage          `json:"data"`
}

type voteData struct {
	BullishPct *domain.FlexFloat `json:"bullish_pct"`
	BearishPct *domain.FlexFloat `json:"bearish_pct"`
	TotalVotes *domain.FlexFloat `json:"total_votes"`
}

type priceData struct {
	Price     *domain.FlexFloat `json:"price"`
	Timestamp domain.FlexTime   `json:"timestamp"`
	Time      domain.FlexTime   `json:"time"`
}

type sentimentData struct {
	Time      domain.FlexTime   `json:"time"`
	Timestamp domain.FlexTime   `json:"timestamp"`
	Price     *domain.FlexFloat `json:"price"`
	Score     *domain.FlexFloat `json:"score"`
}

// ParseStreamMessage decodes one payload from the backend stream. activePair
// is used when the envelope does not name a pair.
func ParseStreamMessage(raw []byte, activePair string, receivedAt time.Time) (domain.StreamMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.StreamMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return domain.StreamMessage{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	msg := domain.StreamMessage{
		Type:       env.Type,
		Pair:       resolvePair(env, activePair),
		ReceivedAt: receivedAt,
	}

	switch env.Type {
	case domain.StreamVoteUpdate:
		var d voteData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return domain.StreamMessage{}, fmt.Errorf("%w: vote data: %v", ErrMalformed, err)
		}
		if d.BullishPct == nil || d.BearishPct == nil || d.TotalVotes == nil {
			return domain.StreamMessage{}, fmt.Errorf("%w: vote data missing fields", ErrMalformed)
		}
		stats := domain.NewPollStats(float64(*d.BullishPct), float64(*d.BearishPct), float64(*d.TotalVotes))
		msg.Vote = &stats
	case domain.StreamPriceUpdate:
		tick, err := parsePrice(env.Data, receivedAt)
		if err != nil {
			return domain.StreamMessage{}, err
		}
		msg.Price = tick
	case domain.StreamSentimentUpdate:
		var d sentimentData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return domain.StreamMessage{}, fmt.Errorf("%w: sentiment data: %v", ErrMalformed, err)
		}
		if d.Price == nil || d.Score == nil {
			return domain.StreamMessage{}, fmt.Errorf("%w: sentiment data missing price or score", ErrMalformed)
		}
		ts := d.Time.Time
		if ts.IsZero() {
			ts = d.Timestamp.Time
		}
		if ts.IsZero() {
			ts = receivedAt
		}
		msg.Sentiment = &domain.CorrelationPoint{Time: ts, Price: float64(*d.Price), Score: float64(*d.Score)}
	default:
		return domain.StreamMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}

// price payloads arrive either as a bare number or as an object
func parsePrice(raw json.RawMessage, receivedAt time.Time) (*domain.PriceTick, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, fmt.Errorf("%w: price data missing", ErrMalformed)
	}
	if trimmed[0] != '{' {
		var v domain.FlexFloat
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("%w: price data: %v", ErrMalformed, err)
		}
		return &domain.PriceTick{Price: float64(v), Timestamp: receivedAt}, nil
	}
	var d priceData
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, fmt.Errorf("%w: price data: %v", ErrMalformed, err)
	}
	if d.Price == nil {
		return nil, fmt.Errorf("%w: price data missing price", ErrMalformed)
	}
	ts := d.Timestamp.Time
	if ts.IsZero() {
		ts = d.Time.Time
	}
	if ts.IsZero() {
		ts = receivedAt
	}
	return &domain.PriceTick{Price: float64(*d.Price), Timestamp: ts}, nil
}

func resolvePair(env envelope, activePair string) string {
	if p := strings.ToUpper(strings.TrimSpace(env.Pair)); p != "" {
		return p
	}
	if s := strings.ToUpper(strings.TrimSpace(env.Symbol)); s != "" {
		if strings.Contains(s, "/") {
			return s
		}
		base, _, _ := strings.Cut(activePair, "/")
		if strings.EqualFold(base, s) {
			return activePair
		}
		return s
	}
	return activePair
}
