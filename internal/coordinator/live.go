package coordinator

import (
	"context"
	"sort"
	"strings"

	"sentiment-engine/internal/domain"
)

// ApplyStreamMessage merges a live update into state. Messages for a pair
// other than the active one are ignored. It reports whether state changed.
func (c *Coordinator) ApplyStreamMessage(msg domain.StreamMessage) bool {
	c.mu.Lock()
	if c.closed || c.state.Selection.Pair == "" ||
		(msg.Pair != "" && !strings.EqualFold(msg.Pair, c.state.Selection.Pair)) {
		c.mu.Unlock()
		return false
	}
	sel := c.state.Selection
	now := c.now()

	var (
		cacheResource string
		cacheValue    any
	)
	switch msg.Type {
	case domain.StreamVoteUpdate:
		if msg.Vote == nil {
			c.mu.Unlock()
			return false
		}
		poll := *msg.Vote
		c.state.Poll = &poll
		c.state.Status[domain.ResourcePoll] = domain.ResourceStatus{State: domain.ResourceOK, UpdatedAt: now}
		cacheResource, cacheValue = domain.ResourcePoll, poll
	case domain.StreamPriceUpdate:
		if msg.Price == nil {
			c.mu.Unlock()
			return false
		}
		price := msg.Price.Price
		c.state.LastPrice = &price
	case domain.StreamSentimentUpdate:
		if msg.Sentiment == nil {
			c.mu.Unlock()
			return false
		}
		c.state.Correlation = upsertPoint(c.state.Correlation, *msg.Sentiment)
		c.state.CorrelationStat = correlationOf(c.state.Correlation)
		c.state.Status[domain.ResourceCorrelation] = domain.ResourceStatus{State: domain.ResourceOK, UpdatedAt: now}
		cacheResource, cacheValue = domain.ResourceCorrelation, append([]domain.CorrelationPoint(nil), c.state.Correlation...)
	default:
		c.mu.Unlock()
		return false
	}
	c.state.UpdatedAt = now
	c.mu.Unlock()

	if cacheResource != "" {
		c.writeCache(context.Background(), cacheKey(sel.Pair, sel.Timeframe, cacheResource), cacheValue)
	}
	return true
}

// ApplyPollStats merges poll stats returned by a vote submission.
func (c *Coordinator) ApplyPollStats(pair string, stats domain.PollStats) bool {
	return c.ApplyStreamMessage(domain.StreamMessage{
		Type: domain.StreamVoteUpdate,
		Pair: pair,
		Vote: &stats,
	})
}

// upsertPoint replaces the point with the same timestamp or inserts p in time order.
func upsertPoint(points []domain.CorrelationPoint, p domain.CorrelationPoint) []domain.CorrelationPoint {
	out := append([]domain.CorrelationPoint(nil), points...)
	for i := range out {
		if out[i].Time.Equal(p.Time) {
			out[i] = p
			return out
		}
	}
	out = append(out, p)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
