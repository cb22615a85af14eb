package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"sentiment-engine/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

var ErrSelectionBusy = errors.New("a batch for another pair is in flight")

// LoadCachedSnapshot fills state from the cache for pair and timeframe and
// marks every restored field stale. Fields that already hold fresh data are
// left alone. It never takes part in batch cancellation, so it can run next
// to an in-flight Sync for the same pair.
func (c *Coordinator) LoadCachedSnapshot(ctx context.Context, pair, timeframe string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.load-cached-snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("pair", pair), attribute.String("timeframe", timeframe))

	if c.cache == nil {
		return 0, nil
	}
	pair = strings.ToUpper(strings.TrimSpace(pair))
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if pair == "" {
		return 0, fmt.Errorf("pair is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	current := c.state.Selection
	if current.Pair != pair || (timeframe != "" && current.Timeframe != timeframe) {
		if c.state.Syncing {
			c.mu.Unlock()
			return 0, ErrSelectionBusy
		}
		sel := domain.Selection{Pair: pair, Timeframe: timeframe, Model: current.Model}
		if sel.Model == "" {
			sel.Model = domain.ModelVader
		}
		c.state = domain.NewSyncResult(sel)
		c.state.Generation = c.gen
	}
	if timeframe == "" {
		timeframe = c.state.Selection.Timeframe
	}
	c.mu.Unlock()

	return c.loadSnapshot(ctx, pair, timeframe)
}

func (c *Coordinator) loadSnapshot(ctx context.Context, pair, timeframe string) (int, error) {
	loaded := 0
	var errs []error
	for _, resource := range domain.AllResources {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		raw, err := c.cache.Get(ctx, cacheKey(pair, timeframe, resource))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", resource, err))
			continue
		}
		if raw == nil {
			continue
		}

		c.mu.Lock()
		sel := c.state.Selection
		st := c.state.Status[resource]
		if sel.Pair != pair || sel.Timeframe != timeframe || st.State == domain.ResourceOK || st.State == domain.ResourceStale {
			c.mu.Unlock()
			continue
		}
		if err := applyCached(&c.state, resource, raw); err != nil {
			c.mu.Unlock()
			log.Printf("coordinator: discarding corrupt cache entry pair=%s resource=%s err=%v", pair, resource, err)
			continue
		}
		st.State = domain.ResourceStale
		c.state.Status[resource] = st
		c.mu.Unlock()
		loaded++
	}
	return loaded, errors.Join(errs...)
}

func applyCached(s *domain.SyncResult, resource string, raw []byte) error {
	switch resource {
	case domain.ResourceNews:
		var v []domain.NewsItem
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.News = v
	case domain.ResourceFearGreed:
		var v domain.FearGreedReading
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.FearGreed = &v
	case domain.ResourceCorrelation:
		var v []domain.CorrelationPoint
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.Correlation = v
		s.CorrelationStat = correlationOf(v)
	case domain.ResourceHeatmap:
		var v []domain.HeatmapCell
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.Heatmap = v
	case domain.ResourcePoll:
		var v domain.PollStats
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.Poll = &v
	case domain.ResourceInfluencers:
		var v []domain.Influencer
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.Influencers = v
	case domain.ResourceSocialDominance:
		var v []domain.DominancePoint
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		s.SocialDominance = v
	default:
		return fmt.Errorf("unknown resource %q", resource)
	}
	return nil
}
