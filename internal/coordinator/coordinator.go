package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"sentiment-engine/internal/domain"
	"sentiment-engine/internal/ta"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("coordinator is closed")

// Source is the backend the sub-resources are fetched from.
type Source interface {
	FetchNews(ctx context.Context, sel domain.Selection, limit int) ([]domain.NewsItem, error)
	FetchFearGreed(ctx context.Context) (*domain.FearGreedReading, error)
	FetchCorrelation(ctx context.Context, sel domain.Selection) ([]domain.CorrelationPoint, error)
	FetchHeatmap(ctx context.Context, sel domain.Selection) ([]domain.HeatmapCell, error)
	FetchPollStats(ctx context.Context, sel domain.Selection) (*domain.PollStats, error)
	FetchInfluencers(ctx context.Context, sel domain.Selection) ([]domain.Influencer, error)
	FetchSocialDominance(ctx context.Context, sel domain.Selection) ([]domain.DominancePoint, error)
}

type FearGreedReader interface {
	FetchLatest(ctx context.Context) (*domain.FearGreedReading, error)
}

type NewsFeedReader interface {
	FetchFeed(ctx context.Context, feedURL string, maxItems int) ([]domain.NewsItem, error)
}

// SnapshotCache holds the last good payload per key. Get returns nil, nil on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Notifier interface {
	Notify(ctx context.Context, n domain.BatchNotification) error
}

type BatchArchive interface {
	InsertBatch(ctx context.Context, rec domain.BatchRecord) error
}

type Config struct {
	NewsLimit    int
	FetchTimeout time.Duration
	NewsFeeds    []string
}

func (c Config) withDefaults() Config {
	if c.NewsLimit <= 0 {
		c.NewsLimit = 50
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	return c
}

// Coordinator owns the merged sentiment state for one active selection.
// At most one batch is current at a time; results from superseded batches
// are dropped before they reach state or cache.
type Coordinator struct {
	tracer trace.Tracer
	source Source
	cache  SnapshotCache
	cfg    Config

	fearGreed FearGreedReader
	feeds     NewsFeedReader
	archive   BatchArchive
	notifiers []Notifier

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
	state  domain.SyncResult

	newID func() string
	now   func() time.Time
}

func New(tracer trace.Tracer, source Source, cache SnapshotCache, cfg Config) *Coordinator {
	return &Coordinator{
		tracer: tracer,
		source: source,
		cache:  cache,
		cfg:    cfg.withDefaults(),
		state:  domain.NewSyncResult(domain.Selection{}),
		newID:  func() string { return uuid.NewString() },
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) SetFearGreedFallback(r FearGreedReader) { c.fearGreed = r }

func (c *Coordinator) SetNewsFeeds(r NewsFeedReader) { c.feeds = r }

func (c *Coordinator) SetArchive(a BatchArchive) { c.archive = a }

func (c *Coordinator) AddNotifier(n Notifier) {
	if n == nil {
		return
	}
	c.mu.Lock()
	c.notifiers = append(c.notifiers, n)
	c.mu.Unlock()
}

type batch struct {
	id      string
	gen     uint64
	sel     domain.Selection
	ctx     context.Context
	started time.Time

	mu          sync.Mutex
	succeeded   []string
	failed      map[string]string
	correlation float64
}

func (b *batch) recordSuccess(resource string) {
	b.mu.Lock()
	b.succeeded = append(b.succeeded, resource)
	b.mu.Unlock()
}

func (b *batch) recordFailure(resource string, err error) {
	b.mu.Lock()
	b.failed[resource] = err.Error()
	b.mu.Unlock()
}

// Sync cancels any in-flight batch and fetches every sub-resource for sel.
// Sub-resource failures are collected into the report, never returned; the
// error is reserved for an invalid selection or a closed coordinator.
func (c *Coordinator) Sync(ctx context.Context, sel domain.Selection) (domain.BatchReport, error) {
	sel = sel.Normalize()
	if err := sel.Validate(); err != nil {
		return domain.BatchReport{}, err
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("pair", sel.Pair),
		attribute.String("timeframe", sel.Timeframe),
		attribute.String("model", string(sel.Model)),
	)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.BatchReport{}, ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	batchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	b := &batch{
		id:      c.newID(),
		gen:     c.gen,
		sel:     sel,
		ctx:     batchCtx,
		started: c.now(),
		failed:  make(map[string]string),
	}
	selectionChanged := c.state.Selection != sel
	if selectionChanged {
		c.state = domain.NewSyncResult(sel)
	}
	c.state.Generation = b.gen
	c.state.Syncing = true
	c.mu.Unlock()

	span.SetAttributes(attribute.String("batch_id", b.id), attribute.Int64("generation", int64(b.gen)))

	if selectionChanged && c.cache != nil {
		go func() {
			if _, err := c.loadSnapshot(batchCtx, sel.Pair, sel.Timeframe); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("coordinator: snapshot load failed pair=%s err=%v", sel.Pair, err)
			}
		}()
	}

	var g errgroup.Group
	g.Go(fetchInto(c, b, domain.ResourceNews, c.fetchNews(sel), func(s *domain.SyncResult, v []domain.NewsItem) {
		s.News = v
	}))
	g.Go(fetchInto(c, b, domain.ResourceFearGreed, c.fetchFearGreed(), func(s *domain.SyncResult, v *domain.FearGreedReading) {
		s.FearGreed = v
	}))
	g.Go(fetchInto(c, b, domain.ResourceCorrelation, func(ctx context.Context) ([]domain.CorrelationPoint, error) {
		return c.source.FetchCorrelation(ctx, sel)
	}, func(s *domain.SyncResult, v []domain.CorrelationPoint) {
		s.Correlation = v
		s.CorrelationStat = correlationOf(v)
		b.correlation = s.CorrelationStat
	}))
	g.Go(fetchInto(c, b, domain.ResourceHeatmap, func(ctx context.Context) ([]domain.HeatmapCell, error) {
		return c.source.FetchHeatmap(ctx, sel)
	}, func(s *domain.SyncResult, v []domain.HeatmapCell) {
		s.Heatmap = v
	}))
	g.Go(fetchInto(c, b, domain.ResourcePoll, func(ctx context.Context) (*domain.PollStats, error) {
		return c.source.FetchPollStats(ctx, sel)
	}, func(s *domain.SyncResult, v *domain.PollStats) {
		s.Poll = v
	}))
	g.Go(fetchInto(c, b, domain.ResourceInfluencers, func(ctx context.Context) ([]domain.Influencer, error) {
		return c.source.FetchInfluencers(ctx, sel)
	}, func(s *domain.SyncResult, v []domain.Influencer) {
		s.Influencers = v
	}))
	g.Go(fetchInto(c, b, domain.ResourceSocialDominance, func(ctx context.Context) ([]domain.DominancePoint, error) {
		return c.source.FetchSocialDominance(ctx, sel)
	}, func(s *domain.SyncResult, v []domain.DominancePoint) {
		s.SocialDominance = v
	}))
	_ = g.Wait()

	return c.finish(ctx, b, cancel), nil
}

// fetchInto runs one sub-fetch under the per-request timeout and merges its
// result only while b is still the current batch.
func fetchInto[T any](c *Coordinator, b *batch, resource string, fetch func(context.Context) (T, error), apply func(*domain.SyncResult, T)) func() error {
	return func() error {
		fetchCtx, cancel := context.WithTimeout(b.ctx, c.cfg.FetchTimeout)
		defer cancel()

		value, err := fetch(fetchCtx)
		if b.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("coordinator: fetch failed batch=%s resource=%s pair=%s err=%v", b.id, resource, b.sel.Pair, err)
			b.recordFailure(resource, err)
			c.mu.Lock()
			if c.gen == b.gen {
				st := c.state.Status[resource]
				st.Error = err.Error()
				if st.State != domain.ResourceStale {
					st.State = domain.ResourceFailed
				}
				c.state.Status[resource] = st
			}
			c.mu.Unlock()
			return nil
		}

		c.mu.Lock()
		if c.gen != b.gen || b.ctx.Err() != nil {
			c.mu.Unlock()
			return nil
		}
		apply(&c.state, value)
		c.state.Status[resource] = domain.ResourceStatus{State: domain.ResourceOK, UpdatedAt: c.now()}
		c.mu.Unlock()
		b.recordSuccess(resource)

		c.writeCache(b.ctx, cacheKey(b.sel.Pair, b.sel.Timeframe, resource), value)
		return nil
	}
}

func (c *Coordinator) finish(ctx context.Context, b *batch, cancel context.CancelFunc) domain.BatchReport {
	c.mu.Lock()
	current := c.gen == b.gen
	cancelled := !current || b.ctx.Err() != nil
	if current {
		c.state.Syncing = false
		c.state.UpdatedAt = c.now()
		c.cancel = nil
	}
	var snapshot domain.SyncResult
	if current {
		snapshot = c.state.Clone()
	}
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.mu.Unlock()
	cancel()

	b.mu.Lock()
	report := domain.BatchReport{
		BatchID:     b.id,
		Generation:  b.gen,
		Selection:   b.sel,
		StartedAt:   b.started,
		FinishedAt:  c.now(),
		Succeeded:   append([]string(nil), b.succeeded...),
		Failed:      make(map[string]string, len(b.failed)),
		Cancelled:   cancelled,
		Correlation: b.correlation,
	}
	for k, v := range b.failed {
		report.Failed[k] = v
	}
	b.mu.Unlock()
	sort.Strings(report.Succeeded)

	if cancelled {
		log.Printf("coordinator: batch superseded batch=%s pair=%s", b.id, b.sel.Pair)
		return report
	}

	log.Printf("coordinator: batch done batch=%s pair=%s ok=%d failed=%d correlation=%.4f",
		b.id, b.sel.Pair, len(report.Succeeded), len(report.Failed), report.Correlation)

	// the batch context is gone; side effects run on a detached one
	sideCtx, sideCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer sideCancel()

	notification := buildNotification(report)
	for _, n := range notifiers {
		if err := n.Notify(sideCtx, notification); err != nil {
			log.Printf("coordinator: notify failed batch=%s err=%v", b.id, err)
		}
	}

	if c.archive != nil {
		rec := domain.BatchRecord{
			BatchID:     report.BatchID,
			Pair:        b.sel.Pair,
			Timeframe:   b.sel.Timeframe,
			Model:       string(b.sel.Model),
			Correlation: snapshot.CorrelationStat,
			Poll:        snapshot.Poll,
			Succeeded:   report.Succeeded,
			Failed:      report.Failed,
			StartedAt:   report.StartedAt,
			FinishedAt:  report.FinishedAt,
		}
		if snapshot.FearGreed != nil {
			v := snapshot.FearGreed.Value
			rec.FearGreed = &v
		}
		if err := c.archive.InsertBatch(sideCtx, rec); err != nil {
			log.Printf("coordinator: archive failed batch=%s err=%v", b.id, err)
		}
	}

	return report
}

func buildNotification(r domain.BatchReport) domain.BatchNotification {
	level := r.Level()
	total := len(r.Succeeded) + len(r.Failed)
	var msg string
	switch level {
	case domain.NotifySuccess:
		msg = fmt.Sprintf("Synced %s %s: %d/%d sources updated", r.Selection.Pair, r.Selection.Timeframe, len(r.Succeeded), total)
	case domain.NotifyPartial:
		failed := make([]string, 0, len(r.Failed))
		for k := range r.Failed {
			failed = append(failed, k)
		}
		sort.Strings(failed)
		msg = fmt.Sprintf("Synced %s %s with %d failed: %s", r.Selection.Pair, r.Selection.Timeframe, len(failed), strings.Join(failed, ", "))
	default:
		msg = fmt.Sprintf("Sync failed for %s %s: no source responded", r.Selection.Pair, r.Selection.Timeframe)
	}
	return domain.BatchNotification{
		BatchID:   r.BatchID,
		Pair:      r.Selection.Pair,
		Timeframe: r.Selection.Timeframe,
		Level:     level,
		Message:   msg,
		Time:      r.FinishedAt,
	}
}

func (c *Coordinator) fetchNews(sel domain.Selection) func(context.Context) ([]domain.NewsItem, error) {
	return func(ctx context.Context) ([]domain.NewsItem, error) {
		items, primaryErr := c.source.FetchNews(ctx, sel, c.cfg.NewsLimit)
		if primaryErr != nil {
			items = nil
		}
		extra := 0
		if c.feeds != nil {
			for _, feed := range c.cfg.NewsFeeds {
				feedItems, err := c.feeds.FetchFeed(ctx, feed, c.cfg.NewsLimit)
				if err != nil {
					log.Printf("coordinator: rss feed failed url=%s err=%v", feed, err)
					continue
				}
				items = append(items, feedItems...)
				extra += len(feedItems)
			}
		}
		if primaryErr != nil && extra == 0 {
			return nil, primaryErr
		}
		return normalizeNews(items, c.cfg.NewsLimit), nil
	}
}

func (c *Coordinator) fetchFearGreed() func(context.Context) (*domain.FearGreedReading, error) {
	return func(ctx context.Context) (*domain.FearGreedReading, error) {
		reading, err := c.source.FetchFearGreed(ctx)
		if err == nil {
			return reading, nil
		}
		if c.fearGreed == nil {
			return nil, err
		}
		log.Printf("coordinator: backend fear-greed failed, using fallback err=%v", err)
		fallback, fbErr := c.fearGreed.FetchLatest(ctx)
		if fbErr != nil {
			return nil, fmt.Errorf("%w; fallback: %v", err, fbErr)
		}
		return fallback, nil
	}
}

// normalizeNews dedupes by id, orders newest first and keeps at most limit items.
func normalizeNews(items []domain.NewsItem, limit int) []domain.NewsItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]domain.NewsItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func correlationOf(points []domain.CorrelationPoint) float64 {
	prices := make([]float64, len(points))
	scores := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
		scores[i] = p.Score
	}
	return ta.Pearson(prices, scores)
}

func cacheKey(pair, timeframe, resource string) string {
	if resource == domain.ResourceCorrelation {
		return "sentiment:" + pair + ":" + timeframe + ":" + resource
	}
	return "sentiment:" + pair + ":" + resource
}

func (c *Coordinator) writeCache(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("coordinator: encode cache entry key=%s err=%v", key, err)
		return
	}
	if err := c.cache.Set(context.WithoutCancel(ctx), key, data); err != nil {
		log.Printf("coordinator: cache write failed key=%s err=%v", key, err)
	}
}

// State returns a deep copy of the merged state.
func (c *Coordinator) State() domain.SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Coordinator) Selection() domain.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Selection
}

// Close cancels the in-flight batch and rejects further syncs.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state.Syncing = false
}
