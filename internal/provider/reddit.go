package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sentiment-engine/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	redditBaseURL     = "https://www.reddit.com"
	defaultRedditUA   = "sentiment-engine/1.0"
	defaultRedditSize = 40
	maxRedditSize     = 100
	redditFeedPrefix  = "reddit:"
)

// RedditProvider reads a subreddit's hot listing as unlabeled news items.
type RedditProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	tracer    trace.Tracer
}

func NewRedditProvider(tracer trace.Tracer) *RedditProvider {
	return &RedditProvider{
		client:    &http.Client{Timeout: 20 * time.Second},
		baseURL:   redditBaseURL,
		userAgent: defaultRedditUA,
		tracer:    tracer,
	}
}

func (p *RedditProvider) FetchHot(ctx context.Context, subreddit string, limit int) ([]domain.NewsItem, error) {
	ctx, span := p.tracer.Start(ctx, "reddit.fetch-hot")
	defer span.End()

	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if subreddit == "" {
		return nil, fmt.Errorf("subreddit is required")
	}
	if limit <= 0 {
		limit = defaultRedditSize
	}
	limit = min(limit, maxRedditSize)
	span.SetAttributes(attribute.String("subreddit", subreddit), attribute.Int("limit", limit))

	base := strings.TrimRight(p.baseURL, "/")
	u := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", base, url.PathEscape(subreddit), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reddit API error %d: %s", resp.StatusCode, string(body))
	}

	var listing struct {
		Data struct {
			Children []struct {
				Data struct {
					ID         string  `json:"id"`
					Subreddit  string  `json:"subreddit"`
					Title      string  `json:"title"`
					SelfText   string  `json:"selftext"`
					CreatedUTC float64 `json:"created_utc"`
					Permalink  string  `json:"permalink"`
					URL        string  `json:"url"`
					Stickied   bool    `json:"stickied"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode reddit response: %w", err)
	}

	items := make([]domain.NewsItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		id := strings.TrimSpace(post.ID)
		title := sanitizeText(post.Title, 300)
		if id == "" || title == "" || post.Stickied {
			continue
		}
		content := title
		if excerpt := sanitizeText(post.SelfText, 420); excerpt != "" {
			content = title + " - " + excerpt
		}
		link := sanitizeText(post.URL, 500)
		if permalink := strings.TrimSpace(post.Permalink); permalink != "" {
			link = base + permalink
		}
		publishedAt := time.Now().UTC()
		if post.CreatedUTC > 0 {
			publishedAt = time.Unix(int64(post.CreatedUTC), 0).UTC()
		}

		items = append(items, domain.NewsItem{
			ID:          redditFeedPrefix + id,
			Source:      "r/" + firstNonEmpty(strings.TrimSpace(post.Subreddit), subreddit),
			Content:     content,
			Sentiment:   "Neutral",
			PublishedAt: publishedAt,
			URL:         link,
		})
	}
	return items, nil
}

// NewsFeeds routes configured feed entries to their reader: "reddit:<sub>"
// entries go to Reddit, everything else is fetched as RSS.
type NewsFeeds struct {
	rss    *RSSProvider
	reddit *RedditProvider
}

func NewNewsFeeds(rss *RSSProvider, reddit *RedditProvider) *NewsFeeds {
	return &NewsFeeds{rss: rss, reddit: reddit}
}

func (f *NewsFeeds) FetchFeed(ctx context.Context, feed string, maxItems int) ([]domain.NewsItem, error) {
	feed = strings.TrimSpace(feed)
	if sub, ok := strings.CutPrefix(feed, redditFeedPrefix); ok {
		if f.reddit == nil {
			return nil, fmt.Errorf("reddit feed %q: reddit reader not configured", feed)
		}
		return f.reddit.FetchHot(ctx, sub, maxItems)
	}
	if f.rss == nil {
		return nil, fmt.Errorf("rss feed %q: rss reader not configured", feed)
	}
	return f.rss.FetchFeed(ctx, feed, maxItems)
}
