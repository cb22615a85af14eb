package coordinator

import (
	"strings"

	"sentiment-engine/internal/domain"
)

const filterAll = "all"

func filterDisabled(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, filterAll)
}

// FilterNews applies the sentiment, topic and source filters with AND
// semantics. Topic matches case-insensitively against content or source.
func FilterNews(items []domain.NewsItem, criteria domain.FilterCriteria) []domain.NewsItem {
	sentiment := strings.TrimSpace(criteria.Sentiment)
	topic := strings.ToLower(strings.TrimSpace(criteria.Topic))
	source := strings.TrimSpace(criteria.Source)

	out := make([]domain.NewsItem, 0, len(items))
	for _, item := range items {
		if !filterDisabled(sentiment) && !strings.EqualFold(item.Sentiment, sentiment) {
			continue
		}
		if !filterDisabled(topic) &&
			!strings.Contains(strings.ToLower(item.Content), topic) &&
			!strings.Contains(strings.ToLower(item.Source), topic) {
			continue
		}
		if !filterDisabled(source) && item.Source != source {
			continue
		}
		out = append(out, item)
	}
	return out
}

// FilterSources runs FilterNews over the current news list.
func (c *Coordinator) FilterSources(criteria domain.FilterCriteria) []domain.NewsItem {
	c.mu.Lock()
	news := append([]domain.NewsItem(nil), c.state.News...)
	c.mu.Unlock()
	return FilterNews(news, criteria)
}
