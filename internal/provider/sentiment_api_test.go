package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"sentiment-engine/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func newTestAPI(t *testing.T, fn roundTripFunc) *SentimentAPI {
	t.Helper()
	api := NewSentimentAPI(trace.NewNoopTracerProvider().Tracer("test"), "http://backend.local/", 0)
	api.client = &http.Client{Transport: fn}
	return api
}

var btcSelection = domain.Selection{Pair: "BTC/USDT", Timeframe: "1d", Model: domain.ModelVader}

func TestSentimentAPIFetchNews(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/sentiment/news" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.URL.Query().Get("symbol"); got != "BTC" {
			t.Fatalf("expected symbol BTC, got %q", got)
		}
		if got := req.URL.Query().Get("limit"); got != "50" {
			t.Fatalf("expected limit 50, got %q", got)
		}
		body := `{"news":[
			{"id":17,"source":"CoinDesk","text":"Fed holds rates","sentiment":"bullish","timestamp":1709294400,"impact_score":"0.8","impact_level":"high"},
			{"id":"b","source":"Reuters","content":"","title":""},
			{"id":"c","source":"Reuters","content":"ETF flows slow","label":"negative","published_at":"2024-03-01T10:00:00Z"}
		]}`
		return jsonResponse(http.StatusOK, body), nil
	})

	items, err := api.FetchNews(context.Background(), btcSelection, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items (empty content dropped), got %d", len(items))
	}
	first := items[0]
	if first.ID != "17" || first.Content != "Fed holds rates" || first.Sentiment != "Positive" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.ImpactScore == nil || *first.ImpactScore != 0.8 || first.ImpactLevel != "high" {
		t.Fatalf("unexpected impact fields: %+v", first)
	}
	if !first.PublishedAt.Equal(time.Unix(1709294400, 0)) {
		t.Fatalf("unexpected timestamp: %v", first.PublishedAt)
	}
	if items[1].Sentiment != "Negative" {
		t.Fatalf("expected Negative label, got %q", items[1].Sentiment)
	}
}

func TestSentimentAPIFetchFearGreed(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"value":"72","value_classification":"Greed"}`), nil
	})
	reading, err := api.FetchFearGreed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reading.Value != 72 || reading.Classification != "Greed" || reading.Source != "backend" {
		t.Fatalf("unexpected reading: %+v", reading)
	}

	missing := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"value":10}`), nil
	})
	if _, err := missing.FetchFearGreed(context.Background()); err == nil {
		t.Fatal("expected error when classification is missing")
	}
}

func TestSentimentAPIFetchCorrelation(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/sentiment/correlation" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.URL.Query().Get("period"); got != "1d" {
			t.Fatalf("expected period 1d, got %q", got)
		}
		body := `[
			{"time":1709298000,"price":"64100.5","score":0.4,"volume":1200},
			{"time":1709294400,"price":64000,"score":0.2,"note":"n/a"}
		]`
		return jsonResponse(http.StatusOK, body), nil
	})

	points, err := api.FetchCorrelation(context.Background(), btcSelection)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Time.Before(points[1].Time) {
		t.Fatal("expected points sorted by time")
	}
	if points[1].Price != 64100.5 || points[1].Metrics["volume"] != 1200 {
		t.Fatalf("unexpected point: %+v", points[1])
	}
	if _, ok := points[0].Metrics["note"]; ok {
		t.Fatal("non-numeric metric should be dropped")
	}
}

func TestSentimentAPIFetchCorrelationRejectsMissingFields(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":[{"price":1,"score":2}]}`), nil
	})
	if _, err := api.FetchCorrelation(context.Background(), btcSelection); err == nil {
		t.Fatal("expected error for row without time")
	}
}

func TestSentimentAPIListEndpoints(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/sentiment/heatmap":
			return jsonResponse(http.StatusOK, `{"data":[{"symbol":"eth","sentiment":0.3,"mentions":"40","change_24h":-1.2},{"symbol":""}]}`), nil
		case "/sentiment/poll-stats":
			return jsonResponse(http.StatusOK, `{"stats":{"bullish_pct":"61.5","bearish_pct":38.5,"total_votes":200}}`), nil
		case "/sentiment/influencers":
			return jsonResponse(http.StatusOK, `[{"name":"Alice","handle":"@alice","platform":"x","followers":1000,"sentiment":"Bullish","score":0.7}]`), nil
		case "/sentiment/social-dominance":
			return jsonResponse(http.StatusOK, `[{"timestamp":"2024-03-01T00:00:00Z","dominance":12.5}]`), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})
	ctx := context.Background()

	cells, err := api.FetchHeatmap(ctx, btcSelection)
	if err != nil || len(cells) != 1 || cells[0].Symbol != "ETH" || cells[0].Score != 0.3 || cells[0].Mentions != 40 {
		t.Fatalf("unexpected heatmap: %+v, %v", cells, err)
	}

	poll, err := api.FetchPollStats(ctx, btcSelection)
	if err != nil || poll.BullishPct != 61.5 || poll.TotalVotes != 200 {
		t.Fatalf("unexpected poll stats: %+v, %v", poll, err)
	}

	infl, err := api.FetchInfluencers(ctx, btcSelection)
	if err != nil || len(infl) != 1 || infl[0].Sentiment != "Positive" || infl[0].Followers != 1000 {
		t.Fatalf("unexpected influencers: %+v, %v", infl, err)
	}

	dom, err := api.FetchSocialDominance(ctx, btcSelection)
	if err != nil || len(dom) != 1 || dom[0].Value != 12.5 || dom[0].Time.IsZero() {
		t.Fatalf("unexpected dominance: %+v, %v", dom, err)
	}
}

func TestSentimentAPISubmitVote(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.Path != "/sentiment/poll/vote" {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		var vote domain.VoteRequest
		if err := json.NewDecoder(req.Body).Decode(&vote); err != nil {
			t.Fatalf("decode vote: %v", err)
		}
		if vote.UserID != "u1" || vote.VoteType != "bullish" {
			t.Fatalf("unexpected vote: %+v", vote)
		}
		return jsonResponse(http.StatusOK, `{"bullish_pct":55,"bearish_pct":45,"total_votes":11}`), nil
	})

	stats, err := api.SubmitVote(context.Background(), domain.VoteRequest{UserID: "u1", VoteType: "bullish"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalVotes != 11 || stats.BullishPct != 55 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSentimentAPIAIEndpoints(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/sentiment/ai-summary":
			return jsonResponse(http.StatusOK, `{"summary":"calm market"}`), nil
		case "/sentiment/narrative":
			return jsonResponse(http.StatusOK, `{"narrative":"halving","words":[{"text":"etf","value":9}]}`), nil
		case "/sentiment/generate-report":
			return jsonResponse(http.StatusOK, `{"report":"# Report"}`), nil
		}
		return jsonResponse(http.StatusNotFound, `not found`), nil
	})
	ctx := context.Background()

	sum, err := api.Summarize(ctx, domain.SummaryRequest{Asset: "BTC"})
	if err != nil || sum.Summary != "calm market" || sum.Provider != "backend" {
		t.Fatalf("unexpected summary: %+v, %v", sum, err)
	}
	nar, err := api.Narrative(ctx, domain.NarrativeRequest{Asset: "BTC"})
	if err != nil || len(nar.Words) != 1 || nar.Words[0].Text != "etf" {
		t.Fatalf("unexpected narrative: %+v, %v", nar, err)
	}
	rep, err := api.GenerateReport(ctx, domain.ReportRequest{Language: "en"})
	if err != nil || rep.Report != "# Report" {
		t.Fatalf("unexpected report: %+v, %v", rep, err)
	}
}

func TestSentimentAPIErrorStatus(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `maintenance`), nil
	})
	_, err := api.FetchHeatmap(context.Background(), btcSelection)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}
