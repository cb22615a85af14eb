package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sentiment-engine/internal/domain"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"
)

func TestSummarizeHappyPath(t *testing.T) {
	llm := &stubLLMClient{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: " ETF inflows dominate the tape. "}},
			},
		},
	}
	svc := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), llm, "gpt-4o-mini")

	resp, err := svc.Summarize(context.Background(), domain.SummaryRequest{
		Asset:     "btc",
		Headlines: []string{"ETF inflows hit record", "", "Miners sell less"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Summary != "ETF inflows dominate the tape." || resp.Provider != ProviderName {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if llm.params.Model != "gpt-4o-mini" {
		t.Fatalf("expected model gpt-4o-mini, got %s", llm.params.Model)
	}
	if len(llm.params.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(llm.params.Messages))
	}
}

func TestSummarizeRequiresHeadlines(t *testing.T) {
	llm := &stubLLMClient{}
	svc := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), llm, "")

	_, err := svc.Summarize(context.Background(), domain.SummaryRequest{Asset: "BTC", Headlines: []string{" ", ""}})
	if !errors.Is(err, ErrNoHeadlines) {
		t.Fatalf("expected ErrNoHeadlines, got %v", err)
	}
	if llm.calls != 0 {
		t.Fatal("LLM should not be called without headlines")
	}
}

func TestSummarizeLLMError(t *testing.T) {
	svc := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), &stubLLMClient{err: errors.New("api down")}, "")

	_, err := svc.Summarize(context.Background(), domain.SummaryRequest{Headlines: []string{"x"}})
	if err == nil || !strings.Contains(err.Error(), "advisor unavailable") {
		t.Fatalf("expected wrapped LLM error, got %v", err)
	}
}

func TestGenerateReport(t *testing.T) {
	llm := &stubLLMClient{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "Mildly bullish."}},
			},
		},
	}
	svc := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), llm, "gpt-4o")

	resp, err := svc.GenerateReport(context.Background(), domain.ReportRequest{
		Headlines:   []string{"BTC breaks 70k"},
		Score:       0.4,
		Correlation: 0.82,
		Language:    "de",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Report != "Mildly bullish." || resp.Provider != ProviderName {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateReportEmptyChoices(t *testing.T) {
	cases := []*openai.ChatCompletion{
		{},
		{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  "}}}},
	}
	for _, c := range cases {
		svc := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), &stubLLMClient{response: c}, "")
		if _, err := svc.GenerateReport(context.Background(), domain.ReportRequest{}); err == nil {
			t.Fatal("expected error for empty LLM output")
		}
	}
}

func TestDefaultModel(t *testing.T) {
	svc := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), &stubLLMClient{}, " ")
	if svc.model != openai.ChatModelGPT4oMini {
		t.Fatalf("expected default model, got %q", svc.model)
	}
}

// --- stubs ---

type stubLLMClient struct {
	response *openai.ChatCompletion
	err      error
	params   openai.ChatCompletionNewParams
	calls    int
}

func (s *stubLLMClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	s.calls++
	s.params = params
	return s.response, s.err
}
