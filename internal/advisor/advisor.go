package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sentiment-engine/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const ProviderName = "openai"

var ErrNoHeadlines = errors.New("no headlines to summarize")

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// AdvisorService writes news summaries and market reports with an LLM.
type AdvisorService struct {
	tracer trace.Tracer
	llm    LLMClient
	model  string
}

func NewAdvisorService(tracer trace.Tracer, llm LLMClient, model string) *AdvisorService {
	if strings.TrimSpace(model) == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &AdvisorService{
		tracer: tracer,
		llm:    llm,
		model:  model,
	}
}

func (s *AdvisorService) Summarize(ctx context.Context, req domain.SummaryRequest) (*domain.SummaryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.summarize")
	defer span.End()
	span.SetAttributes(
		attribute.String("asset", req.Asset),
		attribute.Int("headlines", len(req.Headlines)),
	)

	if !hasHeadline(req.Headlines) {
		return nil, ErrNoHeadlines
	}

	reply, err := s.callLLM(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(summaryInstructions),
		openai.UserMessage(BuildSummaryPrompt(req.Asset, req.Headlines)),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("advisor unavailable: %w", err)
	}
	return &domain.SummaryResponse{Summary: reply, Provider: ProviderName}, nil
}

func (s *AdvisorService) GenerateReport(ctx context.Context, req domain.ReportRequest) (*domain.ReportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.report")
	defer span.End()
	span.SetAttributes(attribute.String("language", reportLanguage(req.Language)))

	reply, err := s.callLLM(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(reportInstructions),
		openai.UserMessage(BuildReportPrompt(req)),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("advisor unavailable: %w", err)
	}
	return &domain.ReportResponse{Report: reply, Provider: ProviderName}, nil
}

func (s *AdvisorService) callLLM(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.llm-call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("empty LLM response")
	}
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

func hasHeadline(headlines []string) bool {
	for _, h := range headlines {
		if strings.TrimSpace(h) != "" {
			return true
		}
	}
	return false
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
