package advisor

import (
	"fmt"
	"strings"
	"time"

	"sentiment-engine/internal/domain"
)

const maxPromptHeadlines = 20

const summaryInstructions = `You are a crypto market sentiment analyst. You receive recent news headlines for one asset.

Rules:
- Summarize the dominant narrative in 3 to 5 sentences.
- State whether the overall tone is bullish, bearish or mixed, and why.
- Only use the headlines given. Never fabricate events, prices or sources.
- If the headlines conflict, say so.
- No financial advice disclaimers.`

const reportInstructions = `You are a crypto market analyst writing a short market report.

Inputs are a sentiment score in [-1, 1], the Pearson correlation between price and sentiment, exchange whale flows and recent headlines.

Rules:
- Open with a one-line verdict.
- Explain what the sentiment score and correlation imply together. A correlation near zero means sentiment is not tracking price.
- Mention whale flows only if they are non-zero.
- Keep it under 200 words and write in the requested language.
- Never fabricate data.`

func BuildSummaryPrompt(asset string, headlines []string) string {
	var sb strings.Builder
	sb.WriteString("Asset: ")
	sb.WriteString(strings.ToUpper(strings.TrimSpace(asset)))
	sb.WriteString("\n")
	sb.WriteString(FormatHeadlines(headlines))
	return sb.String()
}

func BuildReportPrompt(req domain.ReportRequest) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Report language: %s\n", reportLanguage(req.Language)))
	sb.WriteString(fmt.Sprintf("As of: %s\n", time.Now().UTC().Format(time.RFC822)))
	sb.WriteString(fmt.Sprintf("Sentiment score: %+.3f\n", req.Score))
	if req.ScoreMean != 0 || req.ScoreStd != 0 {
		sb.WriteString(fmt.Sprintf("Score over window: mean=%+.3f std=%.3f\n", req.ScoreMean, req.ScoreStd))
	}
	sb.WriteString(fmt.Sprintf("Price/sentiment correlation: %+.3f\n", req.Correlation))
	w := req.WhaleStats
	if w.Inflow != 0 || w.Outflow != 0 || w.Net != 0 {
		sb.WriteString(fmt.Sprintf("Whale flows: inflow=%.2f outflow=%.2f net=%+.2f\n", w.Inflow, w.Outflow, w.Net))
	}
	sb.WriteString(FormatHeadlines(req.Headlines))
	return sb.String()
}

// FormatHeadlines lists at most maxPromptHeadlines non-empty headlines.
func FormatHeadlines(headlines []string) string {
	var sb strings.Builder
	n := 0
	for _, h := range headlines {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if n == 0 {
			sb.WriteString("\nHeadlines:\n")
		}
		n++
		sb.WriteString(fmt.Sprintf("  %d. %s\n", n, h))
		if n == maxPromptHeadlines {
			break
		}
	}
	if n == 0 {
		return "\nNo headlines available."
	}
	return sb.String()
}

func reportLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "en"
	}
	return lang
}
