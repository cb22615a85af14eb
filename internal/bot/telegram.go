package bot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"sentiment-engine/internal/domain"

	tele "gopkg.in/telebot.v3"
)

const maxNewsLines = 5

// StateReader is the read side of the sync coordinator.
type StateReader interface {
	State() domain.SyncResult
	FilterSources(criteria domain.FilterCriteria) []domain.NewsItem
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

var newBot = tele.NewBot

// TelegramBot answers /state and /news and pushes batch notifications to a
// configured chat.
type TelegramBot struct {
	bot    *tele.Bot
	sender sender
	chat   tele.Recipient
	state  StateReader
}

// NewTelegramBot returns nil, nil when token is empty. chatID 0 disables
// notifications but keeps the commands.
func NewTelegramBot(token string, chatID int64, state StateReader) (*TelegramBot, error) {
	if strings.TrimSpace(token) == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	b, err := newBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	tb := &TelegramBot{bot: b, sender: b, state: state}
	if chatID != 0 {
		tb.chat = tele.ChatID(chatID)
	}
	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	b.Handle("/state", tb.handleState)
	b.Handle("/news", tb.handleNews)
	return tb, nil
}

func (b *TelegramBot) Start() {
	log.Println("Telegram bot started")
	go b.bot.Start()
}

func (b *TelegramBot) Stop() {
	b.bot.Stop()
}

// Notify sends n to the configured chat.
func (b *TelegramBot) Notify(_ context.Context, n domain.BatchNotification) error {
	if b.chat == nil {
		return nil
	}
	if _, err := b.sender.Send(b.chat, FormatNotification(n)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (b *TelegramBot) handleState(c tele.Context) error {
	return c.Send(FormatState(b.state.State()))
}

func (b *TelegramBot) handleNews(c tele.Context) error {
	topic := strings.TrimSpace(strings.Join(c.Args(), " "))
	items := b.state.FilterSources(domain.FilterCriteria{Topic: topic})
	return c.Send(FormatNews(items, topic))
}

func FormatNotification(n domain.BatchNotification) string {
	icon := "OK"
	switch n.Level {
	case domain.NotifyPartial:
		icon = "PARTIAL"
	case domain.NotifyError:
		icon = "ERROR"
	}
	return fmt.Sprintf("[%s] %s", icon, n.Message)
}

func FormatState(r domain.SyncResult) string {
	if r.Selection.Pair == "" {
		return "No pair selected yet."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s (%s)\n", r.Selection.Pair, r.Selection.Timeframe, r.Selection.Model))
	if r.Syncing {
		sb.WriteString("Sync in progress\n")
	}
	if r.LastPrice != nil {
		sb.WriteString(fmt.Sprintf("Price: $%.2f\n", *r.LastPrice))
	}
	if r.FearGreed != nil {
		sb.WriteString(fmt.Sprintf("Fear & Greed: %d (%s)\n", r.FearGreed.Value, r.FearGreed.Classification))
	}
	sb.WriteString(fmt.Sprintf("Correlation: %+.3f over %d points\n", r.CorrelationStat, len(r.Correlation)))
	if r.Poll != nil {
		sb.WriteString(fmt.Sprintf("Poll: %.1f%% bullish / %.1f%% bearish (%d votes)\n", r.Poll.BullishPct, r.Poll.BearishPct, r.Poll.TotalVotes))
	}
	sb.WriteString(fmt.Sprintf("News: %d items\n", len(r.News)))

	resources := make([]string, 0, len(r.Status))
	for k := range r.Status {
		resources = append(resources, k)
	}
	sort.Strings(resources)
	var bad []string
	for _, k := range resources {
		if st := r.Status[k]; st.State != domain.ResourceOK {
			bad = append(bad, k+"="+string(st.State))
		}
	}
	if len(bad) > 0 {
		sb.WriteString("Not fresh: " + strings.Join(bad, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatNews(items []domain.NewsItem, topic string) string {
	if len(items) == 0 {
		if topic == "" {
			return "No news yet."
		}
		return fmt.Sprintf("No news matching %q.", topic)
	}
	var sb strings.Builder
	if topic != "" {
		sb.WriteString(fmt.Sprintf("News matching %q:\n", topic))
	}
	for i, item := range items {
		if i == maxNewsLines {
			sb.WriteString(fmt.Sprintf("...and %d more", len(items)-maxNewsLines))
			break
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s (%s)\n", item.Sentiment, item.Content, item.Source))
	}
	return strings.TrimRight(sb.String(), "\n")
}
