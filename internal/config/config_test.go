package config

import (
	"testing"
	"time"

	"sentiment-engine/internal/domain"
)

var allKeys = []string{
	"HTTP_PORT", "API_KEY", "BACKEND_URL", "BACKEND_WS_URL", "BACKEND_RATE_PER_MIN",
	"REDIS_URL", "CACHE_TTL_HOURS", "DATABASE_URL", "NATS_URL",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "OPENAI_API_KEY", "OPENAI_MODEL",
	"DEFAULT_PAIR", "DEFAULT_TIMEFRAME", "DEFAULT_MODEL",
	"NEWS_LIMIT", "NEWS_FEEDS", "SYNC_FETCH_TIMEOUT_SECS", "SYNC_REFRESH_SECS",
	"STREAM_RETRY_SECS", "STREAM_RETRY_MAX_SECS", "STREAM_RETRY_MULTIPLIER", "STREAM_RETRY_JITTER", "STREAM_MAX_RETRIES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default port, got %s", cfg.HTTPPort)
	}
	if cfg.BackendURL != "http://localhost:8000/api" || cfg.BackendWSURL != "ws://localhost:8000/ws/{symbol}" {
		t.Fatalf("unexpected backend urls: %s %s", cfg.BackendURL, cfg.BackendWSURL)
	}
	if cfg.RedisURL != "localhost:6379" {
		t.Fatalf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.DefaultSelection() != (domain.Selection{Pair: "BTC/USDT", Timeframe: "1d", Model: domain.ModelFinBERT}) {
		t.Fatalf("unexpected default selection: %+v", cfg.DefaultSelection())
	}
	if cfg.NewsLimit != 50 || len(cfg.NewsFeeds) != 0 {
		t.Fatalf("unexpected news config: %d %v", cfg.NewsLimit, cfg.NewsFeeds)
	}
	if cfg.FetchTimeout() != 15*time.Second || cfg.RefreshInterval() != 300*time.Second || cfg.CacheTTL() != 24*time.Hour {
		t.Fatalf("unexpected durations: %v %v %v", cfg.FetchTimeout(), cfg.RefreshInterval(), cfg.CacheTTL())
	}
	if cfg.StreamRetrySecs != 3 || cfg.StreamRetryMaxSecs != 30 || cfg.StreamRetryMultiplier != 2 || cfg.StreamRetryJitter != 0.2 || cfg.StreamMaxRetries != 0 {
		t.Fatalf("unexpected stream retry config: %+v", cfg)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" || cfg.TelegramChatID != 0 || cfg.BackendRatePerMin != 120 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("BACKEND_URL", "https://api.example.com/api/")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("NATS_URL", " nats://bus:4222 ")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("DEFAULT_PAIR", "eth/usdt")
	t.Setenv("DEFAULT_TIMEFRAME", "4H")
	t.Setenv("DEFAULT_MODEL", "VADER")
	t.Setenv("NEWS_LIMIT", "20")
	t.Setenv("NEWS_FEEDS", "https://a.example/rss, ,https://b.example/rss")
	t.Setenv("SYNC_REFRESH_SECS", "0")
	t.Setenv("STREAM_RETRY_MULTIPLIER", "1")
	t.Setenv("STREAM_RETRY_JITTER", "0")
	t.Setenv("STREAM_MAX_RETRIES", "5")

	cfg := Load()
	if cfg.HTTPPort != "9000" || cfg.DatabaseURL != "postgres://example" || cfg.RedisURL != "redis://cache:6379/1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.BackendURL != "https://api.example.com/api" || cfg.BackendWSURL != "wss://api.example.com/ws/{symbol}" {
		t.Fatalf("unexpected backend urls: %s %s", cfg.BackendURL, cfg.BackendWSURL)
	}
	if cfg.NATSURL != "nats://bus:4222" || cfg.TelegramChatID != -100123 {
		t.Fatalf("unexpected fan-out config: %q %d", cfg.NATSURL, cfg.TelegramChatID)
	}
	if cfg.DefaultSelection() != (domain.Selection{Pair: "ETH/USDT", Timeframe: "4h", Model: domain.ModelVader}) {
		t.Fatalf("unexpected selection: %+v", cfg.DefaultSelection())
	}
	if cfg.NewsLimit != 20 || len(cfg.NewsFeeds) != 2 || cfg.NewsFeeds[1] != "https://b.example/rss" {
		t.Fatalf("unexpected news config: %d %v", cfg.NewsLimit, cfg.NewsFeeds)
	}
	if cfg.SyncRefreshSecs != 0 {
		t.Fatalf("refresh 0 should disable the job, got %d", cfg.SyncRefreshSecs)
	}
	if cfg.StreamRetryMultiplier != 1 || cfg.StreamRetryJitter != 0 || cfg.StreamMaxRetries != 5 {
		t.Fatalf("unexpected retry config: %+v", cfg)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEWS_LIMIT", "bad")
	t.Setenv("SYNC_FETCH_TIMEOUT_SECS", "-1")
	t.Setenv("TELEGRAM_CHAT_ID", "chat")
	t.Setenv("DEFAULT_TIMEFRAME", "2w")
	t.Setenv("DEFAULT_MODEL", "gpt")
	t.Setenv("DEFAULT_PAIR", "BTC")
	t.Setenv("STREAM_RETRY_SECS", "10")
	t.Setenv("STREAM_RETRY_MAX_SECS", "5")
	t.Setenv("STREAM_RETRY_MULTIPLIER", "0.5")
	t.Setenv("STREAM_RETRY_JITTER", "1.5")

	cfg := Load()
	if cfg.NewsLimit != 50 || cfg.SyncFetchTimeoutSecs != 15 || cfg.TelegramChatID != 0 {
		t.Fatalf("invalid values should fall back: %+v", cfg)
	}
	if cfg.DefaultSelection() != (domain.Selection{Pair: "BTC/USDT", Timeframe: "1d", Model: domain.ModelFinBERT}) {
		t.Fatalf("unexpected selection: %+v", cfg.DefaultSelection())
	}
	if cfg.StreamRetryMaxSecs != 10 || cfg.StreamRetryMultiplier != 2 || cfg.StreamRetryJitter != 0.2 {
		t.Fatalf("unexpected retry config: %+v", cfg)
	}
}
