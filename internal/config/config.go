package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"sentiment-engine/internal/domain"
)

type Config struct {
	HTTPPort string
	APIKey   string

	BackendURL        string
	BackendWSURL      string
	BackendRatePerMin int

	RedisURL      string
	CacheTTLHours int
	DatabaseURL   string
	NATSURL       string

	TelegramBotToken string
	TelegramChatID   int64

	OpenAIAPIKey string
	OpenAIModel  string

	DefaultPair      string
	DefaultTimeframe string
	DefaultModel     domain.ModelVariant

	NewsLimit            int
	NewsFeeds            []string
	SyncFetchTimeoutSecs int
	SyncRefreshSecs      int

	StreamRetrySecs       int
	StreamRetryMaxSecs    int
	StreamRetryMultiplier float64
	StreamRetryJitter     float64
	StreamMaxRetries      int
}

func Load() *Config {
	cfg := &Config{
		APIKey:           os.Getenv("API_KEY"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		NATSURL:          strings.TrimSpace(os.Getenv("NATS_URL")),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	cfg.HTTPPort = strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}

	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BACKEND_URL")), "/")
	if cfg.BackendURL == "" {
		log.Println("Warning: BACKEND_URL not set, defaulting to http://localhost:8000/api")
		cfg.BackendURL = "http://localhost:8000/api"
	}

	cfg.BackendWSURL = strings.TrimSpace(os.Getenv("BACKEND_WS_URL"))
	if cfg.BackendWSURL == "" {
		cfg.BackendWSURL = deriveWSURL(cfg.BackendURL)
	}

	cfg.BackendRatePerMin = intEnv("BACKEND_RATE_PER_MIN", 120, func(n int) bool { return n >= 0 })

	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	cfg.CacheTTLHours = intEnv("CACHE_TTL_HOURS", 24, positive)

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, batch history will be disabled")
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		} else {
			log.Printf("Warning: invalid TELEGRAM_CHAT_ID=%q, notifications disabled", v)
		}
	}

	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, AI text will be proxied to the backend")
	}
	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	sel := domain.Selection{
		Pair:      os.Getenv("DEFAULT_PAIR"),
		Timeframe: os.Getenv("DEFAULT_TIMEFRAME"),
		Model:     domain.ModelVariant(os.Getenv("DEFAULT_MODEL")),
	}.Normalize()
	cfg.DefaultPair = sel.Pair
	if cfg.DefaultPair == "" || !strings.Contains(cfg.DefaultPair, "/") {
		cfg.DefaultPair = "BTC/USDT"
	}
	cfg.DefaultTimeframe = sel.Timeframe
	if !domain.IsSupportedTimeframe(cfg.DefaultTimeframe) {
		if cfg.DefaultTimeframe != "" {
			log.Printf("Warning: unsupported DEFAULT_TIMEFRAME=%q, defaulting to 1d", cfg.DefaultTimeframe)
		}
		cfg.DefaultTimeframe = "1d"
	}
	cfg.DefaultModel = sel.Model
	if !domain.IsSupportedModel(cfg.DefaultModel) {
		if cfg.DefaultModel != "" {
			log.Printf("Warning: unsupported DEFAULT_MODEL=%q, defaulting to finbert", cfg.DefaultModel)
		}
		cfg.DefaultModel = domain.ModelFinBERT
	}

	cfg.NewsLimit = intEnv("NEWS_LIMIT", 50, positive)
	for _, feed := range strings.Split(os.Getenv("NEWS_FEEDS"), ",") {
		if feed = strings.TrimSpace(feed); feed != "" {
			cfg.NewsFeeds = append(cfg.NewsFeeds, feed)
		}
	}
	cfg.SyncFetchTimeoutSecs = intEnv("SYNC_FETCH_TIMEOUT_SECS", 15, positive)
	cfg.SyncRefreshSecs = intEnv("SYNC_REFRESH_SECS", 300, func(n int) bool { return n >= 0 })

	cfg.StreamRetrySecs = intEnv("STREAM_RETRY_SECS", 3, positive)
	cfg.StreamRetryMaxSecs = intEnv("STREAM_RETRY_MAX_SECS", 30, positive)
	if cfg.StreamRetryMaxSecs < cfg.StreamRetrySecs {
		cfg.StreamRetryMaxSecs = cfg.StreamRetrySecs
	}
	cfg.StreamRetryMultiplier = floatEnv("STREAM_RETRY_MULTIPLIER", 2, func(f float64) bool { return f >= 1 })
	cfg.StreamRetryJitter = floatEnv("STREAM_RETRY_JITTER", 0.2, func(f float64) bool { return f >= 0 && f < 1 })
	cfg.StreamMaxRetries = intEnv("STREAM_MAX_RETRIES", 0, func(n int) bool { return n >= 0 })

	return cfg
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.SyncFetchTimeoutSecs) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.SyncRefreshSecs) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *Config) DefaultSelection() domain.Selection {
	return domain.Selection{Pair: c.DefaultPair, Timeframe: c.DefaultTimeframe, Model: c.DefaultModel}
}

// deriveWSURL maps http(s)://host/api to ws(s)://host/ws/{symbol}.
func deriveWSURL(backendURL string) string {
	u := backendURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u = strings.TrimSuffix(u, "/api")
	return u + "/ws/{symbol}"
}

func positive(n int) bool { return n > 0 }

func intEnv(key string, def int, valid func(int) bool) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || !valid(n) {
		log.Printf("Warning: invalid %s=%q, defaulting to %d", key, v, def)
		return def
	}
	return n
}

func floatEnv(key string, def float64, valid func(float64) bool) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !valid(f) {
		log.Printf("Warning: invalid %s=%q, defaulting to %g", key, v, def)
		return def
	}
	return f
}
