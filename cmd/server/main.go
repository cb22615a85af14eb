package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentiment-engine/internal/advisor"
	"sentiment-engine/internal/bot"
	"sentiment-engine/internal/cache"
	"sentiment-engine/internal/config"
	"sentiment-engine/internal/coordinator"
	"sentiment-engine/internal/db"
	"sentiment-engine/internal/domain"
	"sentiment-engine/internal/handler"
	"sentiment-engine/internal/hub"
	"sentiment-engine/internal/job"
	"sentiment-engine/internal/provider"
	"sentiment-engine/internal/publish"
	"sentiment-engine/internal/repository"
	"sentiment-engine/internal/service"
	"sentiment-engine/internal/stream"
	"sentiment-engine/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "sentiment-engine"

var (
	loadEnvFunc        = godotenv.Load
	loadConfigFunc     = config.Load
	initPostgresFunc   = db.InitPostgres
	initRedisFunc      = cache.InitRedis
	initTracerFunc     = tracing.InitTracer
	connectNATSFunc    = publish.Connect
	newTelegramBotFunc = bot.NewTelegramBot
	newDialerFunc      = func(template string) stream.Dialer {
		return stream.NewWebSocketDialer(template)
	}
	startSyncJobFunc       = func(j *job.SyncJob, ctx context.Context) { go j.Start(ctx) }
	startBotFunc           = func(b *bot.TelegramBot) { b.Start() }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	shutdownTracerFunc     = func(tp *sdktrace.TracerProvider, ctx context.Context) error { return tp.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	// ctx is cancelled before deferred calls run; flush spans on a fresh one
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracerFunc(tp, flushCtx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Snapshot cache: Redis when reachable, in-process otherwise
	var snapshots coordinator.SnapshotCache
	var redisClient *redis.Client
	if redisClient, err = initRedisFunc(ctx, cfg.RedisURL); err != nil {
		log.Printf("Warning: %v, using in-memory snapshot cache", err)
		snapshots = cache.NewMemoryCache(cfg.CacheTTL())
	} else {
		snapshots = cache.NewRedisSnapshotCache(redisClient, cfg.CacheTTL())
	}

	// Batch history in Postgres
	var pool *pgxpool.Pool
	var batches *repository.BatchRepository
	if cfg.DatabaseURL != "" {
		if pool, err = initPostgresFunc(ctx, cfg.DatabaseURL); err != nil {
			log.Printf("Warning: %v, batch history disabled", err)
		} else {
			batches = repository.NewBatchRepository(pool, tracer)
			if err := batches.RunMigrations(ctx); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
	}

	backend := provider.NewSentimentAPI(tracer, cfg.BackendURL, cfg.BackendRatePerMin)

	coord := coordinator.New(tracer, backend, snapshots, coordinator.Config{
		NewsLimit:    cfg.NewsLimit,
		FetchTimeout: cfg.FetchTimeout(),
		NewsFeeds:    cfg.NewsFeeds,
	})
	coord.SetFearGreedFallback(provider.NewFearGreedProvider(tracer))
	coord.SetNewsFeeds(provider.NewNewsFeeds(provider.NewRSSProvider(tracer), provider.NewRedditProvider(tracer)))
	if batches != nil {
		coord.SetArchive(batches)
	}

	channel := stream.NewChannel(tracer, newDialerFunc(cfg.BackendWSURL), stream.RetryPolicy{
		Initial:    time.Duration(cfg.StreamRetrySecs) * time.Second,
		Max:        time.Duration(cfg.StreamRetryMaxSecs) * time.Second,
		Multiplier: cfg.StreamRetryMultiplier,
		Jitter:     cfg.StreamRetryJitter,
		MaxRetries: cfg.StreamMaxRetries,
	})
	channel.Subscribe(func(msg domain.StreamMessage) { coord.ApplyStreamMessage(msg) })

	// Fan-out: websocket relay, NATS, Telegram
	relay := hub.New()
	relay.SetStatusFunc(func() any { return channel.Status() })
	channel.Subscribe(relay.OnStreamMessage)
	coord.AddNotifier(relay)

	var publisher *publish.NATSPublisher
	if cfg.NATSURL != "" {
		if publisher, err = connectNATSFunc(tracer, cfg.NATSURL, serviceName); err != nil {
			log.Printf("Warning: %v, NATS publishing disabled", err)
		} else {
			channel.Subscribe(publisher.OnStreamMessage)
			coord.AddNotifier(publisher)
		}
	}

	svc := service.NewSentimentService(tracer, coord, channel, backend)
	if batches != nil {
		svc.SetHistory(batches)
	}
	if cfg.OpenAIAPIKey != "" {
		svc.SetAdvisor(advisor.NewAdvisorService(tracer, advisor.NewOpenAIClient(cfg.OpenAIAPIKey), cfg.OpenAIModel))
	}

	telegram, err := newTelegramBotFunc(cfg.TelegramBotToken, cfg.TelegramChatID, coord)
	if err != nil {
		log.Printf("Warning: %v, Telegram bot disabled", err)
	} else if telegram != nil {
		coord.AddNotifier(telegram)
		startBotFunc(telegram)
	}

	syncJob := job.NewSyncJob(tracer, svc, cfg.DefaultSelection(), cfg.RefreshInterval())
	startSyncJobFunc(syncJob, ctx)

	h := handler.New(tracer, svc, cfg.APIKey)
	h.SetRelay(relay)

	r := newRouterFunc()
	r.Use(otelgin.Middleware(serviceName))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	channel.Close()
	coord.Close()
	relay.Close()
	if telegram != nil {
		telegram.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("error draining NATS: %v", err)
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pool != nil {
		pool.Close()
	}

	log.Println("Server exiting")
}
