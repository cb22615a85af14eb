package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"sentiment-engine/internal/bot"
	"sentiment-engine/internal/config"
	"sentiment-engine/internal/job"
	"sentiment-engine/internal/publish"
	"sentiment-engine/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMainBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := stubServerDeps(t)

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}

	if !calls.syncJob {
		t.Fatal("sync job was not started")
	}
	if calls.nats != "nats://bus:4222" {
		t.Fatalf("expected NATS connect attempt, got %q", calls.nats)
	}
	if calls.dialTemplate != "ws://localhost:8000/ws/{symbol}" {
		t.Fatalf("unexpected stream template %q", calls.dialTemplate)
	}
	if !calls.tracerFlushed {
		t.Fatal("tracer provider was not shut down")
	}
	if calls.tracerCtxErr != nil {
		t.Fatalf("tracer shut down with a dead context: %v", calls.tracerCtxErr)
	}
}

type bootstrapCalls struct {
	syncJob      bool
	nats         string
	dialTemplate string

	tracerFlushed bool
	tracerCtxErr  error
}

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string) (stream.Conn, error) {
	return nil, errors.New("offline")
}

func stubServerDeps(t *testing.T) *bootstrapCalls {
	t.Helper()
	calls := &bootstrapCalls{}

	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitPostgres := initPostgresFunc
	origInitRedis := initRedisFunc
	origInitTracer := initTracerFunc
	origConnectNATS := connectNATSFunc
	origNewTelegram := newTelegramBotFunc
	origNewDialer := newDialerFunc
	origStartSyncJob := startSyncJobFunc
	origNewRouter := newRouterFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc
	origShutdownTracer := shutdownTracerFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{
			HTTPPort:         "0",
			BackendURL:       "http://localhost:8000/api",
			BackendWSURL:     "ws://localhost:8000/ws/{symbol}",
			RedisURL:         "localhost:6379",
			CacheTTLHours:    1,
			NATSURL:          "nats://bus:4222",
			OpenAIAPIKey:     "sk-test",
			OpenAIModel:      "gpt-4o-mini",
			DefaultPair:      "BTC/USDT",
			DefaultTimeframe: "1d",
			DefaultModel:     "finbert",
			NewsLimit:        10,
			StreamRetrySecs:  1,
		}
	}
	initRedisFunc = func(context.Context, string) (*redis.Client, error) {
		return nil, errors.New("connection refused")
	}
	initTracerFunc = func(ctx context.Context, _ string) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	connectNATSFunc = func(_ trace.Tracer, url, _ string) (*publish.NATSPublisher, error) {
		calls.nats = url
		return nil, errors.New("no servers available")
	}
	newTelegramBotFunc = func(string, int64, bot.StateReader) (*bot.TelegramBot, error) { return nil, nil }
	newDialerFunc = func(template string) stream.Dialer {
		calls.dialTemplate = template
		return refusingDialer{}
	}
	startSyncJobFunc = func(*job.SyncJob, context.Context) { calls.syncJob = true }
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine { return gin.New() }
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }
	shutdownTracerFunc = func(tp *sdktrace.TracerProvider, ctx context.Context) error {
		calls.tracerFlushed = true
		calls.tracerCtxErr = ctx.Err()
		return tp.Shutdown(ctx)
	}

	t.Cleanup(func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initPostgresFunc = origInitPostgres
		initRedisFunc = origInitRedis
		initTracerFunc = origInitTracer
		connectNATSFunc = origConnectNATS
		newTelegramBotFunc = origNewTelegram
		newDialerFunc = origNewDialer
		startSyncJobFunc = origStartSyncJob
		newRouterFunc = origNewRouter
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
		shutdownTracerFunc = origShutdownTracer
	})
	return calls
}
