package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func stubRedisInit(t *testing.T, pingErr error) *string {
	t.Helper()
	origNewClient := newRedisClient
	origPing := pingRedis
	t.Cleanup(func() {
		newRedisClient = origNewClient
		pingRedis = origPing
	})

	var capturedAddr string
	newRedisClient = func(opts *redis.Options) *redis.Client {
		capturedAddr = opts.Addr
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return pingErr
	}
	return &capturedAddr
}

func TestInitRedisWithCustomAddr(t *testing.T) {
	addr := stubRedisInit(t, nil)

	client, err := InitRedis(context.Background(), "redis:9999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if *addr != "redis:9999" {
		t.Fatalf("expected custom addr, got %s", *addr)
	}
}

func TestInitRedisDefaults(t *testing.T) {
	addr := stubRedisInit(t, nil)

	client, err := InitRedis(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if *addr != "localhost:6379" {
		t.Fatalf("expected default addr, got %s", *addr)
	}
}

func TestInitRedisParsesURL(t *testing.T) {
	addr := stubRedisInit(t, nil)

	client, err := InitRedis(context.Background(), "redis://cache.internal:6380/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if *addr != "cache.internal:6380" {
		t.Fatalf("expected parsed addr, got %s", *addr)
	}
}

func TestInitRedisPingFailure(t *testing.T) {
	stubRedisInit(t, errors.New("connection refused"))

	if _, err := InitRedis(context.Background(), "localhost:1"); err == nil {
		t.Fatal("expected error when ping fails")
	}
}

type fakeRedis struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisSnapshotCacheRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	c := NewRedisSnapshotCache(fake, 6*time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "sentiment:BTC/USDT:news", []byte(`[{"id":"1"}]`)); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if fake.ttls["sentiment:BTC/USDT:news"] != 6*time.Hour {
		t.Fatalf("expected ttl to be applied, got %v", fake.ttls["sentiment:BTC/USDT:news"])
	}
	got, err := c.Get(ctx, "sentiment:BTC/USDT:news")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if string(got) != `[{"id":"1"}]` {
		t.Fatalf("unexpected value: %s", got)
	}
}

func TestRedisSnapshotCacheMissAndError(t *testing.T) {
	fake := newFakeRedis()
	c := NewRedisSnapshotCache(fake, time.Hour)

	got, err := c.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil on miss, got %v, %v", got, err)
	}

	fake.getErr = errors.New("boom")
	if _, err := c.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error to propagate")
	}
}
