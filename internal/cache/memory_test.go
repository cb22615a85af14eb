package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	if got, err := c.Get(ctx, "k"); err != nil || got != nil {
		t.Fatalf("expected miss, got %v, %v", got, err)
	}

	value := []byte("payload")
	if err := c.Set(ctx, "k", value); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value[0] = 'X'

	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "payload" {
		t.Fatalf("expected stored copy, got %q, %v", got, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"))
	now = now.Add(30 * time.Second)
	if got, _ := c.Get(ctx, "k"); string(got) != "v" {
		t.Fatalf("expected value before expiry, got %q", got)
	}
	now = now.Add(time.Minute)
	if got, _ := c.Get(ctx, "k"); got != nil {
		t.Fatalf("expected miss after expiry, got %q", got)
	}
}
