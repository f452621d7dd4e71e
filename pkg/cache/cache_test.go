package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisProvider) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewRedisProviderFromClient(client, "test:")
	t.Cleanup(func() { _ = p.Close() })
	return mr, p
}

func TestNoopProvider(t *testing.T) {
	var p NoopProvider
	ctx := context.Background()
	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(time.Minute, time.Minute)

	if _, err := p.Get(ctx, "asn:65000"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty cache error = %v, want ErrCacheMiss", err)
	}
	if err := p.Set(ctx, "asn:65000", []byte(`{"cidrs":[]}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := p.Get(ctx, "asn:65000")
	if err != nil || string(got) != `{"cidrs":[]}` {
		t.Errorf("Get() = %q, %v", got, err)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}

	_ = p.Set(ctx, "short", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, err := p.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expired entry still returned, error = %v", err)
	}
}

func TestRedisProvider(t *testing.T) {
	ctx := context.Background()
	mr, p := newRedis(t)

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() error = %v, want ErrCacheMiss", err)
	}
	if err := p.Set(ctx, "asn:65000", []byte("report"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("test:asn:65000") {
		t.Error("key not stored under prefix")
	}
	if ttl := mr.TTL("test:asn:65000"); ttl != time.Hour {
		t.Errorf("TTL = %s, want 1h", ttl)
	}

	got, err := p.Get(ctx, "asn:65000")
	if err != nil || string(got) != "report" {
		t.Errorf("Get() = %q, %v", got, err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := p.Get(ctx, "asn:65000"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after expiry error = %v, want ErrCacheMiss", err)
	}
}

func TestRedisProvider_ServerDown(t *testing.T) {
	mr, p := newRedis(t)
	mr.Close()

	_, err := p.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want connection error", err)
	}
}

func TestNewRedisProvider_BadURL(t *testing.T) {
	if _, err := NewRedisProvider(context.Background(), "not a url", ""); err == nil {
		t.Error("NewRedisProvider() succeeded for bad URL")
	}
}

func TestLayered_PromotesOnHit(t *testing.T) {
	ctx := context.Background()
	_, back := newRedis(t)
	front := NewMemoryProvider(time.Minute, time.Minute)
	l := NewLayered(front, back, time.Minute)

	if err := back.Set(ctx, "asn:1", []byte("v1"), 0); err != nil {
		t.Fatalf("seed back: %v", err)
	}
	if _, err := front.Get(ctx, "asn:1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatal("front cache seeded unexpectedly")
	}

	got, err := l.Get(ctx, "asn:1")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if got, err := front.Get(ctx, "asn:1"); err != nil || string(got) != "v1" {
		t.Errorf("back hit not promoted: %q, %v", got, err)
	}

	if _, err := l.Get(ctx, "asn:2"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() miss error = %v, want ErrCacheMiss", err)
	}
}

func TestLayered_SetWritesBoth(t *testing.T) {
	ctx := context.Background()
	mr, back := newRedis(t)
	front := NewMemoryProvider(time.Minute, time.Minute)
	l := NewLayered(front, back, time.Minute)

	if err := l.Set(ctx, "asn:3", []byte("v3"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("test:asn:3") {
		t.Error("back layer not written")
	}
	if _, err := front.Get(ctx, "asn:3"); err != nil {
		t.Errorf("front layer not written: %v", err)
	}
}
