package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	if err := store.Set(ctx, "coin_BTC", []byte(`{"ticker":"BTC"}`), 60*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := store.Get(ctx, "coin_BTC")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != `{"ticker":"BTC"}` {
		t.Errorf("Unexpected value %s", val)
	}

	if ttl := mr.TTL("coin_BTC"); ttl != 60*time.Minute {
		t.Errorf("Expected 60m TTL on key, got %v", ttl)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	_ = store.Set(ctx, "price_1", []byte("1"), time.Minute)
	mr.FastForward(61 * time.Second)

	if _, err := store.Get(ctx, "price_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisStoreNoExpiration(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	_ = store.Set(ctx, "sitemap", []byte("<urlset/>"), NoExpiration)
	if ttl := mr.TTL("sitemap"); ttl != 0 {
		t.Errorf("Expected no TTL, got %v", ttl)
	}
}

func TestRedisStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	_ = store.Set(ctx, "coin_ETH", []byte("eth"), time.Minute)
	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, "coin_ETH"); err != nil {
			t.Fatalf("Delete #%d failed: %v", i+1, err)
		}
	}
	if _, err := store.Get(ctx, "coin_ETH"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStoreFromClient(client)
	defer store.Close()

	mr.Close()

	_, err := store.Get(ctx, "coin_BTC")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable from Get, got %v", err)
	}
	if err := store.Set(ctx, "coin_BTC", []byte("x"), time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable from Set, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable from Ping, got %v", err)
	}
}

func TestNewRedisStoreFailsWithoutServer(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Expected connection error")
	}
}
