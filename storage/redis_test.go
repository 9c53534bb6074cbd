package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func openTestRedis(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	kv := NewRedisKVFromClient(client)
	t.Cleanup(func() { kv.Close() })
	return kv, srv
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, _ := openTestRedis(t)

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := kv.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := kv.Get(ctx, "k")
	if err != nil || string(value) != "v" {
		t.Fatalf("get: %q %v", value, err)
	}
}

func TestRedisSetNX(t *testing.T) {
	ctx := context.Background()
	kv, _ := openTestRedis(t)

	inserted, err := kv.SetNX(ctx, "k", []byte("first"), 0)
	if err != nil || !inserted {
		t.Fatalf("first setnx: inserted=%v err=%v", inserted, err)
	}
	inserted, err = kv.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil || inserted {
		t.Fatalf("second setnx: inserted=%v err=%v", inserted, err)
	}
}

func TestRedisCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	kv, _ := openTestRedis(t)

	if swapped, err := kv.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), 0); err != nil || swapped {
		t.Fatalf("cas on absent key: swapped=%v err=%v", swapped, err)
	}
	if err := kv.Set(ctx, "k", []byte("a"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if swapped, err := kv.CompareAndSwap(ctx, "k", []byte("stale"), []byte("b"), 0); err != nil || swapped {
		t.Fatalf("stale cas: swapped=%v err=%v", swapped, err)
	}
	if swapped, err := kv.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), time.Minute); err != nil || !swapped {
		t.Fatalf("cas: swapped=%v err=%v", swapped, err)
	}
	value, _ := kv.Get(ctx, "k")
	if string(value) != "b" {
		t.Fatalf("value after cas: %q", value)
	}
}

func TestRedisIncrementWindow(t *testing.T) {
	ctx := context.Background()
	kv, srv := openTestRedis(t)

	if got, err := kv.Increment(ctx, "window", time.Minute); err != nil || got != 1 {
		t.Fatalf("first increment: got=%d err=%v", got, err)
	}
	if got, err := kv.Increment(ctx, "window", time.Minute); err != nil || got != 2 {
		t.Fatalf("second increment: got=%d err=%v", got, err)
	}

	// The ttl set on creation must survive later increments, then roll the
	// window over once it elapses.
	srv.FastForward(2 * time.Minute)
	if got, err := kv.Increment(ctx, "window", time.Minute); err != nil || got != 1 {
		t.Fatalf("increment after window: got=%d err=%v", got, err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	kv, srv := openTestRedis(t)
	srv.Close()

	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := kv.Increment(ctx, "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
