package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := NewRedis(Config{
		TTL:   time.Minute,
		Redis: &RedisConfig{Addr: mr.Addr()},
	})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestRedisPutAndConsume(t *testing.T) {
	s := newTestRedisStore(t)

	if err := s.Put(context.Background(), "t1", Ticket{Subject: "user-1"}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := s.ConsumeAndDelete(context.Background(), "t1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !found || got.Subject != "user-1" {
		t.Fatalf("found=%v subject=%q", found, got.Subject)
	}
}

func TestRedisConsumeIsOneShot(t *testing.T) {
	s := newTestRedisStore(t)
	_ = s.Put(context.Background(), "t1", Ticket{Subject: "user-1"}, time.Minute)

	if _, found, _ := s.ConsumeAndDelete(context.Background(), "t1"); !found {
		t.Fatal("first consume should find the ticket")
	}
	if _, found, _ := s.ConsumeAndDelete(context.Background(), "t1"); found {
		t.Fatal("second consume should not find the ticket")
	}
}

func TestRedisConsumeMissingNotFound(t *testing.T) {
	s := newTestRedisStore(t)
	if _, found, err := s.ConsumeAndDelete(context.Background(), "missing"); err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestRedisStatsCountsActiveKeys(t *testing.T) {
	s := newTestRedisStore(t)
	_ = s.Put(context.Background(), "t1", Ticket{Subject: "a"}, time.Minute)
	_ = s.Put(context.Background(), "t2", Ticket{Subject: "b"}, time.Minute)

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["active"] != 2 {
		t.Fatalf("active = %v", stats["active"])
	}
}

func TestNewRedisRequiresAddr(t *testing.T) {
	if _, err := NewRedis(Config{}); err == nil {
		t.Fatal("expected error for missing redis address")
	}
}
