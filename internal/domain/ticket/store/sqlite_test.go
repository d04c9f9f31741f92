package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := NewSQLite(db, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSQLitePutAndConsume(t *testing.T) {
	s := newTestSQLiteStore(t)

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

func TestSQLiteConsumeIsOneShot(t *testing.T) {
	s := newTestSQLiteStore(t)
	_ = s.Put(context.Background(), "t1", Ticket{Subject: "user-1"}, time.Minute)

	if _, found, _ := s.ConsumeAndDelete(context.Background(), "t1"); !found {
		t.Fatal("first consume should find the ticket")
	}
	if _, found, _ := s.ConsumeAndDelete(context.Background(), "t1"); found {
		t.Fatal("second consume should not find the ticket")
	}
}

func TestSQLiteConsumeExpiredNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	tk := Ticket{Subject: "user-1", ExpiresAt: time.Now().Add(-time.Second)}
	_ = s.Put(context.Background(), "t1", tk, time.Minute)

	if _, found, err := s.ConsumeAndDelete(context.Background(), "t1"); err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestSQLiteCleanupExpired(t *testing.T) {
	s := newTestSQLiteStore(t)
	_ = s.Put(context.Background(), "live", Ticket{Subject: "a", ExpiresAt: time.Now().Add(time.Hour)}, 0)
	_ = s.Put(context.Background(), "dead", Ticket{Subject: "b", ExpiresAt: time.Now().Add(-time.Hour)}, 0)

	removed, err := s.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestSQLiteStatsReportsTotal(t *testing.T) {
	s := newTestSQLiteStore(t)
	_ = s.Put(context.Background(), "t1", Ticket{Subject: "a"}, time.Minute)

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["total"] != int64(1) {
		t.Fatalf("total = %v", stats["total"])
	}
}

func TestNewSQLiteRequiresDB(t *testing.T) {
	if _, err := NewSQLite(nil, Config{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}
