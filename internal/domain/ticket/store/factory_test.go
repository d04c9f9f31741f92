package store

import "testing"

func TestNewDefaultsToMemory(t *testing.T) {
	s, err := New(Config{}, Dependencies{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*memoryStore); !ok {
		t.Fatalf("got %T, want *memoryStore", s)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle"}, Dependencies{}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNewSQLiteRequiresDSNWithoutHandle(t *testing.T) {
	if _, err := New(Config{Driver: DriverSQLite}, Dependencies{}); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

func TestNewRedisRequiresConfig(t *testing.T) {
	if _, err := New(Config{Driver: DriverRedis}, Dependencies{}); err == nil {
		t.Fatal("expected error for missing redis config")
	}
}
