package ticket

import (
	"context"
	"testing"
	"time"

	"asrgateway/internal/domain/ticket/store"
)

func newTestManager() *Manager {
	return NewManager(store.NewMemory(store.Config{TTL: TTL}))
}

func TestManagerIssueAndConsume(t *testing.T) {
	m := newTestManager()
	defer m.Close(context.Background())

	if err := m.Issue(context.Background(), "t1", "user_42"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	subject, ok, err := m.Consume(context.Background(), "t1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok || subject != "user_42" {
		t.Fatalf("ok=%v subject=%q", ok, subject)
	}
}

func TestManagerConsumeIsOneShot(t *testing.T) {
	m := newTestManager()
	defer m.Close(context.Background())

	_ = m.Issue(context.Background(), "t1", "user_42")
	_, ok, _ := m.Consume(context.Background(), "t1")
	if !ok {
		t.Fatal("first consume should succeed")
	}

	_, ok, _ = m.Consume(context.Background(), "t1")
	if ok {
		t.Fatal("second consume should fail")
	}
}

func TestManagerConsumeUnknownID(t *testing.T) {
	m := newTestManager()
	defer m.Close(context.Background())

	_, ok, err := m.Consume(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestManagerConsumeAfterExpiryFails(t *testing.T) {
	s := store.NewMemory(store.Config{TTL: TTL})
	m := NewManager(s)
	defer m.Close(context.Background())

	// Bypass Issue to install an already-expired ticket directly.
	_ = s.Put(context.Background(), "t1", store.Ticket{
		Subject:   "user_42",
		ExpiresAt: time.Now().Add(-time.Second),
	}, TTL)

	_, ok, _ := m.Consume(context.Background(), "t1")
	if ok {
		t.Fatal("expired ticket should not be consumable")
	}
}
