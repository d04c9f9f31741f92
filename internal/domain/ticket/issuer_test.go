package ticket

import (
	"context"
	"testing"

	"asrgateway/internal/domain/ticket/store"
)

func TestIssuerIssueReturnsHexIDAndTTL(t *testing.T) {
	m := newTestManager()
	defer m.Close(context.Background())
	issuer := NewIssuer(m)

	id, ttl, err := issuer.Issue(context.Background(), "user_42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(id) != idByteLength*2 {
		t.Fatalf("id length = %d, want %d", len(id), idByteLength*2)
	}
	if ttl != 300 {
		t.Fatalf("ttl = %d, want 300", ttl)
	}

	subject, ok, err := m.Consume(context.Background(), id)
	if err != nil || !ok || subject != "user_42" {
		t.Fatalf("consume: ok=%v subject=%q err=%v", ok, subject, err)
	}
}

func TestIssuerIssueProducesDistinctIDs(t *testing.T) {
	m := NewManager(store.NewMemory(store.Config{TTL: TTL}))
	defer m.Close(context.Background())
	issuer := NewIssuer(m)

	id1, _, err1 := issuer.Issue(context.Background(), "a")
	id2, _, err2 := issuer.Issue(context.Background(), "b")
	if err1 != nil || err2 != nil {
		t.Fatalf("issue errors: %v %v", err1, err2)
	}
	if id1 == id2 {
		t.Fatal("expected distinct ticket ids")
	}
}
