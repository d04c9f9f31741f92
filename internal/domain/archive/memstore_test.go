package archive

import (
	"context"
	"testing"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	err := s.Put(context.Background(), "k1", []byte("payload"), "audio/wav", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	body, meta, err := s.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("body = %q", body)
	}
	if meta["a"] != "b" {
		t.Fatalf("meta = %v", meta)
	}
}

func TestMemoryStoreGetMissingKeyErrors(t *testing.T) {
	s := NewMemoryStore()
	if _, _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestMemoryStoreListFiltersByPrefix(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Put(context.Background(), "audio-sessions/a.wav", []byte("x"), "audio/wav", nil)
	_ = s.Put(context.Background(), "audio-sessions/b.wav", []byte("xx"), "audio/wav", nil)
	_ = s.Put(context.Background(), "other/c.wav", []byte("xxx"), "audio/wav", nil)

	infos, err := s.List(context.Background(), "audio-sessions/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}
}

func TestMemoryStoreDeleteRemovesObject(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Put(context.Background(), "k1", []byte("x"), "audio/wav", nil)
	if err := s.Delete(context.Background(), "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "k1"); err == nil {
		t.Fatal("expected object to be gone after delete")
	}
}
