package store

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mutex       sync.Mutex
	items       map[string]Ticket
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-process Ticket Store backed by a map. Used for
// tests and single-process development deployments.
func NewMemory(cfg Config) Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	cleanup := 30 * time.Second
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]Ticket),
		ttl:         ttl,
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	t := time.NewTicker(s.cleanupFreq)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_, _ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Put(_ context.Context, id string, t Ticket, ttl time.Duration) error {
	if t.ExpiresAt.IsZero() {
		d := ttl
		if d <= 0 {
			d = s.ttl
		}
		t.ExpiresAt = time.Now().Add(d)
	}
	s.mutex.Lock()
	s.items[id] = t
	s.mutex.Unlock()
	return nil
}

// ConsumeAndDelete is atomic because the mutex serializes all access: two
// concurrent callers racing on the same id resolve to one getting found=true
// and the other found=false, matching the one-shot invariant.
func (s *memoryStore) ConsumeAndDelete(_ context.Context, id string) (Ticket, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.items[id]
	if !ok {
		return Ticket{}, false, nil
	}
	delete(s.items, id)
	if t.Used || t.Expired(time.Now()) {
		return Ticket{}, false, nil
	}
	return t, true, nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()
	removed := 0
	s.mutex.Lock()
	for id, t := range s.items {
		if t.Expired(now) {
			delete(s.items, id)
			removed++
		}
	}
	s.mutex.Unlock()
	return removed, nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	now := time.Now()
	s.mutex.Lock()
	defer s.mutex.Unlock()

	total := len(s.items)
	active := 0
	for _, t := range s.items {
		if !t.Expired(now) {
			active++
		}
	}
	return map[string]any{
		"type":        "memory",
		"total":       total,
		"active":      active,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
