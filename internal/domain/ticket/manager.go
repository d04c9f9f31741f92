// Package ticket implements the one-shot, TTL-bound bearer credential
// exchanged for a user's identity-provider token and presented as the
// first WebSocket message.
package ticket

import (
	"context"
	"time"

	"asrgateway/internal/domain/ticket/store"
)

// TTL is the server-side lifetime of an issued ticket.
const TTL = 300 * time.Second

// Manager issues and consumes tickets against a Store backend.
type Manager struct {
	store store.Store
}

// NewManager wires a Manager against the given Store.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// Issue mints a new ticket for subject and persists it under id with the
// standard 300s TTL. The caller supplies id (see Issuer.Issue for the
// random-id generation used by the HTTP surface).
func (m *Manager) Issue(ctx context.Context, id, subject string) error {
	t := store.Ticket{
		Subject:   subject,
		ExpiresAt: time.Now().Add(TTL),
		Used:      false,
	}
	return m.store.Put(ctx, id, t, TTL)
}

// Consume atomically validates and deletes the ticket stored under id,
// returning the subject it was issued for. ok is false if the ticket was
// absent, already used, or expired.
func (m *Manager) Consume(ctx context.Context, id string) (subject string, ok bool, err error) {
	t, found, err := m.store.ConsumeAndDelete(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return t.Subject, true, nil
}

// CleanupExpired sweeps expired tickets from backends without native TTL support.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.CleanupExpired(ctx)
}

// Stats reports backend introspection data for the admin surface.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	return m.store.Stats(ctx)
}

// Close releases the underlying store's resources.
func (m *Manager) Close(ctx context.Context) error {
	return m.store.Close(ctx)
}
