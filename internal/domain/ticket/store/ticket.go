package store

import "time"

// Ticket is the server-side record for an issued credential. The id under
// which it is stored is not itself a field of the record; the Redis store
// keys records by "ticket:{id}" (prefix configurable), while the memory and
// SQLite stores key them by the bare id.
type Ticket struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// Expired reports whether t is no longer valid at the given instant.
func (t Ticket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
