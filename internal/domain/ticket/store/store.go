// Package store implements the Ticket Store's three backends (memory,
// Redis, SQLite) behind a common interface, selected by driver name.
package store

import (
	"context"
	"time"
)

// Store is the TTL-keyed blob abstraction tickets are persisted under. All
// three backends must make ConsumeAndDelete atomic: a ticket id consumed
// concurrently by two callers yields exactly one winner.
type Store interface {
	// Put stores t under the given id with a server-side TTL.
	Put(ctx context.Context, id string, t Ticket, ttl time.Duration) error
	// ConsumeAndDelete atomically fetches and deletes the ticket stored
	// under id. found is false if the id was absent.
	ConsumeAndDelete(ctx context.Context, id string) (t Ticket, found bool, err error)
	// CleanupExpired removes expired entries. Backends with native TTL
	// support (Redis) may no-op.
	CleanupExpired(ctx context.Context) (removed int, err error)
	// Stats reports backend-specific introspection data for the admin surface.
	Stats(ctx context.Context) (map[string]any, error)
	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

// Config selects and configures a Store backend.
type Config struct {
	Driver          string
	TTL             time.Duration
	Namespace       string
	Redis           *RedisConfig
	SQLite          *SQLiteConfig
	Memory          *MemoryConfig
	BackgroundClean bool
}

// MemoryConfig configures the in-process map backend.
type MemoryConfig struct {
	GCInterval time.Duration
}

// SQLiteConfig configures the gorm/SQLite backend.
type SQLiteConfig struct {
	DSN string
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
