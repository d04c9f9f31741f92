package store

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Driver names accepted by New and the config loader.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Dependencies carries externally-owned handles a backend may need that
// New cannot construct from Config alone.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New selects and constructs a Store backend by cfg.Driver.
func New(cfg Config, deps Dependencies) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(cfg), nil
	case DriverRedis:
		return NewRedis(cfg)
	case DriverSQLite:
		db := deps.SQLiteDB
		if db == nil {
			if cfg.SQLite == nil || cfg.SQLite.DSN == "" {
				return nil, fmt.Errorf("sqlite ticket store requires a dsn")
			}
			opened, err := gorm.Open(sqlite.Open(cfg.SQLite.DSN), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("open sqlite ticket store: %w", err)
			}
			db = opened
		}
		return NewSQLite(db, cfg)
	default:
		return nil, fmt.Errorf("unsupported ticket store driver %q", cfg.Driver)
	}
}
