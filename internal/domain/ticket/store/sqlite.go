package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"asrgateway/internal/platform/storage"
)

// ticketRecord is the gorm model backing the SQLite Ticket Store.
type ticketRecord struct {
	ID        string `gorm:"primaryKey"`
	Subject   string
	ExpiresAt time.Time `gorm:"index"`
	Used      bool
	CreatedAt time.Time
}

func (ticketRecord) TableName() string { return "tickets" }

// createTicketsTable is the sole schema migration the Ticket Store's SQLite
// backend needs, registered against the shared storage.MigrationManager.
type createTicketsTable struct{}

func (createTicketsTable) Version() string      { return "0001_create_tickets" }
func (createTicketsTable) Description() string  { return "create tickets table" }
func (createTicketsTable) Up(db *gorm.DB) error { return db.AutoMigrate(&ticketRecord{}) }
func (createTicketsTable) Down(db *gorm.DB) error {
	return db.Migrator().DropTable(&ticketRecord{})
}

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a SQLite-backed Ticket Store, running its schema
// migration against db before use.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite ticket store requires a database handle")
	}
	mgr := storage.NewMigrationManager(db)
	mgr.AddMigration(createTicketsTable{})
	if err := mgr.RunMigrations(); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &sqliteStore{db: db, ttl: ttl}, nil
}

func (s *sqliteStore) Put(ctx context.Context, id string, t Ticket, ttl time.Duration) error {
	if t.ExpiresAt.IsZero() {
		d := ttl
		if d <= 0 {
			d = s.ttl
		}
		t.ExpiresAt = time.Now().Add(d)
	}
	record := &ticketRecord{ID: id, Subject: t.Subject, ExpiresAt: t.ExpiresAt, Used: t.Used, CreatedAt: time.Now()}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&ticketRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

// ConsumeAndDelete runs the fetch-then-delete inside a single transaction so
// a concurrent caller either sees the row gone or sees it and races to
// delete it too; SQLite's transaction isolation resolves the race to one
// winner, matching the one-shot invariant.
func (s *sqliteStore) ConsumeAndDelete(ctx context.Context, id string) (Ticket, bool, error) {
	var result Ticket
	found := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec ticketRecord
		err := tx.Where("id = ?", id).First(&rec).Error
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&ticketRecord{}).Error; err != nil {
			return err
		}
		t := Ticket{Subject: rec.Subject, ExpiresAt: rec.ExpiresAt, Used: rec.Used}
		if t.Used || t.Expired(time.Now()) {
			return nil
		}
		result, found = t, true
		return nil
	})
	if err != nil {
		return Ticket{}, false, err
	}
	return result, found, nil
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&ticketRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&ticketRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        "sqlite",
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, gorm.ErrRecordNotFound)
}
