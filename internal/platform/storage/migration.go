package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"asrgateway/internal/platform/errors"
)

// Migration is a single versioned schema change.
type Migration interface {
	Version() string
	Description() string
	Up(db *gorm.DB) error
	Down(db *gorm.DB) error
}

// MigrationRecord tracks which migrations have been applied.
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// MigrationManager applies registered migrations in order, each inside its
// own transaction, skipping ones already recorded as applied.
type MigrationManager struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrationManager builds a MigrationManager bound to db.
func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// AddMigration registers a migration to run on the next RunMigrations call.
func (m *MigrationManager) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

// RunMigrations applies every registered migration not already recorded.
func (m *MigrationManager) RunMigrations() error {
	if err := m.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return errors.Wrap(errors.KindTicket, "migration.create_table", "failed to create migration table", err)
	}

	var appliedVersions []string
	if err := m.db.Model(&MigrationRecord{}).Pluck("version", &appliedVersions).Error; err != nil {
		return errors.Wrap(errors.KindTicket, "migration.get_applied", "failed to get applied migrations", err)
	}
	applied := make(map[string]bool, len(appliedVersions))
	for _, v := range appliedVersions {
		applied[v] = true
	}

	for _, migration := range m.migrations {
		if applied[migration.Version()] {
			continue
		}

		tx := m.db.Begin()
		if tx.Error != nil {
			return errors.Wrap(errors.KindTicket, "migration.begin_tx", "failed to begin transaction", tx.Error)
		}
		if err := migration.Up(tx); err != nil {
			tx.Rollback()
			return errors.Wrap(errors.KindTicket, "migration.up", fmt.Sprintf("failed to run migration %s", migration.Version()), err)
		}
		record := &MigrationRecord{Version: migration.Version(), Name: migration.Description(), AppliedAt: time.Now()}
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return errors.Wrap(errors.KindTicket, "migration.record", "failed to record migration", err)
		}
		if err := tx.Commit().Error; err != nil {
			return errors.Wrap(errors.KindTicket, "migration.commit", "failed to commit migration", err)
		}
	}
	return nil
}

// RollbackMigration reverts a single applied migration by version.
func (m *MigrationManager) RollbackMigration(version string) error {
	var record MigrationRecord
	if err := m.db.Where("version = ?", version).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.New(errors.KindTicket, "migration.not_found", fmt.Sprintf("migration %s not found", version))
		}
		return errors.Wrap(errors.KindTicket, "migration.find_record", "failed to find migration record", err)
	}

	var target Migration
	for _, migration := range m.migrations {
		if migration.Version() == version {
			target = migration
			break
		}
	}
	if target == nil {
		return errors.New(errors.KindTicket, "migration.not_registered", fmt.Sprintf("migration %s not registered", version))
	}

	tx := m.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(errors.KindTicket, "migration.rollback_begin_tx", "failed to begin rollback transaction", tx.Error)
	}
	if err := target.Down(tx); err != nil {
		tx.Rollback()
		return errors.Wrap(errors.KindTicket, "migration.down", fmt.Sprintf("failed to rollback migration %s", version), err)
	}
	if err := tx.Delete(&record).Error; err != nil {
		tx.Rollback()
		return errors.Wrap(errors.KindTicket, "migration.delete_record", "failed to delete migration record", err)
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(errors.KindTicket, "migration.rollback_commit", "failed to commit rollback", err)
	}
	return nil
}

// GetMigrationHistory returns applied migrations, most recent first.
func (m *MigrationManager) GetMigrationHistory() ([]MigrationRecord, error) {
	var records []MigrationRecord
	if err := m.db.Order("applied_at DESC").Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindTicket, "migration.history", "failed to get migration history", err)
	}
	return records, nil
}
