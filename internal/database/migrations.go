package database

import (
	"errors"
	"time"

	"github.com/roomlens/roomlens/internal/scan"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeEmptySyncState = "2026-07-14_normalize_empty_sync_state"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeEmptySyncState, apply: normalizeEmptySyncState},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before sync bookkeeping landed carry an empty sync_state.
func normalizeEmptySyncState(db *gorm.DB) error {
	if err := db.Model(&scan.ScanRecord{}).
		Where("sync_state = ''").
		Update("sync_state", scan.SyncStateUnsynced).Error; err != nil {
		return err
	}
	return db.Model(&scan.NoteRecord{}).
		Where("sync_state = ''").
		Update("sync_state", scan.SyncStateUnsynced).Error
}
