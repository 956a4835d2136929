package database

import (
	"errors"
	"time"

	"github.com/sunridge-labs/leadvault/internal/buyers"
	"github.com/sunridge-labs/leadvault/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLeadStatus = "2026-07-14_backfill_lead_status"

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

func initSchema(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&users.User{}, &buyers.Buyer{}, &buyers.LeadChange{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLeadStatus, apply: backfillLeadStatus},
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

// backfillLeadStatus repairs rows imported before the status default existed.
func backfillLeadStatus(db *gorm.DB) error {
	return db.Model(&buyers.Buyer{}).
		Where("status IS NULL OR status = ''").
		Update("status", buyers.StatusNew).Error
}
