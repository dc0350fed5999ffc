package db

import (
	"skywatch/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.ReceptionRecord{},
		&models.RawNotice{},
		&models.StrategyJob{},
	)
}
