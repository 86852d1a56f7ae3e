package database

import (
	"fmt"

	"trading-journal-bot/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate brings the schema up to date. Journal rows must survive
// restarts, so existing tables are never dropped.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Trade{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
