package migration

import (
	"fmt"
	"log"

	"github.com/latoulicious/reelcore/pkg/database"
	"github.com/latoulicious/reelcore/pkg/database/models"
	"gorm.io/gorm"
)

// RunMigration creates or updates every table the engine writes to
func RunMigration(db *gorm.DB) error {
	log.Println("Starting migrations...")

	// Create postgres extension for uuid
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create uuid-ossp extension: %w", err)
	}

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(
		&models.PlaybackMetric{},
		&models.PlaybackError{},
		&models.PlaybackLog{},
		&models.StallEvent{},
		&database.CacheEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := AddPlaybackQueryIndexes(db); err != nil {
		return fmt.Errorf("failed to add playback indexes: %w", err)
	}

	log.Println("Migrations completed successfully!")
	return nil
}
