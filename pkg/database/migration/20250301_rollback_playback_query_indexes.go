package migration

import (
	"log"

	"gorm.io/gorm"
)

// RollbackPlaybackQueryIndexes drops the indexes added by
// AddPlaybackQueryIndexes. The pipeline_id column is kept since the
// playback_logs model declares it.
func RollbackPlaybackQueryIndexes(db *gorm.DB) error {
	log.Println("Running rollback: Remove playback query indexes...")

	for _, index := range []string{
		"idx_playback_logs_pipeline_id",
		"idx_playback_metrics_session_type",
		"idx_playback_errors_session_time",
		"idx_stall_events_session_peak",
	} {
		if err := db.Exec("DROP INDEX IF EXISTS " + index).Error; err != nil {
			log.Printf("Warning: Failed to drop %s: %v", index, err)
		}
	}

	log.Println("Playback query indexes rollback completed successfully!")
	return nil
}
