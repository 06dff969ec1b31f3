package migration

import (
	"log"

	"gorm.io/gorm"
)

// AddPlaybackQueryIndexes adds the composite indexes used by the stats
// queries, plus the pipeline_id column on playback_logs for tables created
// before logs carried it
func AddPlaybackQueryIndexes(db *gorm.DB) error {
	log.Println("Running migration: Add playback query indexes...")

	if !db.Migrator().HasColumn(&PlaybackLogMigration{}, "pipeline_id") {
		log.Println("Adding pipeline_id column to playback_logs table...")
		if err := db.Exec("ALTER TABLE playback_logs ADD COLUMN pipeline_id VARCHAR(64)").Error; err != nil {
			return err
		}
	}

	statements := []string{
		"CREATE INDEX IF NOT EXISTS idx_playback_logs_pipeline_id ON playback_logs(pipeline_id)",
		// GetMetricsStats filters by session and metric type
		"CREATE INDEX IF NOT EXISTS idx_playback_metrics_session_type ON playback_metrics(session_id, metric_type)",
		// GetErrorStats orders recent errors per session
		"CREATE INDEX IF NOT EXISTS idx_playback_errors_session_time ON playback_errors(session_id, timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_stall_events_session_peak ON stall_events(session_id, peak_state)",
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	log.Println("Playback query indexes migration completed successfully!")
	return nil
}

// PlaybackLogMigration is a temporary struct for migration column checks
type PlaybackLogMigration struct {
	PipelineID string `gorm:"column:pipeline_id"`
}

// TableName returns the table name for migration checks
func (PlaybackLogMigration) TableName() string {
	return "playback_logs"
}
