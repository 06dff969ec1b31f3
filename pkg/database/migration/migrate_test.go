package migration_test

import (
	"testing"

	"github.com/latoulicious/reelcore/pkg/database"
	"github.com/latoulicious/reelcore/pkg/database/migration"
	"github.com/latoulicious/reelcore/pkg/database/models"
	"github.com/stretchr/testify/assert"
)

// TestPlaybackLogModelStructure checks the columns the query indexes rely on
func TestPlaybackLogModelStructure(t *testing.T) {
	log := models.PlaybackLog{}
	log.Component = "supervisor"
	log.PipelineID = "primary-1"
	log.SourceID = "clip"

	assert.Equal(t, "supervisor", log.Component)
	assert.Equal(t, "primary-1", log.PipelineID)
	assert.Equal(t, "clip", log.SourceID)
	assert.Equal(t, "playback_logs", log.TableName())
}

func TestMigrationStructure(t *testing.T) {
	helper := migration.PlaybackLogMigration{PipelineID: "primary-1"}

	assert.Equal(t, "primary-1", helper.PipelineID)
	// the helper must point at the same table as the model it patches
	assert.Equal(t, models.PlaybackLog{}.TableName(), helper.TableName())
}

func TestMigratedTableNames(t *testing.T) {
	assert.Equal(t, "playback_errors", models.PlaybackError{}.TableName())
	assert.Equal(t, "playback_metrics", models.PlaybackMetric{}.TableName())
	assert.Equal(t, "stall_events", models.StallEvent{}.TableName())
	assert.Equal(t, "cache_entries", database.CacheEntry{}.TableName())
}
