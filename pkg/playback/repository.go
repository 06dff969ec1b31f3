package playback

import (
	"errors"
	"time"

	"github.com/latoulicious/reelcore/pkg/database/models"
	"github.com/latoulicious/reelcore/pkg/logging"
	"gorm.io/gorm"
)

// ErrPersistenceDisabled is returned by NopRepository queries
var ErrPersistenceDisabled = errors.New("persistence disabled")

// PlaybackRepositoryImpl implements the PlaybackRepository interface using GORM
type PlaybackRepositoryImpl struct {
	db *gorm.DB
}

// NewPlaybackRepository creates a new PlaybackRepository implementation
func NewPlaybackRepository(db *gorm.DB) *PlaybackRepositoryImpl {
	return &PlaybackRepositoryImpl{db: db}
}

// SaveError saves a playback error to the database
func (r *PlaybackRepositoryImpl) SaveError(playbackError *models.PlaybackError) error {
	return r.db.Create(playbackError).Error
}

// SaveMetric saves a playback metric to the database
func (r *PlaybackRepositoryImpl) SaveMetric(metric *models.PlaybackMetric) error {
	return r.db.Create(metric).Error
}

// SaveLog saves a log entry to the database
func (r *PlaybackRepositoryImpl) SaveLog(log *models.PlaybackLog) error {
	return r.db.Create(log).Error
}

// SaveStallEvent saves a stall episode to the database
func (r *PlaybackRepositoryImpl) SaveStallEvent(event *models.StallEvent) error {
	return r.db.Create(event).Error
}

// GetErrorStats retrieves aggregated error statistics for a session
func (r *PlaybackRepositoryImpl) GetErrorStats(sessionID string) (*ErrorStats, error) {
	stats := &ErrorStats{
		ErrorsByType: make(map[string]int),
	}

	var totalErrors int64
	if err := r.db.Model(&models.PlaybackError{}).
		Where("session_id = ?", sessionID).
		Count(&totalErrors).Error; err != nil {
		return nil, err
	}
	stats.TotalErrors = int(totalErrors)

	var errorTypeCounts []struct {
		ErrorType string
		Count     int64
	}
	if err := r.db.Model(&models.PlaybackError{}).
		Select("error_type, COUNT(*) as count").
		Where("session_id = ?", sessionID).
		Group("error_type").
		Scan(&errorTypeCounts).Error; err != nil {
		return nil, err
	}
	for _, typeCount := range errorTypeCounts {
		stats.ErrorsByType[typeCount.ErrorType] = int(typeCount.Count)
	}

	since := time.Now().Add(-24 * time.Hour)
	var recentErrors []models.PlaybackError
	if err := r.db.Where("session_id = ? AND timestamp > ?", sessionID, since).
		Order("timestamp DESC").
		Limit(10).
		Find(&recentErrors).Error; err != nil {
		return nil, err
	}
	stats.RecentErrors = recentErrors

	var lastError models.PlaybackError
	if err := r.db.Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		First(&lastError).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	} else {
		stats.LastErrorTime = lastError.Timestamp
	}

	return stats, nil
}

// GetMetricsStats retrieves aggregated playback metrics for a session
func (r *PlaybackRepositoryImpl) GetMetricsStats(sessionID string) (*MetricsStats, error) {
	stats := &MetricsStats{}

	var totalPlaybackSeconds float64
	if err := r.db.Model(&models.PlaybackMetric{}).
		Select("COALESCE(SUM(value), 0)").
		Where("session_id = ? AND metric_type = ?", sessionID, "playback_duration").
		Scan(&totalPlaybackSeconds).Error; err != nil {
		return nil, err
	}
	stats.TotalPlaybackTime = time.Duration(totalPlaybackSeconds * float64(time.Second))

	var avgStartupSeconds float64
	if err := r.db.Model(&models.PlaybackMetric{}).
		Select("COALESCE(AVG(value), 0)").
		Where("session_id = ? AND metric_type = ?", sessionID, "startup_time").
		Scan(&avgStartupSeconds).Error; err != nil {
		return nil, err
	}
	stats.AverageStartupTime = time.Duration(avgStartupSeconds * float64(time.Second))

	var errorCount int64
	if err := r.db.Model(&models.PlaybackError{}).
		Where("session_id = ?", sessionID).
		Count(&errorCount).Error; err != nil {
		return nil, err
	}
	stats.ErrorCount = int(errorCount)

	var stallCount int64
	if err := r.db.Model(&models.StallEvent{}).
		Where("session_id = ?", sessionID).
		Count(&stallCount).Error; err != nil {
		return nil, err
	}
	stats.StallCount = int(stallCount)

	var stallMS float64
	if err := r.db.Model(&models.StallEvent{}).
		Select("COALESCE(SUM(duration_ms), 0)").
		Where("session_id = ?", sessionID).
		Scan(&stallMS).Error; err != nil {
		return nil, err
	}
	stats.TotalStallTime = time.Duration(stallMS * float64(time.Millisecond))

	return stats, nil
}

// NopRepository discards everything; it is used when persistence is disabled
type NopRepository struct{}

func (NopRepository) SaveError(*models.PlaybackError) error   { return nil }
func (NopRepository) SaveMetric(*models.PlaybackMetric) error { return nil }
func (NopRepository) SaveLog(*models.PlaybackLog) error       { return nil }
func (NopRepository) SaveStallEvent(*models.StallEvent) error { return nil }

func (NopRepository) GetErrorStats(string) (*ErrorStats, error) {
	return nil, ErrPersistenceDisabled
}

func (NopRepository) GetMetricsStats(string) (*MetricsStats, error) {
	return nil, ErrPersistenceDisabled
}

// LogRepositoryAdapter stores logging entries through a PlaybackRepository
type LogRepositoryAdapter struct {
	repository PlaybackRepository
}

// NewLogRepositoryAdapter wraps repository for the logging package
func NewLogRepositoryAdapter(repository PlaybackRepository) logging.LogRepository {
	return &LogRepositoryAdapter{repository: repository}
}

// SaveLog converts entry into a PlaybackLog and saves it
func (a *LogRepositoryAdapter) SaveLog(entry logging.LogEntry) error {
	log := CreatePlaybackLog(entry.SessionID, entry.Component, entry.Level, entry.Message, entry.Error, entry.Fields)
	log.SourceID = entry.SourceID
	log.PipelineID = entry.PipelineID
	return a.repository.SaveLog(log)
}
