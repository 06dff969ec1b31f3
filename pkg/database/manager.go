package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"gorm.io/gorm"
)

// DefaultProbeTTL is how long a probe result stays valid
const DefaultProbeTTL = 24 * time.Hour

// DatabaseManager caches ffprobe results in PostgreSQL so sources are not
// probed again on every start
type DatabaseManager struct {
	db     *gorm.DB
	logger logging.Logger
}

// NewDatabaseManager creates a manager and migrates the cache table
func NewDatabaseManager(gormDB *gorm.DB) (*DatabaseManager, error) {
	if err := gormDB.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache_entries table: %w", err)
	}

	return &DatabaseManager{
		db:     gormDB,
		logger: logging.GetGlobalLoggerFactory().CreateLogger("database"),
	}, nil
}

// Close closes the database connection
func (dm *DatabaseManager) Close() error {
	sqlDB, err := dm.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartCacheCleanup deletes expired entries every interval until ctx is done
func (dm *DatabaseManager) StartCacheCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := dm.PurgeExpired()
				if err != nil {
					dm.logger.Warn("Cache cleanup failed", map[string]interface{}{
						"error": err.Error(),
					})
					continue
				}
				if removed > 0 {
					dm.logger.Debug("Removed expired cache entries", map[string]interface{}{
						"removed": removed,
					})
				}
			}
		}
	}()
}

// PurgeExpired deletes expired entries and returns how many were removed
func (dm *DatabaseManager) PurgeExpired() (int64, error) {
	result := dm.db.Where("expires_at <= ?", time.Now()).Delete(&CacheEntry{})
	return result.RowsAffected, result.Error
}

// CacheProbe stores the probe result of path
func (dm *DatabaseManager) CacheProbe(path string, result *decoder.ProbeResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}

	var cacheEntry CacheEntry
	err = dm.db.Where("cache_key = ?", probeKey(path)).First(&cacheEntry).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	cacheEntry.Key = probeKey(path)
	cacheEntry.Data = string(data)
	cacheEntry.Type = "probe"
	cacheEntry.ExpiresAt = time.Now().Add(ttl)

	return dm.db.Save(&cacheEntry).Error
}

// GetCachedProbe returns the cached probe result of path. A missing or
// expired entry yields gorm.ErrRecordNotFound.
func (dm *DatabaseManager) GetCachedProbe(path string) (*decoder.ProbeResult, error) {
	var cacheEntry CacheEntry
	err := dm.db.Where("cache_key = ? AND expires_at > ?", probeKey(path), time.Now()).First(&cacheEntry).Error
	if err != nil {
		return nil, err
	}

	var result decoder.ProbeResult
	if err := json.Unmarshal([]byte(cacheEntry.Data), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ProbeSource returns the handle of path, probing with ffprobe only when no
// cached result exists
func (dm *DatabaseManager) ProbeSource(ctx context.Context, ffprobePath, id, path string) (decoder.SourceHandle, error) {
	result, err := dm.GetCachedProbe(path)
	if err != nil {
		result, err = decoder.Probe(ctx, ffprobePath, path)
		if err != nil {
			return decoder.SourceHandle{}, err
		}
		if cacheErr := dm.CacheProbe(path, result, DefaultProbeTTL); cacheErr != nil {
			dm.logger.Warn("Failed to cache probe result", map[string]interface{}{
				"path":  path,
				"error": cacheErr.Error(),
			})
		}
	}
	handle, err := result.SourceHandle(id)
	if err != nil {
		return decoder.SourceHandle{}, err
	}
	handle.Path = path
	return handle, nil
}

// GetCacheStats returns cache statistics
func (dm *DatabaseManager) GetCacheStats() (map[string]interface{}, error) {
	var totalCount int64
	var expiredCount int64

	if err := dm.db.Model(&CacheEntry{}).Count(&totalCount).Error; err != nil {
		return nil, err
	}
	if err := dm.db.Model(&CacheEntry{}).Where("expires_at <= ?", time.Now()).Count(&expiredCount).Error; err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_entries":   totalCount,
		"expired_entries": expiredCount,
		"active_entries":  totalCount - expiredCount,
	}, nil
}

func probeKey(path string) string {
	return "probe:" + path
}

// CacheEntry represents a cache entry in the database
type CacheEntry struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"column:cache_key;uniqueIndex;not null"`
	Data      string    `gorm:"type:text;not null"`
	Type      string    `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for CacheEntry
func (CacheEntry) TableName() string {
	return "cache_entries"
}
