package playback

import (
	"time"

	"github.com/latoulicious/reelcore/pkg/database/models"
	"github.com/latoulicious/reelcore/pkg/decoder"
)

// Engine is the surface the transport and renderer use
type Engine interface {
	SubmitIntent(intent PlaybackIntent) error
	PollFrame() (*DisplayFrame, bool)
	PollStatus() PipelineStatus
	PullSamples(dst []float32) int
	Close() error
}

// Clock supplies the current wall time
type Clock interface {
	Now() time.Time
}

// SourceSequence is the ordered list of sources played back to back
type SourceSequence interface {
	Next(sourceID string) (decoder.SourceHandle, bool)
	Previous(sourceID string) (decoder.SourceHandle, bool)
	// Offset returns the timeline time at which sourceID starts
	Offset(sourceID string) (float64, bool)
	First() (decoder.SourceHandle, bool)
}

// ErrorHandler manages error handling and restart policy
type ErrorHandler interface {
	HandleError(err error, context string) (shouldRetry bool, delay time.Duration)
	LogError(err error, context string)
	IsRetryableError(err error) bool
}

// ConfigProvider manages configuration loading from multiple sources
type ConfigProvider interface {
	Config() *EngineConfig
	GetPipelineConfig() *PipelineConfig
	GetStallConfig() *StallConfig
	GetCacheConfig() *CacheConfig
	GetMixerConfig() *MixerConfig
	GetBucketerConfig() *BucketerConfig
	GetFFmpegConfig() *FFmpegConfig
	GetRetryConfig() *RetryConfig
	GetLoggerConfig() *LoggerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetReporterConfig() *ReporterConfig
	Validate() error
}

// MetricsCollector handles performance metrics collection
type MetricsCollector interface {
	RecordStartupTime(duration time.Duration)
	RecordStall(duration time.Duration, peak StallKind)
	RecordRestart(success bool)
	RecordPromotion(gapless bool)
	RecordFallbackFrame()
	RecordError(errorType string)
	RecordPlaybackDuration(duration time.Duration)
	GetStats() MetricsStats
}

// PlaybackRepository handles database operations for playback data
type PlaybackRepository interface {
	SaveError(playbackError *models.PlaybackError) error
	SaveMetric(metric *models.PlaybackMetric) error
	SaveLog(log *models.PlaybackLog) error
	SaveStallEvent(event *models.StallEvent) error
	GetErrorStats(sessionID string) (*ErrorStats, error)
	GetMetricsStats(sessionID string) (*MetricsStats, error)
}
