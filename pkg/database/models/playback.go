package models

import (
	"time"

	"github.com/google/uuid"
)

// PlaybackError represents an error raised by a playback session
type PlaybackError struct {
	ID        uuid.UUID `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index;not null" json:"session_id"`
	SourceID  string    `gorm:"index" json:"source_id"`
	ErrorType string    `gorm:"index;not null" json:"error_type"`
	ErrorMsg  string    `gorm:"type:text;not null" json:"error_msg"`
	Context   string    `gorm:"type:text" json:"context"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Resolved  bool      `gorm:"default:false" json:"resolved"`
}

// PlaybackMetric represents one measured value of a playback session
type PlaybackMetric struct {
	ID         uuid.UUID `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"index;not null" json:"session_id"`
	SourceID   string    `gorm:"index" json:"source_id"`
	MetricType string    `gorm:"index;not null" json:"metric_type"` // startup_time, stall_duration, restart, promotion, fallback_frame
	Value      float64   `gorm:"not null" json:"value"`
	Timestamp  time.Time `gorm:"index;not null" json:"timestamp"`
}

// PlaybackLog represents a persisted log entry
type PlaybackLog struct {
	ID         uuid.UUID              `gorm:"primaryKey" json:"id"`
	SessionID  string                 `gorm:"index" json:"session_id"`
	Component  string                 `gorm:"index;not null;default:'engine'" json:"component"`
	Level      string                 `gorm:"index;not null" json:"level"` // INFO, ERROR, WARN
	Message    string                 `gorm:"type:text;not null" json:"message"`
	Error      string                 `gorm:"type:text" json:"error"`
	Fields     map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"fields"`
	SourceID   string                 `gorm:"index" json:"source_id"`
	PipelineID string                 `gorm:"index" json:"pipeline_id"`
	Timestamp  time.Time              `gorm:"index;not null" json:"timestamp"`
}

// StallEvent records one stall episode of a primary pipeline
type StallEvent struct {
	ID         uuid.UUID `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"index;not null" json:"session_id"`
	SourceID   string    `gorm:"index" json:"source_id"`
	PipelineID string    `gorm:"index" json:"pipeline_id"`
	StartedAt  time.Time `gorm:"index;not null" json:"started_at"`
	DurationMS float64   `gorm:"not null" json:"duration_ms"`
	PeakState  string    `gorm:"not null" json:"peak_state"` // stalled, recovering, restarting
}

// TableName returns the table name for PlaybackError
func (PlaybackError) TableName() string {
	return "playback_errors"
}

// TableName returns the table name for PlaybackMetric
func (PlaybackMetric) TableName() string {
	return "playback_metrics"
}

// TableName returns the table name for PlaybackLog
func (PlaybackLog) TableName() string {
	return "playback_logs"
}

// TableName returns the table name for StallEvent
func (StallEvent) TableName() string {
	return "stall_events"
}
