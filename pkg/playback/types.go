package playback

import (
	"fmt"
	"time"

	"github.com/latoulicious/reelcore/pkg/database/models"
	"github.com/latoulicious/reelcore/pkg/decoder"
)

// Direction is the playback direction
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// MarshalText renders the direction by name
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// PlaybackIntent is a transport command. Speed zero pauses playback and serves
// frames on demand (scrub mode).
type PlaybackIntent struct {
	Source     decoder.SourceHandle
	TargetTime float64
	Speed      float64
	Direction  Direction
}

// Validate checks the intent fields
func (i PlaybackIntent) Validate() error {
	if i.Source.ID == "" {
		return fmt.Errorf("intent source id cannot be empty")
	}
	if i.Speed < 0 {
		return fmt.Errorf("intent speed must be non-negative, got %f", i.Speed)
	}
	if i.TargetTime < 0 {
		return fmt.Errorf("intent target time must be non-negative, got %f", i.TargetTime)
	}
	if i.Direction != Forward && i.Direction != Reverse {
		return fmt.Errorf("invalid intent direction %d", i.Direction)
	}
	return nil
}

// DisplayFrame is what the renderer draws
type DisplayFrame struct {
	SourceID     string
	Pixels       []byte
	Width        int
	Height       int
	SourceTime   float64
	TimelineTime float64
	// Fallback marks frames produced by the auxiliary decoder
	Fallback bool
}

// EngineState is the coarse state reported to the transport
type EngineState int

const (
	EngineIdle EngineState = iota
	EngineStarting
	EnginePlaying
	EngineBuffering
	EngineRecovering
	EngineRestarting
	EnginePaused
	EngineEnded
	EngineFailed
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "idle"
	case EngineStarting:
		return "starting"
	case EnginePlaying:
		return "playing"
	case EngineBuffering:
		return "buffering"
	case EngineRecovering:
		return "recovering"
	case EngineRestarting:
		return "restarting"
	case EnginePaused:
		return "paused"
	case EngineEnded:
		return "ended"
	case EngineFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name
func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PipelineStatus is a snapshot of the supervisor
type PipelineStatus struct {
	State          EngineState `json:"state"`
	Stall          StallState  `json:"stall"`
	Direction      Direction   `json:"direction"`
	Speed          float64     `json:"speed"`
	SourceID       string      `json:"source_id"`
	SourceTime     float64     `json:"source_time"`
	TimelineTime   float64     `json:"timeline_time"`
	PrimaryID      string      `json:"primary_id,omitempty"`
	PrimaryState   string      `json:"primary_state,omitempty"`
	ShadowID       string      `json:"shadow_id,omitempty"`
	ShadowSourceID string      `json:"shadow_source_id,omitempty"`
	ShadowReady    bool        `json:"shadow_ready"`
	Restarts       int         `json:"restarts"`
	Error          string      `json:"error,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// MetricsStats contains aggregated metrics data
type MetricsStats struct {
	TotalPlaybackTime  time.Duration `json:"total_playback_time"`
	AverageStartupTime time.Duration `json:"average_startup_time"`
	ErrorCount         int           `json:"error_count"`
	StallCount         int           `json:"stall_count"`
	TotalStallTime     time.Duration `json:"total_stall_time"`
	Restarts           int           `json:"restarts"`
	FailedRestarts     int           `json:"failed_restarts"`
	GaplessPromotions  int           `json:"gapless_promotions"`
	ColdStarts         int           `json:"cold_starts"`
	FallbackFrames     int           `json:"fallback_frames"`
}

// ErrorStats contains aggregated error statistics
type ErrorStats struct {
	TotalErrors   int                    `json:"total_errors"`
	ErrorsByType  map[string]int         `json:"errors_by_type"`
	RecentErrors  []models.PlaybackError `json:"recent_errors"`
	LastErrorTime time.Time              `json:"last_error_time"`
}
