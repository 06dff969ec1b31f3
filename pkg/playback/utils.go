package playback

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/latoulicious/reelcore/pkg/database/models"
)

// FormatDuration formats a duration into a human-readable string
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

// FormatMediaTime renders seconds as m:ss.mmm
func FormatMediaTime(t float64) string {
	if t < 0 {
		return "-" + FormatMediaTime(-t)
	}
	minutes := int(t) / 60
	return fmt.Sprintf("%d:%06.3f", minutes, t-float64(minutes*60))
}

// CreateContextFields creates a standardized context map for logging and metrics
func CreateContextFields(sessionID, sourceID, pipelineID string) map[string]interface{} {
	fields := map[string]interface{}{
		"timestamp": time.Now(),
	}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	if sourceID != "" {
		fields["source_id"] = sourceID
	}
	if pipelineID != "" {
		fields["pipeline_id"] = pipelineID
	}
	return fields
}

// CreateContextFieldsWithComponent adds a component field to CreateContextFields
func CreateContextFieldsWithComponent(sessionID, sourceID, pipelineID, component string) map[string]interface{} {
	fields := CreateContextFields(sessionID, sourceID, pipelineID)
	if component != "" {
		fields["component"] = component
	}
	return fields
}

// CreatePlaybackMetric creates a new PlaybackMetric with common fields populated
func CreatePlaybackMetric(sessionID, sourceID, metricType string, value float64) *models.PlaybackMetric {
	return &models.PlaybackMetric{
		ID:         uuid.New(),
		SessionID:  sessionID,
		SourceID:   sourceID,
		MetricType: metricType,
		Value:      value,
		Timestamp:  time.Now(),
	}
}

// CreatePlaybackLog creates a new PlaybackLog with common fields populated
func CreatePlaybackLog(sessionID, component, level, message, errorMsg string, fields map[string]interface{}) *models.PlaybackLog {
	return &models.PlaybackLog{
		ID:        uuid.New(),
		SessionID: sessionID,
		Component: component,
		Level:     level,
		Message:   message,
		Error:     errorMsg,
		Fields:    fields,
		Timestamp: time.Now(),
	}
}

// CreatePlaybackError creates a new PlaybackError with common fields populated
func CreatePlaybackError(sessionID, sourceID, errorType, errorMsg, context string) *models.PlaybackError {
	return &models.PlaybackError{
		ID:        uuid.New(),
		SessionID: sessionID,
		SourceID:  sourceID,
		ErrorType: errorType,
		ErrorMsg:  errorMsg,
		Context:   context,
		Timestamp: time.Now(),
	}
}

// CreateStallEvent creates a StallEvent from a finished episode
func CreateStallEvent(sessionID, sourceID, pipelineID string, episode StallEpisode) *models.StallEvent {
	return &models.StallEvent{
		ID:         uuid.New(),
		SessionID:  sessionID,
		SourceID:   sourceID,
		PipelineID: pipelineID,
		StartedAt:  episode.Started,
		DurationMS: float64(episode.Duration) / float64(time.Millisecond),
		PeakState:  episode.Peak.String(),
	}
}

// ValidateBinaryDependency validates that a required binary is available and executable
func ValidateBinaryDependency(binaryPath, binaryName string) error {
	if strings.TrimSpace(binaryPath) == "" {
		return fmt.Errorf("%s binary path cannot be empty", binaryName)
	}
	if _, err := exec.LookPath(binaryPath); err != nil {
		return fmt.Errorf("%s binary not found at path '%s': %w", binaryName, binaryPath, err)
	}
	return nil
}
