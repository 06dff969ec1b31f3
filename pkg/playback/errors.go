package playback

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
)

var (
	// ErrStartupTimeout is returned when a pipeline never delivers a frame
	ErrStartupTimeout = errors.New("pipeline startup timeout")
	// ErrEngineClosed is returned by calls on a closed supervisor
	ErrEngineClosed = errors.New("engine closed")
	// ErrNoSource is returned when an operation needs a source and none is set
	ErrNoSource = errors.New("no source")
	// ErrPipelineStalled is the restart cause when a running pipeline stops
	// delivering frames
	ErrPipelineStalled = errors.New("pipeline stalled")
)

// BasicErrorHandler classifies pipeline errors, decides whether a restart is
// worthwhile and persists error records
type BasicErrorHandler struct {
	retryConfig *RetryConfig
	logger      logging.Logger
	repository  PlaybackRepository
	sessionID   string
}

// NewBasicErrorHandler creates a new BasicErrorHandler instance
func NewBasicErrorHandler(config *RetryConfig, repo PlaybackRepository, sessionID string) *BasicErrorHandler {
	if config == nil {
		config = &DefaultEngineConfig().Retry
	}
	logger := logging.GetGlobalLoggerFactory().CreateEngineLogger(sessionID).WithPipeline("error-handler")

	return &BasicErrorHandler{
		retryConfig: config,
		logger:      logger,
		repository:  repo,
		sessionID:   sessionID,
	}
}

// HandleError logs err and reports whether to retry and after how long
func (h *BasicErrorHandler) HandleError(err error, context string) (shouldRetry bool, delay time.Duration) {
	h.LogError(err, context)

	if !h.IsRetryableError(err) {
		h.logger.Info("Error is not retryable", map[string]interface{}{
			"error":      err.Error(),
			"context":    context,
			"error_type": ClassifyError(err),
		})
		return false, 0
	}

	delay = h.GetRetryDelay(1)
	h.logger.Info("Error is retryable", map[string]interface{}{
		"error":       err.Error(),
		"context":     context,
		"error_type":  ClassifyError(err),
		"retry_delay": delay.String(),
		"max_retries": h.retryConfig.MaxRetries,
	})
	return true, delay
}

// LogError logs err with context and saves an error record
func (h *BasicErrorHandler) LogError(err error, context string) {
	if err == nil {
		return
	}
	errorType := ClassifyError(err)
	fields := CreateContextFieldsWithComponent(h.sessionID, sourceOf(err), "", "error-handler")
	fields["context"] = context
	fields["error_type"] = errorType
	fields["retryable"] = h.IsRetryableError(err)

	h.logger.Error("Playback error occurred", err, fields)

	if h.repository == nil {
		return
	}
	record := CreatePlaybackError(h.sessionID, sourceOf(err), errorType, err.Error(), formatContext(context, errorType))
	if saveErr := h.repository.SaveError(record); saveErr != nil {
		h.logger.Warn("Failed to save error to database", map[string]interface{}{
			"save_error":     saveErr.Error(),
			"original_error": err.Error(),
			"error_type":     errorType,
		})
	}
}

// IsRetryableError reports whether restarting the pipeline could help
func (h *BasicErrorHandler) IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, decoder.ErrSeekUnsupported):
		return false
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return false
	case errors.Is(err, ErrEngineClosed):
		return false
	case errors.Is(err, decoder.ErrSourceOpenFailed),
		errors.Is(err, decoder.ErrCorruptTimestamps),
		errors.Is(err, ErrStartupTimeout),
		errors.Is(err, ErrPipelineStalled):
		return true
	}
	if isProcessError(err) || isTemporaryError(err) {
		return true
	}
	return ClassifyError(err) == "decode"
}

// GetRetryDelay returns the backoff before restart attempt number attempt
func (h *BasicErrorHandler) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return h.retryConfig.BaseDelay
	}
	multiplier := math.Pow(h.retryConfig.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(h.retryConfig.BaseDelay) * multiplier)
	if delay > h.retryConfig.MaxDelay {
		delay = h.retryConfig.MaxDelay
	}
	return delay
}

// GetMaxRetries returns the configured restart budget
func (h *BasicErrorHandler) GetMaxRetries() int {
	return h.retryConfig.MaxRetries
}

// ShouldRetryAfterAttempts reports whether another attempt is allowed
func (h *BasicErrorHandler) ShouldRetryAfterAttempts(attempts int, err error) bool {
	if attempts >= h.retryConfig.MaxRetries {
		h.logger.Info("Maximum restart attempts reached", map[string]interface{}{
			"attempts":    attempts,
			"max_retries": h.retryConfig.MaxRetries,
			"error_type":  ClassifyError(err),
		})
		return false
	}
	return h.IsRetryableError(err)
}

// ClassifyError returns the category stored with error records
func ClassifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	var decodeErr *decoder.DecodeError
	switch {
	case errors.Is(err, decoder.ErrSourceOpenFailed):
		return "open"
	case errors.Is(err, decoder.ErrSeekUnsupported):
		return "seek"
	case errors.Is(err, decoder.ErrCorruptTimestamps):
		return "timestamps"
	case errors.Is(err, ErrStartupTimeout):
		return "startup"
	case errors.Is(err, ErrPipelineStalled):
		return "stall"
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return "filesystem"
	case isProcessError(err):
		return "process"
	case errors.As(err, &decodeErr):
		return "decode"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "permission denied"):
		return "filesystem"
	case strings.Contains(msg, "ffmpeg"), strings.Contains(msg, "decode"):
		return "decode"
	}
	return "unknown"
}

// CreateMaxRetriesError wraps the last error of an exhausted restart budget
func CreateMaxRetriesError(lastErr error, attempts int) error {
	return fmt.Errorf("max retries exceeded after %d attempts: %w", attempts, lastErr)
}

func isProcessError(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EAGAIN || errno == syscall.EINTR
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"signal: killed", "signal: terminated", "exit status", "broken pipe"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isTemporaryError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"resource temporarily unavailable", "interrupted system call", "device busy", "i/o error", "timeout"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// sourceOf extracts the source id carried by a decode error
func sourceOf(err error) string {
	var decodeErr *decoder.DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Source
	}
	return ""
}

func formatContext(context, errorType string) string {
	return strings.Join([]string{context, "type=" + errorType}, "; ")
}
