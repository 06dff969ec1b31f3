package playback_test

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openError(source string) error {
	return &decoder.DecodeError{Op: "open", Source: source, Err: fmt.Errorf("%w: missing", decoder.ErrSourceOpenFailed)}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "unknown"},
		{"open", openError("clip"), "open"},
		{"seek", fmt.Errorf("seek: %w", decoder.ErrSeekUnsupported), "seek"},
		{"timestamps", decoder.ErrCorruptTimestamps, "timestamps"},
		{"startup", fmt.Errorf("%w: no frame within 5s", playback.ErrStartupTimeout), "startup"},
		{"stall", playback.ErrPipelineStalled, "stall"},
		{"filesystem", fmt.Errorf("stat: %w", os.ErrNotExist), "filesystem"},
		{"process", errors.New("ffmpeg: signal: killed"), "process"},
		{"decode error", &decoder.DecodeError{Op: "decode", Source: "clip", Err: errors.New("bad packet")}, "decode"},
		{"decode message", errors.New("failed to decode frame"), "decode"},
		{"other", errors.New("something else"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, playback.ClassifyError(tt.err))
		})
	}
}

func TestBasicErrorHandler_IsRetryableError(t *testing.T) {
	h := playback.NewBasicErrorHandler(nil, nil, "session")

	assert.False(t, h.IsRetryableError(nil))
	assert.True(t, h.IsRetryableError(openError("clip")))
	assert.True(t, h.IsRetryableError(playback.ErrPipelineStalled))
	assert.True(t, h.IsRetryableError(playback.ErrStartupTimeout))
	assert.True(t, h.IsRetryableError(errors.New("read: resource temporarily unavailable")))
	assert.False(t, h.IsRetryableError(decoder.ErrSeekUnsupported))
	assert.False(t, h.IsRetryableError(os.ErrPermission))
	assert.False(t, h.IsRetryableError(playback.ErrEngineClosed))
	assert.False(t, h.IsRetryableError(errors.New("something else")))
}

func TestBasicErrorHandler_GetRetryDelay(t *testing.T) {
	h := playback.NewBasicErrorHandler(&playback.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
		Multiplier: 2,
	}, nil, "session")

	assert.Equal(t, 100*time.Millisecond, h.GetRetryDelay(0))
	assert.Equal(t, 100*time.Millisecond, h.GetRetryDelay(1))
	assert.Equal(t, 200*time.Millisecond, h.GetRetryDelay(2))
	assert.Equal(t, 400*time.Millisecond, h.GetRetryDelay(3))
	assert.Equal(t, 500*time.Millisecond, h.GetRetryDelay(4), "capped at max delay")
	assert.Equal(t, 3, h.GetMaxRetries())

	assert.True(t, h.ShouldRetryAfterAttempts(2, playback.ErrPipelineStalled))
	assert.False(t, h.ShouldRetryAfterAttempts(3, playback.ErrPipelineStalled))
	assert.False(t, h.ShouldRetryAfterAttempts(0, decoder.ErrSeekUnsupported))
}

func TestBasicErrorHandler_HandleError(t *testing.T) {
	repo := NewMockPlaybackRepository()
	h := playback.NewBasicErrorHandler(&playback.DefaultEngineConfig().Retry, repo, "session-1")

	retry, delay := h.HandleError(openError("clip"), "start")
	assert.True(t, retry)
	assert.Equal(t, 250*time.Millisecond, delay)

	retry, delay = h.HandleError(decoder.ErrSeekUnsupported, "seek")
	assert.False(t, retry)
	assert.Zero(t, delay)

	records := repo.Errors()
	require.Len(t, records, 2)
	assert.Equal(t, "session-1", records[0].SessionID)
	assert.Equal(t, "clip", records[0].SourceID)
	assert.Equal(t, "open", records[0].ErrorType)
	assert.Equal(t, "start; type=open", records[0].Context)
	assert.Equal(t, "seek", records[1].ErrorType)
	assert.Empty(t, records[1].SourceID)
}

func TestBasicErrorHandler_LogErrorSurvivesRepositoryFailure(t *testing.T) {
	repo := NewMockPlaybackRepository()
	repo.saveErrorErr = errors.New("database connection failed")
	h := playback.NewBasicErrorHandler(nil, repo, "session")

	assert.NotPanics(t, func() {
		h.LogError(playback.ErrPipelineStalled, "stall")
		h.LogError(nil, "nothing")
	})
	assert.Empty(t, repo.Errors())
}

func TestCreateMaxRetriesError(t *testing.T) {
	err := playback.CreateMaxRetriesError(playback.ErrPipelineStalled, 3)
	assert.ErrorIs(t, err, playback.ErrPipelineStalled)
	assert.Contains(t, err.Error(), "after 3 attempts")
}
