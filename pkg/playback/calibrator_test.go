package playback_test

import (
	"testing"

	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
)

func TestPTSCalibrator_OffsetFromFirstFrame(t *testing.T) {
	cal := playback.NewPTSCalibrator(5.0)
	assert.False(t, cal.Calibrated())

	// container starts at 1.4s
	assert.InDelta(t, 5.0, cal.Observe(6.4), 1e-9)
	assert.True(t, cal.Calibrated())

	offset, ok := cal.Offset()
	assert.True(t, ok)
	assert.InDelta(t, 1.4, offset, 1e-9)

	// later frames keep the first offset
	assert.InDelta(t, 5.5, cal.Observe(6.9), 1e-9)
	assert.InDelta(t, 7.0, cal.Map(8.4), 1e-9)
}

func TestPTSCalibrator_Reset(t *testing.T) {
	cal := playback.NewPTSCalibrator(0)
	cal.Observe(0.2)

	cal.Reset(3.0)
	assert.False(t, cal.Calibrated())
	assert.Equal(t, 3.0, cal.Expected())

	assert.InDelta(t, 3.0, cal.Observe(3.0), 1e-9)
	offset, _ := cal.Offset()
	assert.InDelta(t, 0.0, offset, 1e-9)
}

func TestPTSCalibrator_LogsOnceAGeneration(t *testing.T) {
	logger := &recordingLogger{}
	cal := playback.NewPTSCalibratorWithLogger(2.0, logger)

	cal.Observe(3.5)
	cal.Observe(3.6)
	cal.Reset(0)
	cal.Observe(0.1)

	entries := logger.Entries()
	assert.Len(t, entries, 2)
	assert.InDelta(t, 1.5, entries[0].Fields["offset"].(float64), 1e-9)
	assert.InDelta(t, 0.1, entries[1].Fields["offset"].(float64), 1e-9)
}
