package playback

import "github.com/latoulicious/reelcore/pkg/logging"

// PTSCalibrator maps decoder timestamps to source time. The offset is taken
// from the first frame and kept for the rest of the generation.
type PTSCalibrator struct {
	expected   float64
	offset     float64
	calibrated bool
	logger     logging.Logger
}

// NewPTSCalibrator creates a calibrator for a pipeline that was asked to
// start at expected (seconds from source start)
func NewPTSCalibrator(expected float64) *PTSCalibrator {
	return NewPTSCalibratorWithLogger(expected, nil)
}

// NewPTSCalibratorWithLogger is NewPTSCalibrator logging every calibration
// to logger
func NewPTSCalibratorWithLogger(expected float64, logger logging.Logger) *PTSCalibrator {
	if logger == nil {
		logger = logging.GetGlobalLoggerFactory().CreateLogger("engine").WithPipeline("calibrator")
	}
	return &PTSCalibrator{expected: expected, logger: logger}
}

// Observe calibrates on the first call and maps pts to source time
func (c *PTSCalibrator) Observe(pts float64) float64 {
	if !c.calibrated {
		c.offset = pts - c.expected
		c.calibrated = true
		c.logger.Debug("Timestamps calibrated", map[string]interface{}{
			"expected":  c.expected,
			"first_pts": pts,
			"offset":    c.offset,
		})
	}
	return pts - c.offset
}

// Map converts pts using the current offset without calibrating
func (c *PTSCalibrator) Map(pts float64) float64 {
	return pts - c.offset
}

// Offset returns the calibrated offset
func (c *PTSCalibrator) Offset() (float64, bool) {
	return c.offset, c.calibrated
}

// Calibrated reports whether the first frame has been observed
func (c *PTSCalibrator) Calibrated() bool {
	return c.calibrated
}

// Expected returns the source time the calibrator was created for
func (c *PTSCalibrator) Expected() float64 {
	return c.expected
}

// Reset clears the offset for a new generation starting at expected
func (c *PTSCalibrator) Reset(expected float64) {
	c.expected = expected
	c.offset = 0
	c.calibrated = false
}
