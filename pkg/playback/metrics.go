package playback

import (
	"sync"
	"time"
)

// BasicMetrics implements the MetricsCollector interface with in-memory
// counters and repository persistence
type BasicMetrics struct {
	repository PlaybackRepository
	sessionID  string

	startupTimes   []time.Duration
	stallTimes     []time.Duration
	errorCounts    map[string]int
	playbackTimes  []time.Duration
	restarts       int
	failedRestarts int
	gapless        int
	coldStarts     int
	fallbackFrames int
	mu             sync.RWMutex
}

// NewBasicMetrics creates a new BasicMetrics instance
func NewBasicMetrics(repository PlaybackRepository, sessionID string) *BasicMetrics {
	if repository == nil {
		repository = NopRepository{}
	}
	return &BasicMetrics{
		repository:  repository,
		sessionID:   sessionID,
		errorCounts: make(map[string]int),
	}
}

// RecordStartupTime records the latency from start to the first frame
func (m *BasicMetrics) RecordStartupTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startupTimes = append(m.startupTimes, duration)
	m.save("startup_time", duration.Seconds())
}

// RecordStall records one finished stall episode
func (m *BasicMetrics) RecordStall(duration time.Duration, peak StallKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stallTimes = append(m.stallTimes, duration)
	m.save("stall_duration", duration.Seconds())
	if peak == StallRestarting {
		m.save("stall_restart", 1)
	}
}

// RecordRestart counts a pipeline restart attempt
func (m *BasicMetrics) RecordRestart(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	value := 1.0
	if !success {
		m.failedRestarts++
		value = 0
	}
	m.save("restart", value)
}

// RecordPromotion counts a source boundary crossing
func (m *BasicMetrics) RecordPromotion(gapless bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gapless {
		m.gapless++
		m.save("promotion", 1)
		return
	}
	m.coldStarts++
	m.save("promotion", 0)
}

// RecordFallbackFrame counts a frame shown from the auxiliary decoder
func (m *BasicMetrics) RecordFallbackFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackFrames++
	m.save("fallback_frame", 1)
}

// RecordError counts errors by category
func (m *BasicMetrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCounts[errorType]++
	m.save("error_count", 1)
}

// RecordPlaybackDuration records how long a source played
func (m *BasicMetrics) RecordPlaybackDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playbackTimes = append(m.playbackTimes, duration)
	m.save("playback_duration", duration.Seconds())
}

// save persists a metric; storage failures never reach the playback path
func (m *BasicMetrics) save(metricType string, value float64) {
	_ = m.repository.SaveMetric(CreatePlaybackMetric(m.sessionID, "", metricType, value))
}

// GetStats returns aggregated statistics, preferring the repository when it
// can answer
func (m *BasicMetrics) GetStats() MetricsStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MetricsStats{
		ErrorCount:        m.totalErrors(),
		StallCount:        len(m.stallTimes),
		TotalStallTime:    sum(m.stallTimes),
		TotalPlaybackTime: sum(m.playbackTimes),
		Restarts:          m.restarts,
		FailedRestarts:    m.failedRestarts,
		GaplessPromotions: m.gapless,
		ColdStarts:        m.coldStarts,
		FallbackFrames:    m.fallbackFrames,
	}
	if len(m.startupTimes) > 0 {
		stats.AverageStartupTime = sum(m.startupTimes) / time.Duration(len(m.startupTimes))
	}

	if dbStats, err := m.repository.GetMetricsStats(m.sessionID); err == nil && dbStats != nil {
		stats.TotalPlaybackTime = dbStats.TotalPlaybackTime
		stats.AverageStartupTime = dbStats.AverageStartupTime
		stats.ErrorCount = dbStats.ErrorCount
		stats.StallCount = dbStats.StallCount
		stats.TotalStallTime = dbStats.TotalStallTime
	}
	return stats
}

// GetErrorBreakdown returns error counts by type
func (m *BasicMetrics) GetErrorBreakdown() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breakdown := make(map[string]int, len(m.errorCounts))
	for errorType, count := range m.errorCounts {
		breakdown[errorType] = count
	}
	return breakdown
}

// IsHealthy reports whether restarts are not failing
func (m *BasicMetrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.restarts == 0 {
		return true
	}
	return float64(m.failedRestarts)/float64(m.restarts) < 0.5
}

// Reset clears all in-memory metrics
func (m *BasicMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startupTimes = nil
	m.stallTimes = nil
	m.playbackTimes = nil
	m.errorCounts = make(map[string]int)
	m.restarts, m.failedRestarts = 0, 0
	m.gapless, m.coldStarts = 0, 0
	m.fallbackFrames = 0
}

func (m *BasicMetrics) totalErrors() int {
	total := 0
	for _, count := range m.errorCounts {
		total += count
	}
	return total
}

func sum(durations []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total
}
