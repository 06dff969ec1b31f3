package playback_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/database/models"
	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.SetGlobalLoggerFactory(logging.NewLoggerFactoryWithOptions(logging.Options{
		Level:  "error",
		Format: "console",
	}))
	os.Exit(m.Run())
}

// MockPlaybackRepository records everything the engine persists
type MockPlaybackRepository struct {
	mu             sync.Mutex
	savedMetrics   []*models.PlaybackMetric
	savedErrors    []*models.PlaybackError
	savedLogs      []*models.PlaybackLog
	savedStalls    []*models.StallEvent
	saveMetricErr  error
	saveErrorErr   error
	saveLogErr     error
	metricsStats   *playback.MetricsStats
	getStatsErr    error
	errorStats     *playback.ErrorStats
	getErrStatsErr error
}

func NewMockPlaybackRepository() *MockPlaybackRepository {
	return &MockPlaybackRepository{
		getStatsErr:    playback.ErrPersistenceDisabled,
		getErrStatsErr: playback.ErrPersistenceDisabled,
	}
}

func (m *MockPlaybackRepository) SaveError(playbackError *models.PlaybackError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErrorErr != nil {
		return m.saveErrorErr
	}
	m.savedErrors = append(m.savedErrors, playbackError)
	return nil
}

func (m *MockPlaybackRepository) SaveMetric(metric *models.PlaybackMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveMetricErr != nil {
		return m.saveMetricErr
	}
	m.savedMetrics = append(m.savedMetrics, metric)
	return nil
}

func (m *MockPlaybackRepository) SaveLog(log *models.PlaybackLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveLogErr != nil {
		return m.saveLogErr
	}
	m.savedLogs = append(m.savedLogs, log)
	return nil
}

func (m *MockPlaybackRepository) SaveStallEvent(event *models.StallEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedStalls = append(m.savedStalls, event)
	return nil
}

func (m *MockPlaybackRepository) GetErrorStats(sessionID string) (*playback.ErrorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErrStatsErr != nil {
		return nil, m.getErrStatsErr
	}
	return m.errorStats, nil
}

func (m *MockPlaybackRepository) GetMetricsStats(sessionID string) (*playback.MetricsStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getStatsErr != nil {
		return nil, m.getStatsErr
	}
	return m.metricsStats, nil
}

func (m *MockPlaybackRepository) Metrics(metricType string) []*models.PlaybackMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PlaybackMetric
	for _, metric := range m.savedMetrics {
		if metric.MetricType == metricType {
			out = append(out, metric)
		}
	}
	return out
}

func (m *MockPlaybackRepository) Errors() []*models.PlaybackError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.PlaybackError(nil), m.savedErrors...)
}

func (m *MockPlaybackRepository) Stalls() []*models.StallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.StallEvent(nil), m.savedStalls...)
}

// testConfig returns the defaults with quiet logging; mutate adjusts it
// before validation
func testConfig(t *testing.T, mutate func(*playback.EngineConfig)) playback.ConfigProvider {
	t.Helper()
	cfg := playback.DefaultEngineConfig()
	cfg.Logger.Level = "error"
	cfg.Logger.Format = "console"
	if mutate != nil {
		mutate(cfg)
	}
	provider, err := playback.NewStaticConfig(cfg)
	require.NoError(t, err)
	return provider
}

// newTestSupervisor builds a supervisor over dec and closes it with the test
func newTestSupervisor(t *testing.T, dec decoder.Decoder, seq playback.SourceSequence, repo playback.PlaybackRepository, mutate func(*playback.EngineConfig)) *playback.Supervisor {
	t.Helper()
	s, err := playback.NewSupervisor(playback.SupervisorOptions{
		SessionID:  "test-session",
		Decoder:    dec,
		Config:     testConfig(t, mutate),
		Sequence:   seq,
		Repository: repo,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// pollUntil runs PollFrame every interval until check returns true or the
// timeout passes. Every frame seen is passed to onFrame.
func pollUntil(s *playback.Supervisor, interval, timeout time.Duration, onFrame func(*playback.DisplayFrame), check func(playback.PipelineStatus) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f, ok := s.PollFrame(); ok && onFrame != nil {
			onFrame(f)
		}
		if check(s.PollStatus()) {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// frameIndex reads the synthetic frame index drawn into a display frame
func frameIndex(f *playback.DisplayFrame) int {
	return decoder.FrameIndex(&decoder.Frame{Width: f.Width, Height: f.Height, Pixels: f.Pixels})
}

// recordingLogger keeps every message logged through it
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func (l *recordingLogger) record(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{Level: level, Message: msg, Fields: fields})
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{}) {
	l.record("info", msg, fields)
}

func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.record("warn", msg, fields)
}

func (l *recordingLogger) Debug(msg string, fields map[string]interface{}) {
	l.record("debug", msg, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields map[string]interface{}) {
	l.record("error", msg, fields)
}

func (l *recordingLogger) WithPipeline(string) logging.Logger {
	return l
}

func (l *recordingLogger) WithContext(map[string]interface{}) logging.Logger {
	return l
}

func (l *recordingLogger) Entries() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}
