package playback_test

import (
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatsSource struct {
	metrics *playback.BasicMetrics
}

func (f *fakeStatsSource) SessionID() string { return "reporter-session" }

func (f *fakeStatsSource) PollStatus() playback.PipelineStatus {
	return playback.PipelineStatus{State: playback.EnginePlaying, SourceID: "clip", TimelineTime: 12.5}
}

func (f *fakeStatsSource) CacheStats() playback.CacheStats {
	return playback.CacheStats{Len: 3, Capacity: 64, Hits: 3, Misses: 1}
}

func (f *fakeStatsSource) Metrics() playback.MetricsCollector { return f.metrics }

func TestStatsReporter_Report(t *testing.T) {
	src := &fakeStatsSource{metrics: playback.NewBasicMetrics(nil, "reporter-session")}
	r := playback.NewStatsReporter(src, "", nil)

	r.Report()
	r.Report()
	assert.Equal(t, 2, r.Reports())
}

func TestStatsReporter_Schedule(t *testing.T) {
	src := &fakeStatsSource{metrics: playback.NewBasicMetrics(nil, "reporter-session")}
	r := playback.NewStatsReporter(src, "@every 1s", nil)

	require.NoError(t, r.Start())
	require.NoError(t, r.Start(), "starting twice is a no-op")
	defer r.Stop()

	assert.Eventually(t, func() bool { return r.Reports() >= 1 }, 3*time.Second, 50*time.Millisecond)

	r.Stop()
	n := r.Reports()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, r.Reports(), "no reports after Stop")
}

func TestStatsReporter_InvalidSchedule(t *testing.T) {
	src := &fakeStatsSource{metrics: playback.NewBasicMetrics(nil, "reporter-session")}
	r := playback.NewStatsReporter(src, "every now and then", nil)

	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid report schedule")
}

func TestStatsReporter_WithSupervisor(t *testing.T) {
	s := newTestSupervisor(t, decoder.NewSyntheticDecoder(decoder.DefaultSyntheticSource()), nil, nil, nil)
	r := playback.NewStatsReporter(s, "@every 1m", nil)
	r.Report()
	assert.Equal(t, 1, r.Reports())
}
