package playback

import (
	"fmt"
	"sync"

	"github.com/latoulicious/reelcore/pkg/logging"
	"github.com/robfig/cron/v3"
)

// DefaultReportSchedule is used when the reporter config leaves the schedule empty
const DefaultReportSchedule = "@every 30s"

// StatsSource is what the reporter samples
type StatsSource interface {
	SessionID() string
	PollStatus() PipelineStatus
	CacheStats() CacheStats
	Metrics() MetricsCollector
}

// StatsReporter periodically logs a snapshot of engine statistics
type StatsReporter struct {
	source   StatsSource
	logger   logging.Logger
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	reports int
}

// NewStatsReporter creates a reporter for source. The schedule uses cron
// syntax including descriptors such as "@every 30s".
func NewStatsReporter(source StatsSource, schedule string, logger logging.Logger) *StatsReporter {
	if schedule == "" {
		schedule = DefaultReportSchedule
	}
	if logger == nil {
		logger = logging.GetGlobalLoggerFactory().CreateLogger("reporter")
	}
	return &StatsReporter{
		source:   source,
		logger:   logger,
		schedule: schedule,
	}
}

// Start schedules the report. Starting a running reporter is a no-op.
func (r *StatsReporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	c := cron.New()
	entry, err := c.AddFunc(r.schedule, r.Report)
	if err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.entry = entry

	r.logger.Info("Stats reporter started", map[string]interface{}{
		"schedule": r.schedule,
	})
	return nil
}

// Stop removes the schedule and waits for a running report to finish
func (r *StatsReporter) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("Stats reporter stopped", nil)
}

// Report logs one snapshot
func (r *StatsReporter) Report() {
	status := r.source.PollStatus()
	cache := r.source.CacheStats()
	stats := r.source.Metrics().GetStats()

	r.mu.Lock()
	r.reports++
	r.mu.Unlock()

	fields := CreateContextFieldsWithComponent(r.source.SessionID(), status.SourceID, status.PrimaryID, "reporter")
	fields["state"] = status.State.String()
	fields["stall"] = status.Stall.Kind.String()
	fields["timeline_time"] = FormatMediaTime(status.TimelineTime)
	fields["restarts"] = status.Restarts
	fields["cache_hit_ratio"] = cache.HitRatio()
	fields["cache_len"] = cache.Len
	fields["startup_avg"] = FormatDuration(stats.AverageStartupTime)
	fields["stall_count"] = stats.StallCount
	fields["stall_time"] = FormatDuration(stats.TotalStallTime)
	fields["gapless_promotions"] = stats.GaplessPromotions
	fields["cold_starts"] = stats.ColdStarts
	fields["fallback_frames"] = stats.FallbackFrames
	fields["error_count"] = stats.ErrorCount
	fields["playback_time"] = FormatDuration(stats.TotalPlaybackTime)
	r.logger.Info("Playback stats", fields)
}

// Reports returns how many snapshots were logged
func (r *StatsReporter) Reports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports
}
