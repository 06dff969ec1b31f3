package playback

import (
	"time"

	"github.com/latoulicious/reelcore/pkg/logging"
)

// StallKind is the stall ladder position of the primary pipeline
type StallKind int

const (
	StallFresh StallKind = iota
	StallStalled
	StallRecovering
	StallRestarting
)

func (k StallKind) String() string {
	switch k {
	case StallFresh:
		return "fresh"
	case StallStalled:
		return "stalled"
	case StallRecovering:
		return "recovering"
	case StallRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name
func (k StallKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// StallState is the current ladder state; Since is set for every kind but Fresh
type StallState struct {
	Kind  StallKind `json:"kind"`
	Since time.Time `json:"since,omitempty"`
}

// StallAction is a set of actions the supervisor must take after an
// evaluation
type StallAction uint8

const (
	ActionPauseClock StallAction = 1 << iota
	ActionResumeClock
	ActionIssueFallback
	ActionSuppressFallback
	ActionRestart
)

// Has reports whether a includes action
func (a StallAction) Has(action StallAction) bool {
	return a&action != 0
}

// StallEpisode summarizes a stall once frames flow again
type StallEpisode struct {
	Started  time.Time
	Duration time.Duration
	Peak     StallKind
}

// StallMonitor is the graduated stall state machine. It is driven from the
// consumer goroutine only.
type StallMonitor struct {
	cfg    StallConfig
	logger logging.Logger

	state     StallState
	startedAt time.Time
	lastFrame time.Time
	delivered bool

	paused         bool
	fallbackIssued bool
	suppressed     bool
	peak           StallKind
	episodeStart   time.Time
}

// NewStallMonitor creates a monitor with the given thresholds
func NewStallMonitor(cfg StallConfig) *StallMonitor {
	return NewStallMonitorWithLogger(cfg, nil)
}

// NewStallMonitorWithLogger creates a monitor that logs its ladder transitions
// to logger
func NewStallMonitorWithLogger(cfg StallConfig, logger logging.Logger) *StallMonitor {
	if logger == nil {
		logger = logging.GetGlobalLoggerFactory().CreateLogger("engine").WithPipeline("stall")
	}
	return &StallMonitor{cfg: cfg, logger: logger}
}

// Reset starts tracking a new pipeline started at now
func (m *StallMonitor) Reset(now time.Time) {
	m.state = StallState{Kind: StallFresh}
	m.startedAt = now
	m.lastFrame = time.Time{}
	m.delivered = false
	m.clearEpisode()
}

// BeginRestart records that the pipeline was restarted at now. The state
// stays Restarting until the new pipeline delivers a frame.
func (m *StallMonitor) BeginRestart(now time.Time) {
	if m.state.Kind != StallRestarting {
		m.transition(StallRestarting, now, now.Sub(m.startedAt))
	}
	if m.episodeStart.IsZero() {
		m.episodeStart = now
	}
	m.peak = StallRestarting
	m.startedAt = now
	m.paused = true
	m.fallbackIssued = false
}

// FrameDelivered records a frame from the primary pipeline. When it ends a
// stall the episode is returned.
func (m *StallMonitor) FrameDelivered(now time.Time) (StallAction, *StallEpisode) {
	m.lastFrame = now
	m.delivered = true
	if m.state.Kind == StallFresh && !m.paused {
		return 0, nil
	}

	var action StallAction
	if m.paused {
		action |= ActionResumeClock
	}
	var episode *StallEpisode
	if !m.episodeStart.IsZero() {
		episode = &StallEpisode{
			Started:  m.episodeStart,
			Duration: now.Sub(m.episodeStart),
			Peak:     m.peak,
		}
		m.logger.Info("Frames flowing again", map[string]interface{}{
			"from":     m.state.Kind.String(),
			"peak":     m.peak.String(),
			"duration": episode.Duration.String(),
		})
	}
	m.state = StallState{Kind: StallFresh}
	m.clearEpisode()
	return action, episode
}

// Evaluate advances the ladder to now and returns the actions that became due
func (m *StallMonitor) Evaluate(now time.Time) StallAction {
	if m.state.Kind == StallRestarting {
		if now.Sub(m.startedAt) >= m.cfg.RestartAfter {
			m.startedAt = now
			return ActionRestart
		}
		return 0
	}

	ref := m.lastFrame
	if !m.delivered {
		if now.Sub(m.startedAt) < m.cfg.StartupGrace {
			return 0
		}
		ref = m.startedAt
	}
	elapsed := now.Sub(ref)

	var action StallAction
	if elapsed >= m.cfg.PauseAfter && m.state.Kind == StallFresh {
		m.transition(StallStalled, ref, elapsed)
		m.episodeStart = ref
		m.raisePeak(StallStalled)
		if !m.paused {
			m.paused = true
			action |= ActionPauseClock
		}
	}
	if elapsed >= m.cfg.FallbackAfter && !m.fallbackIssued {
		m.fallbackIssued = true
		m.transition(StallRecovering, now, elapsed)
		m.raisePeak(StallRecovering)
		action |= ActionIssueFallback
	}
	if elapsed >= m.cfg.SuppressAfter && !m.suppressed && m.delivered {
		m.suppressed = true
		action |= ActionSuppressFallback
	}
	if elapsed >= m.cfg.RestartAfter {
		m.transition(StallRestarting, now, elapsed)
		m.raisePeak(StallRestarting)
		action |= ActionRestart
	}
	return action
}

// State returns the current ladder state
func (m *StallMonitor) State() StallState {
	return m.state
}

// FallbackSuppressed reports whether fallback frames must not replace the
// frame on screen
func (m *StallMonitor) FallbackSuppressed() bool {
	return m.suppressed
}

// SinceLastFrame returns the time since the last delivered frame, or since
// the pipeline start before the first one
func (m *StallMonitor) SinceLastFrame(now time.Time) time.Duration {
	if !m.delivered {
		return now.Sub(m.startedAt)
	}
	return now.Sub(m.lastFrame)
}

func (m *StallMonitor) transition(kind StallKind, since time.Time, elapsed time.Duration) {
	from := m.state.Kind
	m.state = StallState{Kind: kind, Since: since}
	fields := map[string]interface{}{
		"from":    from.String(),
		"to":      kind.String(),
		"elapsed": elapsed.String(),
	}
	if kind == StallRestarting {
		m.logger.Warn("Stall ladder escalated", fields)
		return
	}
	m.logger.Debug("Stall ladder escalated", fields)
}

func (m *StallMonitor) raisePeak(kind StallKind) {
	if kind > m.peak {
		m.peak = kind
	}
}

func (m *StallMonitor) clearEpisode() {
	m.paused = false
	m.fallbackIssued = false
	m.suppressed = false
	m.peak = StallFresh
	m.episodeStart = time.Time{}
}
