package common

import (
	"context"
	"sync"
	"time"

	"github.com/latoulicious/reelcore/pkg/logging"
)

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultCheckInterval = 30 * time.Second
)

// Stoppable is anything the monitor can stop once idle
type Stoppable interface {
	Stop()
}

// TimeoutManager stops sessions that saw no activity for the idle timeout
type TimeoutManager struct {
	lastActivityTime map[string]time.Time
	targets          map[string]Stoppable
	mu               sync.RWMutex
	logger           logging.Logger
	timeout          time.Duration
	interval         time.Duration
	now              func() time.Time
}

// NewTimeoutManager creates a TimeoutManager. Zero durations select the defaults.
func NewTimeoutManager(timeout, interval time.Duration) *TimeoutManager {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	loggerFactory := logging.GetGlobalLoggerFactory()
	logger := loggerFactory.CreateLogger("timeout")

	return &TimeoutManager{
		lastActivityTime: make(map[string]time.Time),
		targets:          make(map[string]Stoppable),
		logger:           logger,
		timeout:          timeout,
		interval:         interval,
		now:              time.Now,
	}
}

// SetNowFunc replaces the time source
func (tm *TimeoutManager) SetNowFunc(now func() time.Time) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.now = now
}

// Track registers target under sessionID and marks it active
func (tm *TimeoutManager) Track(sessionID string, target Stoppable) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.targets[sessionID] = target
	tm.lastActivityTime[sessionID] = tm.now()
}

// UpdateActivity updates the last activity time for a session
func (tm *TimeoutManager) UpdateActivity(sessionID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, ok := tm.targets[sessionID]; !ok {
		return
	}
	tm.lastActivityTime[sessionID] = tm.now()
}

// RemoveSession removes a session from timeout tracking
func (tm *TimeoutManager) RemoveSession(sessionID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	delete(tm.lastActivityTime, sessionID)
	delete(tm.targets, sessionID)

	tm.logger.Debug("Removed session from timeout tracking", map[string]interface{}{
		"session_id": sessionID,
	})
}

// StartMonitoring checks for idle sessions until ctx is done
func (tm *TimeoutManager) StartMonitoring(ctx context.Context) {
	tm.logger.Info("Starting idle timeout monitoring", map[string]interface{}{
		"check_interval":   tm.interval.String(),
		"timeout_duration": tm.timeout.String(),
	})

	go func() {
		ticker := time.NewTicker(tm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tm.CheckForIdleTimeouts()
			}
		}
	}()
}

// CheckForIdleTimeouts stops every session idle for longer than the timeout
// and returns their ids
func (tm *TimeoutManager) CheckForIdleTimeouts() []string {
	tm.mu.RLock()
	now := tm.now()
	var idle []string
	for sessionID, lastActivity := range tm.lastActivityTime {
		if now.Sub(lastActivity) > tm.timeout {
			idle = append(idle, sessionID)
		}
	}
	tm.mu.RUnlock()

	// Stop outside of the lock
	for _, sessionID := range idle {
		tm.handleIdleTimeout(sessionID)
	}
	return idle
}

func (tm *TimeoutManager) handleIdleTimeout(sessionID string) {
	tm.mu.RLock()
	target := tm.targets[sessionID]
	lastActivity := tm.lastActivityTime[sessionID]
	tm.mu.RUnlock()

	if target != nil {
		tm.logger.Info("Stopping idle session", map[string]interface{}{
			"session_id":    sessionID,
			"last_activity": lastActivity,
		})
		target.Stop()
	}
	tm.RemoveSession(sessionID)
}

// GetActiveSessions returns the sessions currently being tracked
func (tm *TimeoutManager) GetActiveSessions() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	sessions := make([]string, 0, len(tm.lastActivityTime))
	for sessionID := range tm.lastActivityTime {
		sessions = append(sessions, sessionID)
	}
	return sessions
}

// GetLastActivity returns the last activity time for a session
func (tm *TimeoutManager) GetLastActivity(sessionID string) (time.Time, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	lastActivity, exists := tm.lastActivityTime[sessionID]
	return lastActivity, exists
}
