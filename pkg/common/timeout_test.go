package common_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stopCounter struct {
	stops atomic.Int32
}

func (s *stopCounter) Stop() { s.stops.Add(1) }

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTimeoutManager_StopsIdleSessions(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	tm := common.NewTimeoutManager(time.Minute, time.Second)
	tm.SetNowFunc(clock.Now)

	idle, busy := &stopCounter{}, &stopCounter{}
	tm.Track("idle", idle)
	tm.Track("busy", busy)
	assert.ElementsMatch(t, []string{"idle", "busy"}, tm.GetActiveSessions())

	clock.Advance(50 * time.Second)
	tm.UpdateActivity("busy")
	clock.Advance(20 * time.Second)

	stopped := tm.CheckForIdleTimeouts()
	assert.Equal(t, []string{"idle"}, stopped)
	assert.Equal(t, int32(1), idle.stops.Load())
	assert.Equal(t, int32(0), busy.stops.Load())
	assert.Equal(t, []string{"busy"}, tm.GetActiveSessions())

	last, ok := tm.GetLastActivity("busy")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-20*time.Second), last)
	_, ok = tm.GetLastActivity("idle")
	assert.False(t, ok)
}

func TestTimeoutManager_UpdateActivityIgnoresUnknownSessions(t *testing.T) {
	tm := common.NewTimeoutManager(0, 0)
	tm.UpdateActivity("unknown")
	assert.Empty(t, tm.GetActiveSessions())
}

func TestTimeoutManager_RemoveSession(t *testing.T) {
	tm := common.NewTimeoutManager(time.Minute, time.Second)
	target := &stopCounter{}
	tm.Track("s", target)
	tm.RemoveSession("s")

	assert.Empty(t, tm.GetActiveSessions())
	assert.Empty(t, tm.CheckForIdleTimeouts())
	assert.Equal(t, int32(0), target.stops.Load())
}

func TestTimeoutManager_StartMonitoring(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	tm := common.NewTimeoutManager(time.Minute, 10*time.Millisecond)
	tm.SetNowFunc(clock.Now)
	target := &stopCounter{}
	tm.Track("s", target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tm.StartMonitoring(ctx)

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return target.stops.Load() == 1 }, time.Second, 5*time.Millisecond)
}
