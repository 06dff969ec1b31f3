package playback

import (
	"context"
	"sync"
	"time"
)

const (
	// dueTolerance is the lateness under which a frame is handed on at once
	dueTolerance = time.Millisecond
	// idlePoll is how long a stage waits before re-checking a stopped clock
	idlePoll = 5 * time.Millisecond
	// maxPaceSleep bounds one pacing sleep so speed changes are picked up
	maxPaceSleep = 20 * time.Millisecond
)

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}

// StreamClock maps presentation timestamps to wall time at a playback speed.
// It is shared between the stages of one pipeline and the supervisor.
type StreamClock struct {
	mu        sync.Mutex
	clock     Clock
	started   bool
	paused    bool
	wallStart time.Time
	ptsStart  float64
	pausedAt  time.Time
	speed     float64
}

// NewStreamClock creates a stopped clock running at speed once started
func NewStreamClock(clock Clock, speed float64) *StreamClock {
	if clock == nil {
		clock = SystemClock{}
	}
	if speed <= 0 {
		speed = 1
	}
	return &StreamClock{clock: clock, speed: speed}
}

// Start anchors pts to wall. Calling Start again re-anchors the clock and
// clears a pause.
func (c *StreamClock) Start(wall time.Time, pts float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.paused = false
	c.wallStart = wall
	c.ptsStart = pts
}

// StartNow anchors pts to the current time
func (c *StreamClock) StartNow(pts float64) {
	c.Start(c.clock.Now(), pts)
}

// Now reads the clock's time source
func (c *StreamClock) Now() time.Time {
	return c.clock.Now()
}

// Started reports whether the clock has been anchored
func (c *StreamClock) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Paused reports whether the clock is frozen
func (c *StreamClock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Speed returns the current playback speed
func (c *StreamClock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// ExpectedWallTime returns wall_start + (pts - pts_start) / speed
func (c *StreamClock) ExpectedWallTime(pts float64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expectedLocked(pts)
}

func (c *StreamClock) expectedLocked(pts float64) time.Time {
	offset := (pts - c.ptsStart) / c.speed
	return c.wallStart.Add(time.Duration(offset * float64(time.Second)))
}

// TimeUntilDue is the pacing decision for a frame at pts. It returns zero when
// the frame is due (or less than a millisecond early) and the remaining wait
// otherwise. A stopped clock never makes a frame due; a paused clock only
// releases frames at or before the position it froze at.
func (c *StreamClock) TimeUntilDue(pts float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return idlePoll
	}
	if c.paused {
		if pts <= c.positionLocked(c.pausedAt) {
			return 0
		}
		return idlePoll
	}
	wait := c.expectedLocked(pts).Sub(c.clock.Now())
	if wait <= dueTolerance {
		return 0
	}
	return wait
}

// Position returns the presentation time the clock has reached at now
func (c *StreamClock) Position(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked(now)
}

func (c *StreamClock) positionLocked(now time.Time) float64 {
	if !c.started {
		return c.ptsStart
	}
	if c.paused {
		now = c.pausedAt
	}
	return c.ptsStart + now.Sub(c.wallStart).Seconds()*c.speed
}

// SetSpeed changes the speed, rebasing the anchor to the current position so
// the mapping stays continuous.
func (c *StreamClock) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		now := c.clock.Now()
		pos := c.positionLocked(now)
		c.ptsStart = pos
		c.wallStart = now
		if c.paused {
			c.pausedAt = now
		}
	}
	c.speed = speed
}

// Pause freezes the clock at now
func (c *StreamClock) Pause(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.paused {
		return
	}
	c.paused = true
	c.pausedAt = now
}

// Resume continues from the paused position
func (c *StreamClock) Resume(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.wallStart = c.wallStart.Add(now.Sub(c.pausedAt))
	c.paused = false
}

// sleepFor blocks for d, or until ctx is done or wake fires
func sleepFor(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d > maxPaceSleep {
		d = maxPaceSleep
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// kick wakes a pacing sleep without blocking
func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
