package playback

import (
	"math"

	"github.com/latoulicious/reelcore/pkg/decoder"
)

type rewindEntry struct {
	sourceID string
	time     float64
	frame    *decoder.Frame
	size     int64
}

// RewindCache keeps the most recently shown forward frames so a direction
// change can show the frame under the playhead before the reverse pipeline
// lands. It is bounded by frame count and by pixel bytes, oldest out first.
// Like the FrameCache it is only touched by the consumer goroutine.
type RewindCache struct {
	maxFrames int
	maxBytes  int64
	entries   []rewindEntry
	bytes     int64
}

// NewRewindCache creates a cache holding at most maxFrames frames and
// maxBytes pixel bytes
func NewRewindCache(maxFrames int, maxBytes int64) *RewindCache {
	if maxFrames <= 0 {
		maxFrames = 90
	}
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &RewindCache{maxFrames: maxFrames, maxBytes: maxBytes}
}

// Push records frame shown at source time t. A frame larger than the byte
// bound is not kept.
func (c *RewindCache) Push(sourceID string, t float64, frame *decoder.Frame) {
	if frame == nil {
		return
	}
	size := int64(len(frame.Pixels))
	if size > c.maxBytes {
		return
	}
	if n := len(c.entries); n > 0 {
		last := c.entries[n-1]
		if last.sourceID == sourceID && last.time == t {
			return
		}
	}

	c.entries = append(c.entries, rewindEntry{sourceID: sourceID, time: t, frame: frame, size: size})
	c.bytes += size
	for len(c.entries) > c.maxFrames || c.bytes > c.maxBytes {
		c.bytes -= c.entries[0].size
		c.entries[0] = rewindEntry{}
		c.entries = c.entries[1:]
	}
}

// Nearest returns the frame of sourceID closest to t, if one lies within
// tolerance seconds
func (c *RewindCache) Nearest(sourceID string, t, tolerance float64) (*decoder.Frame, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.sourceID != sourceID {
			continue
		}
		if d := math.Abs(e.time - t); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || bestDist > tolerance {
		return nil, 0, false
	}
	return c.entries[best].frame, c.entries[best].time, true
}

// Clear drops every frame
func (c *RewindCache) Clear() {
	c.entries = nil
	c.bytes = 0
}

// Len returns the number of frames held
func (c *RewindCache) Len() int {
	return len(c.entries)
}

// Bytes returns the pixel bytes held
func (c *RewindCache) Bytes() int64 {
	return c.bytes
}
