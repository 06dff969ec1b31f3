package playback

import (
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/latoulicious/reelcore/pkg/decoder"
)

const (
	// DefaultFrameCacheCapacity is the engine-wide frame cache size
	DefaultFrameCacheCapacity = 64
	// cacheBucketRate is the key resolution of the frame cache in Hz
	cacheBucketRate = 60.0
)

// CacheKey identifies a cached frame by source and 1/60s bucket
type CacheKey struct {
	SourceID string
	Bucket   int64
}

// NewCacheKey buckets t (seconds from source start) at 60Hz
func NewCacheKey(sourceID string, t float64) CacheKey {
	return CacheKey{SourceID: sourceID, Bucket: int64(math.Round(t * cacheBucketRate))}
}

// CacheStats is a snapshot of cache counters
type CacheStats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// HitRatio returns hits / (hits + misses)
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// FrameCache is a bounded LRU of decoded frames
type FrameCache struct {
	frames    *lru.Cache[CacheKey, *decoder.Frame]
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewFrameCache creates a cache holding at most capacity frames
func NewFrameCache(capacity int) (*FrameCache, error) {
	if capacity <= 0 {
		capacity = DefaultFrameCacheCapacity
	}
	frames, err := lru.New[CacheKey, *decoder.Frame](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}
	return &FrameCache{frames: frames, capacity: capacity}, nil
}

// Get returns the frame for key and refreshes its recency
func (c *FrameCache) Get(key CacheKey) (*decoder.Frame, bool) {
	frame, ok := c.frames.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return frame, ok
}

// Contains reports whether key is cached without touching recency or stats
func (c *FrameCache) Contains(key CacheKey) bool {
	return c.frames.Contains(key)
}

// Put inserts frame, evicting the least recently used entry when full
func (c *FrameCache) Put(key CacheKey, frame *decoder.Frame) {
	if frame == nil {
		return
	}
	if c.frames.Add(key, frame) {
		c.evictions.Add(1)
	}
}

// GetAt looks up the frame of sourceID at t
func (c *FrameCache) GetAt(sourceID string, t float64) (*decoder.Frame, bool) {
	return c.Get(NewCacheKey(sourceID, t))
}

// PutAt caches frame as the frame of sourceID at t
func (c *FrameCache) PutAt(sourceID string, t float64, frame *decoder.Frame) {
	c.Put(NewCacheKey(sourceID, t), frame)
}

// Len returns the number of cached frames
func (c *FrameCache) Len() int {
	return c.frames.Len()
}

// Purge drops every entry
func (c *FrameCache) Purge() {
	c.frames.Purge()
}

// Stats returns the cache counters
func (c *FrameCache) Stats() CacheStats {
	return CacheStats{
		Len:       c.frames.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
