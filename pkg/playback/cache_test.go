package playback_test

import (
	"fmt"
	"testing"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(pts float64, size int) *decoder.Frame {
	return &decoder.Frame{PTS: pts, Width: 1, Height: 1, Pixels: make([]byte, size)}
}

func TestNewCacheKey_BucketsAt60Hz(t *testing.T) {
	assert.Equal(t, playback.NewCacheKey("a", 1.0), playback.NewCacheKey("a", 1.005))
	assert.NotEqual(t, playback.NewCacheKey("a", 1.0), playback.NewCacheKey("a", 1.0+1.0/60))
	assert.NotEqual(t, playback.NewCacheKey("a", 1.0), playback.NewCacheKey("b", 1.0))
}

func TestFrameCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := playback.NewFrameCache(64)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		cache.Put(playback.CacheKey{SourceID: "clip", Bucket: int64(i)}, testFrame(float64(i), 4))
	}
	assert.Equal(t, 64, cache.Len())

	// touching key 0 makes key 1 the oldest
	_, ok := cache.Get(playback.CacheKey{SourceID: "clip", Bucket: 0})
	require.True(t, ok)

	cache.Put(playback.CacheKey{SourceID: "clip", Bucket: 64}, testFrame(64, 4))
	assert.Equal(t, 64, cache.Len())
	assert.True(t, cache.Contains(playback.CacheKey{SourceID: "clip", Bucket: 0}))
	assert.False(t, cache.Contains(playback.CacheKey{SourceID: "clip", Bucket: 1}))
	assert.True(t, cache.Contains(playback.CacheKey{SourceID: "clip", Bucket: 64}))

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 64, stats.Capacity)
}

func TestFrameCache_StatsAndHitRatio(t *testing.T) {
	cache, err := playback.NewFrameCache(4)
	require.NoError(t, err)

	cache.PutAt("clip", 0.5, testFrame(0.5, 4))
	_, ok := cache.GetAt("clip", 0.5)
	assert.True(t, ok)
	_, ok = cache.GetAt("clip", 2.0)
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRatio(), 1e-9)
	assert.Equal(t, 0.0, playback.CacheStats{}.HitRatio())
}

func TestFrameCache_NilFrameIgnored(t *testing.T) {
	cache, err := playback.NewFrameCache(0)
	require.NoError(t, err)

	cache.PutAt("clip", 1, nil)
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, playback.DefaultFrameCacheCapacity, cache.Stats().Capacity)
}

func TestFrameCache_Purge(t *testing.T) {
	cache, err := playback.NewFrameCache(8)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		cache.PutAt(fmt.Sprintf("clip-%d", i), 0, testFrame(0, 4))
	}
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestRewindCache_BoundedByFrames(t *testing.T) {
	cache := playback.NewRewindCache(3, 1<<20)
	for i := 0; i < 5; i++ {
		cache.Push("clip", float64(i)/30, testFrame(float64(i)/30, 16))
	}
	assert.Equal(t, 3, cache.Len())
	assert.Equal(t, int64(48), cache.Bytes())

	_, _, ok := cache.Nearest("clip", 0, 0.01)
	assert.False(t, ok, "oldest frames are dropped first")

	frame, at, ok := cache.Nearest("clip", 4.0/30, 0.01)
	require.True(t, ok)
	assert.InDelta(t, 4.0/30, at, 1e-9)
	assert.InDelta(t, 4.0/30, frame.PTS, 1e-9)
}

func TestRewindCache_BoundedByBytes(t *testing.T) {
	cache := playback.NewRewindCache(100, 40)
	for i := 0; i < 4; i++ {
		cache.Push("clip", float64(i), testFrame(float64(i), 16))
	}
	assert.Equal(t, 2, cache.Len())
	assert.LessOrEqual(t, cache.Bytes(), int64(40))

	// a frame larger than the whole budget is not kept
	cache.Push("clip", 10, testFrame(10, 64))
	assert.Equal(t, 2, cache.Len())
}

func TestRewindCache_NearestMatchesSource(t *testing.T) {
	cache := playback.NewRewindCache(10, 1<<20)
	cache.Push("a", 1.0, testFrame(1.0, 4))
	cache.Push("b", 1.02, testFrame(1.02, 4))
	cache.Push("b", 1.02, testFrame(1.02, 4))
	assert.Equal(t, 2, cache.Len(), "repeated pushes of the same frame are collapsed")

	_, at, ok := cache.Nearest("a", 1.03, 0.05)
	require.True(t, ok)
	assert.Equal(t, 1.0, at)

	_, _, ok = cache.Nearest("a", 1.2, 0.05)
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int64(0), cache.Bytes())
}
