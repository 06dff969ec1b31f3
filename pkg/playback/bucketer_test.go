package playback_test

import (
	"testing"

	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
)

func TestRequestBucketer_DedupesWithinBucket(t *testing.T) {
	b := playback.NewRequestBucketer(playback.BucketerConfig{VideoRate: 60, ScrubRate: 10, HoverRate: 2})

	assert.True(t, b.Admit(playback.VideoDecode, "clip", 1.001))
	assert.False(t, b.Admit(playback.VideoDecode, "clip", 1.008), "1.001 and 1.008 share a 60Hz bucket")
	assert.True(t, b.Admit(playback.VideoDecode, "clip", 1.016))
}

func TestRequestBucketer_SourceChangeAdmits(t *testing.T) {
	b := playback.NewRequestBucketer(playback.BucketerConfig{})

	assert.True(t, b.Admit(playback.VideoDecode, "a", 2.0))
	assert.True(t, b.Admit(playback.VideoDecode, "b", 2.0))
	assert.True(t, b.Admit(playback.VideoDecode, "a", 2.0), "only the previous request is remembered")
}

func TestRequestBucketer_ClassesAreIndependent(t *testing.T) {
	b := playback.NewRequestBucketer(playback.BucketerConfig{})

	assert.True(t, b.Admit(playback.ScrubAudio, "clip", 1.0))
	assert.True(t, b.Admit(playback.HoverAudio, "clip", 1.0))
	assert.True(t, b.Admit(playback.VideoDecode, "clip", 1.0))

	// 10Hz: 1.0 and 1.04 round to the same bucket
	assert.False(t, b.Admit(playback.ScrubAudio, "clip", 1.04))
	// 2Hz: 1.0 and 1.2 round to the same bucket
	assert.False(t, b.Admit(playback.HoverAudio, "clip", 1.2))
	assert.True(t, b.Admit(playback.HoverAudio, "clip", 1.3))
}

func TestRequestBucketer_Reset(t *testing.T) {
	b := playback.NewRequestBucketer(playback.BucketerConfig{})

	assert.True(t, b.Admit(playback.VideoDecode, "clip", 3.0))
	assert.True(t, b.Admit(playback.ScrubAudio, "clip", 3.0))

	b.ResetClass(playback.VideoDecode)
	assert.True(t, b.Admit(playback.VideoDecode, "clip", 3.0))
	assert.False(t, b.Admit(playback.ScrubAudio, "clip", 3.0))

	b.Reset()
	assert.True(t, b.Admit(playback.ScrubAudio, "clip", 3.0))
}

func TestRequestBucketer_DefaultRates(t *testing.T) {
	b := playback.NewRequestBucketer(playback.BucketerConfig{})

	assert.Equal(t, int64(60), b.Bucket(playback.VideoDecode, 1.0))
	assert.Equal(t, int64(10), b.Bucket(playback.ScrubAudio, 1.0))
	assert.Equal(t, int64(2), b.Bucket(playback.HoverAudio, 1.0))
}
