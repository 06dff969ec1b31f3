package decoder_test

import (
	"testing"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2}
  ],
  "format": {"filename": "/media/clips/beach.mp4", "format_name": "mov,mp4", "duration": "12.512000", "start_time": "0.023220"}
}`

func TestParseProbeOutput_SourceHandle(t *testing.T) {
	result, err := decoder.ParseProbeOutput([]byte(sampleProbe))
	require.NoError(t, err)

	handle, err := result.SourceHandle("")
	require.NoError(t, err)

	assert.Equal(t, "beach", handle.ID)
	assert.Equal(t, "/media/clips/beach.mp4", handle.Path)
	assert.Equal(t, "h264", handle.Codec)
	assert.Equal(t, 1920, handle.Width)
	assert.Equal(t, 1080, handle.Height)
	assert.InDelta(t, 29.97, handle.FrameRate, 0.01)
	assert.InDelta(t, 12.512, handle.Duration, 1e-9)
	assert.InDelta(t, 0.02322, handle.StartTime, 1e-9)
	assert.True(t, handle.HasAudio)
}

func TestParseProbeOutput_NoVideo(t *testing.T) {
	result, err := decoder.ParseProbeOutput([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"filename":"a.wav","duration":"3"}}`))
	require.NoError(t, err)

	_, err = result.SourceHandle("a")
	assert.ErrorIs(t, err, decoder.ErrSourceOpenFailed)
}

func TestParseProbeOutput_Invalid(t *testing.T) {
	_, err := decoder.ParseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestSourceHandle_FrameDuration(t *testing.T) {
	assert.InDelta(t, 1.0/60, decoder.SourceHandle{FrameRate: 60}.FrameDuration(), 1e-12)
	assert.InDelta(t, 1.0/30, decoder.SourceHandle{}.FrameDuration(), 1e-12)
}
