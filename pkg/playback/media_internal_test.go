package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, src decoder.SyntheticSource) (decoder.SourceHandle, decoder.Session) {
	t.Helper()
	dec := decoder.NewSyntheticDecoder(src)
	handle := dec.Handle("clip")
	session, err := dec.Open(context.Background(), handle)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return handle, session
}

func TestDecodeForward_LandsOnTarget(t *testing.T) {
	handle, session := openSession(t, decoder.DefaultSyntheticSource())
	require.NoError(t, session.Seek(2.5))

	res, err := decodeForward(session, handle, 2.5, 180, 4)
	require.NoError(t, err)
	require.NotNil(t, res.frame)
	assert.Equal(t, 75, decoder.FrameIndex(res.frame))
	// the keyframe at 2.0 and everything up to 2.5
	assert.Equal(t, 16, res.decoded)
	for _, chunk := range res.audio {
		assert.GreaterOrEqual(t, chunk.PTS+chunk.Duration(), 2.5-handle.FrameDuration()/2)
	}
}

func TestDecodeForward_HonorsContainerStart(t *testing.T) {
	src := decoder.DefaultSyntheticSource()
	src.PTSOffset = 1.4
	handle, session := openSession(t, src)
	require.NoError(t, session.Seek(1.0))

	res, err := decodeForward(session, handle, 1.0, 180, 4)
	require.NoError(t, err)
	assert.Equal(t, 30, decoder.FrameIndex(res.frame))
	assert.InDelta(t, 2.4, res.frame.PTS, 1e-9)
}

func TestDecodeForward_CorruptTimestamps(t *testing.T) {
	src := decoder.DefaultSyntheticSource()
	src.CorruptPTS = true
	handle, session := openSession(t, src)

	res, err := decodeForward(session, handle, 5.0, 180, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, decoder.ErrCorruptTimestamps))
	assert.LessOrEqual(t, res.decoded, 5)
	require.NotNil(t, res.frame, "the best frame is still returned")
}

func TestDecodeForward_Budget(t *testing.T) {
	handle, session := openSession(t, decoder.DefaultSyntheticSource())

	res, err := decodeForward(session, handle, 9.0, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 10, res.decoded)
	assert.Equal(t, 9, decoder.FrameIndex(res.frame))
}

func TestDecodeForward_PastEnd(t *testing.T) {
	src := decoder.DefaultSyntheticSource()
	src.Duration = 0.5
	handle, session := openSession(t, src)

	res, err := decodeForward(session, handle, 2.0, 180, 4)
	require.NoError(t, err)
	assert.Equal(t, 14, decoder.FrameIndex(res.frame), "end of stream keeps the last frame")
}

func TestScaleFrame(t *testing.T) {
	f := &decoder.Frame{PTS: 1, Width: 4, Height: 2, Pixels: make([]byte, 4*2*4), Keyframe: true}
	for i := range f.Pixels {
		f.Pixels[i] = 200
	}

	scaled := scaleFrame(f, 2, 1)
	assert.Equal(t, 2, scaled.Width)
	assert.Equal(t, 1, scaled.Height)
	assert.Len(t, scaled.Pixels, 2*1*4)
	assert.Equal(t, byte(200), scaled.Pixels[0])
	assert.Equal(t, f.PTS, scaled.PTS)
	assert.True(t, scaled.Keyframe)

	assert.Same(t, f, scaleFrame(f, 0, 0))
	assert.Same(t, f, scaleFrame(f, 4, 2))
}

func TestResampleMono(t *testing.T) {
	stereo := &decoder.AudioSamples{
		SampleRate: 24000,
		Channels:   2,
		Data:       []float32{1, 0, 1, 0, 1, 0, 1, 0},
	}
	out := resampleMono(stereo, 48000)
	assert.Len(t, out, 8)
	for _, s := range out {
		assert.InDelta(t, 0.5, s, 1e-6)
	}

	assert.Nil(t, resampleMono(nil, 48000))
}

func TestFadeEdges(t *testing.T) {
	samples := []float32{1, 1, 1, 1, 1, 1}
	fadeEdges(samples, 2)
	assert.Equal(t, []float32{0, 0.5, 1, 1, 0.5, 0}, samples)
}
