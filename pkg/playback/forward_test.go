package playback_test

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProducer counts the audio samples pushed to it
type countingProducer struct {
	samples atomic.Int64
}

func (c *countingProducer) Push(samples []float32) int {
	c.samples.Add(int64(len(samples)))
	return len(samples)
}

func (c *countingProducer) Samples() int {
	return int(c.samples.Load())
}

func silentSource(duration float64) decoder.SyntheticSource {
	src := decoder.DefaultSyntheticSource()
	src.Duration = duration
	src.NoAudio = true
	return src
}

func startForward(t *testing.T, dec *decoder.SyntheticDecoder, opts playback.PipelineOptions) *playback.ForwardPipeline {
	t.Helper()
	if opts.Config.PacketChannelCapacity == 0 {
		opts.Config = playback.DefaultEngineConfig().Pipeline
	}
	p := playback.NewForwardPipeline(dec, opts)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		p.Close()
		_ = p.Wait()
	})
	return p
}

// collectForward polls p every millisecond until end of stream or timeout
func collectForward(p *playback.ForwardPipeline, timeout time.Duration, each func(d playback.Delivery, at time.Time)) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && !p.EndOfStream() {
		if d, ok := p.Poll(); ok {
			each(d, time.Now())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestForwardPipeline_PacingDrift(t *testing.T) {
	for _, speed := range []float64{1, 2, 4} {
		speed := speed
		t.Run(fmt.Sprintf("%.0fx", speed), func(t *testing.T) {
			dec := decoder.NewSyntheticDecoder(silentSource(2))
			p := startForward(t, dec, playback.PipelineOptions{
				Source: dec.Handle("clip"),
				Speed:  speed,
			})

			var drift []time.Duration
			last := -1.0
			collectForward(p, 5*time.Second, func(d playback.Delivery, at time.Time) {
				assert.Greater(t, d.Frame.PTS, last, "frames arrive in order")
				last = d.Frame.PTS
				late := at.Sub(d.Due)
				if late < 0 {
					late = -late
				}
				drift = append(drift, late)
			})

			require.True(t, p.EndOfStream())
			require.GreaterOrEqual(t, len(drift), 20)
			sort.Slice(drift, func(i, j int) bool { return drift[i] < drift[j] })
			p90 := drift[len(drift)*9/10]
			assert.Less(t, p90, 5*time.Millisecond, "p90 drift at %.0fx", speed)
		})
	}
}

func TestForwardPipeline_FirstFrameAnchorsGeneration(t *testing.T) {
	dec := decoder.NewSyntheticDecoder(silentSource(10))
	p := startForward(t, dec, playback.PipelineOptions{
		Source: dec.Handle("clip"),
		Target: 2.5,
		Speed:  1,
	})

	var first playback.Delivery
	require.Eventually(t, func() bool {
		d, ok := p.Poll()
		if ok && d.First {
			first = d
			return true
		}
		return false
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 75, decoder.FrameIndex(first.Frame))
	assert.Equal(t, 2.5, first.Target)
	assert.InDelta(t, 2.5, first.Landing, 1e-9)
	assert.Equal(t, uint64(0), first.Generation)

	ph, ok := p.PlayheadAt(time.Now())
	require.True(t, ok)
	assert.GreaterOrEqual(t, ph, 2.5)
}

func TestForwardPipeline_SeekStartsNewGeneration(t *testing.T) {
	dec := decoder.NewSyntheticDecoder(silentSource(10))
	p := startForward(t, dec, playback.PipelineOptions{
		Source: dec.Handle("clip"),
		Speed:  1,
	})

	require.Eventually(t, func() bool {
		_, ok := p.Poll()
		return ok
	}, 2*time.Second, time.Millisecond)

	gen := p.Seek(6.0)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, uint64(1), p.Generation())

	var landed playback.Delivery
	require.Eventually(t, func() bool {
		d, ok := p.Poll()
		if ok {
			assert.Equal(t, gen, d.Generation, "frames of older generations are dropped")
			if d.First {
				landed = d
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 180, decoder.FrameIndex(landed.Frame))
	assert.Equal(t, 6.0, landed.Target)
}

func TestForwardPipeline_HoldWaitsForBeginPlaying(t *testing.T) {
	dec := decoder.NewSyntheticDecoder(silentSource(10))
	p := startForward(t, dec, playback.PipelineOptions{
		Source: dec.Handle("clip"),
		Speed:  1,
		Hold:   true,
	})

	var first playback.Delivery
	require.Eventually(t, func() bool {
		d, ok := p.Poll()
		if ok {
			first = d
		}
		return ok
	}, 2*time.Second, time.Millisecond)
	assert.True(t, first.First)
	assert.False(t, p.Begun())

	time.Sleep(100 * time.Millisecond)
	_, ok := p.Poll()
	assert.False(t, ok, "a held pipeline stops after its first frame")

	p.BeginPlaying()
	assert.True(t, p.Begun())
	require.Eventually(t, func() bool {
		d, ok := p.Poll()
		return ok && decoder.FrameIndex(d.Frame) > 0
	}, time.Second, time.Millisecond)
}

func TestForwardPipeline_OpenFailure(t *testing.T) {
	src := silentSource(1)
	src.FailOpen = true
	dec := decoder.NewSyntheticDecoder(src)

	p := playback.NewForwardPipeline(dec, playback.PipelineOptions{
		Source: dec.Handle("clip"),
		Config: playback.DefaultEngineConfig().Pipeline,
	})
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, decoder.ErrSourceOpenFailed)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("failed pipeline did not terminate")
	}
	assert.Equal(t, playback.PipelineTerminated, p.State())
}

func TestForwardPipeline_AudioReachesProducer(t *testing.T) {
	src := decoder.DefaultSyntheticSource()
	src.Duration = 1
	dec := decoder.NewSyntheticDecoder(src)
	audio := &countingProducer{}

	p := startForward(t, dec, playback.PipelineOptions{
		Source:    dec.Handle("clip"),
		Speed:     1,
		AudioRate: 48000,
		Audio:     audio,
	})
	collectForward(p, 3*time.Second, func(playback.Delivery, time.Time) {})

	assert.Greater(t, audio.Samples(), 0)
}

func TestForwardPipeline_StartBackgroundReportsOpenFailure(t *testing.T) {
	src := silentSource(2)
	src.FailOpen = true
	dec := decoder.NewSyntheticDecoder(src)

	p := playback.NewForwardPipeline(dec, playback.PipelineOptions{
		Source: dec.Handle("clip"),
		Config: playback.DefaultEngineConfig().Pipeline,
	})
	require.NoError(t, p.StartBackground(context.Background()), "open errors are not returned from a background start")

	require.Eventually(t, p.OpenFailed, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, p.Err(), decoder.ErrSourceOpenFailed)

	p.Close()
	assert.ErrorIs(t, p.Wait(), decoder.ErrSourceOpenFailed)
	assert.Equal(t, playback.PipelineTerminated, p.State())
}

func TestForwardPipeline_StartBackgroundPlaysFromTarget(t *testing.T) {
	dec := decoder.NewSyntheticDecoder(silentSource(4))
	p := playback.NewForwardPipeline(dec, playback.PipelineOptions{
		Source: dec.Handle("clip"),
		Target: 2.0,
		Speed:  1,
		Config: playback.DefaultEngineConfig().Pipeline,
	})
	require.NoError(t, p.StartBackground(context.Background()))
	t.Cleanup(func() {
		p.Close()
		_ = p.Wait()
	})

	var first playback.Delivery
	require.Eventually(t, func() bool {
		d, ok := p.Poll()
		if ok {
			first = d
		}
		return ok
	}, 2*time.Second, time.Millisecond)

	assert.True(t, first.First)
	assert.Equal(t, 60, decoder.FrameIndex(first.Frame))
	assert.False(t, p.OpenFailed())
	assert.Equal(t, 1, dec.OpenCount("clip"))
}
