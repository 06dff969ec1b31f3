package playback

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"golang.org/x/image/draw"
)

// landing is the result of decoding forward to a target
type landing struct {
	frame *decoder.Frame
	// audio decoded on the way that ends at or after the target
	audio   []*decoder.AudioSamples
	decoded int
}

// decodeForward reads session until the first video frame at or past target
// (seconds from source start), keeping the last frame before it as the best
// frame. It gives up after budget video frames, or with ErrCorruptTimestamps
// when limit consecutive frames fail to advance; both return the best frame.
func decodeForward(session decoder.Session, src decoder.SourceHandle, target float64, budget, limit int) (landing, error) {
	if budget <= 0 {
		budget = 180
	}
	if limit <= 0 {
		limit = 4
	}

	goal := src.StartTime + target - src.FrameDuration()/2
	var res landing
	lastPTS := math.Inf(-1)
	stagnant := 0

	for res.decoded < budget {
		unit, err := session.DecodeNext()
		if err != nil {
			if errors.Is(err, decoder.ErrEndOfStream) && res.frame != nil {
				return res, nil
			}
			return res, err
		}

		if unit.Audio != nil {
			if unit.Audio.PTS+unit.Audio.Duration() >= goal {
				res.audio = append(res.audio, unit.Audio)
			}
			continue
		}
		frame := unit.Video
		if frame == nil {
			continue
		}
		res.decoded++

		// NaN timestamps never advance
		if frame.PTS > lastPTS {
			lastPTS = frame.PTS
			stagnant = 0
		} else {
			stagnant++
		}

		if frame.PTS >= goal {
			res.frame = frame
			return res, nil
		}
		res.frame = frame

		if stagnant >= limit {
			return res, fmt.Errorf("%w: %d frames without advancing past %.3f", decoder.ErrCorruptTimestamps, stagnant, lastPTS)
		}
	}

	if res.frame == nil {
		return res, decoder.ErrEndOfStream
	}
	return res, nil
}

// scaleFrame resizes f to width x height with bilinear filtering. A zero size
// or a matching size returns f unchanged.
func scaleFrame(f *decoder.Frame, width, height int) *decoder.Frame {
	if f == nil || width <= 0 || height <= 0 {
		return f
	}
	if f.Width == width && f.Height == height {
		return f
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < f.Width*f.Height*4 {
		return f
	}

	src := &image.RGBA{
		Pix:    f.Pixels,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return &decoder.Frame{
		PTS:      f.PTS,
		Width:    width,
		Height:   height,
		Pixels:   dst.Pix,
		Keyframe: f.Keyframe,
	}
}

// resampleMono downmixes a to one channel and converts it to outRate with
// linear interpolation
func resampleMono(a *decoder.AudioSamples, outRate int) []float32 {
	if a == nil || len(a.Data) == 0 {
		return nil
	}
	channels := a.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := len(a.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += a.Data[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}

	if outRate <= 0 || a.SampleRate <= 0 || a.SampleRate == outRate {
		return mono
	}

	outLen := int(math.Round(float64(frames) * float64(outRate) / float64(a.SampleRate)))
	out := make([]float32, outLen)
	step := float64(a.SampleRate) / float64(outRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= frames {
			j = frames - 1
		}
		next := j + 1
		if next >= frames {
			next = frames - 1
		}
		frac := float32(pos - float64(j))
		out[i] = mono[j] + (mono[next]-mono[j])*frac
	}
	return out
}

// fadeEdges ramps the first and last n samples to avoid clicks
func fadeEdges(samples []float32, n int) {
	if n*2 > len(samples) {
		n = len(samples) / 2
	}
	for i := 0; i < n; i++ {
		gain := float32(i) / float32(n)
		samples[i] *= gain
		samples[len(samples)-1-i] *= gain
	}
}
