package decoder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SyntheticSource describes a generated test source
type SyntheticSource struct {
	FPS        float64
	Duration   float64
	GOP        int // frames between keyframes
	Width      int
	Height     int
	SampleRate int
	AudioChunk int
	ToneHz     float64
	// PTSOffset is added to every timestamp, like a container start time
	PTSOffset float64
	// CorruptPTS pins every video timestamp to PTSOffset
	CorruptPTS bool
	// DecodeLatency is slept before each video frame
	DecodeLatency time.Duration
	// StallAt and StallFor inject a single decode stall at the first frame
	// whose source time reaches StallAt
	StallAt  float64
	StallFor time.Duration
	FailOpen bool
	NoSeek   bool
	NoAudio  bool
}

// DefaultSyntheticSource returns a 30fps, 10s source with a 1s GOP
func DefaultSyntheticSource() SyntheticSource {
	return SyntheticSource{
		FPS:        30,
		Duration:   10,
		GOP:        30,
		Width:      16,
		Height:     9,
		SampleRate: 48000,
		AudioChunk: 960,
		ToneHz:     440,
	}
}

// SyntheticDecoder produces deterministic frames and a sine tone. It is safe
// for concurrent use.
type SyntheticDecoder struct {
	mu       sync.Mutex
	defaults SyntheticSource
	sources  map[string]SyntheticSource
	stalled  map[string]bool
	opens    map[string]int
}

// NewSyntheticDecoder creates a decoder that uses def for unregistered sources
func NewSyntheticDecoder(def SyntheticSource) *SyntheticDecoder {
	return &SyntheticDecoder{
		defaults: def,
		sources:  make(map[string]SyntheticSource),
		stalled:  make(map[string]bool),
		opens:    make(map[string]int),
	}
}

// Register sets the description used for sourceID
func (d *SyntheticDecoder) Register(sourceID string, src SyntheticSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[sourceID] = src
}

// Handle returns a SourceHandle matching the registered description
func (d *SyntheticDecoder) Handle(sourceID string) SourceHandle {
	src := d.lookup(sourceID)
	return SourceHandle{
		ID:        sourceID,
		Path:      "synthetic://" + sourceID,
		Duration:  src.Duration,
		StartTime: src.PTSOffset,
		Codec:     "synthetic",
		Width:     src.Width,
		Height:    src.Height,
		FrameRate: src.FPS,
		HasAudio:  !src.NoAudio,
	}
}

// OpenCount returns how many sessions were opened for sourceID
func (d *SyntheticDecoder) OpenCount(sourceID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens[sourceID]
}

func (d *SyntheticDecoder) lookup(sourceID string) SyntheticSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	if src, ok := d.sources[sourceID]; ok {
		return src
	}
	return d.defaults
}

// takeStall reports whether the one-shot stall of sourceID is still pending
// and marks it consumed.
func (d *SyntheticDecoder) takeStall(sourceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stalled[sourceID] {
		return false
	}
	d.stalled[sourceID] = true
	return true
}

// Open creates a session positioned at the start of the source
func (d *SyntheticDecoder) Open(ctx context.Context, handle SourceHandle) (Session, error) {
	src := d.lookup(handle.ID)
	if src.FailOpen {
		return nil, newDecodeError("open", handle.ID, fmt.Errorf("%w: synthetic failure", ErrSourceOpenFailed))
	}
	if src.FPS <= 0 || src.Duration <= 0 {
		return nil, newDecodeError("open", handle.ID, fmt.Errorf("%w: invalid synthetic source", ErrSourceOpenFailed))
	}
	if src.GOP <= 0 {
		src.GOP = 1
	}
	if src.SampleRate <= 0 {
		src.SampleRate = 48000
	}
	if src.AudioChunk <= 0 {
		src.AudioChunk = 960
	}

	d.mu.Lock()
	d.opens[handle.ID]++
	d.mu.Unlock()

	return &syntheticSession{
		ctx:     ctx,
		decoder: d,
		id:      handle.ID,
		src:     src,
		total:   int(math.Round(src.Duration * src.FPS)),
	}, nil
}

type syntheticSession struct {
	ctx     context.Context
	decoder *SyntheticDecoder
	id      string
	src     SyntheticSource
	total   int

	frame       int // next video frame index
	audioSample int // next audio sample index
	closed      bool
}

func (s *syntheticSession) Seek(t float64) error {
	if s.closed {
		return newDecodeError("seek", s.id, ErrEndOfStream)
	}
	if s.src.NoSeek && t > 0 {
		return newDecodeError("seek", s.id, ErrSeekUnsupported)
	}
	if t < 0 {
		t = 0
	}

	idx := int(math.Floor(t*s.src.FPS + 1e-9))
	if idx >= s.total {
		idx = s.total - 1
	}
	idx -= idx % s.src.GOP
	if idx < 0 {
		idx = 0
	}

	s.frame = idx
	s.audioSample = int(float64(idx) / s.src.FPS * float64(s.src.SampleRate))
	return nil
}

func (s *syntheticSession) DecodeNext() (Unit, error) {
	if s.closed {
		return Unit{}, ErrEndOfStream
	}
	if err := s.ctx.Err(); err != nil {
		return Unit{}, err
	}

	videoTime := float64(s.frame) / s.src.FPS
	audioTime := float64(s.audioSample) / float64(s.src.SampleRate)

	if !s.src.NoAudio && audioTime < videoTime && audioTime < s.src.Duration {
		return Unit{Audio: s.nextAudio()}, nil
	}
	if s.frame >= s.total {
		return Unit{}, ErrEndOfStream
	}

	if s.src.StallFor > 0 && videoTime >= s.src.StallAt && s.decoder.takeStall(s.id) {
		if err := s.sleep(s.src.StallFor); err != nil {
			return Unit{}, err
		}
	}
	if s.src.DecodeLatency > 0 {
		if err := s.sleep(s.src.DecodeLatency); err != nil {
			return Unit{}, err
		}
	}

	frame := s.render(s.frame)
	s.frame++
	return Unit{Video: frame}, nil
}

func (s *syntheticSession) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// render draws frame idx. The first pixel's red and green channels encode the
// frame index so tests can identify frames.
func (s *syntheticSession) render(idx int) *Frame {
	pixels := make([]byte, s.src.Width*s.src.Height*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = byte(idx)
		pixels[i+1] = byte(idx >> 8)
		pixels[i+2] = byte(len(s.id))
		pixels[i+3] = 0xff
	}

	pts := s.src.PTSOffset + float64(idx)/s.src.FPS
	if s.src.CorruptPTS {
		pts = s.src.PTSOffset
	}

	return &Frame{
		PTS:      pts,
		Width:    s.src.Width,
		Height:   s.src.Height,
		Pixels:   pixels,
		Keyframe: idx%s.src.GOP == 0,
	}
}

func (s *syntheticSession) nextAudio() *AudioSamples {
	n := s.src.AudioChunk
	data := make([]float32, n)
	rate := float64(s.src.SampleRate)
	for i := range data {
		t := float64(s.audioSample+i) / rate
		data[i] = float32(0.25 * math.Sin(2*math.Pi*s.src.ToneHz*t))
	}
	chunk := &AudioSamples{
		PTS:        s.src.PTSOffset + float64(s.audioSample)/rate,
		SampleRate: s.src.SampleRate,
		Channels:   1,
		Data:       data,
	}
	s.audioSample += n
	return chunk
}

func (s *syntheticSession) Close() error {
	s.closed = true
	return nil
}

// FrameIndex decodes the frame index drawn by the synthetic decoder
func FrameIndex(f *Frame) int {
	if f == nil || len(f.Pixels) < 2 {
		return -1
	}
	return int(f.Pixels[0]) | int(f.Pixels[1])<<8
}
