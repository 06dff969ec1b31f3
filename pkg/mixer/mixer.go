package mixer

import (
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	// DefaultSourceCapacity is the ring size of each source in samples
	DefaultSourceCapacity = 16384
	// DefaultMixBufMax bounds the samples mixed per tick
	DefaultMixBufMax = 4096
	// DefaultSampleRate is the output sample rate
	DefaultSampleRate = 48000
)

// Config sizes the mixer
type Config struct {
	SampleRate     int
	SourceCapacity int
	MixBufMax      int
	// OutputCapacity defaults to a quarter second of audio
	OutputCapacity int
}

// DefaultConfig returns the standard mixer sizes
func DefaultConfig() Config {
	return Config{
		SampleRate:     DefaultSampleRate,
		SourceCapacity: DefaultSourceCapacity,
		MixBufMax:      DefaultMixBufMax,
	}
}

// Stats is a snapshot of mixer counters
type Stats struct {
	Sources     int    `json:"sources"`
	Active      int    `json:"active"`
	Buffered    int    `json:"buffered"`
	Mixed       uint64 `json:"mixed"`
	Pulled      uint64 `json:"pulled"`
	Underrun    uint64 `json:"underrun"`
	Clipped     uint64 `json:"clipped"`
	SampleRate  int    `json:"sample_rate"`
	OutputSpace int    `json:"output_space"`
}

// Mixer sums the rings of all active sources into one output ring. MixTick is
// called from a single goroutine; Pull from the audio device goroutine.
type Mixer struct {
	cfg     Config
	sources atomic.Pointer[[]*Source]
	output  *Ring

	scratch []float32
	mix     []float32
	// mono is owned by the pulling goroutine
	mono []float32

	mixed    atomic.Uint64
	pulled   atomic.Uint64
	underrun atomic.Uint64
	clipped  atomic.Uint64
}

// New creates a mixer; zero fields of cfg take their defaults
func New(cfg Config) *Mixer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SourceCapacity <= 0 {
		cfg.SourceCapacity = DefaultSourceCapacity
	}
	if cfg.MixBufMax <= 0 {
		cfg.MixBufMax = DefaultMixBufMax
	}
	if cfg.OutputCapacity <= 0 {
		cfg.OutputCapacity = cfg.SampleRate / 4
	}

	m := &Mixer{
		cfg:     cfg,
		output:  NewRing(cfg.OutputCapacity),
		scratch: make([]float32, cfg.MixBufMax),
		mix:     make([]float32, cfg.MixBufMax),
	}
	empty := make([]*Source, 0)
	m.sources.Store(&empty)
	return m
}

// SampleRate returns the output sample rate
func (m *Mixer) SampleRate() int {
	return m.cfg.SampleRate
}

// NewSource creates a source sized for this mixer and adds it
func (m *Mixer) NewSource(label string, active bool) *Source {
	s := NewSource(label, m.cfg.SourceCapacity, active)
	m.AddSource(s)
	return s
}

// AddSource adds s to the mix set
func (m *Mixer) AddSource(s *Source) {
	for {
		old := m.sources.Load()
		next := make([]*Source, 0, len(*old)+1)
		next = append(next, *old...)
		next = append(next, s)
		if m.sources.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RemoveSource removes the source with id and reports whether it was present
func (m *Mixer) RemoveSource(id uuid.UUID) bool {
	for {
		old := m.sources.Load()
		next := make([]*Source, 0, len(*old))
		found := false
		for _, s := range *old {
			if s.id == id {
				found = true
				continue
			}
			next = append(next, s)
		}
		if !found {
			return false
		}
		if m.sources.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// ReplaceSources atomically installs a new mix set
func (m *Mixer) ReplaceSources(sources []*Source) {
	next := make([]*Source, len(sources))
	copy(next, sources)
	m.sources.Store(&next)
}

// Clear removes every source
func (m *Mixer) Clear() {
	m.ReplaceSources(nil)
}

// SourceCount returns the number of sources, active or not
func (m *Mixer) SourceCount() int {
	return len(*m.sources.Load())
}

// ActiveCount returns the number of active sources
func (m *Mixer) ActiveCount() int {
	count := 0
	for _, s := range *m.sources.Load() {
		if s.IsActive() {
			count++
		}
	}
	return count
}

// MixTick drains every active source into the output ring and returns the
// number of samples produced. Missing samples from a source count as silence,
// and every output sample is clamped to [-1, 1].
func (m *Mixer) MixTick() int {
	space := m.output.Free()
	if space > m.cfg.MixBufMax {
		space = m.cfg.MixBufMax
	}
	if space == 0 {
		return 0
	}

	sources := *m.sources.Load()
	avail := 0
	for _, s := range sources {
		if !s.IsActive() {
			continue
		}
		if n := s.Buffered(); n > avail {
			avail = n
		}
	}
	if avail > space {
		avail = space
	}
	if avail == 0 {
		return 0
	}

	mix := m.mix[:avail]
	for i := range mix {
		mix[i] = 0
	}

	for _, s := range sources {
		if !s.IsActive() {
			continue
		}
		n := s.pop(m.scratch[:avail])
		for i := 0; i < n; i++ {
			mix[i] += m.scratch[i]
		}
	}

	var clipped uint64
	for i, v := range mix {
		if v > 1 {
			mix[i] = 1
			clipped++
		} else if v < -1 {
			mix[i] = -1
			clipped++
		}
	}

	written := m.output.Push(mix)
	m.mixed.Add(uint64(written))
	if clipped > 0 {
		m.clipped.Add(clipped)
	}
	return written
}

// Pull fills dst with mixed samples. Positions with no data are set to zero.
// It never blocks and returns the number of real samples delivered.
func (m *Mixer) Pull(dst []float32) int {
	n := m.output.Pop(dst)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	m.pulled.Add(uint64(n))
	if n < len(dst) {
		m.underrun.Add(uint64(len(dst) - n))
	}
	return n
}

// PullInterleaved fills an interleaved buffer with channels copies of the mono
// mix. It returns the number of real frames delivered.
func (m *Mixer) PullInterleaved(dst []float32, channels int) int {
	if channels <= 1 {
		return m.Pull(dst)
	}

	frames := len(dst) / channels
	if cap(m.mono) < frames {
		m.mono = make([]float32, frames)
	}
	mono := m.mono[:frames]
	n := m.Pull(mono)
	for i, v := range mono {
		for c := 0; c < channels; c++ {
			dst[i*channels+c] = v
		}
	}
	for i := frames * channels; i < len(dst); i++ {
		dst[i] = 0
	}
	return n
}

// Buffered returns the number of mixed samples waiting to be pulled
func (m *Mixer) Buffered() int {
	return m.output.Len()
}

// Stats returns a snapshot of the mixer counters
func (m *Mixer) Stats() Stats {
	return Stats{
		Sources:     m.SourceCount(),
		Active:      m.ActiveCount(),
		Buffered:    m.output.Len(),
		Mixed:       m.mixed.Load(),
		Pulled:      m.pulled.Load(),
		Underrun:    m.underrun.Load(),
		Clipped:     m.clipped.Load(),
		SampleRate:  m.cfg.SampleRate,
		OutputSpace: m.output.Free(),
	}
}
