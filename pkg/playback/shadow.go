package playback

import (
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/mixer"
)

// ShadowPipeline prefetches the source adjacent to the primary one. It runs a
// held pipeline that lands on its first frame and then waits for promotion.
type ShadowPipeline struct {
	pipeline    *primaryPipeline
	source      decoder.SourceHandle
	target      float64
	mixerSource *mixer.Source
	first       *Delivery
	startedAt   time.Time
}

func newShadowPipeline(p *primaryPipeline, src decoder.SourceHandle, target float64, ms *mixer.Source, now time.Time) *ShadowPipeline {
	return &ShadowPipeline{
		pipeline:    p,
		source:      src,
		target:      target,
		mixerSource: ms,
		startedAt:   now,
	}
}

// Poll buffers the first frame once the pipeline delivers it
func (s *ShadowPipeline) Poll() {
	if s.first != nil {
		return
	}
	if d, ok := s.pipeline.Poll(); ok {
		s.first = &d
	}
}

// Ready reports whether the first frame is buffered
func (s *ShadowPipeline) Ready() bool {
	return s.first != nil
}

// State is Running once the first frame is buffered
func (s *ShadowPipeline) State() PipelineState {
	state := s.pipeline.core().State()
	if state >= PipelineDraining {
		return state
	}
	if s.first != nil {
		return PipelineRunning
	}
	return PipelineStarting
}

// ID returns the pipeline id
func (s *ShadowPipeline) ID() string {
	return s.pipeline.core().ID()
}

// Source returns the prefetched source
func (s *ShadowPipeline) Source() decoder.SourceHandle {
	return s.source
}

// Direction returns the direction the shadow will play in
func (s *ShadowPipeline) Direction() Direction {
	return s.pipeline.direction()
}

// Failed reports whether the pipeline stopped with an error
func (s *ShadowPipeline) Failed() bool {
	return s.pipeline.core().Err() != nil
}

// matches reports whether the shadow can stand in for a start of src at target
// going in dir
func (s *ShadowPipeline) matches(src decoder.SourceHandle, target float64, dir Direction) bool {
	if s.source.ID != src.ID || s.Direction() != dir {
		return false
	}
	return absf(s.target-target) <= src.FrameDuration()
}

// Close tears the pipeline down and removes its mixer source
func (s *ShadowPipeline) Close(m *mixer.Mixer) {
	s.pipeline.core().Close()
	if s.mixerSource != nil && m != nil {
		m.RemoveSource(s.mixerSource.ID())
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
