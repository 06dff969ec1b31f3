package playback

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/mixer"
	"golang.org/x/sync/errgroup"
)

// audioLead is how far ahead of its presentation time audio is handed to the
// mixer
const audioLead = 100 * time.Millisecond

type videoItem struct {
	frame  *decoder.Frame
	gen    uint64
	target float64
	first  bool
	eos    bool
}

type audioItem struct {
	samples *decoder.AudioSamples
	gen     uint64
}

type seekRequest struct {
	target float64
	gen    uint64
}

// ForwardPipeline decodes one source forward with a reader stage feeding a
// video stage and an audio stage, all paced by one StreamClock
type ForwardPipeline struct {
	*pipelineCore

	audio     mixer.Producer
	audioRate int
	audioWake chan struct{}

	videoCh chan videoItem
	audioCh chan audioItem
	seekCh  chan seekRequest

	generation atomic.Uint64
	// landedGen and endGen hold generation+1 once the generation landed or
	// reached end of stream
	landedGen atomic.Uint64
	endGen    atomic.Uint64
	decoded   atomic.Uint64
}

// NewForwardPipeline creates a pipeline; Start launches it
func NewForwardPipeline(dec decoder.Decoder, opts PipelineOptions) *ForwardPipeline {
	cfg := opts.Config
	stageCap := cfg.PacketChannelCapacity
	if stageCap <= 0 {
		stageCap = 128
	}
	outCap := cfg.VideoChannelCapacity
	if outCap <= 0 {
		outCap = 16
	}
	p := &ForwardPipeline{
		pipelineCore: newPipelineCore("forward", dec, opts, outCap),
		audio:        opts.Audio,
		audioRate:    opts.AudioRate,
		audioWake:    make(chan struct{}, 1),
		videoCh:      make(chan videoItem, stageCap),
		audioCh:      make(chan audioItem, stageCap),
		seekCh:       make(chan seekRequest, 1),
	}
	if p.audioRate <= 0 {
		p.audioRate = mixer.DefaultSampleRate
	}
	return p
}

// Start opens the source and launches the stages. Open and seek failures are
// returned here.
func (p *ForwardPipeline) Start(ctx context.Context) error {
	return p.start(ctx, false)
}

// StartBackground launches the stages without blocking on the decoder. Open
// and seek happen on the pipeline's own goroutine; a failure shows up as
// OpenFailed and Err.
func (p *ForwardPipeline) StartBackground(ctx context.Context) error {
	return p.start(ctx, true)
}

func (p *ForwardPipeline) start(ctx context.Context, background bool) error {
	target := p.opts.Target
	err := p.launch(ctx, target, background, func(group *errgroup.Group, gctx context.Context) {
		group.Go(func() error { return p.runReader(gctx, target) })
		group.Go(func() error { return p.runVideo(gctx) })
		if p.audio != nil {
			group.Go(func() error { return p.runAudio(gctx) })
		}
	})
	if err != nil {
		return err
	}

	p.logger.Info("Forward pipeline started", map[string]interface{}{
		"source_id":  p.src.ID,
		"target":     target,
		"speed":      p.clock.Speed(),
		"held":       p.opts.Hold,
		"background": background,
	})
	return nil
}

// Seek restarts decoding at target inside the running pipeline. Frames of
// earlier generations are dropped.
func (p *ForwardPipeline) Seek(target float64) uint64 {
	gen := p.generation.Add(1)
	req := seekRequest{target: target, gen: gen}
	for {
		select {
		case p.seekCh <- req:
			kick(p.wake)
			kick(p.audioWake)
			p.logger.Debug("Seek requested", map[string]interface{}{
				"target":     target,
				"generation": gen,
			})
			return gen
		default:
			select {
			case <-p.seekCh:
			default:
			}
		}
	}
}

// SetSpeed changes the pacing speed of both stages
func (p *ForwardPipeline) SetSpeed(speed float64) {
	p.pipelineCore.SetSpeed(speed)
	kick(p.audioWake)
}

// ResumeClock continues pacing after a stall
func (p *ForwardPipeline) ResumeClock(now time.Time) {
	p.pipelineCore.ResumeClock(now)
	kick(p.audioWake)
}

// BeginPlaying starts a held pipeline
func (p *ForwardPipeline) BeginPlaying() {
	p.pipelineCore.BeginPlaying()
	kick(p.audioWake)
}

// Generation returns the current seek generation
func (p *ForwardPipeline) Generation() uint64 {
	return p.generation.Load()
}

// Poll returns the newest frame of the current generation without blocking
func (p *ForwardPipeline) Poll() (Delivery, bool) {
	gen := p.generation.Load()
	return p.poll(func(d Delivery) bool { return d.Generation == gen })
}

// EndOfStream reports that the current generation reached the end of the
// source and every frame has been polled
func (p *ForwardPipeline) EndOfStream() bool {
	return p.endGen.Load() == p.generation.Load()+1 && len(p.out) == 0
}

// PlayheadAt returns the clock position in decoder time once the current
// generation has landed
func (p *ForwardPipeline) PlayheadAt(now time.Time) (float64, bool) {
	if p.landedGen.Load() != p.generation.Load()+1 {
		return 0, false
	}
	return p.clock.Position(now), true
}

// Decoded returns the number of video frames read from the decoder
func (p *ForwardPipeline) Decoded() uint64 {
	return p.decoded.Load()
}

func (p *ForwardPipeline) runReader(ctx context.Context, target float64) error {
	gen := uint64(0)
	for {
		req, err := p.land(ctx, target, gen)
		if err == nil && req == nil {
			req, err = p.stream(ctx, gen)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.setErr(err)
			return err
		}
		if req == nil {
			return nil
		}
		target, gen = req.target, req.gen
		p.flush()
		if err := p.reposition(target); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.setErr(err)
			return err
		}
	}
}

// land decodes forward to target and sends the landing frame. A seek that
// arrives meanwhile is returned.
func (p *ForwardPipeline) land(ctx context.Context, target float64, gen uint64) (*seekRequest, error) {
	res, err := decodeForward(p.session, p.src, target, p.cfg.DecodeForwardBudget, p.cfg.NonAdvancingLimit)
	p.decoded.Add(uint64(res.decoded))
	switch {
	case err == nil:
	case errors.Is(err, decoder.ErrCorruptTimestamps) && res.frame != nil:
		p.logger.Warn("Timestamps stopped advancing, using best frame", map[string]interface{}{
			"target":  target,
			"decoded": res.decoded,
			"pts":     res.frame.PTS,
		})
	case errors.Is(err, decoder.ErrEndOfStream):
		return p.waitAtEnd(ctx, gen)
	default:
		return nil, err
	}

	if req := p.sendVideo(ctx, videoItem{frame: res.frame, gen: gen, target: target, first: true}); req != nil {
		return req, nil
	}
	for _, chunk := range res.audio {
		if req := p.sendAudio(ctx, audioItem{samples: chunk, gen: gen}); req != nil {
			return req, nil
		}
	}
	return nil, ctx.Err()
}

// stream decodes sequentially until end of stream, a seek or cancellation
func (p *ForwardPipeline) stream(ctx context.Context, gen uint64) (*seekRequest, error) {
	for {
		select {
		case req := <-p.seekCh:
			return &req, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		unit, err := p.session.DecodeNext()
		if err != nil {
			if errors.Is(err, decoder.ErrEndOfStream) {
				return p.waitAtEnd(ctx, gen)
			}
			return nil, err
		}

		switch {
		case unit.Video != nil:
			p.decoded.Add(1)
			if req := p.sendVideo(ctx, videoItem{frame: unit.Video, gen: gen}); req != nil {
				return req, nil
			}
		case unit.Audio != nil && p.audio != nil:
			if req := p.sendAudio(ctx, audioItem{samples: unit.Audio, gen: gen}); req != nil {
				return req, nil
			}
		}
	}
}

// waitAtEnd marks the end of the generation and parks until a seek
func (p *ForwardPipeline) waitAtEnd(ctx context.Context, gen uint64) (*seekRequest, error) {
	if req := p.sendVideo(ctx, videoItem{gen: gen, eos: true}); req != nil {
		return req, nil
	}
	select {
	case req := <-p.seekCh:
		return &req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ForwardPipeline) sendVideo(ctx context.Context, item videoItem) *seekRequest {
	select {
	case p.videoCh <- item:
		return nil
	case req := <-p.seekCh:
		return &req
	case <-ctx.Done():
		return nil
	}
}

func (p *ForwardPipeline) sendAudio(ctx context.Context, item audioItem) *seekRequest {
	select {
	case p.audioCh <- item:
		return nil
	case req := <-p.seekCh:
		return &req
	case <-ctx.Done():
		return nil
	}
}

// flush discards queued stage input
func (p *ForwardPipeline) flush() {
	for {
		select {
		case <-p.videoCh:
		case <-p.audioCh:
		default:
			return
		}
	}
}

func (p *ForwardPipeline) runVideo(ctx context.Context) error {
	width, height := p.cfg.TargetWidth, p.cfg.TargetHeight
	var landing, last float64

	for {
		var item videoItem
		select {
		case <-ctx.Done():
			return nil
		case item = <-p.videoCh:
		}

		gen := item.gen
		stale := func() bool { return p.generation.Load() != gen }
		if stale() {
			continue
		}
		if item.eos {
			p.endGen.Store(gen + 1)
			continue
		}

		frame := scaleFrame(item.frame, width, height)
		if math.IsNaN(frame.PTS) {
			frame.PTS = last
		}

		if item.first {
			landing, last = frame.PTS, frame.PTS
			p.markLanded(frame.PTS)
			p.landedGen.Store(gen + 1)
		} else {
			if frame.PTS < last {
				continue
			}
			ok, err := p.pace(ctx, frame.PTS, stale)
			if err != nil {
				return nil
			}
			if !ok {
				continue
			}
			last = frame.PTS
		}

		d := Delivery{
			Frame:      frame,
			Generation: gen,
			Target:     item.target,
			Landing:    landing,
			First:      item.first,
			Due:        p.clock.ExpectedWallTime(frame.PTS),
		}
		if !p.deliver(ctx, d, stale) {
			return nil
		}
	}
}

func (p *ForwardPipeline) runAudio(ctx context.Context) error {
	var gen uint64
	for {
		var item audioItem
		select {
		case <-ctx.Done():
			return nil
		case item = <-p.audioCh:
		}

		cur := p.generation.Load()
		if item.gen != cur {
			continue
		}
		if item.gen != gen {
			gen = item.gen
			if r, ok := p.audio.(interface{ Reset() }); ok {
				r.Reset()
			}
		}

		samples := resampleMono(item.samples, p.audioRate)
		due := item.samples.PTS - audioLead.Seconds()
		ok, err := p.paceAudio(ctx, due, item.gen)
		if err != nil {
			return nil
		}
		if !ok || p.muted() {
			continue
		}
		p.audio.Push(samples)
	}
}

func (p *ForwardPipeline) paceAudio(ctx context.Context, at float64, gen uint64) (bool, error) {
	for {
		if p.generation.Load() != gen {
			return false, nil
		}
		wait := p.clock.TimeUntilDue(at)
		if wait == 0 {
			return true, nil
		}
		if err := sleepFor(ctx, wait, p.audioWake); err != nil {
			return false, err
		}
	}
}

// muted reports whether the speed is too far from 1x to play audio
func (p *ForwardPipeline) muted() bool {
	return math.Abs(p.clock.Speed()-1) > 0.01
}
