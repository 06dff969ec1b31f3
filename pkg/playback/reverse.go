package playback

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"golang.org/x/sync/errgroup"
)

type reverseItem struct {
	frame  *decoder.Frame
	window int
}

// ReversePipeline plays a source backwards. A decode goroutine decodes fixed
// windows forward, newest window first, and hands each window reversed to a
// pacer goroutine that delivers the frames in real time.
type ReversePipeline struct {
	*pipelineCore

	frames chan reverseItem

	topBits      atomic.Uint64
	started      atomic.Bool
	decodedAll   atomic.Bool
	reachedStart atomic.Bool
	windows      atomic.Int64
	dropped      atomic.Int64
}

// NewReversePipeline creates a reverse pipeline; Start launches it
func NewReversePipeline(dec decoder.Decoder, opts PipelineOptions) *ReversePipeline {
	cfg := opts.Config
	outCap := cfg.ReverseOutputCapacity
	if outCap <= 0 {
		outCap = 4
	}
	frameCap := cfg.ReverseDecodeCapacity
	if frameCap <= 0 {
		frameCap = 8
	}
	return &ReversePipeline{
		pipelineCore: newPipelineCore("reverse", dec, opts, outCap),
		frames:       make(chan reverseItem, frameCap),
	}
}

// Start opens the source and launches the decode and pacer goroutines
func (p *ReversePipeline) Start(ctx context.Context) error {
	return p.start(ctx, false)
}

// StartBackground is Start with the open moved onto the decode goroutine
func (p *ReversePipeline) StartBackground(ctx context.Context) error {
	return p.start(ctx, true)
}

func (p *ReversePipeline) start(ctx context.Context, background bool) error {
	err := p.launch(ctx, 0, background, func(group *errgroup.Group, gctx context.Context) {
		group.Go(func() error { return p.runDecode(gctx) })
		group.Go(func() error { return p.runPacer(gctx) })
	})
	if err != nil {
		return err
	}

	p.logger.Info("Reverse pipeline started", map[string]interface{}{
		"source_id":  p.src.ID,
		"target":     p.opts.Target,
		"speed":      p.clock.Speed(),
		"held":       p.opts.Hold,
		"background": background,
	})
	return nil
}

// Poll returns the newest delivered frame without blocking
func (p *ReversePipeline) Poll() (Delivery, bool) {
	return p.poll(nil)
}

// ReachedStart reports that the frame at the start of the source has been
// delivered and polled
func (p *ReversePipeline) ReachedStart() bool {
	return p.reachedStart.Load() && len(p.out) == 0
}

// PlayheadAt returns the playhead in decoder time once the first frame is out
func (p *ReversePipeline) PlayheadAt(now time.Time) (float64, bool) {
	if !p.started.Load() {
		return 0, false
	}
	top := math.Float64frombits(p.topBits.Load())
	return top - p.clock.Position(now), true
}

// Windows returns the number of windows decoded so far
func (p *ReversePipeline) Windows() int {
	return int(p.windows.Load())
}

func (p *ReversePipeline) windowLength() float64 {
	w := p.cfg.ReverseWindow.Seconds()
	if w <= 0 {
		w = 4
	}
	return w
}

func (p *ReversePipeline) runDecode(ctx context.Context) error {
	defer close(p.frames)

	frameDur := p.src.FrameDuration()
	end := p.opts.Target
	if p.src.Duration > 0 && end > p.src.Duration {
		end = p.src.Duration
	}
	upper := p.src.StartTime + end + frameDur/2

	for idx := 0; ; idx++ {
		start := math.Max(0, end-p.windowLength())
		lower := p.src.StartTime + start - frameDur/2

		frames, err := p.decodeWindow(ctx, start, lower, upper)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.setErr(err)
			return err
		}
		p.windows.Add(1)

		for i := len(frames) - 1; i >= 0; i-- {
			select {
			case p.frames <- reverseItem{frame: frames[i], window: idx}:
			case <-ctx.Done():
				return nil
			}
		}

		if start <= 0 {
			p.decodedAll.Store(true)
			return nil
		}
		upper = lower
		end = start
	}
}

// decodeWindow returns the frames with lower <= pts < upper in decode order
func (p *ReversePipeline) decodeWindow(ctx context.Context, start, lower, upper float64) ([]*decoder.Frame, error) {
	if err := p.reposition(start); err != nil {
		return nil, err
	}

	limit := p.cfg.NonAdvancingLimit
	if limit <= 0 {
		limit = 4
	}
	width, height := p.cfg.TargetWidth, p.cfg.TargetHeight

	var frames []*decoder.Frame
	last := math.Inf(-1)
	stagnant := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unit, err := p.session.DecodeNext()
		if err != nil {
			if errors.Is(err, decoder.ErrEndOfStream) {
				return frames, nil
			}
			return nil, err
		}
		f := unit.Video
		if f == nil {
			continue
		}
		if f.PTS >= upper {
			return frames, nil
		}
		if !(f.PTS > last) {
			stagnant++
			if stagnant >= limit {
				p.logger.Warn("Timestamps stopped advancing inside reverse window", map[string]interface{}{
					"window_start": start,
					"kept":         len(frames),
				})
				return frames, nil
			}
			continue
		}
		last = f.PTS
		stagnant = 0
		if f.PTS >= lower {
			frames = append(frames, scaleFrame(f, width, height))
		}
	}
}

func (p *ReversePipeline) runPacer(ctx context.Context) error {
	frameDur := time.Duration(p.src.FrameDuration() * float64(time.Second))
	var top float64
	last := math.Inf(1)
	window := -1

	for {
		var item reverseItem
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case item, ok = <-p.frames:
		}
		if !ok {
			if p.decodedAll.Load() {
				p.reachedStart.Store(true)
			}
			return nil
		}

		f := item.frame
		if !(f.PTS < last) {
			p.dropped.Add(1)
			continue
		}

		first := !p.started.Load()
		var u float64
		if first {
			top = f.PTS
			p.topBits.Store(math.Float64bits(top))
			p.started.Store(true)
			p.markLanded(0)
		} else {
			u = top - f.PTS
			if item.window != window && p.clock.Started() && !p.clock.Paused() {
				// a slow window must not turn into a burst of late frames
				if late := p.clock.Now().Sub(p.clock.ExpectedWallTime(u)); late > frameDur {
					p.clock.StartNow(u)
				}
			}
			if _, err := p.pace(ctx, u, nil); err != nil {
				return nil
			}
		}

		d := Delivery{
			Frame:   f,
			Target:  p.opts.Target,
			Landing: top,
			First:   first,
			Due:     p.clock.ExpectedWallTime(u),
		}
		if !p.deliver(ctx, d, nil) {
			return nil
		}
		last = f.PTS
		window = item.window
	}
}
