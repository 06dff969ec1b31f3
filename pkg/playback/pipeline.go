package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"github.com/latoulicious/reelcore/pkg/mixer"
	"golang.org/x/sync/errgroup"
)

// PipelineState is the lifecycle state of a pipeline
type PipelineState int32

const (
	PipelineStarting PipelineState = iota
	PipelineRunning
	PipelineDraining
	PipelineTerminated
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStarting:
		return "starting"
	case PipelineRunning:
		return "running"
	case PipelineDraining:
		return "draining"
	case PipelineTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// PipelineOptions configures one pipeline instance
type PipelineOptions struct {
	ID     string
	Source decoder.SourceHandle
	// Target is the start position in seconds from source start. Reverse
	// pipelines play backwards from it.
	Target float64
	Speed  float64
	// Hold primes the first frame but keeps the clock and audio stopped until
	// BeginPlaying
	Hold      bool
	Config    PipelineConfig
	AudioRate int
	Audio     mixer.Producer
	Clock     Clock
	Logger    logging.Logger
}

// Delivery is one frame handed to the consumer
type Delivery struct {
	Frame      *decoder.Frame
	Generation uint64
	// Target is the requested start of the generation, Landing the timestamp
	// of its first frame
	Target  float64
	Landing float64
	First   bool
	Due     time.Time
}

// pipelineCore holds what forward and reverse pipelines share: lifecycle,
// output channel, clock and the held-start handshake
type pipelineCore struct {
	id     string
	kind   string
	src    decoder.SourceHandle
	dec    decoder.Decoder
	opts   PipelineOptions
	cfg    PipelineConfig
	clock  *StreamClock
	logger logging.Logger

	session decoder.Session

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	out  chan Delivery
	wake chan struct{}

	state      atomic.Int32
	openFailed atomic.Bool
	errMu      sync.Mutex
	err        error

	startMu   sync.Mutex
	begun     bool
	landed    bool
	landedAt  float64
	beginOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

func newPipelineCore(kind string, dec decoder.Decoder, opts PipelineOptions, outCap int) *pipelineCore {
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if outCap <= 0 {
		outCap = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLoggerFactory().CreatePipelineLogger("", kind, opts.ID)
	}

	return &pipelineCore{
		id:     opts.ID,
		kind:   kind,
		src:    opts.Source,
		dec:    dec,
		opts:   opts,
		cfg:    opts.Config,
		clock:  NewStreamClock(opts.Clock, opts.Speed),
		logger: logger,
		out:    make(chan Delivery, outCap),
		wake:   make(chan struct{}, 1),
		begun:  !opts.Hold,
		done:   make(chan struct{}),
	}
}

// open opens the decoder session and positions it at target
func (c *pipelineCore) open(parent context.Context, target float64) error {
	c.ctx, c.cancel = context.WithCancel(parent)
	if err := c.openSession(target); err != nil {
		c.cancel()
		return err
	}
	return nil
}

func (c *pipelineCore) openSession(target float64) error {
	session, err := c.dec.Open(c.ctx, c.src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.src.ID, err)
	}
	if target > 0 {
		if err := session.Seek(target); err != nil && !errors.Is(err, decoder.ErrSeekUnsupported) {
			_ = session.Close()
			return fmt.Errorf("failed to seek %s to %.3f: %w", c.src.ID, target, err)
		}
	}
	c.session = session
	return nil
}

// launch opens the source and runs stages in the pipeline's errgroup. In the
// background the session is opened on the group's first goroutine and a
// failure is kept in Err with OpenFailed set instead of being returned.
func (c *pipelineCore) launch(parent context.Context, target float64, background bool, stages func(*errgroup.Group, context.Context)) error {
	if !background {
		if err := c.open(parent, target); err != nil {
			c.abort()
			return err
		}
		group, gctx := errgroup.WithContext(c.ctx)
		c.group = group
		stages(group, gctx)
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(parent)
	group, gctx := errgroup.WithContext(c.ctx)
	c.group = group
	group.Go(func() error {
		if err := c.openSession(target); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			c.openFailed.Store(true)
			c.setErr(err)
			return err
		}
		stages(group, gctx)
		return nil
	})
	return nil
}

// OpenFailed reports that a background start could not open or seek the
// source
func (c *pipelineCore) OpenFailed() bool {
	return c.openFailed.Load()
}

// reposition seeks the session, reopening it from the start when the source
// cannot seek
func (c *pipelineCore) reposition(target float64) error {
	err := c.session.Seek(target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, decoder.ErrSeekUnsupported) {
		return err
	}

	c.logger.Debug("Source cannot seek, reopening from start", map[string]interface{}{
		"target": target,
	})
	_ = c.session.Close()
	session, err := c.dec.Open(c.ctx, c.src)
	if err != nil {
		return err
	}
	c.session = session
	return nil
}

// closeSession runs after every stage has returned
func (c *pipelineCore) closeSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Warn("Failed to close decoder session", map[string]interface{}{
			"error": err.Error(),
		})
	}
	c.session = nil
}

// ID returns the pipeline id
func (c *pipelineCore) ID() string {
	return c.id
}

// Source returns the source being decoded
func (c *pipelineCore) Source() decoder.SourceHandle {
	return c.src
}

// Clock returns the pipeline clock
func (c *pipelineCore) Clock() *StreamClock {
	return c.clock
}

// State returns the lifecycle state
func (c *pipelineCore) State() PipelineState {
	return PipelineState(c.state.Load())
}

func (c *pipelineCore) setState(s PipelineState) {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Err returns the error that stopped the pipeline, if any
func (c *pipelineCore) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *pipelineCore) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.logger.Error("Pipeline stage failed", err, map[string]interface{}{
		"source_id": c.src.ID,
	})
}

// SetSpeed changes the pacing speed
func (c *pipelineCore) SetSpeed(speed float64) {
	c.clock.SetSpeed(speed)
	kick(c.wake)
}

// PauseClock freezes pacing at now
func (c *pipelineCore) PauseClock(now time.Time) {
	c.clock.Pause(now)
}

// ResumeClock continues pacing
func (c *pipelineCore) ResumeClock(now time.Time) {
	c.clock.Resume(now)
	kick(c.wake)
}

// BeginPlaying starts the clock of a held pipeline at its first frame
func (c *pipelineCore) BeginPlaying() {
	c.beginOnce.Do(func() {
		c.startMu.Lock()
		wasBegun := c.begun
		c.begun = true
		landed, at := c.landed, c.landedAt
		c.startMu.Unlock()

		if !wasBegun && landed {
			c.clock.StartNow(at)
		}
		kick(c.wake)
	})
}

// Begun reports whether the clock is allowed to run
func (c *pipelineCore) Begun() bool {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.begun
}

// markLanded records the clock position of a first frame and starts the
// clock unless the pipeline is held
func (c *pipelineCore) markLanded(at float64) {
	c.startMu.Lock()
	c.landed = true
	c.landedAt = at
	begun := c.begun
	c.startMu.Unlock()

	if begun {
		c.clock.StartNow(at)
	}
}

// pace blocks until the clock reaches at or stale reports true
func (c *pipelineCore) pace(ctx context.Context, at float64, stale func() bool) (bool, error) {
	if math.IsNaN(at) {
		return true, nil
	}
	for {
		if stale != nil && stale() {
			return false, nil
		}
		wait := c.clock.TimeUntilDue(at)
		if wait == 0 {
			return true, nil
		}
		if err := sleepFor(ctx, wait, c.wake); err != nil {
			return false, err
		}
	}
}

// deliver hands d to the consumer, giving up when stale reports true
func (c *pipelineCore) deliver(ctx context.Context, d Delivery, stale func() bool) bool {
	for {
		select {
		case c.out <- d:
			c.setState(PipelineRunning)
			return true
		case <-ctx.Done():
			return false
		case <-c.wake:
			if stale != nil && stale() {
				return true
			}
		}
	}
}

// poll drains the output channel and returns the newest delivery accepted
// by keep
func (c *pipelineCore) poll(keep func(Delivery) bool) (Delivery, bool) {
	var latest Delivery
	found := false
	for {
		select {
		case d := <-c.out:
			if keep != nil && !keep(d) {
				continue
			}
			if found && latest.First && !d.First {
				// keep the generation anchor of a skipped first frame
				d.Landing = latest.Landing
			}
			latest = d
			found = true
		default:
			return latest, found
		}
	}
}

// Done is closed once every stage has exited and the session is closed
func (c *pipelineCore) Done() <-chan struct{} {
	return c.done
}

// Close cancels the pipeline without waiting for it
func (c *pipelineCore) Close() {
	c.closeOnce.Do(func() {
		c.setState(PipelineDraining)
		if c.cancel != nil {
			c.cancel()
		}
		go func() {
			if c.group != nil {
				_ = c.group.Wait()
			}
			c.closeSession()
			c.setState(PipelineTerminated)
			close(c.done)
			c.logger.Debug("Pipeline terminated", nil)
		}()
	})
}

// abort terminates a pipeline whose start failed
func (c *pipelineCore) abort() {
	c.closeOnce.Do(func() {
		c.setState(PipelineTerminated)
		close(c.done)
	})
}

// Wait blocks until the pipeline has terminated
func (c *pipelineCore) Wait() error {
	<-c.done
	return c.Err()
}

// pipelineKind tags the primary pipeline variant
type pipelineKind int

const (
	kindForward pipelineKind = iota
	kindReverse
)

// primaryPipeline is the forward or reverse pipeline owned by the supervisor
type primaryPipeline struct {
	kind pipelineKind
	fwd  *ForwardPipeline
	rev  *ReversePipeline
}

func forwardPrimary(p *ForwardPipeline) *primaryPipeline {
	return &primaryPipeline{kind: kindForward, fwd: p}
}

func reversePrimary(p *ReversePipeline) *primaryPipeline {
	return &primaryPipeline{kind: kindReverse, rev: p}
}

func (p *primaryPipeline) core() *pipelineCore {
	switch p.kind {
	case kindReverse:
		return p.rev.pipelineCore
	default:
		return p.fwd.pipelineCore
	}
}

func (p *primaryPipeline) direction() Direction {
	if p.kind == kindReverse {
		return Reverse
	}
	return Forward
}

func (p *primaryPipeline) Poll() (Delivery, bool) {
	switch p.kind {
	case kindReverse:
		return p.rev.Poll()
	default:
		return p.fwd.Poll()
	}
}

// finished reports that the pipeline delivered its last frame: end of stream
// going forward, source start going backward
func (p *primaryPipeline) finished() bool {
	switch p.kind {
	case kindReverse:
		return p.rev.ReachedStart()
	default:
		return p.fwd.EndOfStream()
	}
}

func (p *primaryPipeline) playhead(now time.Time) (float64, bool) {
	switch p.kind {
	case kindReverse:
		return p.rev.PlayheadAt(now)
	default:
		return p.fwd.PlayheadAt(now)
	}
}

func (p *primaryPipeline) setSpeed(speed float64) {
	switch p.kind {
	case kindReverse:
		p.rev.SetSpeed(speed)
	default:
		p.fwd.SetSpeed(speed)
	}
}

func (p *primaryPipeline) resumeClock(now time.Time) {
	switch p.kind {
	case kindReverse:
		p.rev.ResumeClock(now)
	default:
		p.fwd.ResumeClock(now)
	}
}

func (p *primaryPipeline) beginPlaying() {
	switch p.kind {
	case kindReverse:
		p.rev.BeginPlaying()
	default:
		p.fwd.BeginPlaying()
	}
}
