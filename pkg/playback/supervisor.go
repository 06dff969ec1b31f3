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
	"github.com/panjf2000/ants/v2"
)

const (
	// boundaryEpsilon is how close to the end of a source the playhead must be
	// before the next source takes over
	boundaryEpsilon = 0.001
	// bridgeTolerance bounds the distance between a cached frame and the
	// playhead it stands in for
	bridgeTolerance = 0.05
	// shadowRetry is the wait before a failed shadow start is retried
	shadowRetry = time.Second
	// closeTimeout bounds how long Close waits for each pipeline
	closeTimeout = 2 * time.Second
)

// SupervisorOptions carries the collaborators of a Supervisor. Only Decoder
// and Config are required.
type SupervisorOptions struct {
	SessionID    string
	Decoder      decoder.Decoder
	Config       ConfigProvider
	Sequence     SourceSequence
	Clock        Clock
	Repository   PlaybackRepository
	Metrics      MetricsCollector
	ErrorHandler ErrorHandler
	Logger       logging.Logger
}

type calibrationKey struct {
	pipeline   string
	generation uint64
}

// restartPlan is what a pending restart will start
type restartPlan struct {
	source    decoder.SourceHandle
	target    float64
	direction Direction
	at        time.Time
}

type retryDelayer interface {
	GetRetryDelay(attempt int) time.Duration
}

// Supervisor owns the primary and shadow pipelines, the mixer and the caches.
// SubmitIntent is called by the transport and PollFrame once per render cycle
// by the consumer. PollFrame never blocks: when SubmitIntent holds the
// supervisor it returns no frame for that cycle.
type Supervisor struct {
	mu sync.Mutex

	sessionID     string
	cfg           *EngineConfig
	dec           decoder.Decoder
	seq           SourceSequence
	clock         Clock
	repo          PlaybackRepository
	metrics       MetricsCollector
	errs          ErrorHandler
	logger        logging.Logger
	loggerFactory logging.LoggerFactory

	ctx    context.Context
	cancel context.CancelFunc

	mixer         *mixer.Mixer
	channels      int
	audioOK       bool
	device        mixer.Device
	pool          *ants.Pool
	fallback      *FallbackWorker
	preview       *AudioPreviewWorker
	previewSource *mixer.Source

	cache    *FrameCache
	rewind   *RewindCache
	bucketer *RequestBucketer
	stall    *StallMonitor
	cal      *PTSCalibrator
	calKey   calibrationKey

	intent    PlaybackIntent
	hasIntent bool
	scrubbing bool

	primary       *primaryPipeline
	primarySource *mixer.Source
	source        decoder.SourceHandle
	direction     Direction
	target        float64
	shadow        *ShadowPipeline
	shadowRetryAt time.Time

	startedAt      time.Time
	intentAt       time.Time
	playStart      time.Time
	delivered      bool
	measureStartup bool
	lastSourceTime float64

	restarts      int
	totalRestarts int
	plan          *restartPlan
	lastErr       error
	failed        error
	ended         bool

	current *DisplayFrame
	pending *DisplayFrame

	status atomic.Pointer[PipelineStatus]
	closed bool
}

// NewSupervisor builds a supervisor and its workers
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Decoder == nil {
		return nil, fmt.Errorf("supervisor requires a decoder")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("supervisor requires a configuration")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg := opts.Config.Config()

	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Repository == nil {
		opts.Repository = NopRepository{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewBasicMetrics(opts.Repository, opts.SessionID)
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = NewBasicErrorHandler(&cfg.Retry, opts.Repository, opts.SessionID)
	}
	factory := logging.GetGlobalLoggerFactory()
	if opts.Logger == nil {
		opts.Logger = factory.CreateEngineLogger(opts.SessionID)
	}

	cache, err := NewFrameCache(cfg.Cache.FrameCapacity)
	if err != nil {
		return nil, err
	}

	poolSize := cfg.Cache.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	logger := opts.Logger
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true), ants.WithPanicHandler(func(p interface{}) {
		logger.Error("Worker panicked", fmt.Errorf("%v", p), nil)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	fallback, err := NewFallbackWorker(opts.Decoder, pool, cfg.Cache.DecoderSessions, cfg.Pipeline, logger.WithPipeline("fallback"))
	if err != nil {
		pool.Release()
		return nil, err
	}

	mix := mixer.New(mixer.Config{
		SampleRate:     cfg.Mixer.SampleRate,
		SourceCapacity: cfg.Mixer.SourceCapacity,
		MixBufMax:      cfg.Mixer.MixBufMax,
	})
	previewSource := mix.NewSource("preview", false)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		sessionID:     opts.SessionID,
		cfg:           cfg,
		dec:           opts.Decoder,
		seq:           opts.Sequence,
		clock:         opts.Clock,
		repo:          opts.Repository,
		metrics:       opts.Metrics,
		errs:          opts.ErrorHandler,
		logger:        logger,
		loggerFactory: factory,
		ctx:           ctx,
		cancel:        cancel,
		mixer:         mix,
		channels:      cfg.Mixer.Channels,
		audioOK:       cfg.Mixer.Enabled,
		pool:          pool,
		fallback:      fallback,
		preview:       NewAudioPreviewWorker(opts.Decoder, pool, previewSource, mix.SampleRate(), logger.WithPipeline("preview")),
		previewSource: previewSource,
		cache:         cache,
		rewind:        NewRewindCache(cfg.Cache.RewindFrames, cfg.Cache.RewindBytes),
		bucketer:      NewRequestBucketer(cfg.Bucketer),
		stall:         NewStallMonitorWithLogger(cfg.Stall, logger.WithPipeline("stall")),
		cal:           NewPTSCalibratorWithLogger(0, logger.WithPipeline("calibrator")),
	}
	if s.channels <= 0 {
		s.channels = 1
	}
	s.publishStatus(s.clock.Now())

	logger.Info("Supervisor created", CreateContextFieldsWithComponent(s.sessionID, "", "", "supervisor"))
	return s, nil
}

// SessionID returns the id used in logs and persisted records
func (s *Supervisor) SessionID() string {
	return s.sessionID
}

// SubmitIntent applies a transport command. Submitting the current intent
// again is a no-op; after a fatal error it returns that error until a
// different intent succeeds.
func (s *Supervisor) SubmitIntent(intent PlaybackIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrEngineClosed
	}
	if s.hasIntent && intent == s.intent {
		return s.failed
	}

	now := s.clock.Now()
	if err := s.apply(intent, now); err != nil {
		s.errs.LogError(err, "submit intent")
		s.metrics.RecordError(ClassifyError(err))
		s.publishStatus(now)
		return err
	}
	s.intent = intent
	s.hasIntent = true
	s.failed = nil
	s.publishStatus(now)
	return nil
}

func (s *Supervisor) apply(intent PlaybackIntent, now time.Time) error {
	if intent.Speed == 0 {
		s.enterScrub(intent.Source, intent.TargetTime, now)
		return nil
	}

	running := s.primary != nil && !s.scrubbing && s.failed == nil
	sameTrack := running && s.source.ID == intent.Source.ID && s.direction == intent.Direction
	if sameTrack {
		if s.isJump(intent) {
			return s.jump(intent, now)
		}
		if intent.Speed != s.intent.Speed {
			s.setSpeed(intent.Speed)
		}
		return nil
	}

	if s.scrubbing || s.direction != intent.Direction {
		s.bucketer.Reset()
	}
	return s.startIntent(intent, now)
}

// isJump reports whether the target moved by more than one frame from both
// the previous target and the playhead
func (s *Supervisor) isJump(intent PlaybackIntent) bool {
	frame := intent.Source.FrameDuration()
	if math.Abs(intent.TargetTime-s.intent.TargetTime) <= frame {
		return false
	}
	return math.Abs(intent.TargetTime-s.lastSourceTime) > frame
}

// jump repositions inside the current source: a forward pipeline seeks in
// place, a reverse one is replaced
func (s *Supervisor) jump(intent PlaybackIntent, now time.Time) error {
	if intent.Speed != s.intent.Speed {
		s.setSpeed(intent.Speed)
	}
	if intent.Direction == Reverse {
		return s.startIntent(intent, now)
	}

	gen := s.primary.fwd.Seek(intent.TargetTime)
	s.target = intent.TargetTime
	s.resetTracking(now, false)
	s.intentAt = now
	if f, ok := s.cache.GetAt(s.source.ID, intent.TargetTime); ok {
		s.pending = s.display(s.source, f, intent.TargetTime, true)
	}
	s.logger.Info("Seeking in place", map[string]interface{}{
		"source_id":  s.source.ID,
		"target":     intent.TargetTime,
		"generation": gen,
	})
	return nil
}

// startIntent starts playback of intent, promoting the shadow when it already
// holds that start. A start failure leaves the running pipelines untouched.
func (s *Supervisor) startIntent(intent PlaybackIntent, now time.Time) error {
	src, target, dir := intent.Source, intent.TargetTime, intent.Direction

	if dir == Reverse {
		if src.Duration > 0 && target > src.Duration {
			target = src.Duration
		}
		if target < s.cfg.Pipeline.ReverseBoundary.Seconds() {
			prev, ok := s.previousSource(src.ID)
			if !ok {
				s.teardownAll(now)
				s.enterEnded(src, 0, dir, now)
				return nil
			}
			src, target = prev, prev.Duration
		}
	}

	if s.shadow != nil && s.shadow.Ready() && s.shadow.matches(src, target, dir) {
		s.scrubbing = false
		s.previewSource.Deactivate()
		s.pending = s.promoteShadow(now)
		return nil
	}

	pp, ms, err := s.startPipeline(src, target, dir, intent.Speed, false, false)
	if err != nil {
		return err
	}

	bridge := s.bridgeFrame(src, target, dir)
	s.closeShadow()
	s.teardownPrimary(now)
	s.scrubbing = false
	s.previewSource.Deactivate()
	s.ended = false
	s.installPrimary(pp, ms, src, target, dir, now, true)
	s.intentAt = now
	s.restarts = 0
	s.plan = nil
	s.metrics.RecordPromotion(false)
	if bridge != nil {
		s.pending = bridge
	}

	s.logger.Info("Playback started", map[string]interface{}{
		"source_id": src.ID,
		"target":    target,
		"direction": dir.String(),
		"speed":     intent.Speed,
	})
	return nil
}

// bridgeFrame returns a cached frame near target to show until the new
// pipeline lands
func (s *Supervisor) bridgeFrame(src decoder.SourceHandle, target float64, dir Direction) *DisplayFrame {
	if dir == Reverse {
		if f, t, ok := s.rewind.Nearest(src.ID, target, bridgeTolerance); ok {
			return s.display(src, f, t, true)
		}
	}
	if f, ok := s.cache.GetAt(src.ID, target); ok {
		return s.display(src, f, target, true)
	}
	return nil
}

// startPipeline creates and starts a pipeline; its mixer source, if any, is
// added to the mixer active unless hold is set. A background start returns
// before the decoder opens and never fails here; see checkOpen.
func (s *Supervisor) startPipeline(src decoder.SourceHandle, target float64, dir Direction, speed float64, hold, background bool) (*primaryPipeline, *mixer.Source, error) {
	id := uuid.New().String()
	kind := "forward"
	if dir == Reverse {
		kind = "reverse"
	}
	opts := PipelineOptions{
		ID:        id,
		Source:    src,
		Target:    target,
		Speed:     speed,
		Hold:      hold,
		Config:    s.cfg.Pipeline,
		AudioRate: s.mixer.SampleRate(),
		Clock:     s.clock,
		Logger:    s.loggerFactory.CreatePipelineLogger(s.sessionID, kind, id),
	}

	var ms *mixer.Source
	if dir == Forward && src.HasAudio {
		if s.audioOK {
			ms = mixer.NewSource(src.ID, s.cfg.Mixer.SourceCapacity, !hold)
			opts.Audio = ms
		} else {
			opts.Audio = mixer.NopProducer{}
		}
	}

	var pp *primaryPipeline
	if dir == Reverse {
		p := NewReversePipeline(s.dec, opts)
		start := p.Start
		if background {
			start = p.StartBackground
		}
		if err := start(s.ctx); err != nil {
			return nil, nil, err
		}
		pp = reversePrimary(p)
	} else {
		p := NewForwardPipeline(s.dec, opts)
		start := p.Start
		if background {
			start = p.StartBackground
		}
		if err := start(s.ctx); err != nil {
			return nil, nil, err
		}
		pp = forwardPrimary(p)
	}

	if ms != nil {
		s.mixer.AddSource(ms)
	}
	return pp, ms, nil
}

func (s *Supervisor) installPrimary(pp *primaryPipeline, ms *mixer.Source, src decoder.SourceHandle, target float64, dir Direction, now time.Time, measureStartup bool) {
	s.primary = pp
	s.primarySource = ms
	s.source = src
	s.direction = dir
	s.target = target
	s.calKey = calibrationKey{}
	s.resetTracking(now, measureStartup)
}

// resetTracking starts stall and startup tracking for a new generation
func (s *Supervisor) resetTracking(now time.Time, measureStartup bool) {
	s.stall.Reset(now)
	s.startedAt = now
	s.delivered = false
	s.measureStartup = measureStartup
}

func (s *Supervisor) teardownPrimary(now time.Time) {
	if s.primary == nil {
		return
	}
	s.primary.core().Close()
	if s.primarySource != nil {
		s.primarySource.Deactivate()
		s.mixer.RemoveSource(s.primarySource.ID())
	}
	if !s.playStart.IsZero() {
		s.metrics.RecordPlaybackDuration(now.Sub(s.playStart))
		s.playStart = time.Time{}
	}
	s.primary = nil
	s.primarySource = nil
}

func (s *Supervisor) closeShadow() {
	if s.shadow == nil {
		return
	}
	s.shadow.Close(s.mixer)
	s.shadow = nil
}

func (s *Supervisor) teardownAll(now time.Time) {
	s.closeShadow()
	s.teardownPrimary(now)
	s.plan = nil
}

func (s *Supervisor) setSpeed(speed float64) {
	if s.primary != nil {
		s.primary.setSpeed(speed)
	}
	if s.shadow != nil {
		s.shadow.pipeline.setSpeed(speed)
	}
}

// enterScrub stops the pipelines and serves frames on demand
func (s *Supervisor) enterScrub(src decoder.SourceHandle, t float64, now time.Time) {
	if !s.scrubbing {
		s.teardownAll(now)
		s.bucketer.Reset()
		s.scrubbing = true
		s.ended = false
	}
	s.source = src
	s.target = t
	s.lastSourceTime = t
	s.requestFrame(src, t, true)
}

func (s *Supervisor) enterEnded(src decoder.SourceHandle, t float64, dir Direction, now time.Time) {
	s.source = src
	s.direction = dir
	s.target = t
	s.ended = true
	s.scrubbing = false
	s.logger.Info("Reached end of sequence", map[string]interface{}{
		"source_id": src.ID,
		"direction": dir.String(),
	})
}

// requestFrame serves the frame of src at t from the cache or asks the
// fallback worker for it. Cache hits become the pending frame when show is set.
func (s *Supervisor) requestFrame(src decoder.SourceHandle, t float64, show bool) *DisplayFrame {
	if f, ok := s.cache.GetAt(src.ID, t); ok {
		d := s.display(src, f, t, true)
		if show {
			s.pending = d
		}
		return d
	}
	if !s.bucketer.Admit(VideoDecode, src.ID, t) {
		return nil
	}
	if err := s.fallback.Request(FallbackRequest{Source: src, Time: t}); err != nil {
		s.logger.Warn("Failed to queue fallback decode", map[string]interface{}{
			"source_id": src.ID,
			"time":      t,
			"error":     err.Error(),
		})
	}
	return nil
}

// Scrub shows the frame of src at t and plays a short audio snippet
func (s *Supervisor) Scrub(src decoder.SourceHandle, t float64) error {
	if src.ID == "" {
		return ErrNoSource
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrEngineClosed
	}

	now := s.clock.Now()
	s.enterScrub(src, t, now)
	s.intent = PlaybackIntent{Source: src, TargetTime: t, Speed: 0, Direction: Forward}
	s.hasIntent = true
	s.failed = nil
	if s.bucketer.Admit(ScrubAudio, src.ID, t) {
		if err := s.preview.Request(PreviewRequest{Source: src, Time: t, Class: ScrubAudio}); err != nil {
			return err
		}
	}
	s.publishStatus(now)
	return nil
}

// Hover plays a snippet of src at t without changing playback
func (s *Supervisor) Hover(src decoder.SourceHandle, t float64) error {
	if src.ID == "" {
		return ErrNoSource
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrEngineClosed
	}
	if !s.bucketer.Admit(HoverAudio, src.ID, t) {
		return nil
	}
	return s.preview.Request(PreviewRequest{Source: src, Time: t, Class: HoverAudio})
}

// Stop tears everything down and clears the screen
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := s.clock.Now()
	s.teardownAll(now)
	s.preview.Silence()
	s.previewSource.Deactivate()
	s.bucketer.Reset()
	s.rewind.Clear()
	s.scrubbing = false
	s.ended = false
	s.hasIntent = false
	s.intent = PlaybackIntent{}
	s.failed = nil
	s.current = nil
	s.pending = nil
	s.publishStatus(now)
	s.logger.Info("Playback stopped", nil)
}

// PollFrame runs one supervisor cycle and returns the newest frame to show
func (s *Supervisor) PollFrame() (*DisplayFrame, bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}

	now := s.clock.Now()
	out := s.pending
	s.pending = nil

	if s.primary != nil {
		if d, ok := s.primary.Poll(); ok {
			out = s.acceptPrimary(d, now)
		}
	}
	if s.shadow != nil {
		s.shadow.Poll()
	}
	s.checkOpen(now)

	if s.primary != nil && s.atBoundary(now) {
		if f := s.crossBoundary(now); f != nil {
			out = f
		}
	}

	s.manageShadow(now)

	if f := s.pollFallback(); f != nil && out == nil {
		out = f
	}

	s.mixer.MixTick()

	if s.primary != nil && !s.primary.finished() {
		s.evaluateStall(now)
	}
	if s.plan != nil && !now.Before(s.plan.at) {
		s.launchRestart(now)
	}
	s.checkStartup(now)

	s.publishStatus(now)
	if out == nil {
		return nil, false
	}
	s.current = out
	return out, true
}

// checkOpen restarts a primary whose background open failed. Shadow open
// failures are picked up by manageShadow.
func (s *Supervisor) checkOpen(now time.Time) {
	if s.primary == nil || s.plan != nil || !s.primary.core().OpenFailed() {
		return
	}
	err := s.primary.core().Err()
	s.teardownPrimary(now)
	s.scheduleRestart(err, now)
}

// acceptPrimary calibrates, caches and converts a delivery of the primary
func (s *Supervisor) acceptPrimary(d Delivery, now time.Time) *DisplayFrame {
	key := calibrationKey{pipeline: s.primary.core().ID(), generation: d.Generation}
	if key != s.calKey {
		s.cal.Reset(s.expectedStart(d.Target))
		s.cal.Observe(d.Landing)
		s.calKey = key
	}
	srcTime := s.cal.Map(d.Frame.PTS)

	action, episode := s.stall.FrameDelivered(now)
	if action.Has(ActionResumeClock) {
		s.primary.resumeClock(now)
	}
	if episode != nil {
		s.recordStall(*episode)
	}

	if !s.delivered {
		s.delivered = true
		if s.measureStartup {
			s.metrics.RecordStartupTime(now.Sub(s.startedAt))
		}
		if s.playStart.IsZero() {
			s.playStart = now
		}
		s.intentAt = time.Time{}
	}
	s.restarts = 0
	s.lastErr = nil

	s.cache.PutAt(s.source.ID, srcTime, d.Frame)
	if s.direction == Forward {
		s.rewind.Push(s.source.ID, srcTime, d.Frame)
	}
	s.lastSourceTime = srcTime
	return s.display(s.source, d.Frame, srcTime, false)
}

// expectedStart is the source time the first frame of a generation started
// at target stands for
func (s *Supervisor) expectedStart(target float64) float64 {
	if s.direction == Reverse && s.source.Duration > 0 {
		if last := s.source.Duration - s.source.FrameDuration(); target > last {
			return math.Max(0, last)
		}
	}
	return target
}

func (s *Supervisor) display(src decoder.SourceHandle, f *decoder.Frame, srcTime float64, fallback bool) *DisplayFrame {
	timeline := srcTime
	if s.seq != nil {
		if offset, ok := s.seq.Offset(src.ID); ok {
			timeline += offset
		}
	}
	return &DisplayFrame{
		SourceID:     src.ID,
		Pixels:       f.Pixels,
		Width:        f.Width,
		Height:       f.Height,
		SourceTime:   srcTime,
		TimelineTime: timeline,
		Fallback:     fallback,
	}
}

// playheadSource returns the primary's playhead in source time
func (s *Supervisor) playheadSource(now time.Time) (float64, bool) {
	if s.primary == nil || !s.cal.Calibrated() {
		return 0, false
	}
	ph, ok := s.primary.playhead(now)
	if !ok {
		return 0, false
	}
	return s.cal.Map(ph), true
}

// atBoundary reports whether playback has run off the end of the source (or
// the start, in reverse)
func (s *Supervisor) atBoundary(now time.Time) bool {
	ph, ok := s.playheadSource(now)
	if s.direction == Reverse {
		if ok && s.delivered && ph <= -s.cfg.Pipeline.ReverseBoundary.Seconds() {
			return true
		}
		if !s.primary.finished() {
			return false
		}
		return !ok || ph <= boundaryEpsilon-s.source.FrameDuration()
	}

	if !s.primary.finished() {
		return false
	}
	if !ok || s.source.Duration <= 0 {
		return true
	}
	return ph >= s.source.Duration-boundaryEpsilon
}

func (s *Supervisor) nextSource(id string) (decoder.SourceHandle, bool) {
	if s.seq == nil {
		return decoder.SourceHandle{}, false
	}
	if next, ok := s.seq.Next(id); ok {
		return next, true
	}
	if s.cfg.Pipeline.EndPolicy == EndPolicyLoop {
		return s.seq.First()
	}
	return decoder.SourceHandle{}, false
}

func (s *Supervisor) previousSource(id string) (decoder.SourceHandle, bool) {
	if s.seq == nil {
		return decoder.SourceHandle{}, false
	}
	return s.seq.Previous(id)
}

// crossBoundary moves playback to the adjacent source, gaplessly when the
// shadow holds it
func (s *Supervisor) crossBoundary(now time.Time) *DisplayFrame {
	dir := s.direction
	var next decoder.SourceHandle
	var ok bool
	var target float64
	if dir == Forward {
		next, ok = s.nextSource(s.source.ID)
	} else {
		next, ok = s.previousSource(s.source.ID)
		target = next.Duration
	}

	if !ok {
		end := s.source.Duration
		if dir == Reverse {
			end = 0
		}
		src := s.source
		s.teardownAll(now)
		s.enterEnded(src, end, dir, now)
		return nil
	}

	s.logger.Debug("Crossing source boundary", map[string]interface{}{
		"from":      s.source.ID,
		"to":        next.ID,
		"direction": dir.String(),
	})
	s.intent.Source = next
	s.intent.TargetTime = target

	if s.shadow != nil && s.shadow.Ready() && s.shadow.matches(next, target, dir) {
		return s.promoteShadow(now)
	}

	s.closeShadow()
	pp, ms, err := s.startPipeline(next, target, dir, s.intent.Speed, false, true)
	s.teardownPrimary(now)
	if err != nil {
		s.source = next
		s.target = target
		s.lastSourceTime = target
		s.delivered = false
		s.scheduleRestart(err, now)
		return nil
	}
	s.installPrimary(pp, ms, next, target, dir, now, true)
	s.metrics.RecordPromotion(false)
	return nil
}

// promoteShadow makes the shadow primary and returns its buffered frame
func (s *Supervisor) promoteShadow(now time.Time) *DisplayFrame {
	sh := s.shadow
	s.shadow = nil

	s.teardownPrimary(now)
	s.installPrimary(sh.pipeline, sh.mixerSource, sh.source, sh.target, sh.Direction(), now, false)
	s.ended = false
	s.plan = nil
	sh.pipeline.beginPlaying()
	if sh.mixerSource != nil {
		sh.mixerSource.Activate()
	}
	s.metrics.RecordPromotion(true)

	s.logger.Info("Promoted shadow pipeline", map[string]interface{}{
		"source_id":   sh.source.ID,
		"pipeline_id": sh.ID(),
		"direction":   sh.Direction().String(),
	})
	return s.acceptPrimary(*sh.first, now)
}

// manageShadow starts the shadow for the adjacent source once the playhead
// is within the lookahead of the boundary
func (s *Supervisor) manageShadow(now time.Time) {
	if s.shadow != nil {
		if s.shadow.Failed() {
			s.logger.Warn("Shadow pipeline failed", map[string]interface{}{
				"source_id": s.shadow.Source().ID,
				"error":     s.shadow.pipeline.core().Err().Error(),
			})
			s.closeShadow()
			s.shadowRetryAt = now.Add(shadowRetry)
		}
		return
	}
	if s.primary == nil || !s.delivered || now.Before(s.shadowRetryAt) {
		return
	}
	ph, ok := s.playheadSource(now)
	if !ok {
		return
	}

	speed := s.intent.Speed
	if speed <= 0 {
		return
	}
	lookahead := s.cfg.Pipeline.ShadowLookahead.Seconds()

	var next decoder.SourceHandle
	var target float64
	if s.direction == Forward {
		if s.source.Duration <= 0 || (s.source.Duration-ph)/speed >= lookahead {
			return
		}
		if next, ok = s.nextSource(s.source.ID); !ok {
			return
		}
	} else {
		if ph/speed >= lookahead {
			return
		}
		if next, ok = s.previousSource(s.source.ID); !ok {
			return
		}
		target = next.Duration
	}

	pp, ms, err := s.startPipeline(next, target, s.direction, speed, true, true)
	if err != nil {
		s.logger.Warn("Failed to start shadow pipeline", map[string]interface{}{
			"source_id": next.ID,
			"error":     err.Error(),
		})
		s.shadowRetryAt = now.Add(shadowRetry)
		return
	}
	s.shadow = newShadowPipeline(pp, next, target, ms, now)
	s.logger.Debug("Shadow pipeline started", map[string]interface{}{
		"source_id":   next.ID,
		"pipeline_id": s.shadow.ID(),
		"playhead":    ph,
	})
}

// pollFallback applies a finished fallback decode
func (s *Supervisor) pollFallback() *DisplayFrame {
	r, ok := s.fallback.Poll()
	if !ok {
		return nil
	}
	if r.Err != nil {
		s.logger.Debug("Fallback decode failed", map[string]interface{}{
			"source_id": r.Source.ID,
			"time":      r.Time,
			"error":     r.Err.Error(),
		})
		return nil
	}
	s.cache.PutAt(r.Source.ID, r.Time, r.Frame)
	if r.Source.ID != s.source.ID {
		return nil
	}

	if s.scrubbing {
		s.lastSourceTime = r.Time
		return s.display(r.Source, r.Frame, r.Time, true)
	}
	if s.primary != nil && s.stall.State().Kind != StallFresh && !s.stall.FallbackSuppressed() {
		s.metrics.RecordFallbackFrame()
		return s.display(r.Source, r.Frame, r.Time, true)
	}
	return nil
}

func (s *Supervisor) evaluateStall(now time.Time) {
	action := s.stall.Evaluate(now)
	if action == 0 {
		return
	}
	if action.Has(ActionPauseClock) {
		s.primary.core().PauseClock(now)
		s.logger.Debug("Pipeline stalled, clock paused", map[string]interface{}{
			"source_id": s.source.ID,
			"since":     s.stall.SinceLastFrame(now).String(),
		})
	}
	if action.Has(ActionIssueFallback) {
		t := s.lastSourceTime
		if ph, ok := s.playheadSource(now); ok {
			t = ph
		}
		if d := s.requestFrame(s.source, t, false); d != nil && !s.stall.FallbackSuppressed() {
			s.metrics.RecordFallbackFrame()
			s.pending = d
		}
	}
	if action.Has(ActionRestart) && s.plan == nil {
		cause := s.primary.core().Err()
		if cause == nil {
			if s.delivered {
				cause = fmt.Errorf("%w: no frame for %s", ErrPipelineStalled, FormatDuration(s.stall.SinceLastFrame(now)))
			} else {
				cause = fmt.Errorf("%w: no first frame after %s", ErrStartupTimeout, FormatDuration(now.Sub(s.startedAt)))
			}
		}
		s.teardownPrimary(now)
		s.scheduleRestart(cause, now)
	}
}

// scheduleRestart plans a restart from the last shown position, immediately
// for the first attempt and with backoff after that
func (s *Supervisor) scheduleRestart(cause error, now time.Time) {
	s.restarts++
	s.totalRestarts++
	s.lastErr = cause
	s.metrics.RecordError(ClassifyError(cause))

	retry, delay := s.errs.HandleError(cause, "restart")
	if !retry || s.restarts > s.cfg.Retry.MaxRetries {
		s.metrics.RecordRestart(false)
		if retry {
			cause = CreateMaxRetriesError(cause, s.restarts-1)
		}
		s.fail(cause, now)
		return
	}
	if s.restarts == 1 {
		delay = 0
	} else if d, ok := s.errs.(retryDelayer); ok {
		delay = d.GetRetryDelay(s.restarts - 1)
	}

	target := s.lastSourceTime
	if !s.delivered {
		target = s.target
	}
	s.stall.BeginRestart(now)
	s.plan = &restartPlan{
		source:    s.source,
		target:    target,
		direction: s.direction,
		at:        now.Add(delay),
	}
	s.logger.Warn("Restarting pipeline", map[string]interface{}{
		"source_id": s.source.ID,
		"target":    target,
		"attempt":   s.restarts,
		"delay":     delay.String(),
		"cause":     cause.Error(),
	})
}

func (s *Supervisor) launchRestart(now time.Time) {
	plan := s.plan
	s.plan = nil

	pp, ms, err := s.startPipeline(plan.source, plan.target, plan.direction, s.intent.Speed, false, true)
	if err != nil {
		s.scheduleRestart(err, now)
		return
	}
	s.metrics.RecordRestart(true)
	s.primary = pp
	s.primarySource = ms
	s.source = plan.source
	s.direction = plan.direction
	s.target = plan.target
	s.calKey = calibrationKey{}
	s.startedAt = now
	s.measureStartup = false
	s.delivered = false
	s.stall.BeginRestart(now)
}

// checkStartup fails playback that has not shown a frame within the startup
// timeout of the intent
func (s *Supervisor) checkStartup(now time.Time) {
	timeout := s.cfg.Pipeline.StartupTimeout
	if timeout <= 0 || s.delivered || s.failed != nil || s.intentAt.IsZero() {
		return
	}
	if s.primary == nil && s.plan == nil {
		return
	}
	if now.Sub(s.intentAt) < timeout {
		return
	}
	err := fmt.Errorf("%w: no frame within %s", ErrStartupTimeout, FormatDuration(timeout))
	if s.lastErr != nil {
		err = fmt.Errorf("%w: %v", err, s.lastErr)
	}
	s.errs.LogError(err, "startup")
	s.fail(err, now)
}

func (s *Supervisor) fail(err error, now time.Time) {
	s.teardownAll(now)
	s.failed = err
	s.intentAt = time.Time{}
	s.logger.Error("Playback failed", err, map[string]interface{}{
		"source_id": s.source.ID,
		"restarts":  s.restarts,
	})
}

func (s *Supervisor) recordStall(episode StallEpisode) {
	s.metrics.RecordStall(episode.Duration, episode.Peak)
	pipelineID := ""
	if s.primary != nil {
		pipelineID = s.primary.core().ID()
	}
	if err := s.repo.SaveStallEvent(CreateStallEvent(s.sessionID, s.source.ID, pipelineID, episode)); err != nil {
		s.logger.Debug("Failed to save stall event", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.logger.Info("Stall recovered", map[string]interface{}{
		"source_id": s.source.ID,
		"duration":  FormatDuration(episode.Duration),
		"peak":      episode.Peak.String(),
	})
}

func (s *Supervisor) engineState() EngineState {
	switch {
	case s.failed != nil:
		return EngineFailed
	case s.ended:
		return EngineEnded
	case s.scrubbing:
		return EnginePaused
	case !s.hasIntent:
		return EngineIdle
	case s.plan != nil:
		return EngineRestarting
	case s.primary == nil:
		return EngineIdle
	}
	switch s.stall.State().Kind {
	case StallStalled:
		return EngineBuffering
	case StallRecovering:
		return EngineRecovering
	case StallRestarting:
		return EngineRestarting
	}
	if !s.delivered {
		return EngineStarting
	}
	return EnginePlaying
}

func (s *Supervisor) publishStatus(now time.Time) {
	status := &PipelineStatus{
		State:      s.engineState(),
		Stall:      s.stall.State(),
		Direction:  s.direction,
		Speed:      s.intent.Speed,
		SourceID:   s.source.ID,
		SourceTime: s.lastSourceTime,
		Restarts:   s.totalRestarts,
		UpdatedAt:  now,
	}
	status.TimelineTime = status.SourceTime
	if s.seq != nil && s.source.ID != "" {
		if offset, ok := s.seq.Offset(s.source.ID); ok {
			status.TimelineTime += offset
		}
	}
	if s.primary != nil {
		status.PrimaryID = s.primary.core().ID()
		status.PrimaryState = s.primary.core().State().String()
	}
	if s.shadow != nil {
		status.ShadowID = s.shadow.ID()
		status.ShadowSourceID = s.shadow.Source().ID
		status.ShadowReady = s.shadow.Ready()
	}
	if s.failed != nil {
		status.Error = s.failed.Error()
	} else if s.lastErr != nil {
		status.Error = s.lastErr.Error()
	}
	s.status.Store(status)
}

// PollStatus returns the status published by the last cycle
func (s *Supervisor) PollStatus() PipelineStatus {
	if status := s.status.Load(); status != nil {
		return *status
	}
	return PipelineStatus{}
}

// PullSamples fills dst with interleaved mixed audio. It is lock-free and
// meant for the audio device goroutine.
func (s *Supervisor) PullSamples(dst []float32) int {
	return s.mixer.PullInterleaved(dst, s.channels)
}

// AttachAudioDevice starts dev pulling from the mixer. When no device is
// available playback continues silently.
func (s *Supervisor) AttachAudioDevice(dev mixer.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrEngineClosed
	}
	if err := dev.Start(s.PullSamples); err != nil {
		if errors.Is(err, mixer.ErrDeviceUnavailable) {
			s.audioOK = false
			s.logger.Warn("Audio device unavailable, continuing without audio", nil)
			return nil
		}
		return fmt.Errorf("failed to start audio device: %w", err)
	}
	s.device = dev
	s.audioOK = s.cfg.Mixer.Enabled
	return nil
}

// CurrentFrame returns the frame returned by the last PollFrame that had one
func (s *Supervisor) CurrentFrame() *DisplayFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CacheStats returns the frame cache counters
func (s *Supervisor) CacheStats() CacheStats {
	return s.cache.Stats()
}

// MixerStats returns the mixer counters
func (s *Supervisor) MixerStats() mixer.Stats {
	return s.mixer.Stats()
}

// Metrics returns the metrics collector
func (s *Supervisor) Metrics() MetricsCollector {
	return s.metrics
}

// Close stops every pipeline and worker. It is safe to call more than once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	now := s.clock.Now()

	var waits []*pipelineCore
	if s.primary != nil {
		waits = append(waits, s.primary.core())
	}
	if s.shadow != nil {
		waits = append(waits, s.shadow.pipeline.core())
	}
	s.teardownAll(now)
	device := s.device
	s.device = nil
	s.mu.Unlock()

	for _, c := range waits {
		select {
		case <-c.Done():
		case <-time.After(closeTimeout):
			s.logger.Warn("Pipeline did not terminate in time", map[string]interface{}{
				"pipeline_id": c.ID(),
			})
		}
	}

	s.fallback.Close()
	s.preview.Close()
	s.pool.Release()
	s.cancel()
	s.mixer.Clear()

	var err error
	if device != nil {
		err = device.Close()
	}
	s.logger.Info("Supervisor closed", CreateContextFieldsWithComponent(s.sessionID, "", "", "supervisor"))
	return err
}
