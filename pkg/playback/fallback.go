package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"github.com/panjf2000/ants/v2"
)

// sequentialWindow is how far ahead of the last decoded frame a request may
// be and still be served by decoding on instead of seeking
const sequentialWindow = 0.2

// FallbackRequest asks for the single frame of Source at Time (seconds from
// source start)
type FallbackRequest struct {
	Source decoder.SourceHandle
	Time   float64
}

// FallbackResult is the answer to a FallbackRequest
type FallbackResult struct {
	Source decoder.SourceHandle
	Time   float64
	Frame  *decoder.Frame
	Err    error
}

type fallbackSession struct {
	session decoder.Session
	// last is the source time of the last frame decoded from session
	last  float64
	valid bool
}

// FallbackWorker decodes single frames off the consumer goroutine. Requests
// run on a shared ants pool; only the newest pending request is served.
type FallbackWorker struct {
	dec    decoder.Decoder
	pool   *ants.Pool
	cfg    PipelineConfig
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sessMu   sync.Mutex
	sessions *lru.Cache[string, *fallbackSession]

	pending atomic.Pointer[FallbackRequest]
	running atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup

	results chan FallbackResult
	served  atomic.Uint64
}

// NewFallbackWorker creates a worker keeping up to sessions decoder sessions
// open
func NewFallbackWorker(dec decoder.Decoder, pool *ants.Pool, sessions int, cfg PipelineConfig, logger logging.Logger) (*FallbackWorker, error) {
	if pool == nil {
		return nil, fmt.Errorf("fallback worker requires a pool")
	}
	if sessions <= 0 {
		sessions = 4
	}
	if logger == nil {
		logger = logging.GetGlobalLoggerFactory().CreateLogger("engine").WithPipeline("fallback")
	}

	cache, err := lru.NewWithEvict[string, *fallbackSession](sessions, func(sourceID string, s *fallbackSession) {
		if err := s.session.Close(); err != nil {
			logger.Debug("Failed to close fallback session", map[string]interface{}{
				"source_id": sourceID,
				"error":     err.Error(),
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FallbackWorker{
		dec:      dec,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: cache,
		results:  make(chan FallbackResult, 4),
	}, nil
}

// Request queues req, replacing any request not yet started
func (w *FallbackWorker) Request(req FallbackRequest) error {
	if w.closed.Load() {
		return ErrEngineClosed
	}
	w.pending.Store(&req)
	if !w.running.CompareAndSwap(false, true) {
		return nil
	}

	w.wg.Add(1)
	if err := w.pool.Submit(w.drain); err != nil {
		w.wg.Done()
		w.running.Store(false)
		if errors.Is(err, ants.ErrPoolOverload) {
			// the next request retries
			return nil
		}
		return fmt.Errorf("failed to submit fallback decode: %w", err)
	}
	return nil
}

// Poll returns the newest finished result without blocking
func (w *FallbackWorker) Poll() (FallbackResult, bool) {
	var latest FallbackResult
	found := false
	for {
		select {
		case r := <-w.results:
			latest, found = r, true
		default:
			return latest, found
		}
	}
}

// Served returns the number of requests decoded
func (w *FallbackWorker) Served() uint64 {
	return w.served.Load()
}

// SessionCount returns the number of open decoder sessions
func (w *FallbackWorker) SessionCount() int {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()
	return w.sessions.Len()
}

// Close stops accepting requests, waits for the running decode and closes
// every session
func (w *FallbackWorker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.cancel()
	w.wg.Wait()

	w.sessMu.Lock()
	w.sessions.Purge()
	w.sessMu.Unlock()
}

func (w *FallbackWorker) drain() {
	defer w.wg.Done()
	for {
		req := w.pending.Swap(nil)
		if req == nil {
			w.running.Store(false)
			// a request stored after the swap but before the flag cleared
			if w.pending.Load() != nil && w.running.CompareAndSwap(false, true) {
				continue
			}
			return
		}
		if w.ctx.Err() != nil {
			w.running.Store(false)
			return
		}

		frame, err := w.decode(*req)
		w.served.Add(1)
		w.publish(FallbackResult{Source: req.Source, Time: req.Time, Frame: frame, Err: err})
	}
}

// publish hands r to the consumer, dropping the oldest result when full
func (w *FallbackWorker) publish(r FallbackResult) {
	for {
		select {
		case w.results <- r:
			return
		default:
			select {
			case <-w.results:
			default:
			}
		}
	}
}

func (w *FallbackWorker) decode(req FallbackRequest) (*decoder.Frame, error) {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()

	fs, ok := w.sessions.Get(req.Source.ID)
	if !ok {
		session, err := w.dec.Open(w.ctx, req.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to open fallback session: %w", err)
		}
		fs = &fallbackSession{session: session}
		w.sessions.Add(req.Source.ID, fs)
	}

	ahead := req.Time - fs.last
	if !fs.valid || ahead <= 0 || ahead >= sequentialWindow {
		if err := fs.session.Seek(req.Time); err != nil && !errors.Is(err, decoder.ErrSeekUnsupported) {
			w.sessions.Remove(req.Source.ID)
			return nil, fmt.Errorf("failed to seek fallback session: %w", err)
		} else if err != nil {
			// reopen from the start
			w.sessions.Remove(req.Source.ID)
			session, err := w.dec.Open(w.ctx, req.Source)
			if err != nil {
				return nil, fmt.Errorf("failed to reopen fallback session: %w", err)
			}
			fs = &fallbackSession{session: session}
			w.sessions.Add(req.Source.ID, fs)
		}
	}

	res, err := decodeForward(fs.session, req.Source, req.Time, w.cfg.DecodeForwardBudget, w.cfg.NonAdvancingLimit)
	if err != nil && !(errors.Is(err, decoder.ErrCorruptTimestamps) && res.frame != nil) {
		w.sessions.Remove(req.Source.ID)
		return nil, err
	}
	if err != nil {
		w.logger.Warn("Fallback decode hit non-advancing timestamps", map[string]interface{}{
			"source_id": req.Source.ID,
			"time":      req.Time,
		})
	}

	fs.last = res.frame.PTS - req.Source.StartTime
	fs.valid = true
	return scaleFrame(res.frame, w.cfg.TargetWidth, w.cfg.TargetHeight), nil
}
