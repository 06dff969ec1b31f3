package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"github.com/latoulicious/reelcore/pkg/mixer"
	"github.com/panjf2000/ants/v2"
)

const (
	scrubSnippet = 100 * time.Millisecond
	hoverSnippet = 500 * time.Millisecond
	previewFade  = 5 * time.Millisecond
	// previewScan bounds the units read while looking for snippet audio
	previewScan = 2000
)

// PreviewRequest asks for a short audio snippet of Source starting at Time
type PreviewRequest struct {
	Source decoder.SourceHandle
	Time   float64
	Class  RequestClass
}

func (r PreviewRequest) length() time.Duration {
	if r.Class == HoverAudio {
		return hoverSnippet
	}
	return scrubSnippet
}

// AudioPreviewWorker plays scrub and hover snippets. Each snippet is decoded
// into a fresh ring that replaces the ring of a dedicated mixer source.
type AudioPreviewWorker struct {
	dec    decoder.Decoder
	pool   *ants.Pool
	source *mixer.Source
	rate   int
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pending atomic.Pointer[PreviewRequest]
	running atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup

	played atomic.Uint64
}

// NewAudioPreviewWorker creates a worker writing into source at rate
func NewAudioPreviewWorker(dec decoder.Decoder, pool *ants.Pool, source *mixer.Source, rate int, logger logging.Logger) *AudioPreviewWorker {
	if rate <= 0 {
		rate = mixer.DefaultSampleRate
	}
	if logger == nil {
		logger = logging.GetGlobalLoggerFactory().CreateLogger("engine").WithPipeline("preview")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AudioPreviewWorker{
		dec:    dec,
		pool:   pool,
		source: source,
		rate:   rate,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Request queues req, replacing any request not yet started
func (w *AudioPreviewWorker) Request(req PreviewRequest) error {
	if w.closed.Load() {
		return ErrEngineClosed
	}
	if w.source == nil {
		return nil
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
			return nil
		}
		return fmt.Errorf("failed to submit audio preview: %w", err)
	}
	return nil
}

// Played returns the number of snippets swapped in
func (w *AudioPreviewWorker) Played() uint64 {
	return w.played.Load()
}

// Silence drops whatever is left of the current snippet
func (w *AudioPreviewWorker) Silence() {
	if w.source != nil {
		w.source.Reset()
	}
}

// Close waits for the running snippet and stops the worker
func (w *AudioPreviewWorker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.cancel()
	w.wg.Wait()
}

func (w *AudioPreviewWorker) drain() {
	defer w.wg.Done()
	for {
		req := w.pending.Swap(nil)
		if req == nil {
			w.running.Store(false)
			if w.pending.Load() != nil && w.running.CompareAndSwap(false, true) {
				continue
			}
			return
		}
		if w.ctx.Err() != nil {
			w.running.Store(false)
			return
		}

		samples, err := w.snippet(*req)
		if err != nil {
			w.logger.Debug("Audio preview failed", map[string]interface{}{
				"source_id": req.Source.ID,
				"time":      req.Time,
				"class":     req.Class.String(),
				"error":     err.Error(),
			})
			continue
		}
		if len(samples) == 0 {
			continue
		}

		fadeEdges(samples, int(previewFade.Seconds()*float64(w.rate)))
		ring := mixer.NewRing(len(samples))
		ring.Push(samples)
		w.source.SwapBuffer(ring)
		w.source.Activate()
		w.played.Add(1)
	}
}

// snippet decodes req.length() of mono audio at req.Time
func (w *AudioPreviewWorker) snippet(req PreviewRequest) ([]float32, error) {
	session, err := w.dec.Open(w.ctx, req.Source)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Seek(req.Time); err != nil && !errors.Is(err, decoder.ErrSeekUnsupported) {
		return nil, err
	}

	want := int(req.length().Seconds() * float64(w.rate))
	start := req.Source.StartTime + req.Time
	out := make([]float32, 0, want)

	for i := 0; i < previewScan && len(out) < want; i++ {
		if w.ctx.Err() != nil {
			return nil, w.ctx.Err()
		}
		unit, err := session.DecodeNext()
		if err != nil {
			if errors.Is(err, decoder.ErrEndOfStream) {
				break
			}
			return nil, err
		}
		if unit.Audio == nil {
			continue
		}
		chunk := unit.Audio
		if chunk.PTS+chunk.Duration() <= start {
			continue
		}
		mono := resampleMono(chunk, w.rate)
		if skip := int((start - chunk.PTS) * float64(w.rate)); skip > 0 {
			if skip >= len(mono) {
				continue
			}
			mono = mono[skip:]
		}
		out = append(out, mono...)
	}

	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
