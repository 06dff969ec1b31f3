package mixer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// ErrDeviceUnavailable is returned when no audio output can be opened
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// PullFunc fills dst with interleaved samples and returns the real frame count
type PullFunc func(dst []float32) int

// Device is an audio output that pulls mixed samples on its own schedule
type Device interface {
	Start(pull PullFunc) error
	Close() error
}

// WriterDevice pulls one period of audio on a ticker and writes it to w as
// interleaved little-endian float32.
type WriterDevice struct {
	w          io.Writer
	sampleRate int
	channels   int
	period     time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
	err     error
}

// NewWriterDevice creates a device writing raw PCM to w
func NewWriterDevice(w io.Writer, sampleRate, channels int, period time.Duration) *WriterDevice {
	if channels < 1 {
		channels = 1
	}
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return &WriterDevice{
		w:          w,
		sampleRate: sampleRate,
		channels:   channels,
		period:     period,
	}
}

// Start begins pulling. It fails with ErrDeviceUnavailable when there is no writer.
func (d *WriterDevice) Start(pull PullFunc) error {
	if d.w == nil || d.sampleRate <= 0 {
		return ErrDeviceUnavailable
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("device already started")
	}
	d.running = true
	d.stop = make(chan struct{})

	frames := int(math.Round(float64(d.sampleRate) * d.period.Seconds()))
	buf := make([]float32, frames*d.channels)
	raw := make([]byte, len(buf)*4)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.period)
		defer ticker.Stop()

		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				pull(buf)
				for i, v := range buf {
					binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
				}
				if _, err := d.w.Write(raw); err != nil {
					d.mu.Lock()
					d.err = err
					d.mu.Unlock()
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the pull loop and returns the first write error, if any
func (d *WriterDevice) Close() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
