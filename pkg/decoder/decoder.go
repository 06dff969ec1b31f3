// Package decoder defines the external decode capability used by the playback
// engine and provides two implementations: an ffmpeg subprocess decoder for real
// media files and a deterministic synthetic decoder.
package decoder

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceOpenFailed is returned when a source cannot be opened
	ErrSourceOpenFailed = errors.New("source open failed")
	// ErrSeekUnsupported is returned by sources that cannot reposition
	ErrSeekUnsupported = errors.New("seek unsupported")
	// ErrCorruptTimestamps is returned when timestamps never advance past a seek target
	ErrCorruptTimestamps = errors.New("corrupt timestamps")
	// ErrEndOfStream marks the end of a decode session
	ErrEndOfStream = errors.New("end of stream")
)

// DecodeError carries the operation and source for a decode failure
type DecodeError struct {
	Op     string
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoder %s %s: %v", e.Op, e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(op, source string, err error) error {
	return &DecodeError{Op: op, Source: source, Err: err}
}

// SourceHandle describes one media source. It is immutable once created.
type SourceHandle struct {
	ID        string
	Path      string
	Duration  float64 // seconds
	StartTime float64 // container start time in seconds
	Codec     string
	Width     int
	Height    int
	FrameRate float64
	HasAudio  bool
}

// FrameDuration returns the nominal duration of one frame in seconds
func (s SourceHandle) FrameDuration() float64 {
	if s.FrameRate <= 0 {
		return 1.0 / 30.0
	}
	return 1.0 / s.FrameRate
}

// Frame is a decoded RGBA video frame. The receiver of a Frame owns Pixels.
type Frame struct {
	PTS    float64
	Width  int
	Height int
	Pixels []byte
	// Keyframe is set when the frame starts a group of pictures
	Keyframe bool
}

// AudioSamples is a chunk of decoded float32 PCM
type AudioSamples struct {
	PTS        float64
	SampleRate int
	Channels   int
	Data       []float32
}

// Duration returns the chunk duration in seconds
func (a *AudioSamples) Duration() float64 {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	return float64(len(a.Data)/a.Channels) / float64(a.SampleRate)
}

// Unit is a single decode result: exactly one of Video or Audio is set
type Unit struct {
	Video *Frame
	Audio *AudioSamples
}

// Session is an open decode session on one source. A Session is used by a
// single goroutine.
type Session interface {
	// Seek repositions to the nearest keyframe at or before t (seconds from
	// source start). Subsequent DecodeNext calls continue from there.
	Seek(t float64) error
	// DecodeNext returns the next decoded unit or ErrEndOfStream
	DecodeNext() (Unit, error)
	Close() error
}

// Decoder opens decode sessions
type Decoder interface {
	Open(ctx context.Context, src SourceHandle) (Session, error)
}
