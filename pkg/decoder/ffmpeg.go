package decoder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/latoulicious/reelcore/pkg/logging"
)

// FFmpegOptions configures the ffmpeg subprocess decoder
type FFmpegOptions struct {
	BinaryPath     string
	Width          int // output width, zero keeps the source width
	Height         int // output height, zero keeps the source height
	SampleRate     int
	AudioChunk     int // samples per decoded audio unit
	ExtraArgs      []string
	StopTimeout    time.Duration
	MaxStderrLines int
}

func (o FFmpegOptions) withDefaults() FFmpegOptions {
	if o.BinaryPath == "" {
		o.BinaryPath = "ffmpeg"
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.AudioChunk <= 0 {
		o.AudioChunk = 1024
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.MaxStderrLines <= 0 {
		o.MaxStderrLines = 50
	}
	return o
}

// FFmpegDecoder decodes sources by running ffmpeg subprocesses that emit raw
// RGBA video and float32 PCM on stdout.
type FFmpegDecoder struct {
	opts   FFmpegOptions
	logger logging.Logger
}

// NewFFmpegDecoder creates a new FFmpegDecoder
func NewFFmpegDecoder(opts FFmpegOptions, logger logging.Logger) *FFmpegDecoder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FFmpegDecoder{
		opts:   opts.withDefaults(),
		logger: logger.WithPipeline("ffmpeg"),
	}
}

// Open starts decoding src from its beginning
func (d *FFmpegDecoder) Open(ctx context.Context, src SourceHandle) (Session, error) {
	if src.Path == "" {
		return nil, newDecodeError("open", src.ID, fmt.Errorf("%w: empty path", ErrSourceOpenFailed))
	}
	if isLocalPath(src.Path) {
		if _, err := os.Stat(src.Path); err != nil {
			return nil, newDecodeError("open", src.ID, fmt.Errorf("%w: %v", ErrSourceOpenFailed, err))
		}
	}

	width, height := d.opts.Width, d.opts.Height
	if width <= 0 || height <= 0 {
		width, height = src.Width, src.Height
	}
	if width <= 0 || height <= 0 {
		return nil, newDecodeError("open", src.ID, fmt.Errorf("%w: unknown frame size", ErrSourceOpenFailed))
	}

	s := &ffmpegSession{
		ctx:    ctx,
		opts:   d.opts,
		src:    src,
		width:  width,
		height: height,
		logger: d.logger.WithContext(map[string]interface{}{
			"source_id": src.ID,
			"path":      src.Path,
		}),
	}

	if err := s.start(0); err != nil {
		return nil, err
	}
	return s, nil
}

func isLocalPath(path string) bool {
	return !strings.Contains(path, "://") && !isPipePath(path)
}

func isPipePath(path string) bool {
	return path == "-" || strings.HasPrefix(path, "pipe:")
}

type unitResult struct {
	unit Unit
	err  error
}

// ffmpegProcess is one running ffmpeg child with its pipes
type ffmpegProcess struct {
	name   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu             sync.Mutex
	stderrBuffer   []string
	maxStderrLines int
}

func (p *ffmpegProcess) pushStderr(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stderrBuffer) >= p.maxStderrLines {
		p.stderrBuffer = p.stderrBuffer[1:]
	}
	p.stderrBuffer = append(p.stderrBuffer, line)
}

func (p *ffmpegProcess) recentStderr() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, len(p.stderrBuffer))
	copy(result, p.stderrBuffer)
	return result
}

type ffmpegSession struct {
	ctx    context.Context
	opts   FFmpegOptions
	src    SourceHandle
	width  int
	height int
	logger logging.Logger

	video *ffmpegProcess
	audio *ffmpegProcess
	units chan unitResult
	done  chan struct{}
	wg    *sync.WaitGroup

	closed bool
}

var (
	ptsTimePattern = regexp.MustCompile(`pts_time:\s*(\S+)`)
	keyPattern     = regexp.MustCompile(`iskey:\s*1`)
)

// parseShowinfo extracts the presentation time of a showinfo filter line
func parseShowinfo(line string) (pts float64, keyframe bool, ok bool) {
	if !strings.Contains(line, "Parsed_showinfo") {
		return 0, false, false
	}
	match := ptsTimePattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false, false
	}
	pts, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		// NOPTS frames are reported as non-advancing
		return math.NaN(), keyPattern.MatchString(line), true
	}
	return pts, keyPattern.MatchString(line), true
}

func (s *ffmpegSession) buildVideoArgs(t float64) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "info"}
	if t > 0 {
		args = append(args, "-noaccurate_seek", "-ss", strconv.FormatFloat(t, 'f', 3, 64))
	}
	args = append(args,
		"-copyts",
		"-i", s.src.Path,
		"-an", "-sn",
		"-vf", fmt.Sprintf("showinfo,scale=%d:%d:flags=bilinear", s.width, s.height),
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
	)
	args = append(args, s.opts.ExtraArgs...)
	return append(args, "-")
}

func (s *ffmpegSession) buildAudioArgs(t float64) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if t > 0 {
		args = append(args, "-ss", strconv.FormatFloat(t, 'f', 3, 64))
	}
	return append(args,
		"-i", s.src.Path,
		"-vn", "-sn",
		"-ac", "1",
		"-ar", strconv.Itoa(s.opts.SampleRate),
		"-f", "f32le",
		"-",
	)
}

func (s *ffmpegSession) startProcess(name string, args []string) (*ffmpegProcess, error) {
	cmd := exec.Command(s.opts.BinaryPath, args...)

	// Set up process groups for proper cleanup
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s stdout pipe: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to create %s stderr pipe: %w", name, err)
	}

	s.logger.Debug("Starting ffmpeg process", map[string]interface{}{
		"process": name,
		"command": s.opts.BinaryPath + " " + strings.Join(args, " "),
	})

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s process: %w", name, err)
	}

	return &ffmpegProcess{
		name:           name,
		cmd:            cmd,
		stdout:         stdout,
		stderr:         stderr,
		maxStderrLines: s.opts.MaxStderrLines,
	}, nil
}

// start launches the video (and audio) processes positioned at t
func (s *ffmpegSession) start(t float64) error {
	video, err := s.startProcess("video", s.buildVideoArgs(t))
	if err != nil {
		return newDecodeError("open", s.src.ID, fmt.Errorf("%w: %v", ErrSourceOpenFailed, err))
	}
	s.video = video

	s.done = make(chan struct{})
	s.units = make(chan unitResult, 32)
	s.wg = &sync.WaitGroup{}

	ptsCh := make(chan showinfoPTS, 256)
	s.wg.Add(2)
	go s.monitorStderr(video, ptsCh)
	go s.readVideo(video, ptsCh, t)

	if s.src.HasAudio {
		audio, err := s.startProcess("audio", s.buildAudioArgs(t))
		if err != nil {
			// Video still plays without audio
			s.logger.Warn("Audio process failed to start", map[string]interface{}{"error": err.Error()})
		} else {
			s.audio = audio
			s.wg.Add(2)
			go s.monitorStderr(audio, nil)
			go s.readAudio(audio, t)
		}
	}

	units, wg := s.units, s.wg
	go func() {
		wg.Wait()
		close(units)
	}()
	return nil
}

type showinfoPTS struct {
	pts      float64
	keyframe bool
}

func (s *ffmpegSession) monitorStderr(proc *ffmpegProcess, ptsCh chan<- showinfoPTS) {
	defer s.wg.Done()
	if ptsCh != nil {
		defer close(ptsCh)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in stderr monitor", fmt.Errorf("panic: %v", r), map[string]interface{}{"process": proc.name})
		}
	}()

	scanner := bufio.NewScanner(proc.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		if ptsCh != nil {
			if pts, key, ok := parseShowinfo(line); ok {
				select {
				case ptsCh <- showinfoPTS{pts: pts, keyframe: key}:
				case <-s.done:
					return
				}
				continue
			}
		}

		proc.pushStderr(line)
		if isErrorLine(line) {
			s.logger.Warn("FFmpeg error detected", map[string]interface{}{
				"process": proc.name,
				"error":   line,
			})
		}
	}
}

func isErrorLine(line string) bool {
	lower := strings.ToLower(line)
	for _, pattern := range []string{"error", "invalid", "no such file", "could not", "failed"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func (s *ffmpegSession) send(r unitResult) bool {
	select {
	case s.units <- r:
		return true
	case <-s.done:
		return false
	}
}

func (s *ffmpegSession) readVideo(proc *ffmpegProcess, ptsCh <-chan showinfoPTS, seekTarget float64) {
	defer s.wg.Done()

	frameSize := s.width * s.height * 4
	frameDur := s.src.FrameDuration()
	lastPTS := seekTarget + s.src.StartTime - frameDur
	frames := 0

	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(proc.stdout, buf); err != nil {
			if frames == 0 && seekTarget == 0 {
				s.send(unitResult{err: newDecodeError("open", s.src.ID,
					fmt.Errorf("%w: %s", ErrSourceOpenFailed, strings.Join(proc.recentStderr(), "; ")))})
			}
			return
		}

		info := showinfoPTS{pts: lastPTS + frameDur}
		select {
		case got, ok := <-ptsCh:
			if ok {
				info = got
			}
		case <-s.done:
			return
		}
		if math.IsNaN(info.pts) {
			info.pts = lastPTS
		}
		lastPTS = info.pts
		frames++

		frame := &Frame{
			PTS:      info.pts,
			Width:    s.width,
			Height:   s.height,
			Pixels:   buf,
			Keyframe: info.keyframe,
		}
		if !s.send(unitResult{unit: Unit{Video: frame}}) {
			return
		}
	}
}

func (s *ffmpegSession) readAudio(proc *ffmpegProcess, seekTarget float64) {
	defer s.wg.Done()

	chunkBytes := s.opts.AudioChunk * 4
	samplesRead := 0

	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(proc.stdout, buf)
		if n >= 4 {
			data := make([]float32, n/4)
			for i := range data {
				data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			}
			chunk := &AudioSamples{
				PTS:        s.src.StartTime + seekTarget + float64(samplesRead)/float64(s.opts.SampleRate),
				SampleRate: s.opts.SampleRate,
				Channels:   1,
				Data:       data,
			}
			samplesRead += len(data)
			if !s.send(unitResult{unit: Unit{Audio: chunk}}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("Audio read ended", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

// Seek restarts the ffmpeg processes at the keyframe preceding t
func (s *ffmpegSession) Seek(t float64) error {
	if s.closed {
		return newDecodeError("seek", s.src.ID, ErrEndOfStream)
	}
	if isPipePath(s.src.Path) {
		return newDecodeError("seek", s.src.ID, ErrSeekUnsupported)
	}
	if t < 0 {
		t = 0
	}

	s.stop()
	return s.start(t)
}

// DecodeNext returns the next decoded video frame or audio chunk
func (s *ffmpegSession) DecodeNext() (Unit, error) {
	if s.closed {
		return Unit{}, ErrEndOfStream
	}

	select {
	case r, ok := <-s.units:
		if !ok {
			return Unit{}, ErrEndOfStream
		}
		return r.unit, r.err
	case <-s.ctx.Done():
		return Unit{}, s.ctx.Err()
	}
}

// Close stops all processes of the session
func (s *ffmpegSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()
	return nil
}

func (s *ffmpegSession) stop() {
	if s.done == nil {
		return
	}
	close(s.done)

	for _, proc := range []*ffmpegProcess{s.video, s.audio} {
		if proc == nil {
			continue
		}
		proc.stdout.Close()
		s.stopProcessWithTimeout(proc)
	}

	s.wg.Wait()
	s.video, s.audio, s.done, s.wg = nil, nil, nil, nil
}

// stopProcessWithTimeout stops a process group with SIGTERM, then SIGKILL
func (s *ffmpegSession) stopProcessWithTimeout(proc *ffmpegProcess) {
	if proc.cmd == nil || proc.cmd.Process == nil {
		return
	}

	fields := map[string]interface{}{"process": proc.name}

	if err := syscall.Kill(-proc.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		fields["error"] = err.Error()
		s.logger.Debug("Failed to send SIGTERM to process group", fields)
	}

	done := make(chan error, 1)
	go func() {
		done <- proc.cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(s.opts.StopTimeout):
		fields["recent_stderr"] = proc.recentStderr()
		s.logger.Warn("Process did not terminate gracefully, force killing", fields)
		if err := syscall.Kill(-proc.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			s.logger.Error("Failed to force kill process group", err, fields)
		}
		<-done
	}
}
