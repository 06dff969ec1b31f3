package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ProbeStream is one stream entry of ffprobe's JSON output
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

// ProbeFormat is the container section of ffprobe's JSON output
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	StartTime  string `json:"start_time"`
}

// ProbeResult holds the metadata extracted from a media file
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// Probe runs ffprobe on path and parses its JSON output
func Probe(ctx context.Context, ffprobePath, path string) (*ProbeResult, error) {
	if path == "" {
		return nil, newDecodeError("probe", path, fmt.Errorf("%w: empty path", ErrSourceOpenFailed))
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, newDecodeError("probe", path, fmt.Errorf("%w: ffprobe failed: %v", ErrSourceOpenFailed, err))
	}

	return ParseProbeOutput(output)
}

// ParseProbeOutput parses raw ffprobe JSON
func ParseProbeOutput(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

// VideoStream returns the first video stream, if any
func (pr *ProbeResult) VideoStream() (ProbeStream, bool) {
	for _, stream := range pr.Streams {
		if stream.CodecType == "video" {
			return stream, true
		}
	}
	return ProbeStream{}, false
}

// HasAudio reports whether the file carries an audio stream
func (pr *ProbeResult) HasAudio() bool {
	for _, stream := range pr.Streams {
		if stream.CodecType == "audio" {
			return true
		}
	}
	return false
}

// GetDuration returns the container duration in seconds
func (pr *ProbeResult) GetDuration() (float64, error) {
	if pr.Format.Duration == "" {
		return 0, fmt.Errorf("duration not available in format metadata")
	}

	duration, err := strconv.ParseFloat(pr.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", pr.Format.Duration, err)
	}
	return duration, nil
}

// SourceHandle converts the probe result into a SourceHandle with the given id
func (pr *ProbeResult) SourceHandle(id string) (SourceHandle, error) {
	video, ok := pr.VideoStream()
	if !ok {
		return SourceHandle{}, newDecodeError("probe", pr.Format.Filename, fmt.Errorf("%w: no video stream", ErrSourceOpenFailed))
	}

	duration, err := pr.GetDuration()
	if err != nil {
		return SourceHandle{}, newDecodeError("probe", pr.Format.Filename, err)
	}

	if id == "" {
		id = strings.TrimSuffix(filepath.Base(pr.Format.Filename), filepath.Ext(pr.Format.Filename))
	}

	startTime, _ := strconv.ParseFloat(pr.Format.StartTime, 64)

	frameRate := parseRational(video.AvgFrameRate)
	if frameRate <= 0 {
		frameRate = parseRational(video.RFrameRate)
	}

	return SourceHandle{
		ID:        id,
		Path:      pr.Format.Filename,
		Duration:  duration,
		StartTime: startTime,
		Codec:     video.CodecName,
		Width:     video.Width,
		Height:    video.Height,
		FrameRate: frameRate,
		HasAudio:  pr.HasAudio(),
	}, nil
}

// parseRational parses ffprobe rationals such as "30000/1001"
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
