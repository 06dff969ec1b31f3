package decoder

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShowinfo(t *testing.T) {
	line := "[Parsed_showinfo_0 @ 0x55d0c0a1b2c0] n:  12 pts:  12012 pts_time:0.400400 duration:1001 fmt:yuv420p iskey:1 type:I"
	pts, key, ok := parseShowinfo(line)
	require.True(t, ok)
	assert.InDelta(t, 0.4004, pts, 1e-9)
	assert.True(t, key)

	pts, _, ok = parseShowinfo("[Parsed_showinfo_0 @ 0x1] n: 3 pts: NOPTS pts_time:NOPTS iskey:0")
	require.True(t, ok)
	assert.True(t, math.IsNaN(pts))

	_, _, ok = parseShowinfo("frame=  100 fps= 30 q=-0.0 size=N/A")
	assert.False(t, ok)
}

func TestBuildVideoArgs(t *testing.T) {
	s := &ffmpegSession{
		opts:   FFmpegOptions{}.withDefaults(),
		src:    SourceHandle{ID: "a", Path: "/tmp/a.mp4"},
		width:  320,
		height: 180,
	}

	args := strings.Join(s.buildVideoArgs(5), " ")
	assert.Contains(t, args, "-noaccurate_seek -ss 5.000")
	assert.Contains(t, args, "-copyts -i /tmp/a.mp4")
	assert.Contains(t, args, "showinfo,scale=320:180")
	assert.Contains(t, args, "-pix_fmt rgba")
	assert.True(t, strings.HasSuffix(args, " -"))

	assert.NotContains(t, strings.Join(s.buildVideoArgs(0), " "), "-ss")
	assert.Contains(t, strings.Join(s.buildAudioArgs(2.5), " "), "-ss 2.500 -i /tmp/a.mp4 -vn -sn -ac 1 -ar 48000 -f f32le")
}

func TestFFmpegDecoder_OpenMissingFile(t *testing.T) {
	dec := NewFFmpegDecoder(FFmpegOptions{}, nil)
	_, err := dec.Open(context.Background(), SourceHandle{ID: "x", Path: "/nonexistent/clip.mp4", Width: 16, Height: 9})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceOpenFailed))
}

func TestFFmpegDecoder_OpenUnknownSize(t *testing.T) {
	dec := NewFFmpegDecoder(FFmpegOptions{}, nil)
	_, err := dec.Open(context.Background(), SourceHandle{ID: "x", Path: "http://example.invalid/a.mp4"})
	assert.ErrorIs(t, err, ErrSourceOpenFailed)
}
