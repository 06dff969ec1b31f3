package playback_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", name), []byte(content), 0o644))
}

// unsetEnv clears key for the duration of the test
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestNewConfigManagerFromDir_Defaults(t *testing.T) {
	config, err := playback.NewConfigManagerFromDir(t.TempDir())
	require.NoError(t, err)

	manager := config.(*playback.ConfigManager)
	assert.Equal(t, "defaults", manager.Source())

	pipeline := config.GetPipelineConfig()
	assert.Equal(t, 128, pipeline.PacketChannelCapacity)
	assert.Equal(t, 180, pipeline.DecodeForwardBudget)
	assert.Equal(t, 2*time.Second, pipeline.ShadowLookahead)
	assert.Equal(t, 120*time.Millisecond, pipeline.ReverseBoundary)

	stall := manager.GetStallConfig()
	assert.Equal(t, 80*time.Millisecond, stall.PauseAfter)
	assert.Equal(t, 750*time.Millisecond, stall.RestartAfter)

	assert.Equal(t, 64, manager.GetCacheConfig().FrameCapacity)
	assert.Equal(t, 60.0, manager.GetBucketerConfig().VideoRate)
	assert.Equal(t, 48000, manager.GetMixerConfig().SampleRate)
	assert.Equal(t, "@every 30s", manager.GetReporterConfig().Schedule)
}

func TestNewConfigManagerFromDir_YAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "engine.yaml", `
pipeline:
  packet_channel_capacity: 32
  reverse_window: 2s
  end_policy: loop
stall:
  pause_after: 50ms
cache:
  frame_capacity: 128
logger:
  level: debug
  format: console
`)

	config, err := playback.NewConfigManagerFromDir(dir)
	require.NoError(t, err)
	manager := config.(*playback.ConfigManager)
	assert.Equal(t, "yaml", manager.Source())

	pipeline := config.GetPipelineConfig()
	assert.Equal(t, 32, pipeline.PacketChannelCapacity)
	assert.Equal(t, 2*time.Second, pipeline.ReverseWindow)
	assert.Equal(t, playback.EndPolicyLoop, pipeline.EndPolicy)
	// untouched keys keep their defaults
	assert.Equal(t, 16, pipeline.VideoChannelCapacity)

	assert.Equal(t, 50*time.Millisecond, manager.GetStallConfig().PauseAfter)
	assert.Equal(t, 128, manager.GetCacheConfig().FrameCapacity)
	assert.Equal(t, "debug", manager.GetLoggerConfig().Level)
}

func TestNewConfigManagerFromDir_TOML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "engine.toml", `
[pipeline]
decode_forward_budget = 90
startup_timeout = "3s"

[retry]
max_retries = 5
`)

	config, err := playback.NewConfigManagerFromDir(dir)
	require.NoError(t, err)
	manager := config.(*playback.ConfigManager)
	assert.Equal(t, "toml", manager.Source())
	assert.Equal(t, 90, config.GetPipelineConfig().DecodeForwardBudget)
	assert.Equal(t, 3*time.Second, config.GetPipelineConfig().StartupTimeout)
	assert.Equal(t, 5, manager.GetRetryConfig().MaxRetries)
}

func TestNewConfigManagerFromDir_YAMLTakesPrecedenceOverTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "engine.yaml", "cache:\n  frame_capacity: 10\n")
	writeConfigFile(t, dir, "engine.toml", "[cache]\nframe_capacity = 20\n")

	config, err := playback.NewConfigManagerFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, config.Config().Cache.FrameCapacity)
}

func TestNewConfigManagerFromDir_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "engine.yaml", "pipeline: [not, a, map")

	_, err := playback.NewConfigManagerFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestNewConfigManagerFromDir_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "engine.yaml", "pipeline:\n  packet_channel_capacity: 32\n")

	t.Setenv("REELCORE_PACKET_CHANNEL_CAPACITY", "64")
	t.Setenv("REELCORE_STALL_RESTART_AFTER", "1s")
	t.Setenv("REELCORE_BUCKET_SCRUB_RATE", "20")
	t.Setenv("REELCORE_AUDIO_ENABLED", "false")
	t.Setenv("REELCORE_FFMPEG_CUSTOM_ARGS", "-hwaccel,auto")
	// malformed values are ignored
	t.Setenv("REELCORE_CACHE_FRAME_CAPACITY", "lots")

	config, err := playback.NewConfigManagerFromDir(dir)
	require.NoError(t, err)
	cfg := config.Config()

	assert.Equal(t, 64, cfg.Pipeline.PacketChannelCapacity, "environment wins over the file")
	assert.Equal(t, time.Second, cfg.Stall.RestartAfter)
	assert.Equal(t, 20.0, cfg.Bucketer.ScrubRate)
	assert.False(t, cfg.Mixer.Enabled)
	assert.Equal(t, []string{"-hwaccel", "auto"}, cfg.FFmpeg.CustomArgs)
	assert.Equal(t, 64, cfg.Cache.FrameCapacity)
}

func TestNewConfigManagerFromDir_DotEnv(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "REELCORE_REPORTER_SCHEDULE")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REELCORE_REPORTER_SCHEDULE=@every 5m\n"), 0o644))

	config, err := playback.NewConfigManagerFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "@every 5m", config.Config().Reporter.Schedule)
}

func TestConfigManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*playback.EngineConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*playback.EngineConfig) {}},
		{name: "zero packet capacity", mutate: func(c *playback.EngineConfig) { c.Pipeline.PacketChannelCapacity = 0 }, wantErr: true},
		{name: "zero decode budget", mutate: func(c *playback.EngineConfig) { c.Pipeline.DecodeForwardBudget = 0 }, wantErr: true},
		{name: "unknown end policy", mutate: func(c *playback.EngineConfig) { c.Pipeline.EndPolicy = "rewind" }, wantErr: true},
		{name: "negative target size", mutate: func(c *playback.EngineConfig) { c.Pipeline.TargetWidth = -1 }, wantErr: true},
		{name: "unordered stall thresholds", mutate: func(c *playback.EngineConfig) { c.Stall.RestartAfter = 100 * time.Millisecond }, wantErr: true},
		{name: "zero frame cache", mutate: func(c *playback.EngineConfig) { c.Cache.FrameCapacity = 0 }, wantErr: true},
		{name: "zero sample rate", mutate: func(c *playback.EngineConfig) { c.Mixer.SampleRate = 0 }, wantErr: true},
		{name: "zero bucket rate", mutate: func(c *playback.EngineConfig) { c.Bucketer.HoverRate = 0 }, wantErr: true},
		{name: "empty ffmpeg path", mutate: func(c *playback.EngineConfig) { c.FFmpeg.BinaryPath = "" }, wantErr: true},
		{name: "retry multiplier of one", mutate: func(c *playback.EngineConfig) { c.Retry.Multiplier = 1 }, wantErr: true},
		{name: "max delay below base", mutate: func(c *playback.EngineConfig) { c.Retry.MaxDelay = time.Millisecond }, wantErr: true},
		{name: "invalid log level", mutate: func(c *playback.EngineConfig) { c.Logger.Level = "verbose" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *playback.EngineConfig) { c.Logger.Format = "xml" }, wantErr: true},
		{name: "database without dsn", mutate: func(c *playback.EngineConfig) { c.Database.Enabled = true }, wantErr: true},
		{name: "database with dsn", mutate: func(c *playback.EngineConfig) {
			c.Database.Enabled = true
			c.Database.DSN = "postgres://localhost/reelcore"
		}},
		{name: "reporter without schedule", mutate: func(c *playback.EngineConfig) {
			c.Reporter.Enabled = true
			c.Reporter.Schedule = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := playback.DefaultEngineConfig()
			tt.mutate(cfg)
			_, err := playback.NewStaticConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
