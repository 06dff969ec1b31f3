package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PipelineConfig sizes and tunes the decode pipelines
type PipelineConfig struct {
	PacketChannelCapacity int           `yaml:"packet_channel_capacity" toml:"packet_channel_capacity" env:"REELCORE_PACKET_CHANNEL_CAPACITY"`
	VideoChannelCapacity  int           `yaml:"video_channel_capacity" toml:"video_channel_capacity" env:"REELCORE_VIDEO_CHANNEL_CAPACITY"`
	ReverseDecodeCapacity int           `yaml:"reverse_decode_capacity" toml:"reverse_decode_capacity" env:"REELCORE_REVERSE_DECODE_CAPACITY"`
	ReverseOutputCapacity int           `yaml:"reverse_output_capacity" toml:"reverse_output_capacity" env:"REELCORE_REVERSE_OUTPUT_CAPACITY"`
	DecodeForwardBudget   int           `yaml:"decode_forward_budget" toml:"decode_forward_budget" env:"REELCORE_DECODE_FORWARD_BUDGET"`
	NonAdvancingLimit     int           `yaml:"non_advancing_limit" toml:"non_advancing_limit" env:"REELCORE_NON_ADVANCING_LIMIT"`
	ReverseWindow         time.Duration `yaml:"reverse_window" toml:"reverse_window" env:"REELCORE_REVERSE_WINDOW"`
	ShadowLookahead       time.Duration `yaml:"shadow_lookahead" toml:"shadow_lookahead" env:"REELCORE_SHADOW_LOOKAHEAD"`
	ReverseBoundary       time.Duration `yaml:"reverse_boundary" toml:"reverse_boundary" env:"REELCORE_REVERSE_BOUNDARY"`
	StartupTimeout        time.Duration `yaml:"startup_timeout" toml:"startup_timeout" env:"REELCORE_STARTUP_TIMEOUT"`
	TargetWidth           int           `yaml:"target_width" toml:"target_width" env:"REELCORE_TARGET_WIDTH"`
	TargetHeight          int           `yaml:"target_height" toml:"target_height" env:"REELCORE_TARGET_HEIGHT"`
	EndPolicy             string        `yaml:"end_policy" toml:"end_policy" env:"REELCORE_END_POLICY"`
}

// StallConfig holds the stall ladder thresholds, measured from the last
// delivered frame (or pipeline start before the first frame)
type StallConfig struct {
	StartupGrace  time.Duration `yaml:"startup_grace" toml:"startup_grace" env:"REELCORE_STALL_STARTUP_GRACE"`
	PauseAfter    time.Duration `yaml:"pause_after" toml:"pause_after" env:"REELCORE_STALL_PAUSE_AFTER"`
	FallbackAfter time.Duration `yaml:"fallback_after" toml:"fallback_after" env:"REELCORE_STALL_FALLBACK_AFTER"`
	SuppressAfter time.Duration `yaml:"suppress_after" toml:"suppress_after" env:"REELCORE_STALL_SUPPRESS_AFTER"`
	RestartAfter  time.Duration `yaml:"restart_after" toml:"restart_after" env:"REELCORE_STALL_RESTART_AFTER"`
}

// CacheConfig sizes the frame caches and the fallback decoder pool
type CacheConfig struct {
	FrameCapacity   int   `yaml:"frame_capacity" toml:"frame_capacity" env:"REELCORE_CACHE_FRAME_CAPACITY"`
	DecoderSessions int   `yaml:"decoder_sessions" toml:"decoder_sessions" env:"REELCORE_CACHE_DECODER_SESSIONS"`
	RewindFrames    int   `yaml:"rewind_frames" toml:"rewind_frames" env:"REELCORE_CACHE_REWIND_FRAMES"`
	RewindBytes     int64 `yaml:"rewind_bytes" toml:"rewind_bytes" env:"REELCORE_CACHE_REWIND_BYTES"`
	WorkerPoolSize  int   `yaml:"worker_pool_size" toml:"worker_pool_size" env:"REELCORE_CACHE_WORKER_POOL_SIZE"`
}

// MixerConfig sizes the audio mixer
type MixerConfig struct {
	Enabled        bool `yaml:"enabled" toml:"enabled" env:"REELCORE_AUDIO_ENABLED"`
	SampleRate     int  `yaml:"sample_rate" toml:"sample_rate" env:"REELCORE_AUDIO_SAMPLE_RATE"`
	Channels       int  `yaml:"channels" toml:"channels" env:"REELCORE_AUDIO_CHANNELS"`
	SourceCapacity int  `yaml:"source_capacity" toml:"source_capacity" env:"REELCORE_AUDIO_SOURCE_CAPACITY"`
	MixBufMax      int  `yaml:"mix_buf_max" toml:"mix_buf_max" env:"REELCORE_AUDIO_MIX_BUF_MAX"`
}

// BucketerConfig sets the quantization rate per request class
type BucketerConfig struct {
	VideoRate float64 `yaml:"video_rate" toml:"video_rate" env:"REELCORE_BUCKET_VIDEO_RATE"`
	ScrubRate float64 `yaml:"scrub_rate" toml:"scrub_rate" env:"REELCORE_BUCKET_SCRUB_RATE"`
	HoverRate float64 `yaml:"hover_rate" toml:"hover_rate" env:"REELCORE_BUCKET_HOVER_RATE"`
}

// FFmpegConfig contains FFmpeg-specific configuration
type FFmpegConfig struct {
	BinaryPath  string        `yaml:"binary_path" toml:"binary_path" env:"REELCORE_FFMPEG_BINARY"`
	ProbePath   string        `yaml:"probe_path" toml:"probe_path" env:"REELCORE_FFPROBE_BINARY"`
	CustomArgs  []string      `yaml:"custom_args" toml:"custom_args" env:"REELCORE_FFMPEG_CUSTOM_ARGS"`
	StopTimeout time.Duration `yaml:"stop_timeout" toml:"stop_timeout" env:"REELCORE_FFMPEG_STOP_TIMEOUT"`
}

// RetryConfig contains restart policy configuration
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" toml:"max_retries" env:"REELCORE_MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" toml:"base_delay" env:"REELCORE_BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" toml:"max_delay" env:"REELCORE_MAX_DELAY"`
	Multiplier float64       `yaml:"multiplier" toml:"multiplier" env:"REELCORE_RETRY_MULTIPLIER"`
}

// LoggerConfig contains logging configuration
type LoggerConfig struct {
	Level    string `yaml:"level" toml:"level" env:"REELCORE_LOG_LEVEL"`
	Format   string `yaml:"format" toml:"format" env:"REELCORE_LOG_FORMAT"`
	SaveToDB bool   `yaml:"save_to_db" toml:"save_to_db" env:"REELCORE_LOG_SAVE_DB"`
}

// DatabaseConfig controls metric and log persistence
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"REELCORE_DB_ENABLED"`
	DSN     string `yaml:"dsn" toml:"dsn" env:"DATABASE_URL"`
}

// ReporterConfig controls the periodic stats report
type ReporterConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" env:"REELCORE_REPORTER_ENABLED"`
	Schedule string `yaml:"schedule" toml:"schedule" env:"REELCORE_REPORTER_SCHEDULE"`
}

// EngineConfig represents the complete configuration structure for YAML/TOML files
type EngineConfig struct {
	Pipeline PipelineConfig `yaml:"pipeline" toml:"pipeline"`
	Stall    StallConfig    `yaml:"stall" toml:"stall"`
	Cache    CacheConfig    `yaml:"cache" toml:"cache"`
	Mixer    MixerConfig    `yaml:"mixer" toml:"mixer"`
	Bucketer BucketerConfig `yaml:"bucketer" toml:"bucketer"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg" toml:"ffmpeg"`
	Retry    RetryConfig    `yaml:"retry" toml:"retry"`
	Logger   LoggerConfig   `yaml:"logger" toml:"logger"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Reporter ReporterConfig `yaml:"reporter" toml:"reporter"`
}

// DefaultEngineConfig returns the built-in defaults
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Pipeline: PipelineConfig{
			PacketChannelCapacity: 128,
			VideoChannelCapacity:  16,
			ReverseDecodeCapacity: 8,
			ReverseOutputCapacity: 4,
			DecodeForwardBudget:   180,
			NonAdvancingLimit:     4,
			ReverseWindow:         4 * time.Second,
			ShadowLookahead:       2 * time.Second,
			ReverseBoundary:       120 * time.Millisecond,
			StartupTimeout:        5 * time.Second,
			EndPolicy:             EndPolicyStop,
		},
		Stall: StallConfig{
			StartupGrace:  220 * time.Millisecond,
			PauseAfter:    80 * time.Millisecond,
			FallbackAfter: 120 * time.Millisecond,
			SuppressAfter: 250 * time.Millisecond,
			RestartAfter:  750 * time.Millisecond,
		},
		Cache: CacheConfig{
			FrameCapacity:   64,
			DecoderSessions: 4,
			RewindFrames:    90,
			RewindBytes:     256 << 20,
			WorkerPoolSize:  2,
		},
		Mixer: MixerConfig{
			Enabled:        true,
			SampleRate:     48000,
			Channels:       2,
			SourceCapacity: 16384,
			MixBufMax:      4096,
		},
		Bucketer: BucketerConfig{
			VideoRate: 60,
			ScrubRate: 10,
			HoverRate: 2,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:  "ffmpeg",
			ProbePath:   "ffprobe",
			StopTimeout: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  250 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Multiplier: 2.0,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Reporter: ReporterConfig{
			Schedule: "@every 30s",
		},
	}
}

// End-of-sequence policies
const (
	EndPolicyStop = "stop"
	EndPolicyLoop = "loop"
)

// ConfigManager implements the ConfigProvider interface
type ConfigManager struct {
	config *EngineConfig
	source string
}

// NewConfigManager loads configuration from the config/ directory of the
// working directory
func NewConfigManager() (ConfigProvider, error) {
	return NewConfigManagerFromDir(".")
}

// NewConfigManagerFromDir loads configuration in order of precedence:
// 1. Default values
// 2. YAML file (<dir>/config/engine.yaml), or TOML (<dir>/config/engine.toml)
// 3. Environment variables, after loading <dir>/.env when present
func NewConfigManagerFromDir(dir string) (ConfigProvider, error) {
	config := DefaultEngineConfig()
	manager := &ConfigManager{config: config, source: "defaults"}

	if err := manager.loadYAMLConfig(dir, config); err == nil {
		manager.source = "yaml"
	} else if !os.IsNotExist(err) {
		return nil, err
	} else if err := manager.loadTOMLConfig(dir, config); err == nil {
		manager.source = "toml"
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := manager.loadEnvConfig(dir, config); err != nil {
		return nil, err
	}

	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return manager, nil
}

// NewStaticConfig wraps an already built configuration
func NewStaticConfig(config *EngineConfig) (ConfigProvider, error) {
	manager := &ConfigManager{config: config, source: "static"}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return manager, nil
}

// loadYAMLConfig overlays the YAML file onto config. A missing file yields an
// error satisfying os.IsNotExist.
func (cm *ConfigManager) loadYAMLConfig(dir string, config *EngineConfig) error {
	yamlPath := filepath.Join(dir, "config", "engine.yaml")
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config %s: %w", yamlPath, err)
	}
	return nil
}

// loadTOMLConfig overlays the TOML file onto config
func (cm *ConfigManager) loadTOMLConfig(dir string, config *EngineConfig) error {
	tomlPath := filepath.Join(dir, "config", "engine.toml")
	if _, err := os.Stat(tomlPath); err != nil {
		return err
	}

	if _, err := toml.DecodeFile(tomlPath, config); err != nil {
		return fmt.Errorf("failed to parse TOML config %s: %w", tomlPath, err)
	}
	return nil
}

// loadEnvConfig applies environment overrides on top of config
func (cm *ConfigManager) loadEnvConfig(dir string, config *EngineConfig) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	p := &config.Pipeline
	p.PacketChannelCapacity = getEnvInt("REELCORE_PACKET_CHANNEL_CAPACITY", p.PacketChannelCapacity)
	p.VideoChannelCapacity = getEnvInt("REELCORE_VIDEO_CHANNEL_CAPACITY", p.VideoChannelCapacity)
	p.ReverseDecodeCapacity = getEnvInt("REELCORE_REVERSE_DECODE_CAPACITY", p.ReverseDecodeCapacity)
	p.ReverseOutputCapacity = getEnvInt("REELCORE_REVERSE_OUTPUT_CAPACITY", p.ReverseOutputCapacity)
	p.DecodeForwardBudget = getEnvInt("REELCORE_DECODE_FORWARD_BUDGET", p.DecodeForwardBudget)
	p.NonAdvancingLimit = getEnvInt("REELCORE_NON_ADVANCING_LIMIT", p.NonAdvancingLimit)
	p.ReverseWindow = getEnvDuration("REELCORE_REVERSE_WINDOW", p.ReverseWindow)
	p.ShadowLookahead = getEnvDuration("REELCORE_SHADOW_LOOKAHEAD", p.ShadowLookahead)
	p.ReverseBoundary = getEnvDuration("REELCORE_REVERSE_BOUNDARY", p.ReverseBoundary)
	p.StartupTimeout = getEnvDuration("REELCORE_STARTUP_TIMEOUT", p.StartupTimeout)
	p.TargetWidth = getEnvInt("REELCORE_TARGET_WIDTH", p.TargetWidth)
	p.TargetHeight = getEnvInt("REELCORE_TARGET_HEIGHT", p.TargetHeight)
	p.EndPolicy = getEnvString("REELCORE_END_POLICY", p.EndPolicy)

	s := &config.Stall
	s.StartupGrace = getEnvDuration("REELCORE_STALL_STARTUP_GRACE", s.StartupGrace)
	s.PauseAfter = getEnvDuration("REELCORE_STALL_PAUSE_AFTER", s.PauseAfter)
	s.FallbackAfter = getEnvDuration("REELCORE_STALL_FALLBACK_AFTER", s.FallbackAfter)
	s.SuppressAfter = getEnvDuration("REELCORE_STALL_SUPPRESS_AFTER", s.SuppressAfter)
	s.RestartAfter = getEnvDuration("REELCORE_STALL_RESTART_AFTER", s.RestartAfter)

	c := &config.Cache
	c.FrameCapacity = getEnvInt("REELCORE_CACHE_FRAME_CAPACITY", c.FrameCapacity)
	c.DecoderSessions = getEnvInt("REELCORE_CACHE_DECODER_SESSIONS", c.DecoderSessions)
	c.RewindFrames = getEnvInt("REELCORE_CACHE_REWIND_FRAMES", c.RewindFrames)
	c.RewindBytes = int64(getEnvInt("REELCORE_CACHE_REWIND_BYTES", int(c.RewindBytes)))
	c.WorkerPoolSize = getEnvInt("REELCORE_CACHE_WORKER_POOL_SIZE", c.WorkerPoolSize)

	m := &config.Mixer
	m.Enabled = getEnvBool("REELCORE_AUDIO_ENABLED", m.Enabled)
	m.SampleRate = getEnvInt("REELCORE_AUDIO_SAMPLE_RATE", m.SampleRate)
	m.Channels = getEnvInt("REELCORE_AUDIO_CHANNELS", m.Channels)
	m.SourceCapacity = getEnvInt("REELCORE_AUDIO_SOURCE_CAPACITY", m.SourceCapacity)
	m.MixBufMax = getEnvInt("REELCORE_AUDIO_MIX_BUF_MAX", m.MixBufMax)

	b := &config.Bucketer
	b.VideoRate = getEnvFloat("REELCORE_BUCKET_VIDEO_RATE", b.VideoRate)
	b.ScrubRate = getEnvFloat("REELCORE_BUCKET_SCRUB_RATE", b.ScrubRate)
	b.HoverRate = getEnvFloat("REELCORE_BUCKET_HOVER_RATE", b.HoverRate)

	f := &config.FFmpeg
	f.BinaryPath = getEnvString("REELCORE_FFMPEG_BINARY", f.BinaryPath)
	f.ProbePath = getEnvString("REELCORE_FFPROBE_BINARY", f.ProbePath)
	f.CustomArgs = getEnvStringSlice("REELCORE_FFMPEG_CUSTOM_ARGS", f.CustomArgs)
	f.StopTimeout = getEnvDuration("REELCORE_FFMPEG_STOP_TIMEOUT", f.StopTimeout)

	r := &config.Retry
	r.MaxRetries = getEnvInt("REELCORE_MAX_RETRIES", r.MaxRetries)
	r.BaseDelay = getEnvDuration("REELCORE_BASE_DELAY", r.BaseDelay)
	r.MaxDelay = getEnvDuration("REELCORE_MAX_DELAY", r.MaxDelay)
	r.Multiplier = getEnvFloat("REELCORE_RETRY_MULTIPLIER", r.Multiplier)

	l := &config.Logger
	l.Level = getEnvString("REELCORE_LOG_LEVEL", l.Level)
	l.Format = getEnvString("REELCORE_LOG_FORMAT", l.Format)
	l.SaveToDB = getEnvBool("REELCORE_LOG_SAVE_DB", l.SaveToDB)

	d := &config.Database
	d.Enabled = getEnvBool("REELCORE_DB_ENABLED", d.Enabled)
	d.DSN = getEnvString("DATABASE_URL", d.DSN)

	rep := &config.Reporter
	rep.Enabled = getEnvBool("REELCORE_REPORTER_ENABLED", rep.Enabled)
	rep.Schedule = getEnvString("REELCORE_REPORTER_SCHEDULE", rep.Schedule)

	return nil
}

// Source reports where the file layer came from: yaml, toml, defaults or static
func (cm *ConfigManager) Source() string {
	return cm.source
}

// Config returns the full configuration
func (cm *ConfigManager) Config() *EngineConfig {
	return cm.config
}

// GetPipelineConfig returns the pipeline configuration
func (cm *ConfigManager) GetPipelineConfig() *PipelineConfig {
	return &cm.config.Pipeline
}

// GetStallConfig returns the stall thresholds
func (cm *ConfigManager) GetStallConfig() *StallConfig {
	return &cm.config.Stall
}

// GetCacheConfig returns the cache configuration
func (cm *ConfigManager) GetCacheConfig() *CacheConfig {
	return &cm.config.Cache
}

// GetMixerConfig returns the mixer configuration
func (cm *ConfigManager) GetMixerConfig() *MixerConfig {
	return &cm.config.Mixer
}

// GetBucketerConfig returns the bucketer configuration
func (cm *ConfigManager) GetBucketerConfig() *BucketerConfig {
	return &cm.config.Bucketer
}

// GetFFmpegConfig returns the FFmpeg configuration
func (cm *ConfigManager) GetFFmpegConfig() *FFmpegConfig {
	return &cm.config.FFmpeg
}

// GetRetryConfig returns the retry configuration
func (cm *ConfigManager) GetRetryConfig() *RetryConfig {
	return &cm.config.Retry
}

// GetLoggerConfig returns the logger configuration
func (cm *ConfigManager) GetLoggerConfig() *LoggerConfig {
	return &cm.config.Logger
}

// GetDatabaseConfig returns the database configuration
func (cm *ConfigManager) GetDatabaseConfig() *DatabaseConfig {
	return &cm.config.Database
}

// GetReporterConfig returns the reporter configuration
func (cm *ConfigManager) GetReporterConfig() *ReporterConfig {
	return &cm.config.Reporter
}

// Validate validates the configuration values
func (cm *ConfigManager) Validate() error {
	p := cm.config.Pipeline
	if p.PacketChannelCapacity <= 0 || p.VideoChannelCapacity <= 0 {
		return fmt.Errorf("pipeline channel capacities must be positive, got packet=%d video=%d", p.PacketChannelCapacity, p.VideoChannelCapacity)
	}
	if p.ReverseDecodeCapacity <= 0 || p.ReverseOutputCapacity <= 0 {
		return fmt.Errorf("reverse channel capacities must be positive, got decode=%d output=%d", p.ReverseDecodeCapacity, p.ReverseOutputCapacity)
	}
	if p.DecodeForwardBudget <= 0 {
		return fmt.Errorf("pipeline decode_forward_budget must be positive, got %d", p.DecodeForwardBudget)
	}
	if p.NonAdvancingLimit <= 0 {
		return fmt.Errorf("pipeline non_advancing_limit must be positive, got %d", p.NonAdvancingLimit)
	}
	if p.ReverseWindow <= 0 {
		return fmt.Errorf("pipeline reverse_window must be positive, got %v", p.ReverseWindow)
	}
	if p.ShadowLookahead <= 0 {
		return fmt.Errorf("pipeline shadow_lookahead must be positive, got %v", p.ShadowLookahead)
	}
	if p.StartupTimeout <= 0 {
		return fmt.Errorf("pipeline startup_timeout must be positive, got %v", p.StartupTimeout)
	}
	if p.TargetWidth < 0 || p.TargetHeight < 0 {
		return fmt.Errorf("pipeline target size must be non-negative, got %dx%d", p.TargetWidth, p.TargetHeight)
	}
	if p.EndPolicy != EndPolicyStop && p.EndPolicy != EndPolicyLoop {
		return fmt.Errorf("invalid pipeline end_policy: %s (must be stop or loop)", p.EndPolicy)
	}

	if err := cm.config.Stall.Validate(); err != nil {
		return err
	}

	c := cm.config.Cache
	if c.FrameCapacity <= 0 {
		return fmt.Errorf("cache frame_capacity must be positive, got %d", c.FrameCapacity)
	}
	if c.DecoderSessions <= 0 {
		return fmt.Errorf("cache decoder_sessions must be positive, got %d", c.DecoderSessions)
	}
	if c.RewindFrames < 0 || c.RewindBytes < 0 {
		return fmt.Errorf("cache rewind limits must be non-negative")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("cache worker_pool_size must be positive, got %d", c.WorkerPoolSize)
	}

	m := cm.config.Mixer
	if m.SampleRate <= 0 {
		return fmt.Errorf("mixer sample_rate must be positive, got %d", m.SampleRate)
	}
	if m.Channels <= 0 {
		return fmt.Errorf("mixer channels must be positive, got %d", m.Channels)
	}
	if m.SourceCapacity <= 0 || m.MixBufMax <= 0 {
		return fmt.Errorf("mixer buffer sizes must be positive")
	}

	b := cm.config.Bucketer
	if b.VideoRate <= 0 || b.ScrubRate <= 0 || b.HoverRate <= 0 {
		return fmt.Errorf("bucketer rates must be positive")
	}

	if cm.config.FFmpeg.BinaryPath == "" {
		return fmt.Errorf("ffmpeg binary_path cannot be empty")
	}

	r := cm.config.Retry
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must be non-negative, got %d", r.MaxRetries)
	}
	if r.BaseDelay <= 0 {
		return fmt.Errorf("retry base_delay must be positive, got %v", r.BaseDelay)
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("retry max_delay must be at least base_delay, got %v", r.MaxDelay)
	}
	if r.Multiplier <= 1.0 {
		return fmt.Errorf("retry multiplier must be greater than 1.0, got %f", r.Multiplier)
	}

	if !isValidLogLevel(cm.config.Logger.Level) {
		return fmt.Errorf("invalid logger level: %s (must be debug, info, warn, or error)", cm.config.Logger.Level)
	}
	if !isValidLogFormat(cm.config.Logger.Format) {
		return fmt.Errorf("invalid logger format: %s (must be json, console or text)", cm.config.Logger.Format)
	}

	if cm.config.Database.Enabled && cm.config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required when the database is enabled")
	}
	if cm.config.Reporter.Enabled && cm.config.Reporter.Schedule == "" {
		return fmt.Errorf("reporter schedule is required when the reporter is enabled")
	}

	return nil
}

// Validate checks that the stall thresholds are positive and strictly ordered
func (s StallConfig) Validate() error {
	if s.StartupGrace <= 0 {
		return fmt.Errorf("stall startup_grace must be positive, got %v", s.StartupGrace)
	}
	if s.PauseAfter <= 0 {
		return fmt.Errorf("stall pause_after must be positive, got %v", s.PauseAfter)
	}
	if !(s.PauseAfter < s.FallbackAfter && s.FallbackAfter < s.SuppressAfter && s.SuppressAfter < s.RestartAfter) {
		return fmt.Errorf("stall thresholds must be strictly increasing: pause=%v fallback=%v suppress=%v restart=%v",
			s.PauseAfter, s.FallbackAfter, s.SuppressAfter, s.RestartAfter)
	}
	return nil
}

// ValidateDependencies validates that the ffmpeg binaries are available
func (cm *ConfigManager) ValidateDependencies() error {
	if err := ValidateBinaryDependency(cm.config.FFmpeg.BinaryPath, "ffmpeg"); err != nil {
		return err
	}
	return ValidateBinaryDependency(cm.config.FFmpeg.ProbePath, "ffprobe")
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// Validation helper functions
func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "json", "console", "text":
		return true
	}
	return false
}
