package playback

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"gorm.io/gorm"
)

// EngineDependencies are the optional collaborators of NewEngineWithDependencies.
// A nil DB disables persistence; a nil Decoder selects the ffmpeg decoder.
type EngineDependencies struct {
	DB        *gorm.DB
	Config    ConfigProvider
	Decoder   decoder.Decoder
	Sequence  SourceSequence
	Clock     Clock
	SessionID string
}

// NewEngineWithDependencies creates a supervisor with all dependencies wired
func NewEngineWithDependencies(deps EngineDependencies) (*Supervisor, error) {
	if deps.SessionID == "" {
		deps.SessionID = uuid.New().String()
	}

	// Step 1: Configuration
	config := deps.Config
	if config == nil {
		var err error
		config, err = createConfigProvider()
		if err != nil {
			return nil, fmt.Errorf("config creation failed: %w", err)
		}
	}

	// Step 2: Validate configuration early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Step 3: Repository and logging
	repo := createRepository(deps.DB, config)
	loggerFactory := createLoggerFactory(repo, config)
	logger := loggerFactory.CreateEngineLogger(deps.SessionID)

	// Step 4: Decoder
	dec := deps.Decoder
	if dec == nil {
		if err := validateDecoderDependencies(config); err != nil {
			return nil, fmt.Errorf("dependency validation failed: %w", err)
		}
		logger.Info("Binary dependencies validated successfully", CreateContextFieldsWithComponent(deps.SessionID, "", "", "factory"))
		dec = createDecoder(config, loggerFactory)
	}

	// Step 5: Policies
	errorHandler := createErrorHandler(config, repo, deps.SessionID)
	metrics := createMetricsCollector(repo, deps.SessionID)

	// Step 6: Supervisor
	supervisor, err := NewSupervisor(SupervisorOptions{
		SessionID:    deps.SessionID,
		Decoder:      dec,
		Config:       config,
		Sequence:     deps.Sequence,
		Clock:        deps.Clock,
		Repository:   repo,
		Metrics:      metrics,
		ErrorHandler: errorHandler,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor creation failed: %w", err)
	}

	logger.Info("Playback engine created successfully", CreateContextFieldsWithComponent(supervisor.SessionID(), "", "", "factory"))
	return supervisor, nil
}

func createConfigProvider() (ConfigProvider, error) {
	return NewConfigManager()
}

// createRepository returns the gorm repository when persistence is enabled
func createRepository(db *gorm.DB, config ConfigProvider) PlaybackRepository {
	if db == nil || !config.GetDatabaseConfig().Enabled {
		return NopRepository{}
	}
	return NewPlaybackRepository(db)
}

// createLoggerFactory persists logs through repo when the logger config asks
// for it, and installs the factory globally so pipeline loggers share it
func createLoggerFactory(repo PlaybackRepository, config ConfigProvider) logging.LoggerFactory {
	loggerConfig := config.GetLoggerConfig()
	opts := logging.Options{Level: loggerConfig.Level, Format: loggerConfig.Format}

	var factory logging.LoggerFactory
	if _, nop := repo.(NopRepository); loggerConfig.SaveToDB && !nop {
		factory = logging.NewDatabaseLoggerFactory(NewLogRepositoryAdapter(repo), opts)
	} else {
		factory = logging.NewLoggerFactoryWithOptions(opts)
	}
	logging.SetGlobalLoggerFactory(factory)
	return factory
}

func validateDecoderDependencies(config ConfigProvider) error {
	ffmpegConfig := config.GetFFmpegConfig()
	if err := ValidateBinaryDependency(ffmpegConfig.BinaryPath, "ffmpeg"); err != nil {
		return err
	}
	return ValidateBinaryDependency(ffmpegConfig.ProbePath, "ffprobe")
}

func createDecoder(config ConfigProvider, factory logging.LoggerFactory) decoder.Decoder {
	ffmpegConfig := config.GetFFmpegConfig()
	return decoder.NewFFmpegDecoder(decoder.FFmpegOptions{
		BinaryPath:  ffmpegConfig.BinaryPath,
		ExtraArgs:   ffmpegConfig.CustomArgs,
		StopTimeout: ffmpegConfig.StopTimeout,
		Width:       config.GetPipelineConfig().TargetWidth,
		Height:      config.GetPipelineConfig().TargetHeight,
		SampleRate:  config.GetMixerConfig().SampleRate,
	}, factory.CreateLogger("decoder"))
}

func createErrorHandler(config ConfigProvider, repo PlaybackRepository, sessionID string) ErrorHandler {
	return NewBasicErrorHandler(config.GetRetryConfig(), repo, sessionID)
}

func createMetricsCollector(repo PlaybackRepository, sessionID string) MetricsCollector {
	return NewBasicMetrics(repo, sessionID)
}
