package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/latoulicious/reelcore/internal/version"
	"github.com/latoulicious/reelcore/pkg/common"
	"github.com/latoulicious/reelcore/pkg/database"
	"github.com/latoulicious/reelcore/pkg/database/migration"
	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
	"github.com/latoulicious/reelcore/pkg/mixer"
	"github.com/latoulicious/reelcore/pkg/playback"
	"github.com/latoulicious/reelcore/tools"
	"gorm.io/gorm"
)

// displayRate is how often the frame loop polls the supervisor
const displayRate = 60

type options struct {
	showVersion bool
	check       bool
	dbCheck     bool
	migrate     bool
	synthetic   int
	start       float64
	speed       float64
	reverse     bool
	httpAddr    string
	idleTimeout time.Duration
	audioOut    string
}

func main() {
	var opts options
	flag.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flag.BoolVar(&opts.check, "check", false, "validate the ffmpeg and ffprobe binaries and exit")
	flag.BoolVar(&opts.dbCheck, "dbcheck", false, "check database connectivity and exit")
	flag.BoolVar(&opts.migrate, "migrate", false, "run database migrations before starting")
	flag.IntVar(&opts.synthetic, "synthetic", 0, "play N generated sources instead of files")
	flag.Float64Var(&opts.start, "start", 0, "timeline time to start at, in seconds")
	flag.Float64Var(&opts.speed, "speed", 1, "playback speed, 0 starts paused")
	flag.BoolVar(&opts.reverse, "reverse", false, "start in reverse")
	flag.StringVar(&opts.httpAddr, "http", ":8080", "health check listen address, empty disables it")
	flag.DurationVar(&opts.idleTimeout, "idle-timeout", 10*time.Minute, "stop playback after this long without control requests")
	flag.StringVar(&opts.audioOut, "audio-out", "", "write raw float32 PCM to this file, - for stdout")
	flag.Parse()

	if opts.showVersion {
		fmt.Println(version.Get().String())
		return
	}

	if err := run(opts, flag.Args()); err != nil {
		log.Fatalf("reelcore failed: %v", err)
	}
}

func run(opts options, paths []string) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	config, err := playback.NewConfigManager()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Config()

	if opts.check {
		validator := tools.NewBinaryValidator(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
		fmt.Println(validator.GetBinaryStatus())
		if _, err := validator.ValidateAllBinaries(); err != nil {
			return err
		}
		return nil
	}
	if opts.dbCheck {
		return tools.DBCheck(cfg.Database.DSN, os.Stdout)
	}

	db, err := openDatabase(cfg.Database, opts.migrate)
	if err != nil {
		return err
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dec decoder.Decoder
	queue := common.NewSourceQueue("")
	if opts.synthetic > 0 {
		synthetic := decoder.NewSyntheticDecoder(decoder.DefaultSyntheticSource())
		for i := 0; i < opts.synthetic; i++ {
			if err := queue.Add(synthetic.Handle(fmt.Sprintf("synthetic-%d", i+1))); err != nil {
				return err
			}
		}
		dec = synthetic
	} else {
		if len(paths) == 0 {
			return fmt.Errorf("no sources given, pass media files or -synthetic N")
		}
		if err := tools.NewBinaryValidator(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).QuickValidation(); err != nil {
			return err
		}
		if err := loadSources(ctx, queue, db, cfg.FFmpeg.ProbePath, paths); err != nil {
			return err
		}
	}

	engine, err := playback.NewEngineWithDependencies(playback.EngineDependencies{
		DB:       db,
		Config:   config,
		Decoder:  dec,
		Sequence: queue,
	})
	if err != nil {
		return fmt.Errorf("failed to create playback engine: %w", err)
	}
	defer engine.Close()

	logger := logging.GetGlobalLoggerFactory().CreateLogger("system")
	logger.Info("reelcore started", map[string]interface{}{
		"version":    version.Version,
		"session_id": engine.SessionID(),
		"sources":    queue.Size(),
		"duration":   queue.Duration(),
		"config":     config.(*playback.ConfigManager).Source(),
	})

	if cfg.Mixer.Enabled && opts.audioOut != "" {
		out, closeOut, err := openAudioOutput(opts.audioOut)
		if err != nil {
			return err
		}
		defer closeOut()
		device := mixer.NewWriterDevice(out, cfg.Mixer.SampleRate, cfg.Mixer.Channels, 10*time.Millisecond)
		if err := engine.AttachAudioDevice(device); err != nil {
			return err
		}
	}

	intent, err := initialIntent(queue, opts)
	if err != nil {
		return err
	}
	if err := engine.SubmitIntent(intent); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	timeouts := common.NewTimeoutManager(opts.idleTimeout, time.Minute)
	timeouts.Track(engine.SessionID(), engine)
	timeouts.StartMonitoring(ctx)

	if cfg.Reporter.Enabled {
		reporter := playback.NewStatsReporter(engine, cfg.Reporter.Schedule, logging.GetGlobalLoggerFactory().CreateLogger("reporter"))
		if err := reporter.Start(); err != nil {
			return err
		}
		defer reporter.Stop()
	}

	var server *healthServer
	if opts.httpAddr != "" {
		server = newHealthServer(opts.httpAddr, engine, queue, timeouts, db != nil)
		server.Start()
		defer server.Shutdown()
	}

	go runFrameLoop(ctx, engine)

	log.Println("reelcore is running. Press CTRL-C to exit.")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	log.Println("Shutting down gracefully...")
	cancel()

	stats := engine.Metrics().GetStats()
	logger.Info("Playback session summary", map[string]interface{}{
		"stall_count":        stats.StallCount,
		"restarts":           stats.Restarts,
		"gapless_promotions": stats.GaplessPromotions,
		"fallback_frames":    stats.FallbackFrames,
		"error_count":        stats.ErrorCount,
	})

	log.Println("Application shutdown complete")
	return nil
}

// openDatabase connects when persistence is enabled and returns nil otherwise
func openDatabase(cfg playback.DatabaseConfig, migrate bool) (*gorm.DB, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	db, err := database.NewGormDBFromConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if migrate {
		if err := migration.RunMigration(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// loadSources probes every path and appends it to queue. With a database the
// probe results are cached across runs.
func loadSources(ctx context.Context, queue *common.SourceQueue, db *gorm.DB, ffprobePath string, paths []string) error {
	var manager *database.DatabaseManager
	if db != nil {
		var err error
		manager, err = database.NewDatabaseManager(db)
		if err != nil {
			return err
		}
		manager.StartCacheCleanup(ctx, time.Hour)
	}

	for i, path := range paths {
		id := sourceID(i, path)

		var (
			handle decoder.SourceHandle
			err    error
		)
		if manager != nil {
			handle, err = manager.ProbeSource(ctx, ffprobePath, id, path)
		} else {
			handle, err = probeSource(ctx, ffprobePath, id, path)
		}
		if err != nil {
			return fmt.Errorf("failed to probe %s: %w", path, err)
		}
		if err := queue.Add(handle); err != nil {
			return err
		}
	}
	return nil
}

func probeSource(ctx context.Context, ffprobePath, id, path string) (decoder.SourceHandle, error) {
	result, err := decoder.Probe(ctx, ffprobePath, path)
	if err != nil {
		return decoder.SourceHandle{}, err
	}
	handle, err := result.SourceHandle(id)
	if err != nil {
		return decoder.SourceHandle{}, err
	}
	handle.Path = path
	return handle, nil
}

// sourceID derives a stable, unique id from the file name
func sourceID(index int, path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return fmt.Sprintf("%02d-%s", index+1, name)
}

// initialIntent maps the -start timeline time onto a source
func initialIntent(queue *common.SourceQueue, opts options) (playback.PlaybackIntent, error) {
	src, srcTime, ok := queue.Locate(opts.start)
	if !ok {
		return playback.PlaybackIntent{}, fmt.Errorf("start time %.3fs is outside the sequence (%.3fs)", opts.start, queue.Duration())
	}

	intent := playback.PlaybackIntent{
		Source:     src,
		TargetTime: srcTime,
		Speed:      opts.speed,
		Direction:  playback.Forward,
	}
	if opts.reverse {
		intent.Direction = playback.Reverse
	}
	return intent, nil
}

func openAudioOutput(target string) (*os.File, func(), error) {
	if target == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// runFrameLoop drives the supervisor at the display rate until ctx is done
func runFrameLoop(ctx context.Context, engine *playback.Supervisor) {
	ticker := time.NewTicker(time.Second / displayRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.PollFrame()
		}
	}
}
