package logging

import (
	"sync"
)

// DefaultLoggerFactory implements LoggerFactory using zap loggers
type DefaultLoggerFactory struct {
	loggers map[string]Logger
	opts    Options
	mu      sync.RWMutex
}

// NewLoggerFactory creates a new logger factory with production defaults
func NewLoggerFactory() LoggerFactory {
	return NewLoggerFactoryWithOptions(DefaultOptions())
}

// NewLoggerFactoryWithOptions creates a logger factory with the given zap options
func NewLoggerFactoryWithOptions(opts Options) LoggerFactory {
	return &DefaultLoggerFactory{
		loggers: make(map[string]Logger),
		opts:    opts,
	}
}

// CreateLogger creates a basic logger for the specified component
func (f *DefaultLoggerFactory) CreateLogger(component string) Logger {
	f.mu.RLock()
	logger, exists := f.loggers[component]
	f.mu.RUnlock()
	if exists {
		return logger
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if logger, exists := f.loggers[component]; exists {
		return logger
	}

	zapLogger := NewZapLoggerWithOptions(component, f.opts)
	f.loggers[component] = zapLogger
	return zapLogger
}

// CreateEngineLogger creates a logger for a playback session
func (f *DefaultLoggerFactory) CreateEngineLogger(sessionID string) Logger {
	return NewEnginePipelineLogger(f.CreateLogger("engine"), sessionID, "engine")
}

// CreatePipelineLogger creates a logger for one decode pipeline of a session
func (f *DefaultLoggerFactory) CreatePipelineLogger(sessionID, kind, pipelineID string) Logger {
	return NewEnginePipelineLogger(f.CreateLogger("engine"), sessionID, kind).WithPipelineID(pipelineID)
}

// DatabaseLoggerFactory extends the default factory with database persistence
type DatabaseLoggerFactory struct {
	*DefaultLoggerFactory
	repository LogRepository
}

// NewDatabaseLoggerFactory creates a logger factory with database persistence
func NewDatabaseLoggerFactory(repository LogRepository, opts Options) LoggerFactory {
	return &DatabaseLoggerFactory{
		DefaultLoggerFactory: &DefaultLoggerFactory{
			loggers: make(map[string]Logger),
			opts:    opts,
		},
		repository: repository,
	}
}

// CreateLogger creates a database-backed logger for the specified component
func (f *DatabaseLoggerFactory) CreateLogger(component string) Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if logger, exists := f.loggers[component]; exists {
		return logger
	}

	dbLogger := NewDatabaseLogger(component, NewZapLoggerWithOptions(component, f.opts), f.repository)
	f.loggers[component] = dbLogger
	return dbLogger
}

// CreateEngineLogger creates a database-backed logger for a playback session
func (f *DatabaseLoggerFactory) CreateEngineLogger(sessionID string) Logger {
	return NewEnginePipelineLogger(f.CreateLogger("engine"), sessionID, "engine")
}

// CreatePipelineLogger creates a database-backed logger for one decode pipeline
func (f *DatabaseLoggerFactory) CreatePipelineLogger(sessionID, kind, pipelineID string) Logger {
	return NewEnginePipelineLogger(f.CreateLogger("engine"), sessionID, kind).WithPipelineID(pipelineID)
}

var (
	globalFactory LoggerFactory
	globalMu      sync.RWMutex
	factoryOnce   sync.Once
)

// GetGlobalLoggerFactory returns the global logger factory instance
func GetGlobalLoggerFactory() LoggerFactory {
	factoryOnce.Do(func() {
		globalMu.Lock()
		if globalFactory == nil {
			globalFactory = NewLoggerFactory()
		}
		globalMu.Unlock()
	})

	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalFactory
}

// SetGlobalLoggerFactory sets the global logger factory (useful for dependency injection)
func SetGlobalLoggerFactory(factory LoggerFactory) {
	globalMu.Lock()
	globalFactory = factory
	globalMu.Unlock()
}
