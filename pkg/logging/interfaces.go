package logging

// Logger provides logging functionality with structured fields
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
	WithPipeline(pipeline string) Logger
	WithContext(ctx map[string]interface{}) Logger
}

// LoggerFactory creates different types of loggers
type LoggerFactory interface {
	CreateLogger(component string) Logger
	CreateEngineLogger(sessionID string) Logger
	CreatePipelineLogger(sessionID, kind, pipelineID string) Logger
}

// LogRepository interface for persisting logs
type LogRepository interface {
	SaveLog(entry LogEntry) error
}

// LogEntry represents a log entry for persistence
type LogEntry struct {
	SessionID  string                 `json:"session_id,omitempty"`
	Component  string                 `json:"component"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Error      string                 `json:"error,omitempty"`
	Fields     map[string]interface{} `json:"fields"`
	SourceID   string                 `json:"source_id,omitempty"`
	PipelineID string                 `json:"pipeline_id,omitempty"`
}
