package logging

import (
	"time"
)

// DatabaseLogger wraps a base logger with database persistence
type DatabaseLogger struct {
	base       Logger
	component  string
	context    map[string]interface{}
	repository LogRepository
}

// NewDatabaseLogger creates a new database-backed logger
func NewDatabaseLogger(component string, base Logger, repository LogRepository) *DatabaseLogger {
	return &DatabaseLogger{
		base:       base,
		component:  component,
		context:    make(map[string]interface{}),
		repository: repository,
	}
}

// Info logs informational messages and persists to database
func (d *DatabaseLogger) Info(msg string, fields map[string]interface{}) {
	d.base.Info(msg, fields)
	d.persistLog("INFO", msg, nil, fields)
}

// Error logs error messages and persists to database
func (d *DatabaseLogger) Error(msg string, err error, fields map[string]interface{}) {
	d.base.Error(msg, err, fields)
	d.persistLog("ERROR", msg, err, fields)
}

// Warn logs warning messages and persists to database
func (d *DatabaseLogger) Warn(msg string, fields map[string]interface{}) {
	d.base.Warn(msg, fields)
	d.persistLog("WARN", msg, nil, fields)
}

// Debug logs debug messages. Debug output is never persisted.
func (d *DatabaseLogger) Debug(msg string, fields map[string]interface{}) {
	d.base.Debug(msg, fields)
}

// WithPipeline creates a new logger with pipeline context
func (d *DatabaseLogger) WithPipeline(pipeline string) Logger {
	newContext := copyFields(d.context)
	newContext["pipeline"] = pipeline

	return &DatabaseLogger{
		base:       d.base.WithPipeline(pipeline),
		component:  d.component,
		context:    newContext,
		repository: d.repository,
	}
}

// WithContext creates a new logger with additional context fields
func (d *DatabaseLogger) WithContext(ctx map[string]interface{}) Logger {
	newContext := copyFields(d.context)
	for k, v := range ctx {
		newContext[k] = v
	}

	return &DatabaseLogger{
		base:       d.base.WithContext(ctx),
		component:  d.component,
		context:    newContext,
		repository: d.repository,
	}
}

// persistLog saves the log entry to the database without blocking the caller
func (d *DatabaseLogger) persistLog(level, message string, err error, fields map[string]interface{}) {
	if d.repository == nil {
		return
	}

	entry := d.buildLogEntry(level, message, err, fields)

	go func() {
		if saveErr := d.repository.SaveLog(entry); saveErr != nil {
			// Report through the base logger only, persisting here would recurse
			d.base.Error("Failed to persist log to database", saveErr, map[string]interface{}{
				"original_message": message,
				"original_level":   level,
			})
		}
	}()
}

// buildLogEntry creates a LogEntry for database persistence
func (d *DatabaseLogger) buildLogEntry(level, message string, err error, fields map[string]interface{}) LogEntry {
	allFields := copyFields(d.context)
	for k, v := range fields {
		allFields[k] = v
	}

	entry := LogEntry{
		Component: d.component,
		Level:     level,
		Message:   message,
		Fields:    allFields,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if val, ok := allFields["session_id"].(string); ok {
		entry.SessionID = val
	}
	if val, ok := allFields["source_id"].(string); ok {
		entry.SourceID = val
	}
	if val, ok := allFields["pipeline_id"].(string); ok {
		entry.PipelineID = val
	}

	allFields["timestamp"] = time.Now()

	return entry
}
