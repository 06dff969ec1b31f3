package logging

import (
	"fmt"
)

// PipelineLogger wraps a base logger with pipeline-specific context
type PipelineLogger struct {
	base     Logger
	pipeline string
	context  map[string]interface{}
}

// NewPipelineLogger creates a new pipeline-specific logger
func NewPipelineLogger(base Logger, pipeline string) *PipelineLogger {
	return &PipelineLogger{
		base:     base,
		pipeline: pipeline,
		context:  make(map[string]interface{}),
	}
}

// Info logs informational messages with pipeline context
func (p *PipelineLogger) Info(msg string, fields map[string]interface{}) {
	p.base.Info(fmt.Sprintf("[%s] %s", p.pipeline, msg), p.enrichFields(fields))
}

// Error logs error messages with pipeline context
func (p *PipelineLogger) Error(msg string, err error, fields map[string]interface{}) {
	p.base.Error(fmt.Sprintf("[%s] %s", p.pipeline, msg), err, p.enrichFields(fields))
}

// Warn logs warning messages with pipeline context
func (p *PipelineLogger) Warn(msg string, fields map[string]interface{}) {
	p.base.Warn(fmt.Sprintf("[%s] %s", p.pipeline, msg), p.enrichFields(fields))
}

// Debug logs debug messages with pipeline context
func (p *PipelineLogger) Debug(msg string, fields map[string]interface{}) {
	p.base.Debug(fmt.Sprintf("[%s] %s", p.pipeline, msg), p.enrichFields(fields))
}

// WithPipeline creates a new logger with updated pipeline context
func (p *PipelineLogger) WithPipeline(pipeline string) Logger {
	return &PipelineLogger{
		base:     p.base,
		pipeline: pipeline,
		context:  copyFields(p.context),
	}
}

// WithContext creates a new logger with additional context fields
func (p *PipelineLogger) WithContext(ctx map[string]interface{}) Logger {
	return p.withContext(ctx)
}

func (p *PipelineLogger) withContext(ctx map[string]interface{}) *PipelineLogger {
	newContext := copyFields(p.context)
	for k, v := range ctx {
		newContext[k] = v
	}

	return &PipelineLogger{
		base:     p.base,
		pipeline: p.pipeline,
		context:  newContext,
	}
}

// enrichFields combines pipeline context with provided fields
func (p *PipelineLogger) enrichFields(fields map[string]interface{}) map[string]interface{} {
	enriched := copyFields(p.context)

	// Provided fields can override context
	for k, v := range fields {
		enriched[k] = v
	}

	enriched["pipeline"] = p.pipeline

	return enriched
}

// EnginePipelineLogger is a logger bound to one playback session and, optionally,
// one decode pipeline inside it.
type EnginePipelineLogger struct {
	*PipelineLogger
	sessionID string
}

// NewEnginePipelineLogger creates a logger for a playback session. kind is the
// pipeline family ("engine", "forward", "reverse", "shadow", "fallback").
func NewEnginePipelineLogger(base Logger, sessionID, kind string) *EnginePipelineLogger {
	pipelineLogger := NewPipelineLogger(base, kind)

	return &EnginePipelineLogger{
		PipelineLogger: pipelineLogger.withContext(map[string]interface{}{
			"session_id": sessionID,
		}),
		sessionID: sessionID,
	}
}

// WithPipelineID adds the pipeline instance id
func (e *EnginePipelineLogger) WithPipelineID(pipelineID string) Logger {
	return e.WithContext(map[string]interface{}{
		"pipeline_id": pipelineID,
	})
}

// WithSource adds source context
func (e *EnginePipelineLogger) WithSource(sourceID string) Logger {
	return e.WithContext(map[string]interface{}{
		"source_id": sourceID,
	})
}
