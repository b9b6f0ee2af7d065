// Package logging is a small structured logger, text or JSON, used for
// clcache's warning and error diagnostics; CLCACHE_LOG selects the Trace
// level. Built entirely on the standard library.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level orders log severity.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Trace:
		return "TRACE"
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Format selects the output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

type entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a leveled, optionally-structured logger.
type Logger struct {
	mu        sync.Mutex
	level     Level
	output    io.Writer
	format    Format
	component string
	fields    map[string]interface{}
}

// New returns a Logger writing to output at the given level and format.
func New(output io.Writer, level Level, format Format) *Logger {
	return &Logger{level: level, output: output, format: format}
}

// NewFromTraceFlag returns the Logger clcache uses by default: Info level
// normally, Trace level when CLCACHE_LOG-style tracing is enabled, text
// format, writing to os.Stderr so trace output never contaminates a hit's
// or miss's replayed stdout/stderr streams.
func NewFromTraceFlag(traceEnabled bool) *Logger {
	level := Info
	if traceEnabled {
		level = Trace
	}
	return New(os.Stderr, level, FormatText)
}

// WithComponent returns a derived Logger tagging every entry with
// component.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{level: l.level, output: l.output, format: l.format, component: component, fields: l.fields}
}

// WithField returns a derived Logger carrying an additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{level: l.level, output: l.output, format: l.format, component: l.component, fields: fields}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := entry{Timestamp: time.Now(), Level: level.String(), Component: l.component, Message: msg, Fields: l.fields}
	switch l.format {
	case FormatJSON:
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintln(l.output, string(data))
	default:
		if l.component != "" {
			fmt.Fprintf(l.output, "%s [%s] %s\n", e.Level, l.component, msg)
		} else {
			fmt.Fprintf(l.output, "%s %s\n", e.Level, msg)
		}
	}
}

// Tracef, Debugf, Infof, Warnf, and Errorf log at the matching level.
func (l *Logger) Tracef(format string, args ...interface{}) { l.log(Trace, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, format, args...) }
