package observability

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StandardLogger writes leveled, prefixed lines with key=value fields to an
// io.Writer. Loggers derived through With, WithPrefix and WithLevel share
// the writer and its lock; those derived through With and WithPrefix also
// share the level, so SetLevel on any of them applies to all.
type StandardLogger struct {
	prefix string
	level  *atomic.Value
	fields map[string]interface{}
	out    io.Writer
	mu     *sync.Mutex
}

// NewStandardLogger creates a new StandardLogger with the given prefix writing to stderr
func NewStandardLogger(prefix string) Logger {
	return NewWriterLogger(prefix, os.Stderr)
}

// NewWriterLogger creates a StandardLogger writing to out
func NewWriterLogger(prefix string, out io.Writer) *StandardLogger {
	return &StandardLogger{
		prefix: prefix,
		level:  newLevel(LogLevelInfo),
		out:    out,
		mu:     &sync.Mutex{},
	}
}

func newLevel(level LogLevel) *atomic.Value {
	v := &atomic.Value{}
	v.Store(level)
	return v
}

// NewFileLogger opens path for appending and returns a logger writing to it
// together with the file so the caller can close it on shutdown.
func NewFileLogger(prefix, path string) (*StandardLogger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return NewWriterLogger(prefix, f), f, nil
}

// WithLevel returns a new logger with its own level, detached from l's
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	clone := l.clone()
	clone.level = newLevel(level)
	return clone
}

// SetLevel changes the level of l and every logger sharing it
func (l *StandardLogger) SetLevel(level LogLevel) {
	l.level.Store(level)
}

// Level returns the minimum level this logger emits
func (l *StandardLogger) Level() LogLevel {
	return l.level.Load().(LogLevel)
}

// Debug logs a debug message
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LogLevelDebug, msg, fields)
}

// Info logs an info message
func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LogLevelInfo, msg, fields)
}

// Warn logs a warning message
func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LogLevelWarn, msg, fields)
}

// Error logs an error message
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

// Fatal logs a fatal message and exits
func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

// Debugf logs a formatted debug message
func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	l.log(LogLevelDebug, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (l *StandardLogger) Infof(format string, args ...interface{}) {
	l.log(LogLevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (l *StandardLogger) Warnf(format string, args ...interface{}) {
	l.log(LogLevelWarn, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	l.log(LogLevelError, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits
func (l *StandardLogger) Fatalf(format string, args ...interface{}) {
	l.log(LogLevelFatal, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// WithPrefix returns a new logger with the given prefix
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	clone := l.clone()
	clone.prefix = prefix
	return clone
}

// With returns a new logger that adds fields to every line
func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	clone := l.clone()
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clone.fields = merged
	return clone
}

func (l *StandardLogger) clone() *StandardLogger {
	return &StandardLogger{
		prefix: l.prefix,
		level:  l.level,
		fields: l.fields,
		out:    l.out,
		mu:     l.mu,
	}
}

var levelHierarchy = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// levelEnabled checks if the given log level is enabled
func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	return levelHierarchy[level] >= levelHierarchy[l.Level()]
}

// formatFields formats fields as sorted key=value pairs
func formatFields(sets ...map[string]interface{}) string {
	merged := make(map[string]interface{})
	for _, set := range sets {
		for k, v := range set {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, merged[k])
	}
	return b.String()
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.levelEnabled(level) {
		return
	}

	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	line := fmt.Sprintf("%s [%s] [%s] %s%s\n", timestamp, level, l.prefix, msg, formatFields(l.fields, fields))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}
