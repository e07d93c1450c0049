// Package logging provides a dependency-free console logger. It backs
// the binary when telemetry is disabled and keeps test output readable.
package logging

import (
	"fmt"
	"io"
	"os"
	"pairs_trader/internal/core"
	"sort"
	"strings"
	"time"
)

// Level orders log severities.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a Level.
func ParseLevel(level string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(level, name) {
			return Level(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s", level)
}

const timestampLayout = "2006-01-02 15:04:05.000"

// Logger renders "[ts] [LEVEL] msg {k=v, ...}" lines with fields in
// sorted key order, so output is stable across runs.
type Logger struct {
	level  Level
	writer io.Writer
	fields map[string]interface{}
}

// NewLogger writes to stdout when writer is nil.
func NewLogger(level Level, writer io.Writer) *Logger {
	if writer == nil {
		writer = os.Stdout
	}
	return &Logger{level: level, writer: writer, fields: map[string]interface{}{}}
}

// NewLoggerFromString builds a logger from a config level string.
func NewLoggerFromString(levelStr string, writer io.Writer) (*Logger, error) {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	return NewLogger(level, writer), nil
}

func (l *Logger) log(level Level, msg string, kv ...interface{}) {
	if level < l.level {
		return
	}

	fields := make(map[string]interface{}, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprintf("%v", kv[i])] = kv[i+1]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", time.Now().Format(timestampLayout), level, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, fields[k])
		}
		b.WriteString("}")
	}
	fmt.Fprintln(l.writer, b.String())
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DebugLevel, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(InfoLevel, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WarnLevel, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ErrorLevel, msg, fields...) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *Logger) child(extra int) *Logger {
	c := &Logger{
		level:  l.level,
		writer: l.writer,
		fields: make(map[string]interface{}, len(l.fields)+extra),
	}
	for k, v := range l.fields {
		c.fields[k] = v
	}
	return c
}

// WithField returns a copy carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) core.ILogger {
	c := l.child(1)
	c.fields[key] = value
	return c
}

// WithFields returns a copy carrying the extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) core.ILogger {
	c := l.child(len(fields))
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

var globalLogger core.ILogger = NewLogger(InfoLevel, os.Stdout)

// SetGlobalLogger replaces the process-wide fallback logger.
func SetGlobalLogger(logger core.ILogger) { globalLogger = logger }

// GetGlobalLogger returns the process-wide fallback logger.
func GetGlobalLogger() core.ILogger { return globalLogger }
