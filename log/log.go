// Package log provides leveled logging for the assistant.
//
// Components receive a Logger through their constructors; the
// package-level functions log through a process-wide default that main
// configures once from the diagnostics settings.
package log

import (
	"fmt"
	"io"

	"github.com/kataras/golog"
)

// Level represents logging severity.
type Level int

const (
	// LevelDebug for detailed debugging information
	LevelDebug Level = iota
	// LevelInfo for general informational messages
	LevelInfo
	// LevelWarn for warning messages
	LevelWarn
	// LevelError for error messages
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// ParseLevel maps a configuration string to a Level. Unknown values
// fall back to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "none", "NONE", "disable", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger is the logging interface used throughout the assistant.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// GologLogger implements Logger on top of kataras/golog.
type GologLogger struct {
	logger *golog.Logger
	level  Level
}

var _ Logger = (*GologLogger)(nil)

// New creates a logger at the given level writing to golog's default
// output.
func New(level Level) *GologLogger {
	return newWithLogger(golog.New(), level)
}

// NewWithOutput creates a logger at the given level writing to out.
func NewWithOutput(out io.Writer, level Level) *GologLogger {
	l := golog.New()
	l.SetOutput(out)
	return newWithLogger(l, level)
}

func newWithLogger(l *golog.Logger, level Level) *GologLogger {
	g := &GologLogger{logger: l}
	g.SetLevel(level)
	return g
}

// Debug logs debug messages.
func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LevelDebug {
		l.logger.Debugf(format, v...)
	}
}

// Info logs informational messages.
func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LevelInfo {
		l.logger.Infof(format, v...)
	}
}

// Warn logs warning messages.
func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LevelWarn {
		l.logger.Warnf(format, v...)
	}
}

// Error logs error messages.
func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LevelError {
		l.logger.Errorf(format, v...)
	}
}

// SetLevel sets the log level on both the wrapper and the underlying
// golog logger.
func (l *GologLogger) SetLevel(level Level) {
	l.level = level

	gologLevel := "info"
	switch level {
	case LevelDebug:
		gologLevel = "debug"
	case LevelInfo:
		gologLevel = "info"
	case LevelWarn:
		gologLevel = "warn"
	case LevelError:
		gologLevel = "error"
	case LevelNone:
		gologLevel = "disable"
	}
	l.logger.SetLevel(gologLevel)
}

// Level returns the current log level.
func (l *GologLogger) Level() Level {
	return l.level
}

// NoOpLogger is a logger that discards everything. Useful in tests.
type NoOpLogger struct{}

// Debug does nothing
func (NoOpLogger) Debug(format string, v ...any) {}

// Info does nothing
func (NoOpLogger) Info(format string, v ...any) {}

// Warn does nothing
func (NoOpLogger) Warn(format string, v ...any) {}

// Error does nothing
func (NoOpLogger) Error(format string, v ...any) {}

var defaultLogger Logger = New(LevelInfo)

// SetDefault replaces the package-level logger.
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// Default returns the package-level logger.
func Default() Logger {
	return defaultLogger
}

// Debug logs a debug message using the package-level logger.
func Debug(format string, v ...any) { defaultLogger.Debug(format, v...) }

// Info logs an informational message using the package-level logger.
func Info(format string, v ...any) { defaultLogger.Info(format, v...) }

// Warn logs a warning message using the package-level logger.
func Warn(format string, v ...any) { defaultLogger.Warn(format, v...) }

// Error logs an error message using the package-level logger.
func Error(format string, v ...any) { defaultLogger.Error(format, v...) }
