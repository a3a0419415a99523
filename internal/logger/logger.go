package logger

import (
	"fmt"
	"log"
	"strings"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

// ParseLevel accepts the level names used in the config file and on the
// command line.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "none", "off":
		return LogLevelNone, nil
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarning, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug", "trace":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level: %s (must be none, error, warn, info, or debug)", s)
	}
}

// Logger is a leveled logger. A nil *Logger discards everything, so
// components can be built without one in tests.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	tag    string
}

func NewLogger(logger *log.Logger, level LogLevel) *Logger {
	return &Logger{
		logger: logger,
		level:  level,
		tag:    "",
	}
}

// WithTag creates a new logger with a tag prefix
func (l *Logger) WithTag(tag string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		logger: l.logger,
		level:  l.level,
		tag:    tag,
	}
}

func (l *Logger) formatMessage(level string, format string) string {
	if l.tag != "" {
		if level != "" {
			return "[" + l.tag + "] " + level + " " + format
		}
		return "[" + l.tag + "] " + format
	}
	if level != "" {
		return level + " " + format
	}
	return format
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && l.level >= LogLevelDebug {
		l.logger.Printf(l.formatMessage("DEBUG:", format), v...)
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l != nil && l.level >= LogLevelInfo {
		l.logger.Printf(l.formatMessage("", format), v...)
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if l != nil && l.level >= LogLevelWarning {
		l.logger.Printf(l.formatMessage("WARN:", format), v...)
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l != nil && l.level >= LogLevelError {
		l.logger.Printf(l.formatMessage("ERROR:", format), v...)
	}
}

// Level returns the configured level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogLevelNone
	}
	return l.level
}
