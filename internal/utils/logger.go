// Package utils provides logging and small shared helpers.
package utils

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// LogLevel represents a log severity level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelSuccess
	LevelWarn
	LevelError
)

// ANSI colors per level.
var levelColors = map[LogLevel]string{
	LevelDebug:   "\033[90m",
	LevelInfo:    "\033[36m",
	LevelSuccess: "\033[32m",
	LevelWarn:    "\033[33m",
	LevelError:   "\033[31m",
}

var levelNames = map[LogLevel]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelSuccess: "OK",
	LevelWarn:    "WARN",
	LevelError:   "ERROR",
}

const colorReset = "\033[0m"

// String returns the level's display name.
func (l LogLevel) String() string { return levelNames[l] }

// LogEntry is a single recorded log line.
type LogEntry struct {
	Time    time.Time
	Level   LogLevel
	Message string
}

// Logger is a leveled logger that keeps a bounded in-memory history for the
// introspection endpoints.
type Logger struct {
	mu         sync.Mutex
	debug      bool
	noColor    bool
	history    []LogEntry
	maxHistory int
}

// NewLogger creates a logger with the given history capacity.
func NewLogger(maxHistory int) *Logger {
	return &Logger{maxHistory: maxHistory}
}

var defaultLogger = NewLogger(500)

// SetDebug toggles debug output on the default logger.
func SetDebug(enabled bool) { defaultLogger.SetDebug(enabled) }

// IsDebug reports whether debug output is enabled.
func IsDebug() bool {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return defaultLogger.debug
}

// SetDebug toggles debug output.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	l.debug = enabled
	l.mu.Unlock()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level == LevelDebug && !l.debug {
		return
	}

	msg := fmt.Sprintf(format, args...)
	entry := LogEntry{Time: time.Now(), Level: level, Message: msg}
	l.history = append(l.history, entry)
	if len(l.history) > l.maxHistory {
		l.history = l.history[len(l.history)-l.maxHistory:]
	}

	ts := entry.Time.Format("15:04:05")
	if l.noColor {
		fmt.Fprintf(os.Stderr, "%s [%s] %s\n", ts, levelNames[level], msg)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s[%s]%s %s\n", ts, levelColors[level], levelNames[level], colorReset, msg)
}

// History returns a copy of the recorded log lines.
func (l *Logger) History() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.history))
	copy(out, l.history)
	return out
}

// Debug logs at debug level on the default logger.
func Debug(format string, args ...interface{}) { defaultLogger.log(LevelDebug, format, args...) }

// Info logs at info level on the default logger.
func Info(format string, args ...interface{}) { defaultLogger.log(LevelInfo, format, args...) }

// Success logs at success level on the default logger.
func Success(format string, args ...interface{}) { defaultLogger.log(LevelSuccess, format, args...) }

// Warn logs at warn level on the default logger.
func Warn(format string, args ...interface{}) { defaultLogger.log(LevelWarn, format, args...) }

// Error logs at error level on the default logger.
func Error(format string, args ...interface{}) { defaultLogger.log(LevelError, format, args...) }

// LogHistory returns the default logger's history.
func LogHistory() []LogEntry { return defaultLogger.History() }
