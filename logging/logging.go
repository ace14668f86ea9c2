// Package logging provides level-filtered console output for the board.
// One line per event in key=value form, cheap enough to leave on in
// production; the task rows themselves are the durable record.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a config string into a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Lifecycle-derived logging methods ---
// Called by the board after a transition commits, so console output tracks
// the state machine without duplicating the stored data.

// Transition logs a committed status change.
func (l *Logger) Transition(taskID, from, to, actor string) {
	l.Info("transition", map[string]interface{}{
		"task":  taskID,
		"from":  from,
		"to":    to,
		"actor": actor,
	})
}

// TransitionLost logs a conditional write that affected no rows.
func (l *Logger) TransitionLost(taskID, expected, actual string) {
	l.Debug("transition_lost", map[string]interface{}{
		"task":     taskID,
		"expected": expected,
		"actual":   actual,
	})
}

// Expired logs a lazy or swept claim expiry.
func (l *Logger) Expired(taskID, outcome string, attempts int) {
	l.Info("claim_expired", map[string]interface{}{
		"task":     taskID,
		"outcome":  outcome,
		"attempts": attempts,
	})
}

// RateLimited logs a denied action.
func (l *Logger) RateLimited(policy, key string, retryAfter time.Duration) {
	l.Debug("rate_limited", map[string]interface{}{
		"policy":      policy,
		"key":         key,
		"retry_after": retryAfter.String(),
	})
}

// Request logs a completed HTTP request.
func (l *Logger) Request(method, path string, status int, duration time.Duration) {
	l.Debug("request", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   status,
		"duration": duration.String(),
	})
}
