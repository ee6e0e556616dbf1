// Package logging provides leveled console output for the work server.
// Lines are written as: LEVEL TIMESTAMP [component] message key=value ...
package logging

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

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int32{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name into a Level.
// Unknown names fall back to LevelInfo and report ok=false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO", "":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Fields holds structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// sink is shared by a logger and every logger derived from it, so that
// writes from different components never interleave.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel atomic.Int32
}

// Logger provides structured logging to stdout.
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	s := &sink{output: os.Stdout}
	s.minLevel.Store(levelPriority[LevelInfo])
	return &Logger{sink: s}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	l.SetLevel(LevelError)
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		sink:      l.sink,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger that tags every line with request_id.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		sink:      l.sink,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level for this logger and its derivatives.
func (l *Logger) SetLevel(level Level) {
	p, ok := levelPriority[level]
	if !ok {
		p = levelPriority[LevelInfo]
	}
	l.sink.minLevel.Store(p)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return levelPriority[level] >= l.sink.minLevel.Load()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs sorted by key.
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...Fields) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var merged Fields
	if len(fields) > 0 && fields[0] != nil {
		merged = fields[0]
	}
	if l.traceID != "" {
		withID := make(Fields, len(merged)+1)
		for k, v := range merged {
			withID[k] = v
		}
		withID["request_id"] = l.traceID
		merged = withID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Lifecycle logging methods ---

// ServerStarting logs the listener address before serving begins.
func (l *Logger) ServerStarting(port int) {
	l.Info("application_starting", Fields{"port": port})
}

// ServerStopped logs the end of the process lifecycle.
func (l *Logger) ServerStopped(duration time.Duration) {
	l.Info("application_shut_down", Fields{"shutdown_duration": duration.Round(time.Millisecond).String()})
}

// ShutdownSignal logs the transition into the shutting down state.
func (l *Logger) ShutdownSignal(signal string) {
	l.Info("shutdown_initiated", Fields{"signal": signal})
}

// ShutdownHandler logs the outcome of a single teardown handler.
func (l *Logger) ShutdownHandler(name string, phase int, duration time.Duration, err error) {
	fields := Fields{
		"handler":  name,
		"phase":    phase,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("shutdown_handler_failed", fields)
		return
	}
	l.Info("shutdown_handler_done", fields)
}

// --- Request logging methods ---

// RequestRejected logs a request refused because the server is draining.
func (l *Logger) RequestRejected(client string) {
	l.Info("request_rejected", Fields{
		"client": client,
		"reason": "application is shutting down",
	})
}

// WorkStart logs the admission of a request and the start of its work unit.
func (l *Logger) WorkStart(host, client string, iterations int) {
	l.Info("work_start", Fields{
		"host":       host,
		"client":     client,
		"iterations": iterations,
	})
}

// WorkProgress logs a progress checkpoint of a running work unit.
func (l *Logger) WorkProgress(percent int) {
	l.Debug("work_progress", Fields{"percent": percent})
}

// WorkInterrupted logs that the work loop observed shutdown and stopped.
func (l *Logger) WorkInterrupted(host string, completed int) {
	l.Info("work_interrupted", Fields{
		"host":      host,
		"completed": completed,
	})
}

// WorkFinished logs the end of a request, whatever its outcome.
func (l *Logger) WorkFinished(host, client string, duration time.Duration, completed, target int) {
	l.Info("work_finished", Fields{
		"host":       host,
		"client":     client,
		"duration":   fmt.Sprintf("%.4fs", duration.Seconds()),
		"iterations": completed,
		"target":     target,
	})
}
