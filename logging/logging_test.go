package logging

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestLogger_Levels(t *testing.T) {
	logger, buf := newBuffered()
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug message should be filtered at INFO level")

	logger.Info("info message")
	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "info message")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   Level
		wantOK bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("executor")
	logger.SetOutput(&buf)

	logger.Info("test message")

	assert.Contains(t, buf.String(), "[executor]")
}

func TestLogger_DerivedSharesLevel(t *testing.T) {
	root, buf := newBuffered()
	child := root.WithComponent("server")

	root.SetLevel(LevelDebug)
	child.Debug("visible")
	assert.Contains(t, buf.String(), "visible", "derived logger should follow the root level")
}

func TestLogger_WithTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithTraceID("req-123")
	logger.SetOutput(&buf)

	logger.Info("test message", Fields{"a": 1})

	output := buf.String()
	assert.Contains(t, output, "request_id=req-123")
	assert.Contains(t, output, "a=1", "caller fields should be kept")
}

func TestLogger_FieldsSorted(t *testing.T) {
	logger, buf := newBuffered()

	logger.Info("sorted", Fields{"zeta": 1, "alpha": 2, "mid": 3})

	assert.Contains(t, buf.String(), "alpha=2 mid=3 zeta=1")
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("test")
	logger.SetOutput(&buf)

	logger.Info("hello world", Fields{"key": "value"})

	output := buf.String()
	// Format: LEVEL TIMESTAMP [component] message key=value
	assert.True(t, strings.HasPrefix(output, "INFO "), output)
	assert.Contains(t, output, "[test] hello world key=value")
}

func TestLogger_ConcurrentWritesDoNotInterleave(t *testing.T) {
	root, buf := newBuffered()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := root.WithComponent("worker")
			for j := 0; j < 50; j++ {
				l.Info("line", Fields{"n": j})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		require.True(t, strings.HasPrefix(line, "INFO "), "corrupted line: %q", line)
	}
}

func TestLogger_ServerLifecycle(t *testing.T) {
	logger, buf := newBuffered()

	logger.ServerStarting(8080)
	logger.ServerStopped(1500 * time.Millisecond)

	output := buf.String()
	assert.Contains(t, output, "application_starting")
	assert.Contains(t, output, "port=8080")
	assert.Contains(t, output, "application_shut_down")
}

func TestLogger_ShutdownSignal(t *testing.T) {
	logger, buf := newBuffered()

	logger.ShutdownSignal("SIGTERM")

	output := buf.String()
	assert.Contains(t, output, "shutdown_initiated")
	assert.Contains(t, output, "signal=SIGTERM")
}

func TestLogger_ShutdownHandler(t *testing.T) {
	logger, buf := newBuffered()

	logger.ShutdownHandler("http-server", 10, 15*time.Millisecond, nil)
	logger.ShutdownHandler("heartbeat", 20, time.Millisecond, errors.New("bus closed"))

	output := buf.String()
	assert.Contains(t, output, "shutdown_handler_done")
	assert.Contains(t, output, "ERROR")
	assert.Contains(t, output, "error=bus closed")
}

func TestLogger_WorkLifecycle(t *testing.T) {
	logger, buf := newBuffered()
	logger.SetLevel(LevelDebug)

	logger.WorkStart("h1", "1.2.3.4", 500000)
	logger.WorkProgress(20)
	logger.WorkInterrupted("h1", 100)
	logger.WorkFinished("h1", "1.2.3.4", 5*time.Millisecond, 100, 500000)

	output := buf.String()
	for _, want := range []string{
		"work_start",
		"iterations=500000",
		"work_progress percent=20",
		"work_interrupted completed=100",
		"duration=0.0050s",
		"target=500000",
	} {
		assert.Contains(t, output, want)
	}
}

func TestLogger_RequestRejected(t *testing.T) {
	logger, buf := newBuffered()

	logger.RequestRejected("10.0.0.1")

	assert.Contains(t, buf.String(), "request_rejected")
}

func TestNop(t *testing.T) {
	logger := Nop()
	// Should not panic or write anywhere visible.
	logger.Error("discarded")
	assert.False(t, logger.Enabled(LevelInfo), "nop logger should not enable INFO")
}
