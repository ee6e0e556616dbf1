package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/logging"
	"github.com/vinayprograms/podwork/shutdown"
)

func bufferedLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestExitStatus(t *testing.T) {
	flushErr := errors.Unavailable("events endpoint down")

	tests := []struct {
		name    string
		result  *shutdown.ShutdownResult
		want    int
		wantLog bool
	}{
		{"no teardown", nil, 0, false},
		{"clean", &shutdown.ShutdownResult{
			Results: []shutdown.HandlerResult{{Name: httpServerHandler}, {Name: "events"}},
		}, 0, false},
		{"later step failed", &shutdown.ShutdownResult{
			Results: []shutdown.HandlerResult{{Name: httpServerHandler}, {Name: "events", Err: flushErr}},
			Err:     shutdown.ErrHandlerFailed,
		}, 0, true},
		{"later phase timed out", &shutdown.ShutdownResult{
			Results: []shutdown.HandlerResult{{Name: httpServerHandler}},
			Err:     shutdown.ErrTimeout,
		}, 0, true},
		{"http server drain failed", &shutdown.ShutdownResult{
			Results: []shutdown.HandlerResult{{Name: httpServerHandler, Err: context.DeadlineExceeded}},
			Err:     shutdown.ErrHandlerFailed,
		}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := bufferedLogger()
			assert.Equal(t, tt.want, exitStatus(tt.result, logger))
			if tt.wantLog {
				assert.Contains(t, buf.String(), "shutdown_incomplete")
			} else {
				assert.NotContains(t, buf.String(), "shutdown_incomplete")
			}
		})
	}
}

func TestStopAfterFailure_LogsTeardownError(t *testing.T) {
	logger, buf := bufferedLogger()
	coord := shutdown.NewCoordinator(shutdown.Config{ContinueOnError: true})
	coord.RegisterFunc("events", func(context.Context) error {
		return errors.Unavailable("events endpoint down")
	})

	stopAfterFailure(coord, time.Second, logger)

	out := buf.String()
	assert.Contains(t, out, "shutdown_incomplete")
	assert.Contains(t, out, "events")
	assert.True(t, coord.IsShuttingDown())
}

func TestStopAfterFailure_Clean(t *testing.T) {
	logger, buf := bufferedLogger()
	coord := shutdown.NewCoordinator(shutdown.Config{})
	coord.RegisterFunc("events", func(context.Context) error { return nil })

	stopAfterFailure(coord, time.Second, logger)

	assert.NotContains(t, buf.String(), "shutdown_incomplete")
}
