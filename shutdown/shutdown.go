package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/podwork/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phases used by the work server. Lower phases run first.
const (
	PhaseFrontend  = 10 // stop serving, wait for in-flight requests
	PhaseAnnounce  = 20 // publish final heartbeat, stop the sender
	PhaseTelemetry = 30 // flush spans and events
	PhaseBackend   = 40 // close bus connections
)

// State is the process-wide admission state.
type State int32

const (
	// Running admits new work.
	Running State = iota
	// ShuttingDown rejects new work; in-flight work stops at its next checkpoint.
	ShuttingDown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Gate reports whether new work must be refused. It is the read side of
// the coordinator handed to request handlers and work loops.
type Gate interface {
	IsShuttingDown() bool
}

// ShutdownHandler is implemented by components that need graceful shutdown.
type ShutdownHandler interface {
	// OnShutdown is called when teardown reaches the handler's phase.
	// The context will be cancelled when the timeout is reached.
	OnShutdown(ctx context.Context) error
}

// ShutdownFunc is a convenience type for simple shutdown functions.
type ShutdownFunc func(ctx context.Context) error

// OnShutdown implements ShutdownHandler.
func (f ShutdownFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	// Name of the handler.
	Name string

	// Phase the handler was registered with.
	Phase int

	// Duration how long the handler took to shut down.
	Duration time.Duration

	// Err is any error returned by the handler.
	Err error
}

// ShutdownResult contains the complete shutdown result.
type ShutdownResult struct {
	// Reason that started the shutdown (signal name or caller supplied).
	Reason string

	// TotalDuration of the entire shutdown process.
	TotalDuration time.Duration

	// Results for each handler.
	Results []HandlerResult

	// Err is the overall error (nil if all handlers succeeded).
	Err error
}

// Failed returns true if any handler failed.
func (r *ShutdownResult) Failed() bool {
	return r.Err != nil
}

// HandlerErr returns the error of the named handler, or nil when it
// succeeded or did not run.
func (r *ShutdownResult) HandlerErr(name string) error {
	for _, hr := range r.Results {
		if hr.Name == name {
			return hr.Err
		}
	}
	return nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *ShutdownResult) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// DefaultTimeout bounds the teardown started by a signal.
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// DrainDelay is how long the coordinator keeps the listener open after
	// the first signal, answering 503 so load balancers can deregister the
	// instance before teardown starts.
	// Default: 0
	DrainDelay time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: 100
	DefaultPhase int

	// ContinueOnError determines whether shutdown continues if a handler fails.
	ContinueOnError bool

	// OnProgress is called when each handler completes.
	OnProgress func(result HandlerResult)

	// Logger receives the shutdown transition. Nil discards.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 || c.DrainDelay < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
	}
}

// registration holds a registered handler with its metadata.
type registration struct {
	name    string
	handler ShutdownHandler
	phase   int
}
