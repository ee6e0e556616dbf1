package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/logging"
)

// Coordinator owns the process-wide shutting down flag and the ordered
// teardown that follows it.
type Coordinator struct {
	config Config
	logger *logging.Logger

	// shuttingDown only ever goes from false to true.
	shuttingDown atomic.Bool
	draining     chan struct{}
	reason       atomic.Value // string

	mu            sync.Mutex
	handlers      []registration
	started       atomic.Bool
	shutdownErr   error
	done          chan struct{}
	result        *ShutdownResult
	signalChan    chan os.Signal
	shutdownStart time.Time
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Coordinator{
		config:     config,
		logger:     logger,
		handlers:   make([]registration, 0),
		draining:   make(chan struct{}),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Begin moves the process into the shutting down state. It returns true
// only for the call that performed the transition; the transition is
// logged once with reason. Begin never blocks and is safe to call from
// any goroutine.
func (c *Coordinator) Begin(reason string) bool {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return false
	}
	c.reason.Store(reason)
	close(c.draining)
	c.logger.ShutdownSignal(reason)
	return true
}

// IsShuttingDown reports whether Begin has been called.
func (c *Coordinator) IsShuttingDown() bool {
	return c.shuttingDown.Load()
}

// State returns the current admission state.
func (c *Coordinator) State() State {
	if c.shuttingDown.Load() {
		return ShuttingDown
	}
	return Running
}

// Draining returns a channel closed when the coordinator leaves Running.
func (c *Coordinator) Draining() <-chan struct{} {
	return c.draining
}

// Reason returns what triggered the shutdown, or "" while running.
func (c *Coordinator) Reason() string {
	r, _ := c.reason.Load().(string)
	return r
}

// Register adds a handler to be called during shutdown.
func (c *Coordinator) Register(name string, handler ShutdownHandler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler with a specific phase.
func (c *Coordinator) RegisterWithPhase(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{
		name:    name,
		handler: handler,
		phase:   phase,
	})
}

// RegisterFunc is a convenience method for registering a function as a handler.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, ShutdownFunc(fn))
}

// RegisterFuncWithPhase is a convenience method for registering a function with a phase.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, ShutdownFunc(fn), phase)
}

// Shutdown runs the registered handlers. The coordinator is moved to
// ShuttingDown first if nothing else did so already.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Begin("shutdown")

	if !c.started.CompareAndSwap(false, true) {
		select {
		case <-c.done:
			return c.shutdownErr
		default:
			return ErrAlreadyShutdown
		}
	}

	c.shutdownStart = time.Now()
	c.shutdownErr = c.doShutdown(ctx)
	close(c.done)
	return c.shutdownErr
}

// ShutdownWithTimeout initiates shutdown with a timeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals registers handlers for SIGTERM and SIGINT. The first
// signal flips the flag, waits DrainDelay and runs the teardown; later
// signals are ignored.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		for sig := range c.signalChan {
			if !c.Begin(signalName(sig)) {
				continue
			}
			go c.drainAndShutdown()
		}
	}()
}

// StopSignals restores default signal behaviour.
func (c *Coordinator) StopSignals() {
	signal.Stop(c.signalChan)
}

func (c *Coordinator) drainAndShutdown() {
	if c.config.DrainDelay > 0 {
		timer := time.NewTimer(c.config.DrainDelay)
		<-timer.C
	}
	_ = c.ShutdownWithTimeout(c.config.DefaultTimeout)
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	default:
		return sig.String()
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns any error that occurred during shutdown.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.shutdownErr
	default:
		return nil
	}
}

// Result returns the detailed shutdown result.
// Only valid after Done() is closed.
func (c *Coordinator) Result() *ShutdownResult {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

// doShutdown performs the actual shutdown sequence.
func (c *Coordinator) doShutdown(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &ShutdownResult{
		Reason:  c.Reason(),
		Results: make([]HandlerResult, 0, len(handlers)),
	}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(c.shutdownStart)
		c.result = result
		return err
	}

	var overallErr error
	for _, group := range groupByPhase(handlers) {
		select {
		case <-ctx.Done():
			return finish(ErrTimeout)
		default:
		}

		phaseResults := c.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err != nil && overallErr == nil {
				overallErr = ErrHandlerFailed
			}
			if !c.config.ContinueOnError && hr.Err != nil {
				return finish(overallErr)
			}
		}
	}

	return finish(overallErr)
}

// executePhase runs all handlers in a phase concurrently.
func (c *Coordinator) executePhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := runHandler(ctx, r.handler)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			c.logger.ShutdownHandler(hr.Name, hr.Phase, hr.Duration, hr.Err)
			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// runHandler converts a panicking handler into an error so the remaining
// phases still run.
func runHandler(ctx context.Context, h ShutdownHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.RecoverPanic(p)
		}
	}()
	return h.OnShutdown(ctx)
}

// groupByPhase groups handlers by their phase number.
// Handlers must already be sorted by phase.
func groupByPhase(handlers []registration) [][]registration {
	if len(handlers) == 0 {
		return nil
	}

	var groups [][]registration
	var currentGroup []registration
	currentPhase := handlers[0].phase

	for _, h := range handlers {
		if h.phase != currentPhase {
			groups = append(groups, currentGroup)
			currentGroup = nil
			currentPhase = h.phase
		}
		currentGroup = append(currentGroup, h)
	}

	if len(currentGroup) > 0 {
		groups = append(groups, currentGroup)
	}

	return groups
}

// Trigger delivers a synthetic SIGTERM to the signal goroutine started by
// HandleSignals.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}
