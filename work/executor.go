// Package work runs the synthetic CPU-bound unit of work served by podwork.
//
// A run iterates up to a target count and asks its cancellation check
// before every iteration, so a shutdown is observed within one unit of
// work. The loop does no I/O and allocates nothing per iteration.
package work

import (
	"math"
	"runtime"
	"time"

	"github.com/vinayprograms/podwork/logging"
)

// DefaultIterations is the number of units performed per request.
const DefaultIterations = 500000

// progressSteps is how many progress checkpoints a run reports (every 20%).
const progressSteps = 5

// Canceled is polled before each iteration. Returning true stops the run.
type Canceled func() bool

// Unit performs iteration i and returns a value folded into the run's
// accumulator. It must be pure.
type Unit func(i int) float64

// Sqrt is the default unit: the square root of i offset away from zero.
func Sqrt(i int) float64 {
	return math.Sqrt(float64(i) + 0.001)
}

// Result reports how much of a run completed.
type Result struct {
	// Completed is the number of iterations performed, 0 <= Completed <= Target.
	Completed int

	// Target is the requested number of iterations.
	Target int

	// Elapsed is the wall-clock time from loop start to loop exit.
	Elapsed time.Duration

	// Interrupted is true iff the run stopped early because Canceled fired.
	Interrupted bool
}

// Percent returns the completed share of the target, 0-100.
func (r Result) Percent() float64 {
	if r.Target <= 0 {
		return 100
	}
	return float64(r.Completed) * 100 / float64(r.Target)
}

// Executor runs work units.
type Executor struct {
	unit   Unit
	logger *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithUnit replaces the per-iteration computation.
func WithUnit(u Unit) Option {
	return func(e *Executor) {
		if u != nil {
			e.unit = u
		}
	}
}

// WithLogger sets the logger used for progress checkpoints.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor using Sqrt as its unit.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		unit:   Sqrt,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs up to target iterations, polling canceled before each one.
// A nil canceled never cancels. Run cannot fail.
func (e *Executor) Run(target int, canceled Canceled) Result {
	return e.run(e.logger, target, canceled)
}

// RunLogged is Run with progress written to logger instead of the
// executor's own logger.
func (e *Executor) RunLogged(logger *logging.Logger, target int, canceled Canceled) Result {
	if logger == nil {
		logger = e.logger
	}
	return e.run(logger, target, canceled)
}

func (e *Executor) run(logger *logging.Logger, target int, canceled Canceled) Result {
	if target < 0 {
		target = 0
	}
	if canceled == nil {
		canceled = func() bool { return false }
	}

	step := target / progressSteps
	debug := logger.Enabled(logging.LevelDebug)

	start := time.Now()
	var acc float64
	completed := 0
	interrupted := false

	for i := 0; i < target; i++ {
		if canceled() {
			interrupted = true
			break
		}
		acc += e.unit(i)
		completed++

		if debug && step > 0 && i > 0 && i%step == 0 {
			logger.WorkProgress(i * 100 / target)
		}
	}
	elapsed := time.Since(start)

	// Keep the loop from being optimised away.
	runtime.KeepAlive(acc)

	return Result{
		Completed:   completed,
		Target:      target,
		Elapsed:     elapsed,
		Interrupted: interrupted,
	}
}
