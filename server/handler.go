// Package server serves the work endpoint and ties request handling to the
// shutdown coordinator.
//
// A request admitted while the process is running performs one work run
// whose cancellation check is the coordinator's shutdown flag. A request
// arriving after the flag flips is refused with 503 and never starts work.
package server

import (
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/logging"
	"github.com/vinayprograms/podwork/shutdown"
	"github.com/vinayprograms/podwork/telemetry"
	"github.com/vinayprograms/podwork/work"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// ShuttingDownBody is the response body for requests refused while draining.
const ShuttingDownBody = "Application is shutting down."

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Gate is polled on admission and before every work iteration. Required.
	Gate shutdown.Gate

	// Executor runs the work. Default: work.NewExecutor().
	Executor *work.Executor

	// Host names this instance in responses.
	Host string

	// Iterations per request. Default: work.DefaultIterations.
	Iterations int

	Logger *logging.Logger
	Tracer *telemetry.Tracer
	Events telemetry.Exporter
}

// Handler serves GET / with one interruptible work run per request.
type Handler struct {
	gate       shutdown.Gate
	exec       *work.Executor
	host       string
	iterations int
	logger     *logging.Logger
	tracer     *telemetry.Tracer
	events     telemetry.Exporter

	inFlight atomic.Int64
}

// NewHandler creates a work handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Gate == nil {
		return nil, errors.InvalidInput("server: handler requires a shutdown gate")
	}
	if cfg.Iterations < 0 {
		return nil, errors.InvalidInput("server: iterations must not be negative")
	}

	h := &Handler{
		gate:       cfg.Gate,
		exec:       cfg.Executor,
		host:       cfg.Host,
		iterations: cfg.Iterations,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		events:     cfg.Events,
	}
	if h.exec == nil {
		h.exec = work.NewExecutor()
	}
	if h.iterations == 0 {
		h.iterations = work.DefaultIterations
	}
	if h.logger == nil {
		h.logger = logging.Nop()
	}
	h.logger = h.logger.WithComponent("server")
	if h.tracer == nil {
		h.tracer = telemetry.GetTracer()
	}
	if h.events == nil {
		h.events = telemetry.NewNoopExporter()
	}
	return h, nil
}

// InFlight returns the number of requests currently running work.
func (h *Handler) InFlight() int64 {
	return h.inFlight.Load()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	client := ClientAddr(r)
	log := h.logger.WithTraceID(requestID)
	ctx, span := h.tracer.StartRequestSpan(r, requestID)

	if h.gate.IsShuttingDown() {
		log.RequestRejected(client)
		writeStatus(w, http.StatusServiceUnavailable, ShuttingDownBody)
		h.tracer.EndRequestSpan(span, http.StatusServiceUnavailable)
		h.events.LogEvent(telemetry.EventRequestRejected, map[string]interface{}{
			"host":       h.host,
			"client":     client,
			"request_id": requestID,
		})
		return
	}

	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)

	log.WorkStart(h.host, client, h.iterations)

	_, workSpan := h.tracer.StartWorkSpan(ctx)
	res := h.exec.RunLogged(log, h.iterations, h.gate.IsShuttingDown)
	h.tracer.EndWorkSpan(workSpan, telemetry.WorkSpanOptions{
		Host:        h.host,
		Client:      client,
		Target:      res.Target,
		Completed:   res.Completed,
		Interrupted: res.Interrupted,
		Seconds:     res.Elapsed.Seconds(),
	})

	var body string
	if res.Interrupted {
		log.WorkInterrupted(h.host, res.Completed)
		body = FormatPartial(h.host, client, res.Elapsed, res.Completed, res.Target)
	} else {
		body = FormatCompleted(h.host, client, res.Elapsed)
	}
	log.WorkFinished(h.host, client, res.Elapsed, res.Completed, res.Target)

	writeStatus(w, http.StatusOK, body)
	h.tracer.EndRequestSpan(span, http.StatusOK)

	h.events.LogEvent(telemetry.EventRequestFinished, map[string]interface{}{
		"host":        h.host,
		"client":      client,
		"request_id":  requestID,
		"completed":   res.Completed,
		"target":      res.Target,
		"interrupted": res.Interrupted,
		"seconds":     res.Elapsed.Seconds(),
	})
}

// FormatCompleted renders the body of a request whose work ran to the end.
func FormatCompleted(host, client string, elapsed time.Duration) string {
	return "Pod " + host + ": Processed request from " + client +
		" in " + seconds(elapsed) + "s.\n"
}

// FormatPartial renders the body of a request whose work stopped at a
// shutdown checkpoint.
func FormatPartial(host, client string, elapsed time.Duration, completed, target int) string {
	return "Pod " + host + ": Partial request from " + client +
		" due to shutdown. Work interrupted after " + seconds(elapsed) + "s (" +
		strconv.Itoa(completed) + "/" + strconv.Itoa(target) + " iter).\n"
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 4, 64)
}

// ClientAddr returns the host part of the request's remote address.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
