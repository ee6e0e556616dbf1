// Package telemetry provides tracing and event export for podwork.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/podwork/logging"
)

// Exporter is the interface for event exporters.
type Exporter interface {
	// LogEvent logs an event with the given name and data.
	LogEvent(name string, data map[string]interface{})
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// Event represents a telemetry event.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Event names emitted by the server.
const (
	EventRequestFinished = "request_finished"
	EventRequestRejected = "request_rejected"
	EventShutdown        = "shutdown_initiated"
)

// NewExporter creates a new exporter based on protocol. The options apply
// to the http exporter only.
func NewExporter(protocol, endpoint string, opts ...HTTPOption) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint, opts...), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

// --- HTTP Exporter ---

const (
	// httpBatchSize is the number of buffered events that wakes the flusher
	// before its next tick.
	httpBatchSize = 100

	// httpMaxBuffer bounds the events held while the endpoint is slow or
	// failing. Events logged past it are dropped.
	httpMaxBuffer = 1000

	httpFlushInterval = 5 * time.Second
)

// HTTPOption configures an HTTPExporter.
type HTTPOption func(*HTTPExporter)

// WithFlushInterval sets how often buffered events are posted.
func WithFlushInterval(d time.Duration) HTTPOption {
	return func(e *HTTPExporter) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxBuffer bounds the number of buffered events.
func WithMaxBuffer(n int) HTTPOption {
	return func(e *HTTPExporter) {
		if n > 0 {
			e.maxBuffer = n
		}
	}
}

// WithExporterLogger sets the logger for background flush failures.
func WithExporterLogger(l *logging.Logger) HTTPOption {
	return func(e *HTTPExporter) {
		if l != nil {
			e.logger = l.WithComponent("events")
		}
	}
}

// HTTPExporter posts batches of events as a JSON array. LogEvent only
// appends to a bounded buffer; a background goroutine posts it on a ticker.
type HTTPExporter struct {
	endpoint  string
	client    *http.Client
	interval  time.Duration
	maxBuffer int
	logger    *logging.Logger

	mu      sync.Mutex
	buffer  []Event
	dropped atomic.Int64

	// sendMu serializes posts so requeued events keep their order.
	sendMu sync.Mutex

	kick      chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewHTTPExporter creates a new HTTP exporter and starts its flusher.
func NewHTTPExporter(endpoint string, opts ...HTTPOption) *HTTPExporter {
	e := &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		interval:  httpFlushInterval,
		maxBuffer: httpMaxBuffer,
		logger:    logging.Nop(),
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.batchSize())
	go e.run()
	return e
}

func (e *HTTPExporter) batchSize() int {
	if e.maxBuffer < httpBatchSize {
		return e.maxBuffer
	}
	return httpBatchSize
}

func (e *HTTPExporter) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		case <-e.kick:
		}
		if err := e.Flush(); err != nil {
			e.logger.Warn("events_flush_failed", logging.Fields{
				"error":   err.Error(),
				"pending": e.Pending(),
				"dropped": e.Dropped(),
			})
		}
	}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	if len(e.buffer) >= e.maxBuffer {
		e.mu.Unlock()
		e.dropped.Add(1)
		return
	}
	e.buffer = append(e.buffer, Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
	full := len(e.buffer) >= e.batchSize()
	e.mu.Unlock()

	if full {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered events not yet posted.
func (e *HTTPExporter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Dropped returns the number of events discarded because the buffer was full.
func (e *HTTPExporter) Dropped() int64 {
	return e.dropped.Load()
}

// Flush posts the buffered events. On failure they are put back, up to
// the buffer bound.
func (e *HTTPExporter) Flush() error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	batch := e.buffer
	e.buffer = make([]Event, 0, e.batchSize())
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := e.post(batch); err != nil {
		e.requeue(batch)
		return err
	}
	return nil
}

func (e *HTTPExporter) requeue(batch []Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := append(batch, e.buffer...)
	if over := len(merged) - e.maxBuffer; over > 0 {
		merged = merged[:e.maxBuffer]
		e.dropped.Add(int64(over))
	}
	e.buffer = merged
}

func (e *HTTPExporter) post(batch []Event) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close stops the flusher and posts what is left.
func (e *HTTPExporter) Close() error {
	e.closeOnce.Do(func() {
		close(e.stopCh)
	})
	<-e.doneCh
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends events to a file, one JSON document per line.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a new file exporter.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	line, err := json.Marshal(Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(line, '\n'))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all events.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }
