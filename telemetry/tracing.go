// OpenTelemetry tracing for served requests and their work runs.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with request and work helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// --- Request Spans ---

// StartRequestSpan starts a server span for an incoming request, continuing
// any W3C trace context carried in its headers.
func (t *Tracer) StartRequestSpan(r *http.Request, requestID string) (context.Context, trace.Span) {
	ctx := ExtractContext(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := t.tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.URL.Path),
		attribute.String("request.id", requestID),
	)
	return ctx, span
}

// EndRequestSpan records the response status and ends the span.
func (t *Tracer) EndRequestSpan(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Work Spans ---

// WorkSpanOptions contains the outcome of a work run.
type WorkSpanOptions struct {
	Host        string
	Client      string
	Target      int
	Completed   int
	Interrupted bool
	Seconds     float64
}

// StartWorkSpan starts an internal span covering one work run.
func (t *Tracer) StartWorkSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "work.run", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndWorkSpan ends a work span with its outcome. An interrupted run is not
// an error; it is flagged with an event.
func (t *Tracer) EndWorkSpan(span trace.Span, opts WorkSpanOptions) {
	span.SetAttributes(
		attribute.String("work.host", opts.Host),
		attribute.String("work.client", opts.Client),
		attribute.Int("work.target", opts.Target),
		attribute.Int("work.completed", opts.Completed),
		attribute.Bool("work.interrupted", opts.Interrupted),
		attribute.Float64("work.seconds", opts.Seconds),
	)
	if opts.Interrupted {
		span.AddEvent("shutdown observed at checkpoint")
	}
	span.SetStatus(codes.Ok, "")
	span.End()
}

// --- Context Propagation ---

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
