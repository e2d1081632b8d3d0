package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OperationMeta describes one catalog operation for telemetry purposes.
type OperationMeta struct {
	Namespace string // Cache namespace the operation reads or invalidates (may be empty)
	Name      string // Operation name (required)
	Key       string // Dedup or cache key (optional)
	Attempt   int    // Zero-based attempt number (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: catalogops.op.<namespace>.<name> or catalogops.op.<name>
func (m OperationMeta) SpanName() string {
	return "catalogops.op." + m.OperationID()
}

// OperationID returns namespace.name, or name when there is no namespace.
func (m OperationMeta) OperationID() string {
	if m.Namespace != "" {
		return m.Namespace + "." + m.Name
	}
	return m.Name
}

// Validate reports whether the metadata is usable.
func (m OperationMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingOperationName
	}
	return nil
}

// Tracer wraps OpenTelemetry tracing with operation-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an operation.
	StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NewNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.OperationID()),
		attribute.String("op.name", meta.Name),
		attribute.Bool("op.error", false),
	}
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("op.namespace", meta.Namespace))
	}
	if meta.Key != "" {
		attrs = append(attrs, attribute.String("op.key", meta.Key))
	}
	if meta.Attempt > 0 {
		attrs = append(attrs, attribute.Int("op.attempt", meta.Attempt))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer returns a tracer whose spans are discarded.
func NewNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
