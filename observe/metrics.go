package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution and cache metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOperation records one operation execution.
	RecordOperation(ctx context.Context, meta OperationMeta, duration time.Duration, err error)

	// RecordRetry records that an operation is being retried.
	RecordRetry(ctx context.Context, meta OperationMeta)

	// RecordLookup records a cache hit or miss for a namespace.
	RecordLookup(ctx context.Context, namespace string, hit bool)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	retryCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// NewMetrics creates the catalogops instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"catalogops.op.total",
		metric.WithDescription("Total number of catalog operation executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"catalogops.op.errors",
		metric.WithDescription("Total number of failed catalog operation executions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"catalogops.op.retries",
		metric.WithDescription("Total number of scheduled retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"catalogops.op.duration_ms",
		metric.WithDescription("Catalog operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"catalogops.cache.hits",
		metric.WithDescription("Cache lookups served from the store"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"catalogops.cache.misses",
		metric.WithDescription("Cache lookups that fell through to the source"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		retryCount:   retryCount,
		durationHist: durationHist,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
	}, nil
}

func operationAttrs(meta OperationMeta) metric.MeasurementOption {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.OperationID()),
		attribute.String("op.name", meta.Name),
	}
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("op.namespace", meta.Namespace))
	}
	return metric.WithAttributes(attrs...)
}

func (m *metricsImpl) RecordOperation(ctx context.Context, meta OperationMeta, duration time.Duration, err error) {
	opt := operationAttrs(meta)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta OperationMeta) {
	m.retryCount.Add(ctx, 1, operationAttrs(meta))
}

func (m *metricsImpl) RecordLookup(ctx context.Context, namespace string, hit bool) {
	opt := metric.WithAttributes(attribute.String("cache.namespace", namespace))
	if hit {
		m.cacheHits.Add(ctx, 1, opt)
		return
	}
	m.cacheMisses.Add(ctx, 1, opt)
}

type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that records nothing.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordOperation(context.Context, OperationMeta, time.Duration, error) {}
func (noopMetrics) RecordRetry(context.Context, OperationMeta)                           {}
func (noopMetrics) RecordLookup(context.Context, string, bool)                           {}
