package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and upstream telemetry.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a cache read for a category (entity, list, filter).
	RecordLookup(ctx context.Context, category string, hit bool)

	// RecordWrite records a cache write; err is nil on success.
	RecordWrite(ctx context.Context, category string, err error)

	// RecordEviction records n entries removed by expiry or clearing.
	RecordEviction(ctx context.Context, category string, n int)

	// RecordRefresh records the outcome of a background refresh
	// (updated, stale, failed, throttled, dropped).
	RecordRefresh(ctx context.Context, resource, outcome string)

	// RecordOperation records a traced operation with duration and error status.
	RecordOperation(ctx context.Context, op Op, duration time.Duration, err error)
}

type metricsImpl struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	writes    metric.Int64Counter
	evictions metric.Int64Counter
	refreshes metric.Int64Counter
	opTotal   metric.Int64Counter
	opErrors  metric.Int64Counter
	opLatency metric.Float64Histogram
}

// NewMetrics creates Metrics backed by meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.hits, "cache.hits", "Cache lookups served from a live entry", "{lookup}"},
		{&m.misses, "cache.misses", "Cache lookups that found no live entry", "{lookup}"},
		{&m.writes, "cache.writes", "Cache writes by outcome", "{write}"},
		{&m.evictions, "cache.evictions", "Cache entries removed", "{entry}"},
		{&m.refreshes, "readthrough.refresh", "Background refreshes by outcome", "{refresh}"},
		{&m.opTotal, "op.total", "Total number of traced operations", "{call}"},
		{&m.opErrors, "op.errors", "Total number of failed operations", "{error}"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	hist, err := meter.Float64Histogram(
		"op.duration_ms",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	m.opLatency = hist
	return m, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, category string, hit bool) {
	opt := metric.WithAttributes(attribute.String("cache.category", category))
	if hit {
		m.hits.Add(ctx, 1, opt)
		return
	}
	m.misses.Add(ctx, 1, opt)
}

func (m *metricsImpl) RecordWrite(ctx context.Context, category string, err error) {
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.category", category),
		attribute.Bool("cache.error", err != nil),
	))
}

func (m *metricsImpl) RecordEviction(ctx context.Context, category string, n int) {
	if n <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("cache.category", category)))
}

func (m *metricsImpl) RecordRefresh(ctx context.Context, resource, outcome string) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("readthrough.resource", resource),
		attribute.String("readthrough.outcome", outcome),
	))
}

func (m *metricsImpl) RecordOperation(ctx context.Context, op Op, duration time.Duration, err error) {
	opt := metric.WithAttributes(op.attributes()...)
	m.opTotal.Add(ctx, 1, opt)
	if err != nil {
		m.opErrors.Add(ctx, 1, opt)
	}
	m.opLatency.Record(ctx, float64(duration.Milliseconds()), opt)
}

type noopMetrics struct{}

// NopMetrics returns Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordLookup(context.Context, string, bool)                {}
func (noopMetrics) RecordWrite(context.Context, string, error)                {}
func (noopMetrics) RecordEviction(context.Context, string, int)               {}
func (noopMetrics) RecordRefresh(context.Context, string, string)             {}
func (noopMetrics) RecordOperation(context.Context, Op, time.Duration, error) {}
