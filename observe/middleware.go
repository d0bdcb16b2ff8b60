package observe

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// RunFunc is an observed unit of work.
type RunFunc func(ctx context.Context) error

// Middleware wraps operations with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: the span context is passed to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	clock   clockwork.Clock
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger, clock: clockwork.NewRealClock()}
}

// WithClock sets the clock used for durations.
func (m *Middleware) WithClock(c clockwork.Clock) *Middleware {
	m.clock = c
	return m
}

// Metrics returns the metrics sink used by the middleware.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Run executes fn inside a span and records its duration and outcome.
func (m *Middleware) Run(ctx context.Context, op Op, fn RunFunc) error {
	ctx, span := m.tracer.StartSpan(ctx, op)
	start := m.clock.Now()

	err := fn(ctx)

	duration := m.clock.Since(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordOperation(ctx, op, duration, err)

	log := m.logger.WithComponent(op.Component)
	fields := []Field{
		{Key: "op", Value: op.Name},
		{Key: "duration_ms", Value: float64(duration.Milliseconds())},
	}
	if op.Resource != "" {
		fields = append(fields, Field{Key: "resource", Value: op.Resource})
	}
	if err != nil {
		log.Warn(ctx, "operation failed", append(fields, Err(err))...)
	} else {
		log.Debug(ctx, "operation completed", fields...)
	}
	return err
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
