package resilience

import (
	"context"
	"time"
)

// Executor composes resilience patterns around one operation.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(timeout)
	}
}

// Execute runs op through the configured patterns, outermost first:
// rate limiter, bulkhead, circuit breaker, retry, timeout. The timeout
// applies per attempt and the breaker sees the outcome after retries.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	var layers []func(context.Context, func(context.Context) error) error
	if e.rateLimiter != nil {
		layers = append(layers, e.rateLimiter.Execute)
	}
	if e.bulkhead != nil {
		layers = append(layers, e.bulkhead.Execute)
	}
	if e.circuitBreaker != nil {
		layers = append(layers, e.circuitBreaker.Execute)
	}
	if e.retry != nil {
		layers = append(layers, e.retry.Execute)
	}
	if e.timeout != nil {
		layers = append(layers, e.timeout.Execute)
	}

	run := op
	for i := len(layers) - 1; i >= 0; i-- {
		layer, inner := layers[i], run
		run = func(ctx context.Context) error { return layer(ctx, inner) }
	}
	return run(ctx)
}
