package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/observe"
	"github.com/jonwraymond/marketcache/resilience"
)

// Fetcher loads one record from the upstream API.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: implementations must honor cancellation and deadlines.
// - Errors: failures should match one of the typed errors via errors.Is.
type Fetcher[T any] interface {
	Fetch(ctx context.Context) (T, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context) (T, error)

// Fetch calls f(ctx).
func (f FetcherFunc[T]) Fetch(ctx context.Context) (T, error) { return f(ctx) }

// ResilienceConfig configures Resilient.
type ResilienceConfig struct {
	// Timeout bounds each attempt. Default: 10s
	Timeout time.Duration

	// MaxAttempts counts the first attempt. Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 200ms
	InitialBackoff time.Duration

	// BreakerFailures opens the circuit after this many consecutive
	// retryable failures. Default: 5
	BreakerFailures int

	// BreakerReset is how long the circuit stays open. Default: 30s
	BreakerReset time.Duration

	Clock clockwork.Clock
}

// DefaultResilienceConfig returns the default upstream resilience settings.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		InitialBackoff:  200 * time.Millisecond,
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

// NewExecutor builds the resilience pipeline for upstream calls. Only
// ErrServer and ErrTimeout are retried or counted by the circuit breaker.
func NewExecutor(cfg ResilienceConfig) *resilience.Executor {
	retryable := func(err error) bool { return IsRetryable(classify(err)) }
	return resilience.NewExecutor(
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			IsFailure:    retryable,
			Clock:        cfg.Clock,
		})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			Jitter:       true,
			RetryIf: func(err error) bool {
				return retryable(err) || errors.Is(err, resilience.ErrTimeout)
			},
			Clock: cfg.Clock,
		})),
		resilience.WithTimeout(cfg.Timeout),
	)
}

type resilientFetcher[T any] struct {
	next     Fetcher[T]
	exec     *resilience.Executor
	mw       *observe.Middleware
	resource string
}

// Resilient wraps next with exec and reports each call through mw as an
// "upstream.fetch" operation on resource. Resilience errors are mapped onto
// the typed errors: a timed-out attempt becomes ErrTimeout and an open
// circuit becomes ErrServer.
func Resilient[T any](next Fetcher[T], exec *resilience.Executor, mw *observe.Middleware, resource string) Fetcher[T] {
	if mw == nil {
		mw = observe.NewMiddleware(nil, nil, nil)
	}
	return &resilientFetcher[T]{next: next, exec: exec, mw: mw, resource: resource}
}

func (r *resilientFetcher[T]) Fetch(ctx context.Context) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	op := observe.Op{Component: "upstream", Name: "fetch", Resource: r.resource}
	err := r.mw.Run(ctx, op, func(ctx context.Context) error {
		return r.exec.Execute(ctx, func(ctx context.Context) error {
			v, err := r.next.Fetch(ctx)
			if err != nil {
				return err
			}
			// A timed-out attempt may still complete; the lock keeps its
			// late write from racing the return below.
			mu.Lock()
			out = v
			mu.Unlock()
			return nil
		})
	})

	var zero T
	switch {
	case err == nil:
		mu.Lock()
		defer mu.Unlock()
		return out, nil
	case errors.Is(err, resilience.ErrTimeout):
		return zero, fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return zero, fmt.Errorf("%w: %w", ErrServer, err)
	default:
		return zero, classify(err)
	}
}
