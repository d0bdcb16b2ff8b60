// Package resilience provides the failure-handling primitives used around
// upstream calls and background refreshes.
//
// # Patterns
//
//   - Circuit Breaker: stops calling an upstream that keeps failing and
//     tries it again after ResetTimeout.
//
//   - Retry: retries transient failures with exponential, linear or
//     constant backoff. RetryIf decides which errors are transient.
//
//   - Rate Limiter: token bucket; used to throttle refresh-ahead so a hot
//     cache entry does not trigger a network call on every read.
//
//   - Bulkhead: caps concurrent operations; used to bound detached
//     background refreshes.
//
//   - Timeout: bounds a single attempt.
//
// Every pattern reads time through a clockwork.Clock so tests can drive it
// with a fake clock.
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	        MaxFailures:  5,
//	        ResetTimeout: time.Minute,
//	    })),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return fetchRegistration(ctx)
//	})
package resilience
