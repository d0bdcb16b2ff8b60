package health

import (
	"context"
	"fmt"
	"time"
)

// Status is the health of one component. Larger values are worse.
type Status int

const (
	// StatusHealthy means the component serves reads and writes.
	StatusHealthy Status = iota
	// StatusDegraded means the component serves, but stale or slowly.
	StatusDegraded
	// StatusUnhealthy means the component cannot serve.
	StatusUnhealthy
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Worse returns the worse of s and other.
func (s Status) Worse(other Status) Status {
	if other > s {
		return other
	}
	return s
}

// Result is the outcome of one check. The Aggregator fills Duration and
// Timestamp.
type Result struct {
	Status  Status
	Message string

	// Details carries checker-specific counters, e.g. cache entry counts.
	Details map[string]any

	Duration  time.Duration
	Timestamp time.Time

	// Error wraps ErrCheckFailed or ErrCheckTimeout when Status is unhealthy.
	Error error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message}
}

// Unhealthy creates an unhealthy result. The cause is wrapped with
// ErrCheckFailed.
func Unhealthy(message string, cause error) Result {
	err := ErrCheckFailed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrCheckFailed, cause)
	}
	return Result{Status: StatusUnhealthy, Message: message, Error: err}
}

// WithDetails returns r with details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker checks one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Func adapts fn to a Checker named name.
func Func(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (f funcChecker) Name() string                     { return f.name }
func (f funcChecker) Check(ctx context.Context) Result { return f.fn(ctx) }
