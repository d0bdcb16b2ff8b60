package health

import "errors"

var (
	// ErrCheckFailed wraps the cause reported by an unhealthy checker.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout is reported when a checker outlives the aggregator timeout.
	ErrCheckTimeout = errors.New("health: check timed out")

	// ErrCheckerNotFound is returned by Aggregator.Check for unknown names.
	ErrCheckerNotFound = errors.New("health: checker not found")
)
