package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Typed network failures.
var (
	ErrUnauthenticated = errors.New("upstream: unauthenticated")
	ErrNotFound        = errors.New("upstream: not found")
	ErrServer          = errors.New("upstream: server error")
	ErrTimeout         = errors.New("upstream: timeout")
)

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServer) || errors.Is(err, ErrTimeout)
}

// IsNetworkError reports whether err is one of the typed failures.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrNotFound) || IsRetryable(err)
}

// StatusError maps an HTTP status code to a typed failure. It returns nil
// for 2xx and 3xx codes.
func StatusError(code int) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthenticated, code)
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTimeout, code)
	default:
		return fmt.Errorf("%w: status %d", ErrServer, code)
	}
}

// classify maps context deadline errors to ErrTimeout and leaves other
// errors unchanged.
func classify(err error) error {
	if err == nil || IsNetworkError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
