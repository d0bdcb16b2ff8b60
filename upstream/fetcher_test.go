package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/marketcache/resilience"
)

func fastConfig() ResilienceConfig {
	cfg := DefaultResilienceConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{200, nil},
		{304, nil},
		{401, ErrUnauthenticated},
		{403, ErrUnauthenticated},
		{404, ErrNotFound},
		{410, ErrNotFound},
		{408, ErrTimeout},
		{504, ErrTimeout},
		{500, ErrServer},
		{429, ErrServer},
	}
	for _, tt := range tests {
		err := StatusError(tt.code)
		if tt.want == nil {
			if err != nil {
				t.Errorf("StatusError(%d) = %v, want nil", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("StatusError(%d) = %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("wrapped: %w", ErrServer)) || !IsRetryable(ErrTimeout) {
		t.Error("server and timeout errors must be retryable")
	}
	if IsRetryable(ErrNotFound) || IsRetryable(ErrUnauthenticated) || IsRetryable(errors.New("x")) {
		t.Error("request errors must not be retryable")
	}
}

func TestResilient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc[string](func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", ErrServer
		}
		return "ok", nil
	})
	got, err := Resilient[string](f, NewExecutor(fastConfig()), nil, "me").Fetch(context.Background())
	if err != nil || got != "ok" || calls.Load() != 3 {
		t.Fatalf("Fetch() = %q, %v after %d calls", got, err, calls.Load())
	}
}

func TestResilient_DoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc[string](func(context.Context) (string, error) {
		calls.Add(1)
		return "", ErrNotFound
	})
	_, err := Resilient[string](f, NewExecutor(fastConfig()), nil, "me").Fetch(context.Background())
	if !errors.Is(err, ErrNotFound) || calls.Load() != 1 {
		t.Fatalf("err = %v after %d calls", err, calls.Load())
	}
}

func TestResilient_TimeoutIsTyped(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxAttempts = 1
	f := FetcherFunc[string](func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := Resilient[string](f, NewExecutor(cfg), nil, "me").Fetch(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestResilient_OpenCircuitIsServerError(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerFailures = 1
	exec := NewExecutor(cfg)
	f := Resilient[string](FetcherFunc[string](func(context.Context) (string, error) {
		return "", ErrServer
	}), exec, nil, "me")

	_, _ = f.Fetch(context.Background())
	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrServer) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrServer wrapping ErrCircuitOpen", err)
	}
}
