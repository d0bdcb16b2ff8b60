package kv

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a storage key.
const MaxKeyLength = 1024

// Sentinel errors for storage operations.
var (
	// ErrStorage wraps every backend read/write failure.
	ErrStorage = errors.New("kv: storage failure")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kv: store is closed")

	// ErrInvalidKey is returned for empty, oversized or multi-line keys.
	ErrInvalidKey = errors.New("kv: key is invalid")
)

// Store is durable storage keyed by string.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Get returns ("", false, nil) when the key is absent.
// - Remove is idempotent: removing a missing key is not an error.
// - Keys returns every stored key beginning with prefix, in ascending order.
// - Close releases resources; later calls return ErrClosed.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ValidateKey checks that key can be stored by any backend.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
