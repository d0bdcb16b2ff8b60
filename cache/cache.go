package cache

import (
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")

	// ErrStorageFailure wraps write failures from the underlying store.
	// Read failures never surface: they degrade to a miss.
	ErrStorageFailure = errors.New("cache: storage failure")

	// ErrStaleWrite is returned by a guarded write when the key was written
	// or removed after the caller observed its sequence.
	ErrStaleWrite = errors.New("cache: stale write rejected")

	// ErrCorruptEntry indicates a stored value that is not a valid entry.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
)

// validateComponent checks one discriminator of a composite key.
// The separator is rejected so distinct shapes never produce the same key.
func validateComponent(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(s, ":\n\r") {
		return ErrInvalidKey
	}
	return nil
}
