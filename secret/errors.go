package secret

import "errors"

var (
	// ErrMissingEnv is returned when a ${VAR} reference names an unset variable.
	ErrMissingEnv = errors.New("secret: missing environment variable")

	// ErrUnknownProvider is returned for a reference to an unregistered provider.
	ErrUnknownProvider = errors.New("secret: provider not registered")

	// ErrNotFound is returned by providers when the reference does not exist.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmpty is returned in strict mode when a secret resolves to "".
	ErrEmpty = errors.New("secret: empty value")

	// ErrInvalidRef is returned for malformed references.
	ErrInvalidRef = errors.New("secret: invalid reference")
)
