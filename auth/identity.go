package auth

import "time"

// Method indicates where an identity came from.
type Method string

const (
	MethodNone      Method = "none"
	MethodStatic    Method = "static"
	MethodJWT       Method = "jwt"
	MethodAnonymous Method = "anonymous"
)

// Identity is the current user as far as the device knows it.
type Identity struct {
	// UserID is the stable account identifier. Preferred partition signal.
	UserID string

	// Phone is the account phone number as supplied by the backend.
	Phone string

	// Method indicates how the identity was obtained.
	Method Method

	// Claims contains the raw claims when the identity came from a token.
	Claims map[string]any

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// IsExpired reports whether the identity has expired at now.
func (id *Identity) IsExpired(now time.Time) bool {
	if id.ExpiresAt.IsZero() {
		return false
	}
	return now.After(id.ExpiresAt)
}

// IsAnonymous reports whether the identity carries no usable signal.
func (id *Identity) IsAnonymous() bool {
	return id == nil || (id.UserID == "" && id.Phone == "")
}

// AnonymousIdentity creates an identity without user id or phone.
func AnonymousIdentity() *Identity {
	return &Identity{
		Method: MethodAnonymous,
		Claims: make(map[string]any),
	}
}
