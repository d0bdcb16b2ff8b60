package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/kv"
)

// DefaultTokenKey is where the app persists the current access token.
const DefaultTokenKey = "auth:access_token"

// KeyProvider retrieves signing keys for token verification.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a static signing key.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a static key provider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	if len(p.key) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.key, nil
}

// TokenConfig configures a TokenSource.
type TokenConfig struct {
	// Key is the store key holding the raw access token.
	// Default: DefaultTokenKey
	Key string

	// Keys verifies signatures. When nil the token is decoded without
	// verification; the device only needs the claims it was issued.
	Keys KeyProvider

	// UserIDClaims are tried in order for the user id.
	// Default: "sub", "user_id"
	UserIDClaims []string

	// PhoneClaims are tried in order for the phone number.
	// Default: "phone_number", "phone"
	PhoneClaims []string

	Clock clockwork.Clock
}

// TokenSource derives the identity from the access token persisted in a
// key-value store.
type TokenSource struct {
	store  kv.Store
	config TokenConfig
}

// NewTokenSource creates a TokenSource over store.
func NewTokenSource(store kv.Store, config TokenConfig) *TokenSource {
	if config.Key == "" {
		config.Key = DefaultTokenKey
	}
	if len(config.UserIDClaims) == 0 {
		config.UserIDClaims = []string{"sub", "user_id"}
	}
	if len(config.PhoneClaims) == 0 {
		config.PhoneClaims = []string{"phone_number", "phone"}
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &TokenSource{store: store, config: config}
}

// Identity reads and decodes the stored token. No token yields an anonymous
// identity.
func (s *TokenSource) Identity(ctx context.Context) (*Identity, error) {
	raw, ok, err := s.store.Get(ctx, s.config.Key)
	if err != nil {
		return nil, fmt.Errorf("auth: read token: %w", err)
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if !ok || raw == "" {
		return AnonymousIdentity(), nil
	}

	claims, err := s.parse(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.buildIdentity(claims), nil
}

func (s *TokenSource) parse(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if s.config.Keys == nil {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
		}
		return claims, nil
	}

	parser := jwt.NewParser(jwt.WithTimeFunc(s.config.Clock.Now))
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return s.config.Keys.GetKey(ctx, kid)
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	case errors.Is(err, ErrKeyNotFound):
		return nil, ErrKeyNotFound
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
}

func (s *TokenSource) buildIdentity(claims jwt.MapClaims) *Identity {
	identity := &Identity{
		Method: MethodJWT,
		Claims: make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		identity.Claims[k] = v
	}
	identity.UserID = firstClaim(claims, s.config.UserIDClaims)
	identity.Phone = firstClaim(claims, s.config.PhoneClaims)

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	return identity
}

// firstClaim returns the first non-empty claim among names. Numeric ids are
// rendered without exponent.
func firstClaim(claims jwt.MapClaims, names []string) string {
	for _, name := range names {
		switch v := claims[name].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
