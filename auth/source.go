package auth

import "context"

// IdentitySource supplies the current identity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - A source with nothing to report returns an anonymous identity, not an error.
// - Errors are reserved for failures reading the underlying signal.
type IdentitySource interface {
	Identity(ctx context.Context) (*Identity, error)
}

// SourceFunc adapts a function to IdentitySource.
type SourceFunc func(ctx context.Context) (*Identity, error)

// Identity calls f.
func (f SourceFunc) Identity(ctx context.Context) (*Identity, error) { return f(ctx) }

// StaticSource always reports the same identity.
func StaticSource(userID, phone string) IdentitySource {
	return SourceFunc(func(context.Context) (*Identity, error) {
		return &Identity{UserID: userID, Phone: phone, Method: MethodStatic}, nil
	})
}

// ContextSource reports the identity attached with WithIdentity.
func ContextSource() IdentitySource {
	return SourceFunc(func(ctx context.Context) (*Identity, error) {
		if id := IdentityFromContext(ctx); id != nil {
			return id, nil
		}
		return AnonymousIdentity(), nil
	})
}

// FirstOf returns the first non-anonymous identity reported by sources.
// A failing source is skipped if a later one succeeds.
func FirstOf(sources ...IdentitySource) IdentitySource {
	return SourceFunc(func(ctx context.Context) (*Identity, error) {
		var firstErr error
		for _, src := range sources {
			id, err := src.Identity(ctx)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if !id.IsAnonymous() {
				return id, nil
			}
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return AnonymousIdentity(), nil
	})
}
