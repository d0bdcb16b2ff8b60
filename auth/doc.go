// Package auth resolves the identity of the current device user.
//
// Identities carry the signals used to partition per-user storage: a stable
// user id and a phone number. They come from an IdentitySource: a fixed
// identity, the request context, or the access token persisted in the
// key-value store (TokenSource).
package auth
