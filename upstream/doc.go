// Package upstream defines the network collaborator of the cache layer: a
// Fetcher that loads a record from the marketplace API, and the typed
// errors it reports.
//
// Errors are matched with errors.Is. ErrNotFound and ErrUnauthenticated
// describe the request and are never retried; ErrServer and ErrTimeout
// describe the upstream and are retryable.
package upstream
