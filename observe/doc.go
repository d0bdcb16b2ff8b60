// Package observe provides the logging, metrics and tracing primitives used by
// the offline cache layer.
//
// It is instrumentation only: no storage, no transport, no I/O beyond
// exporter setup. Components accept a Logger, Metrics or Middleware and
// default to no-op implementations.
package observe
