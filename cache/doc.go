// Package cache provides TTL-bounded offline caching over a kv.Store.
//
// Three categories are cached, each with a fixed TTL from Policy: single
// entities (entity:{id}), paginated list pages (list:{signature}:{page}) and
// named filter/draft state (filter:{name}). Every key is prefixed with the
// service namespace so ClearAll only touches keys it owns.
//
// A miss is never an error. Expiry is checked lazily on every read, and
// ClearExpired sweeps the namespace regardless of category. Each key carries
// a write sequence; CacheEntityIfSeq writes only when no newer write or
// removal happened since the sequence was observed.
package cache
