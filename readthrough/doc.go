// Package readthrough serves a single cached record with an offline-first
// contract.
//
// Provider.Get returns the cached value when one is live and schedules a
// background refresh; on a miss it fetches synchronously, stores the result
// and returns it, propagating the typed upstream error on failure. Failed
// refreshes leave the cache untouched and are only logged. NotFound results
// are never cached.
//
// Background refreshes run on a Supervisor, which bounds their concurrency,
// recovers panics and records failures centrally. A refresh snapshots the
// entry's write sequence before fetching and writes with
// cache.Service.CacheEntityIfSeq, so it never overwrites a newer foreground
// write or resurrects an entry cleared in the meantime.
package readthrough
