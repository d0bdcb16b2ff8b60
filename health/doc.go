// Package health reports the state of the offline cache stack.
//
// A Checker reports one component as Healthy, Degraded, or Unhealthy.
// StoreChecker pings the key-value backend, CacheChecker inspects cache
// statistics, and SupervisorChecker watches background refresh failures.
// Aggregator runs a set of checkers concurrently and folds their results.
//
// The HTTP handlers expose liveness, readiness, and a detailed JSON view for
// diagnostics:
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewStoreChecker(store))
//	agg.Register("cache", health.NewCacheChecker(svc.Stats, health.CacheCheckerConfig{}))
//	health.RegisterHandlers(mux, agg)
package health
