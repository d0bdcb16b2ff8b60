package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/marketcache/cache"
	"github.com/jonwraymond/marketcache/kv"
	"github.com/jonwraymond/marketcache/readthrough"
)

// StoreChecker pings a key-value store.
type StoreChecker struct {
	store kv.Store
}

// NewStoreChecker creates a checker for store.
func NewStoreChecker(store kv.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

// Name returns "store".
func (c *StoreChecker) Name() string { return "store" }

// Check pings the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := c.store.Ping(ctx); err != nil {
		return Unhealthy("store unreachable", err)
	}
	return Healthy("store reachable")
}

// StatsFunc reads cache statistics, e.g. (*cache.Service).Stats.
type StatsFunc func(ctx context.Context) (cache.Stats, error)

// CacheCheckerConfig configures the cache checker.
type CacheCheckerConfig struct {
	// MaxExpiredRatio is the share of expired entries above which the cache
	// is degraded; a sweep is overdue.
	// Default: 0.5
	MaxExpiredRatio float64
}

// CacheChecker reports cache statistics and degrades on expired or corrupt
// entries. It never modifies the cache.
type CacheChecker struct {
	stats  StatsFunc
	config CacheCheckerConfig
}

// NewCacheChecker creates a cache checker.
func NewCacheChecker(stats StatsFunc, config CacheCheckerConfig) *CacheChecker {
	if config.MaxExpiredRatio <= 0 || config.MaxExpiredRatio > 1 {
		config.MaxExpiredRatio = 0.5
	}
	return &CacheChecker{stats: stats, config: config}
}

// Name returns "cache".
func (c *CacheChecker) Name() string { return "cache" }

// Check reads the statistics.
func (c *CacheChecker) Check(ctx context.Context) Result {
	st, err := c.stats(ctx)
	if err != nil {
		return Unhealthy("cache stats unavailable", err)
	}

	byCategory := make(map[string]any, len(st.ByCategory))
	for cat, n := range st.ByCategory {
		byCategory[string(cat)] = n
	}
	details := map[string]any{
		"total":       st.Total,
		"expired":     st.Expired,
		"corrupt":     st.Corrupt,
		"bytes":       st.Bytes,
		"by_category": byCategory,
	}

	if st.Corrupt > 0 {
		return Degraded(fmt.Sprintf("%d corrupt entries", st.Corrupt)).WithDetails(details)
	}
	if st.Total > 0 {
		ratio := float64(st.Expired) / float64(st.Total)
		if ratio > c.config.MaxExpiredRatio {
			return Degraded(fmt.Sprintf("%.0f%% of entries expired", ratio*100)).WithDetails(details)
		}
	}
	return Healthy(fmt.Sprintf("%d entries", st.Total)).WithDetails(details)
}

// SupervisorChecker watches background refresh outcomes.
type SupervisorChecker struct {
	sup *readthrough.Supervisor
}

// NewSupervisorChecker creates a checker for sup.
func NewSupervisorChecker(sup *readthrough.Supervisor) *SupervisorChecker {
	return &SupervisorChecker{sup: sup}
}

// Name returns "refresh".
func (c *SupervisorChecker) Name() string { return "refresh" }

// Check degrades after panics or when most refreshes fail.
func (c *SupervisorChecker) Check(_ context.Context) Result {
	st := c.sup.Stats()
	details := map[string]any{
		"started":  st.Started,
		"failed":   st.Failed,
		"panicked": st.Panicked,
		"dropped":  st.Dropped,
	}
	switch {
	case st.Panicked > 0:
		return Degraded(fmt.Sprintf("%d refresh tasks panicked", st.Panicked)).WithDetails(details)
	case st.Started > 0 && st.Failed*2 > st.Started:
		return Degraded("most background refreshes failed").WithDetails(details)
	}
	return Healthy("background refresh ok").WithDetails(details)
}
