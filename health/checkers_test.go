package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/cache"
	"github.com/jonwraymond/marketcache/kv"
	"github.com/jonwraymond/marketcache/readthrough"
)

func TestStoreChecker(t *testing.T) {
	store := kv.NewMemoryStore()
	c := NewStoreChecker(store)
	if c.Name() != "store" {
		t.Errorf("Name() = %s", c.Name())
	}
	if got := c.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Check() = %+v, want healthy", got)
	}

	_ = store.Close()
	got := c.Check(context.Background())
	if got.Status != StatusUnhealthy || !errors.Is(got.Error, kv.ErrClosed) {
		t.Errorf("Check() after Close = %+v", got)
	}
}

func newCacheService(t *testing.T) (*cache.Service, *kv.MemoryStore, clockwork.FakeClock) {
	t.Helper()
	store := kv.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, err := cache.NewService(store, cache.Options{Clock: clock})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, store, clock
}

func TestCacheChecker(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newCacheService(t)
	c := NewCacheChecker(svc.Stats, CacheCheckerConfig{})

	got := c.Check(ctx)
	if got.Status != StatusHealthy || got.Details["total"] != 0 {
		t.Errorf("empty cache = %+v", got)
	}

	_ = svc.CacheEntity(ctx, "e1", map[string]string{"name": "shop"})
	_ = svc.CacheList(ctx, "sig", 1, []int{1})
	got = c.Check(ctx)
	if got.Status != StatusHealthy {
		t.Errorf("fresh cache = %+v", got)
	}
	byCat, _ := got.Details["by_category"].(map[string]any)
	if byCat["entity"] != 1 || byCat["list"] != 1 {
		t.Errorf("by_category = %v", byCat)
	}

	// Both entries outlive their TTL; nothing has swept them yet.
	clock.Advance(31 * time.Minute)
	got = c.Check(ctx)
	if got.Status != StatusDegraded {
		t.Errorf("expired cache = %+v, want degraded", got)
	}
	if keys, _ := store.Keys(ctx, ""); len(keys) != 2 {
		t.Errorf("Check() modified the cache: %d keys", len(keys))
	}

	_, _ = svc.ClearExpired(ctx)
	_ = store.Set(ctx, "cache:entity:bad", "{")
	got = c.Check(ctx)
	if got.Status != StatusDegraded || got.Details["corrupt"] != 1 {
		t.Errorf("corrupt cache = %+v", got)
	}
}

func TestCacheChecker_StatsError(t *testing.T) {
	errStats := errors.New("stats failed")
	c := NewCacheChecker(func(context.Context) (cache.Stats, error) { return cache.Stats{}, errStats }, CacheCheckerConfig{})
	got := c.Check(context.Background())
	if got.Status != StatusUnhealthy || !errors.Is(got.Error, errStats) {
		t.Errorf("Check() = %+v", got)
	}
}

func TestSupervisorChecker(t *testing.T) {
	ctx := context.Background()
	sup := readthrough.NewSupervisor(nil, 4)
	c := NewSupervisorChecker(sup)

	if got := c.Check(ctx); got.Status != StatusHealthy {
		t.Errorf("idle = %+v", got)
	}

	sup.Go(ctx, "ok", func(context.Context) error { return nil })
	sup.Go(ctx, "fail", func(context.Context) error { return errors.New("boom") })
	_ = sup.Wait()
	if got := c.Check(ctx); got.Status != StatusHealthy {
		t.Errorf("half failed = %+v, want healthy", got)
	}

	sup.Go(ctx, "panic", func(context.Context) error { panic("bad refresh") })
	_ = sup.Wait()
	if got := c.Check(ctx); got.Status != StatusDegraded {
		t.Errorf("after panic = %+v, want degraded", got)
	}
}
