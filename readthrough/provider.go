package readthrough

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/marketcache/cache"
	"github.com/jonwraymond/marketcache/observe"
	"github.com/jonwraymond/marketcache/resilience"
	"github.com/jonwraymond/marketcache/upstream"
)

// Refresh outcomes reported to observe.Metrics.RecordRefresh.
const (
	OutcomeUpdated   = "updated"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
	OutcomeThrottled = "throttled"
	OutcomeDropped   = "dropped"
)

// Options configures a Provider.
type Options struct {
	// Supervisor runs background refreshes. Providers may share one.
	// Default: a Supervisor with 4 slots.
	Supervisor *Supervisor

	// MinRefreshInterval throttles refresh-ahead: at most one background
	// refresh starts per interval. Zero refreshes on every hit.
	MinRefreshInterval time.Duration

	Clock   clockwork.Clock
	Logger  observe.Logger
	Metrics observe.Metrics
}

// Provider serves one cached entity with read-through and refresh-ahead.
//
// Contract:
// - Concurrency: safe for concurrent use. Concurrent misses share one fetch.
// - Errors: Get returns typed upstream errors only when no cached value is
// available. Background refresh failures never reach the caller.
type Provider[T any] struct {
	cache   *cache.Service
	id      string
	fetcher upstream.Fetcher[T]
	sup     *Supervisor
	limiter *resilience.RateLimiter
	logger  observe.Logger
	metrics observe.Metrics

	flights singleflight.Group
}

// New creates a Provider for the entity id.
func New[T any](svc *cache.Service, id string, fetcher upstream.Fetcher[T], opts Options) (*Provider[T], error) {
	if svc == nil || fetcher == nil {
		return nil, errors.New("readthrough: cache service and fetcher are required")
	}
	if _, err := svc.Keys().EntityKey(id); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.NopMetrics()
	}
	if opts.Supervisor == nil {
		opts.Supervisor = NewSupervisor(opts.Logger, 4)
	}

	p := &Provider[T]{
		cache:   svc,
		id:      id,
		fetcher: fetcher,
		sup:     opts.Supervisor,
		logger:  opts.Logger.WithComponent("readthrough"),
		metrics: opts.Metrics,
	}
	if opts.MinRefreshInterval > 0 {
		cfg := resilience.EveryInterval(opts.MinRefreshInterval)
		cfg.Clock = opts.Clock
		p.limiter = resilience.NewRateLimiter(cfg)
	}
	return p, nil
}

// ID returns the entity id served by the provider.
func (p *Provider[T]) ID() string { return p.id }

// Get returns the entity.
//
// A live cached value is returned immediately and a background refresh is
// scheduled. On a miss the value is fetched synchronously and cached; fetch
// errors propagate unchanged. If reading the cache itself fails, the read is
// retried once; if it fails again the value is fetched as on a miss and both
// errors are returned when the fetch fails too.
func (p *Provider[T]) Get(ctx context.Context) (T, error) {
	v, ok, err := p.cached(ctx)
	if err != nil {
		p.logger.Warn(ctx, "cache read failed, retrying", observe.Field{Key: "id", Value: p.id}, observe.Err(err))
		v, ok, err = p.cached(ctx)
	}
	if err != nil {
		if errors.Is(err, cache.ErrCorruptEntry) {
			if ierr := p.cache.InvalidateEntity(ctx, p.id); ierr != nil {
				p.logger.Warn(ctx, "failed to drop corrupt entry", observe.Err(ierr))
			}
		}
		val, ferr := p.fetch(ctx)
		if ferr != nil {
			return val, errors.Join(err, ferr)
		}
		return val, nil
	}
	if ok {
		p.scheduleRefresh(ctx)
		return v, nil
	}
	return p.fetch(ctx)
}

// Refresh fetches synchronously and overwrites the cached value.
func (p *Provider[T]) Refresh(ctx context.Context) (T, error) {
	val, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return val, err
	}
	p.store(ctx, val)
	return val, nil
}

// Put writes a value obtained in the foreground, e.g. the response of an
// update call. It supersedes any refresh already in flight.
func (p *Provider[T]) Put(ctx context.Context, val T) error {
	return p.cache.CacheEntity(ctx, p.id, val)
}

// Invalidate drops the cached value. An in-flight refresh will not restore it.
func (p *Provider[T]) Invalidate(ctx context.Context) error {
	return p.cache.InvalidateEntity(ctx, p.id)
}

func (p *Provider[T]) cached(ctx context.Context) (T, bool, error) {
	var v T
	raw, ok, err := p.cache.LookupEntity(ctx, p.id)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("%w: decode %s: %w", cache.ErrCorruptEntry, p.id, err)
	}
	return v, true, nil
}

// fetch performs the synchronous miss path. Concurrent callers share one
// flight; a caller arriving after another flight stored the value reads it
// from the cache instead of fetching again. The flight ignores caller
// cancellation so one caller giving up never fails the others; each caller
// stops waiting when its own ctx is done.
func (p *Provider[T]) fetch(ctx context.Context) (T, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := p.flights.DoChan("fetch", func() (any, error) {
		if v, ok, err := p.cached(flightCtx); err == nil && ok {
			return v, nil
		}
		val, err := p.fetcher.Fetch(flightCtx)
		if err != nil {
			return nil, err
		}
		p.store(flightCtx, val)
		return val, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *Provider[T]) store(ctx context.Context, val T) {
	if err := p.cache.CacheEntity(ctx, p.id, val); err != nil {
		// The value is still returned; a failed write only costs the next read.
		p.logger.Warn(ctx, "failed to cache fetched entity", observe.Field{Key: "id", Value: p.id}, observe.Err(err))
	}
}

func (p *Provider[T]) scheduleRefresh(ctx context.Context) {
	if p.limiter != nil && !p.limiter.Allow() {
		p.metrics.RecordRefresh(ctx, p.id, OutcomeThrottled)
		return
	}
	seq, err := p.cache.EntitySeq(ctx, p.id)
	if err != nil {
		p.metrics.RecordRefresh(ctx, p.id, OutcomeFailed)
		return
	}
	started := p.sup.Go(ctx, "refresh "+p.id, func(ctx context.Context) error {
		return p.refresh(ctx, seq)
	})
	if !started {
		p.metrics.RecordRefresh(ctx, p.id, OutcomeDropped)
	}
}

// refresh fetches and writes only if nothing touched the entry since seq.
func (p *Provider[T]) refresh(ctx context.Context, seq uint64) error {
	_, err, _ := p.flights.Do("refresh", func() (any, error) {
		val, err := p.fetcher.Fetch(ctx)
		if err != nil {
			p.metrics.RecordRefresh(ctx, p.id, OutcomeFailed)
			return nil, err
		}
		err = p.cache.CacheEntityIfSeq(ctx, p.id, val, seq)
		switch {
		case errors.Is(err, cache.ErrStaleWrite):
			p.metrics.RecordRefresh(ctx, p.id, OutcomeStale)
			return nil, nil
		case err != nil:
			p.metrics.RecordRefresh(ctx, p.id, OutcomeFailed)
			return nil, err
		}
		p.metrics.RecordRefresh(ctx, p.id, OutcomeUpdated)
		return nil, nil
	})
	return err
}
