package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/auth"
	"github.com/jonwraymond/marketcache/cache"
	"github.com/jonwraymond/marketcache/config"
	"github.com/jonwraymond/marketcache/health"
	"github.com/jonwraymond/marketcache/kv"
	"github.com/jonwraymond/marketcache/notify"
	"github.com/jonwraymond/marketcache/observe"
	"github.com/jonwraymond/marketcache/readthrough"
	"github.com/jonwraymond/marketcache/upstream"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	store    kv.Store
	observer observe.Observer
	identity auth.IdentitySource
	sqs      notify.SQSAPI
	clock    clockwork.Clock
}

// WithStore uses store instead of opening the configured backend. The client
// still closes it.
func WithStore(store kv.Store) Option { return func(o *options) { o.store = store } }

// WithObserver uses obs instead of building one from the configuration.
func WithObserver(obs observe.Observer) Option { return func(o *options) { o.observer = obs } }

// WithIdentity replaces the default identity chain (context, then stored token).
func WithIdentity(src auth.IdentitySource) Option { return func(o *options) { o.identity = src } }

// WithSQS uses client for notification ingest instead of the AWS default.
func WithSQS(client notify.SQSAPI) Option { return func(o *options) { o.sqs = client } }

// WithClock sets the clock for every component.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// Client is the assembled offline stack.
type Client struct {
	Config        config.Config
	Store         kv.Store
	Cache         *cache.Service
	Notifications *notify.Store
	Identity      auth.IdentitySource
	Supervisor    *readthrough.Supervisor
	Health        *health.Aggregator
	Observer      observe.Observer
	Middleware    *observe.Middleware

	ingester *notify.Ingester
	clock    clockwork.Clock
	logger   observe.Logger
}

// Open builds a Client from cfg. Partially built resources are released on
// failure.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (c *Client, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](ctx)
			}
		}
	}()

	obs := o.observer
	if obs == nil {
		obs, err = observe.NewObserver(ctx, cfg.ObserveConfig())
		if err != nil {
			return nil, fmt.Errorf("offline: observer: %w", err)
		}
		closers = append(closers, obs.Shutdown)
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fmt.Errorf("offline: metrics: %w", err)
	}
	mw.WithClock(o.clock)
	logger := obs.Logger()

	store := o.store
	if store == nil {
		store, err = openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	closers = append(closers, func(context.Context) error { return store.Close() })

	svc, err := cache.NewService(store, cache.Options{
		Namespace: cfg.Cache.Namespace,
		Policy:    cfg.CachePolicy(),
		Clock:     o.clock,
		Logger:    logger,
		Metrics:   mw.Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("offline: cache: %w", err)
	}

	identity := o.identity
	if identity == nil {
		identity = defaultIdentity(store, cfg, o.clock)
	}

	notes := notify.NewStore(store, identity, notify.Options{
		MaxRecords:    cfg.Notify.MaxRecords,
		RequireUserID: cfg.Notify.RequireUserID,
		Clock:         o.clock,
		Logger:        logger,
	})

	sup := readthrough.NewSupervisor(logger, cfg.Refresh.MaxConcurrent)

	agg := health.NewAggregator(health.AggregatorConfig{Clock: o.clock})
	agg.Register("store", health.NewStoreChecker(store))
	agg.Register("cache", health.NewCacheChecker(svc.Stats, health.CacheCheckerConfig{}))
	agg.Register("refresh", health.NewSupervisorChecker(sup))

	c = &Client{
		Config:        cfg,
		Store:         store,
		Cache:         svc,
		Notifications: notes,
		Identity:      identity,
		Supervisor:    sup,
		Health:        agg,
		Observer:      obs,
		Middleware:    mw,
		clock:         o.clock,
		logger:        logger.WithComponent("offline"),
	}

	if cfg.Notify.QueueURL != "" {
		client := o.sqs
		if client == nil {
			client, err = notify.NewSQSClient(ctx, cfg.AWSRegion)
			if err != nil {
				return nil, err
			}
		}
		c.ingester = notify.NewIngester(notify.NewSQSSource(client, cfg.Notify.QueueURL), notes, mw)
	}
	return c, nil
}

func openStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	case config.BackendSQLite:
		s, err := kv.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("offline: open sqlite: %w", err)
		}
		return s, nil
	case config.BackendDynamo:
		client, err := kv.NewDynamoClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return kv.NewDynamoStore(client, cfg.DynamoTable), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

func defaultIdentity(store kv.Store, cfg config.Config, clock clockwork.Clock) auth.IdentitySource {
	tc := auth.TokenConfig{Key: cfg.Auth.TokenKey, Clock: clock}
	if cfg.Auth.SigningKey != "" {
		tc.Keys = auth.NewStaticKeyProvider([]byte(cfg.Auth.SigningKey))
	}
	return auth.FirstOf(auth.ContextSource(), auth.NewTokenSource(store, tc))
}

// NewProvider builds a read-through provider for the entity id. The fetcher
// is wrapped with the configured timeout, retry and circuit breaker; each
// provider gets its own breaker.
func NewProvider[T any](c *Client, id string, fetcher upstream.Fetcher[T]) (*readthrough.Provider[T], error) {
	rc := c.Config.Resilience()
	rc.Clock = c.clock
	wrapped := upstream.Resilient(fetcher, upstream.NewExecutor(rc), c.Middleware, id)
	return readthrough.New(c.Cache, id, wrapped, readthrough.Options{
		Supervisor:         c.Supervisor,
		MinRefreshInterval: c.Config.Refresh.MinInterval,
		Clock:              c.clock,
		Logger:             c.logger,
		Metrics:            c.Middleware.Metrics(),
	})
}

// Close stops scheduling refreshes and waits for running ones, then
// releases the store and flushes telemetry. Refresh failures are not
// returned; they were logged.
func (c *Client) Close(ctx context.Context) error {
	if err := c.Supervisor.Close(); err != nil {
		c.logger.Debug(ctx, "background refreshes failed before close", observe.Err(err))
	}
	var errs []error
	if err := c.Store.Close(); err != nil && !errors.Is(err, kv.ErrClosed) {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := c.Observer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown observer: %w", err))
	}
	return errors.Join(errs...)
}
