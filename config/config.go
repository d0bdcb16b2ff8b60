// Package config loads the offline cache configuration from the environment.
//
// Values are parsed with caarlos0/env, string values are passed through
// secret.Resolver (so they may use ${VAR} expansion and secretref:
// references), and the result is validated with go-playground/validator.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/jonwraymond/marketcache/cache"
	"github.com/jonwraymond/marketcache/observe"
	"github.com/jonwraymond/marketcache/secret"
	"github.com/jonwraymond/marketcache/upstream"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendDynamo = "dynamodb"
)

// ErrInvalidConfig wraps every parse or validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the full runtime configuration.
type Config struct {
	Backend     string `env:"MARKETCACHE_BACKEND" envDefault:"sqlite" validate:"oneof=memory sqlite dynamodb"`
	SQLitePath  string `env:"MARKETCACHE_SQLITE_PATH" envDefault:"marketcache.db" validate:"required_if=Backend sqlite"`
	DynamoTable string `env:"MARKETCACHE_DYNAMO_TABLE" validate:"required_if=Backend dynamodb"`
	AWSRegion   string `env:"MARKETCACHE_AWS_REGION"`
	SecretDir   string `env:"MARKETCACHE_SECRET_DIR" envDefault:"."`

	Cache    CacheConfig    `envPrefix:"MARKETCACHE_CACHE_"`
	Refresh  RefreshConfig  `envPrefix:"MARKETCACHE_REFRESH_"`
	Upstream UpstreamConfig `envPrefix:"MARKETCACHE_UPSTREAM_"`
	Notify   NotifyConfig   `envPrefix:"MARKETCACHE_NOTIFY_"`
	Auth     AuthConfig     `envPrefix:"MARKETCACHE_AUTH_"`
	Observe  ObserveConfig  `envPrefix:"MARKETCACHE_OBSERVE_"`
}

// CacheConfig configures cache.Service.
type CacheConfig struct {
	Namespace      string        `env:"NAMESPACE" envDefault:"cache" validate:"required,excludesall=:"`
	EntityTTL      time.Duration `env:"ENTITY_TTL" envDefault:"30m" validate:"gt=0"`
	ListTTL        time.Duration `env:"LIST_TTL" envDefault:"10m" validate:"gt=0"`
	FilterStateTTL time.Duration `env:"FILTER_STATE_TTL" envDefault:"24h" validate:"gt=0"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"15m" validate:"gte=0"`
}

// RefreshConfig configures refresh-ahead.
type RefreshConfig struct {
	MinInterval   time.Duration `env:"MIN_INTERVAL" envDefault:"30s" validate:"gte=0"`
	MaxConcurrent int           `env:"MAX_CONCURRENT" envDefault:"4" validate:"min=1,max=64"`
}

// UpstreamConfig configures the resilient fetch wrapper.
type UpstreamConfig struct {
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"10s" validate:"gt=0"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=10"`
	InitialBackoff  time.Duration `env:"INITIAL_BACKOFF" envDefault:"200ms" validate:"gte=0"`
	BreakerFailures int           `env:"BREAKER_FAILURES" envDefault:"5" validate:"min=1"`
	BreakerReset    time.Duration `env:"BREAKER_RESET" envDefault:"30s" validate:"gt=0"`
}

// NotifyConfig configures the notification store and ingest.
type NotifyConfig struct {
	MaxRecords    int           `env:"MAX_RECORDS" envDefault:"100" validate:"min=1,max=1000"`
	RequireUserID bool          `env:"REQUIRE_USER_ID"`
	QueueURL      string        `env:"QUEUE_URL" validate:"omitempty,url"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"30s" validate:"required_with=QueueURL"`
}

// AuthConfig configures identity resolution.
type AuthConfig struct {
	TokenKey   string `env:"TOKEN_KEY" envDefault:"auth:access_token" validate:"required"`
	SigningKey string `env:"SIGNING_KEY"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName     string  `env:"SERVICE_NAME" envDefault:"marketcache" validate:"required"`
	Version         string  `env:"VERSION" envDefault:"dev"`
	TracingEnabled  bool    `env:"TRACING_ENABLED"`
	TracingExporter string  `env:"TRACING_EXPORTER" envDefault:"none" validate:"oneof=otlp stdout none"`
	SamplePct       float64 `env:"SAMPLE_PCT" envDefault:"1" validate:"gte=0,lte=1"`
	MetricsEnabled  bool    `env:"METRICS_ENABLED"`
	MetricsExporter string  `env:"METRICS_EXPORTER" envDefault:"none" validate:"oneof=otlp prometheus stdout none"`
	LoggingEnabled  bool    `env:"LOGGING_ENABLED" envDefault:"true"`
	LogLevel        string  `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// Load reads the process environment.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, env.Options{})
}

// LoadFrom reads environ instead of the process environment. Secret
// references still see the process environment.
func LoadFrom(ctx context.Context, environ map[string]string) (Config, error) {
	return load(ctx, env.Options{Environment: environ})
}

func load(ctx context.Context, opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %w", ErrInvalidConfig, err)
	}

	resolver := secret.NewResolver(true, secret.EnvProvider{}, secret.FileProvider{Dir: cfg.SecretDir})
	err := resolver.ResolveAll(ctx, map[string]*string{
		"sqlite_path":      &cfg.SQLitePath,
		"dynamo_table":     &cfg.DynamoTable,
		"aws_region":       &cfg.AWSRegion,
		"notify_queue_url": &cfg.Notify.QueueURL,
		"auth_signing_key": &cfg.Auth.SigningKey,
	})
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validatorv10.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.CachePolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// CachePolicy returns the cache TTL policy.
func (c Config) CachePolicy() cache.Policy {
	return cache.Policy{
		EntityTTL:      c.Cache.EntityTTL,
		ListTTL:        c.Cache.ListTTL,
		FilterStateTTL: c.Cache.FilterStateTTL,
	}
}

// Resilience returns the upstream resilience settings.
func (c Config) Resilience() upstream.ResilienceConfig {
	return upstream.ResilienceConfig{
		Timeout:         c.Upstream.Timeout,
		MaxAttempts:     c.Upstream.MaxAttempts,
		InitialBackoff:  c.Upstream.InitialBackoff,
		BreakerFailures: c.Upstream.BreakerFailures,
		BreakerReset:    c.Upstream.BreakerReset,
	}
}

// ObserveConfig returns the telemetry configuration.
func (c Config) ObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: c.Observe.ServiceName,
		Version:     c.Observe.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Observe.TracingEnabled,
			Exporter:  c.Observe.TracingExporter,
			SamplePct: c.Observe.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Observe.MetricsEnabled,
			Exporter: c.Observe.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Observe.LoggingEnabled,
			Level:   c.Observe.LogLevel,
		},
	}
}
