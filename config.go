package quadcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hupe1980/quadcache/cache"
	"github.com/hupe1980/quadcache/cache/dynamodb"
	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/codec"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "QUADCACHE_"

// Config is the environment configuration of a client and its cache.
type Config struct {
	Catalog string `env:"CATALOG"`
	Layer   string `env:"LAYER"`
	Version uint64 `env:"VERSION"`

	// CacheDynamoDBTable selects a DynamoDB store and CacheDir a DiskStore.
	// With neither set a MemoryStore is used.
	CacheDynamoDBTable     string `env:"CACHE_DYNAMODB_TABLE"`
	CacheDynamoDBNamespace string `env:"CACHE_DYNAMODB_NAMESPACE" envDefault:"quadcache"`
	CacheDynamoDBRegion    string `env:"CACHE_DYNAMODB_REGION"`
	CacheDynamoDBEndpoint  string `env:"CACHE_DYNAMODB_ENDPOINT"`

	CacheDir         string        `env:"CACHE_DIR"`
	CacheMaxEntries  int           `env:"CACHE_MAX_ENTRIES" envDefault:"16384"`
	CacheMaxBytes    int64         `env:"CACHE_MAX_BYTES"`
	CacheCompression string        `env:"CACHE_COMPRESSION" envDefault:"none"`
	CacheDeleteLimit int           `env:"CACHE_DELETE_CONCURRENCY" envDefault:"8"`
	DefaultExpiry    time.Duration `env:"DEFAULT_EXPIRY"`

	Workers         int    `env:"WORKERS"`
	BatchSize       int    `env:"BATCH_SIZE" envDefault:"100"`
	QuadTreeDepth   int    `env:"QUADTREE_DEPTH" envDefault:"4"`
	MaxResolveDepth int    `env:"MAX_RESOLVE_DEPTH" envDefault:"-1"`
	Codec           string `env:"CODEC" envDefault:"go-json"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	MaxConcurrentRequests int64 `env:"MAX_CONCURRENT_REQUESTS"`
	BytesPerSecond        int64 `env:"BYTES_PER_SECOND"`
}

// LoadConfig reads the configuration from QUADCACHE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Logger returns the logger described by LogLevel and LogFormat.
func (c Config) Logger() (*Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmtInvalid("log level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return NewTextLogger(level), nil
	case "json":
		return NewJSONLogger(level), nil
	case "none":
		return NoopLogger(), nil
	default:
		return nil, fmtInvalid("log format %q", c.LogFormat)
	}
}

// Options returns the client options described by the configuration.
func (c Config) Options() ([]Option, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	cd, ok := codec.ByName(c.Codec)
	if !ok {
		return nil, fmtInvalid("unknown codec %q", c.Codec)
	}
	return []Option{
		WithLogger(logger),
		WithCodec(cd),
		WithWorkers(c.Workers),
		WithBatchSize(c.BatchSize),
		WithQuadTreeDepth(c.QuadTreeDepth),
		WithMaxResolveDepth(c.MaxResolveDepth),
		WithDefaultExpiry(c.DefaultExpiry),
	}, nil
}

// OpenStore opens the cache store described by the configuration. A
// DiskStore must be closed by the caller.
func (c Config) OpenStore(ctx context.Context) (cache.Store, error) {
	if c.CacheDynamoDBTable != "" {
		if c.CacheDir != "" {
			return nil, fmtInvalid("cache dir and dynamodb table are exclusive")
		}
		store, err := dynamodb.New(ctx, c.CacheDynamoDBTable, func(o *dynamodb.Options) {
			o.Namespace = c.CacheDynamoDBNamespace
			o.Region = c.CacheDynamoDBRegion
			o.Endpoint = c.CacheDynamoDBEndpoint
			o.MaxConcurrentDeletes = c.CacheDeleteLimit
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	if c.CacheDir == "" {
		store, err := cache.NewMemoryStore(func(o *cache.MemoryOptions) {
			o.MaxEntries = c.CacheMaxEntries
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	compression, err := cache.ParseCompression(c.CacheCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	store, err := cache.OpenDiskStore(c.CacheDir, func(o *cache.DiskOptions) {
		o.Compression = compression
		o.MaxSizeBytes = c.CacheMaxBytes
		o.MaxConcurrentDeletes = c.CacheDeleteLimit
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// LimitConfig returns the catalog request limits of the configuration.
func (c Config) LimitConfig() catalog.LimitConfig {
	return catalog.LimitConfig{
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		BytesPerSecond:        c.BytesPerSecond,
	}
}
