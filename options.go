package quadcache

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/quadcache/codec"
	"github.com/hupe1980/quadcache/quadtree"
)

const (
	// DefaultBatchSize is the number of partition ids per metadata request.
	DefaultBatchSize = 100

	// DefaultQuadTreeDepth is the depth of the indexes the client requests.
	DefaultQuadTreeDepth = 4
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	workers          int
	batchSize        int
	quadTreeDepth    int
	maxResolveDepth  int
	defaultExpiry    time.Duration
}

func defaultOptions() options {
	return options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		workers:          runtime.GOMAXPROCS(0),
		batchSize:        DefaultBatchSize,
		quadTreeDepth:    DefaultQuadTreeDepth,
		maxResolveDepth:  -1,
	}
}

// Option configures a Client.
type Option func(*options)

// WithCodec configures the codec of cached partition metadata records.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &quadcache.BasicMetricsCollector{}
//	client, _ := quadcache.New(hrn, "roads", 42, store, svc, quadcache.WithMetricsCollector(metrics))
//	// ... use client ...
//	stats := metrics.GetStats()
//	fmt.Printf("Resolve hits: %d, misses: %d\n", stats.ResolveHits, stats.ResolveMisses)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := quadcache.NewJSONLogger(slog.LevelInfo)
//	client, _ := quadcache.New(hrn, "roads", 42, store, svc, quadcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithWorkers sets the size of the worker pool that runs network and decode
// tasks. Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithBatchSize sets how many partition ids go into one metadata request.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithQuadTreeDepth sets the depth of the indexes requested from the catalog
// (0..quadtree.MaxDepth).
func WithQuadTreeDepth(depth int) Option {
	return func(o *options) {
		o.quadTreeDepth = depth
	}
}

// WithMaxResolveDepth sets how many ancestor levels ResolveTile searches for a
// cached index. It defaults to the quadtree depth; larger values cannot find
// anything the client would have cached.
func WithMaxResolveDepth(depth int) Option {
	return func(o *options) {
		o.maxResolveDepth = depth
	}
}

// WithDefaultExpiry sets the ttl of entries the client writes. Zero keeps
// entries until the store evicts them.
func WithDefaultExpiry(ttl time.Duration) Option {
	return func(o *options) {
		o.defaultExpiry = ttl
	}
}

func (o *options) validate() error {
	if o.batchSize <= 0 {
		return fmtInvalid("batch size must be positive, got %d", o.batchSize)
	}
	if o.quadTreeDepth < 0 || o.quadTreeDepth > quadtree.MaxDepth {
		return fmtInvalid("quadtree depth %d out of range [0, %d]", o.quadTreeDepth, quadtree.MaxDepth)
	}
	if o.maxResolveDepth < 0 {
		o.maxResolveDepth = o.quadTreeDepth
	}
	if o.defaultExpiry < 0 {
		return fmtInvalid("negative default expiry %s", o.defaultExpiry)
	}
	return nil
}
