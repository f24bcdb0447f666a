package catalog

import (
	"context"

	"github.com/hupe1980/quadcache/internal/resource"
	"github.com/hupe1980/quadcache/tilekey"
)

// LimitConfig bounds the load a client puts on a Service.
type LimitConfig struct {
	// MaxConcurrentRequests caps requests in flight. Zero means unlimited.
	MaxConcurrentRequests int64
	// BytesPerSecond caps blob download throughput. Zero means unlimited.
	BytesPerSecond int64
}

// Limited wraps a Service with request concurrency and bandwidth limits.
type Limited struct {
	next Service
	ctrl *resource.Controller
}

// NewLimited returns next wrapped with the limits of cfg.
func NewLimited(next Service, cfg LimitConfig) *Limited {
	return &Limited{
		next: next,
		ctrl: resource.NewController(resource.Config{
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			BytesPerSecond:        cfg.BytesPerSecond,
		}),
	}
}

// InFlight returns the number of requests currently running.
func (l *Limited) InFlight() int64 {
	return l.ctrl.InFlight()
}

func (l *Limited) acquire(ctx context.Context) error {
	if err := l.ctrl.AcquireRequest(ctx); err != nil {
		return NewError(Cancelled, "waiting for request slot", err)
	}
	return nil
}

// LookupPartitions implements Service.
func (l *Limited) LookupPartitions(ctx context.Context, layer string, version uint64, ids []string) ([]Partition, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.ctrl.ReleaseRequest()
	return l.next.LookupPartitions(ctx, layer, version, ids)
}

// QuadTree implements Service.
func (l *Limited) QuadTree(ctx context.Context, layer string, version uint64, root tilekey.TileKey, depth int) ([]byte, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.ctrl.ReleaseRequest()
	return l.next.QuadTree(ctx, layer, version, root, depth)
}

// Blob implements Service. The blob size is charged against the bandwidth
// budget before the result is returned.
func (l *Limited) Blob(ctx context.Context, layer, dataHandle string) ([]byte, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.ctrl.ReleaseRequest()

	data, err := l.next.Blob(ctx, layer, dataHandle)
	if err != nil {
		return nil, err
	}
	if err := l.ctrl.AcquireBytes(ctx, len(data)); err != nil {
		return nil, NewError(Cancelled, "waiting for bandwidth", err)
	}
	return data, nil
}
