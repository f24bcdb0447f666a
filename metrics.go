package quadcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus; see the promcollector package for a ready-made one.
type MetricsCollector interface {
	// RecordResolve is called after each tile resolution.
	RecordResolve(hit bool, duration time.Duration)

	// RecordPrefetch is called after each prefetch. kind is "partitions"
	// or "tiles", requested the number of items asked for and cached the
	// number that ended up in the cache.
	RecordPrefetch(kind string, requested, cached int, duration time.Duration, err error)

	// RecordProtect is called after each Protect call.
	RecordProtect(count int, err error)

	// RecordRelease is called after each Release call.
	RecordRelease(count int, err error)

	// RecordRemove is called after each cache removal.
	RecordRemove(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordResolve(bool, time.Duration)                     {}
func (NoopMetricsCollector) RecordPrefetch(string, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordProtect(int, error)                              {}
func (NoopMetricsCollector) RecordRelease(int, error)                              {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ResolveHits       atomic.Int64
	ResolveMisses     atomic.Int64
	ResolveTotalNanos atomic.Int64
	PrefetchCount     atomic.Int64
	PrefetchErrors    atomic.Int64
	PrefetchRequested atomic.Int64
	PrefetchCached    atomic.Int64
	ProtectCount      atomic.Int64
	ProtectErrors     atomic.Int64
	ProtectedTiles    atomic.Int64
	ReleaseCount      atomic.Int64
	ReleaseErrors     atomic.Int64
	ReleasedTiles     atomic.Int64
	RemoveCount       atomic.Int64
	RemoveErrors      atomic.Int64
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(hit bool, duration time.Duration) {
	if hit {
		b.ResolveHits.Add(1)
	} else {
		b.ResolveMisses.Add(1)
	}
	b.ResolveTotalNanos.Add(duration.Nanoseconds())
}

// RecordPrefetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrefetch(_ string, requested, cached int, _ time.Duration, err error) {
	b.PrefetchCount.Add(1)
	b.PrefetchRequested.Add(int64(requested))
	b.PrefetchCached.Add(int64(cached))
	if err != nil {
		b.PrefetchErrors.Add(1)
	}
}

// RecordProtect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordProtect(count int, err error) {
	b.ProtectCount.Add(1)
	if err != nil {
		b.ProtectErrors.Add(1)
		return
	}
	b.ProtectedTiles.Add(int64(count))
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(count int, err error) {
	b.ReleaseCount.Add(1)
	if err != nil {
		b.ReleaseErrors.Add(1)
	}
	b.ReleasedTiles.Add(int64(count))
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ResolveHits:       b.ResolveHits.Load(),
		ResolveMisses:     b.ResolveMisses.Load(),
		ResolveAvgNanos:   b.getAvgResolveNanos(),
		PrefetchCount:     b.PrefetchCount.Load(),
		PrefetchErrors:    b.PrefetchErrors.Load(),
		PrefetchRequested: b.PrefetchRequested.Load(),
		PrefetchCached:    b.PrefetchCached.Load(),
		ProtectCount:      b.ProtectCount.Load(),
		ProtectErrors:     b.ProtectErrors.Load(),
		ProtectedTiles:    b.ProtectedTiles.Load(),
		ReleaseCount:      b.ReleaseCount.Load(),
		ReleaseErrors:     b.ReleaseErrors.Load(),
		ReleasedTiles:     b.ReleasedTiles.Load(),
		RemoveCount:       b.RemoveCount.Load(),
		RemoveErrors:      b.RemoveErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgResolveNanos() int64 {
	count := b.ResolveHits.Load() + b.ResolveMisses.Load()
	if count == 0 {
		return 0
	}
	return b.ResolveTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ResolveHits       int64
	ResolveMisses     int64
	ResolveAvgNanos   int64
	PrefetchCount     int64
	PrefetchErrors    int64
	PrefetchRequested int64
	PrefetchCached    int64
	ProtectCount      int64
	ProtectErrors     int64
	ProtectedTiles    int64
	ReleaseCount      int64
	ReleaseErrors     int64
	ReleasedTiles     int64
	RemoveCount       int64
	RemoveErrors      int64
}
