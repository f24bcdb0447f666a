// Package promcollector exports client metrics to Prometheus.
package promcollector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/quadcache"
)

// Collector implements quadcache.MetricsCollector with Prometheus metrics.
type Collector struct {
	opLatency     *prometheus.HistogramVec
	resolves      *prometheus.CounterVec
	prefetches    *prometheus.CounterVec
	prefetchItems *prometheus.CounterVec
	protection    *prometheus.CounterVec
}

// New creates a Collector and registers its metrics with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quadcache_operation_latency_seconds",
			Help:    "Latency of client operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quadcache_resolves_total",
			Help: "Tile resolutions against cached indexes",
		}, []string{"result"}),
		prefetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quadcache_prefetches_total",
			Help: "Completed prefetch operations",
		}, []string{"kind", "status"}),
		prefetchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quadcache_prefetch_items_total",
			Help: "Items requested and cached by prefetches",
		}, []string{"kind", "outcome"}),
		protection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quadcache_protection_tiles_total",
			Help: "Tiles passed to successful protect and release calls",
		}, []string{"op"}),
	}

	for _, m := range []prometheus.Collector{c.opLatency, c.resolves, c.prefetches, c.prefetchItems, c.protection} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordResolve implements quadcache.MetricsCollector.
func (c *Collector) RecordResolve(hit bool, d time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.resolves.WithLabelValues(result).Inc()
	c.opLatency.WithLabelValues("resolve", "success").Observe(d.Seconds())
}

// RecordPrefetch implements quadcache.MetricsCollector.
func (c *Collector) RecordPrefetch(kind string, requested, cached int, d time.Duration, err error) {
	c.prefetches.WithLabelValues(kind, status(err)).Inc()
	c.prefetchItems.WithLabelValues(kind, "requested").Add(float64(requested))
	c.prefetchItems.WithLabelValues(kind, "cached").Add(float64(cached))
	c.opLatency.WithLabelValues("prefetch_"+kind, status(err)).Observe(d.Seconds())
}

// RecordProtect implements quadcache.MetricsCollector.
func (c *Collector) RecordProtect(count int, err error) {
	if err == nil {
		c.protection.WithLabelValues("protect").Add(float64(count))
	}
	c.opLatency.WithLabelValues("protect", status(err)).Observe(0)
}

// RecordRelease implements quadcache.MetricsCollector.
func (c *Collector) RecordRelease(count int, err error) {
	if err == nil {
		c.protection.WithLabelValues("release").Add(float64(count))
	}
	c.opLatency.WithLabelValues("release", status(err)).Observe(0)
}

// RecordRemove implements quadcache.MetricsCollector.
func (c *Collector) RecordRemove(d time.Duration, err error) {
	c.opLatency.WithLabelValues("remove", status(err)).Observe(d.Seconds())
}

var _ quadcache.MetricsCollector = (*Collector)(nil)
