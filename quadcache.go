package quadcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/quadcache/cache"
	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/internal/pin"
	"github.com/hupe1980/quadcache/internal/workerpool"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

// Client reads one version of a catalog layer through a local cache.
//
// A Client is safe for concurrent use. Close releases its worker pool; the
// store and the catalog service are borrowed and stay open.
type Client struct {
	keys      cache.KeySpace
	store     cache.Store
	protector cache.Protector
	service   catalog.Service

	opts    options
	logger  *Logger
	metrics MetricsCollector

	pool      *workerpool.WorkerPool
	pins      *pin.Table
	protectMu sync.Mutex
	loads     singleflight.Group
	closed    atomic.Bool
}

// New creates a client for version of layer in the catalog identified by hrn.
// Protection is delegated to the store when it implements cache.Protector;
// otherwise protected entries are written without expiry.
func New(hrn, layer string, version uint64, store cache.Store, service catalog.Service, optFns ...Option) (*Client, error) {
	if hrn == "" || layer == "" {
		return nil, fmtInvalid("catalog and layer must not be empty")
	}
	if store == nil {
		return nil, fmtInvalid("nil cache store")
	}
	if service == nil {
		return nil, fmtInvalid("nil catalog service")
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		keys:    cache.NewKeySpace(hrn, layer, version),
		store:   store,
		service: service,
		opts:    opts,
		logger:  opts.logger.WithLayer(hrn, layer, version),
		metrics: opts.metricsCollector,
		pool:    workerpool.New(opts.workers),
		pins:    pin.New(),
	}
	if p, ok := store.(cache.Protector); ok {
		c.protector = p
	}
	return c, nil
}

// KeySpace returns the cache keys used by the client.
func (c *Client) KeySpace() cache.KeySpace {
	return c.keys
}

// Close stops the worker pool after queued tasks ran.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.pool.Close()
	return nil
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// resolved is a tile found in a cached index.
type resolved struct {
	tile     tilekey.TileKey
	entry    quadtree.Entry
	index    *quadtree.Index
	indexKey string
}

// ResolveTile looks key up in the nearest cached index rooted at key or one
// of its ancestors. Misses and unusable cached indexes report false.
func (c *Client) ResolveTile(ctx context.Context, key tilekey.TileKey) (quadtree.Entry, bool) {
	start := time.Now()
	r, ok := c.resolve(ctx, key)
	c.metrics.RecordResolve(ok, time.Since(start))
	return r.entry, ok
}

func (c *Client) resolve(ctx context.Context, key tilekey.TileKey) (resolved, bool) {
	for delta := 0; delta <= c.opts.maxResolveDepth; delta++ {
		root, err := key.ChangedLevelBy(-delta)
		if err != nil {
			break
		}
		indexKey := c.keys.QuadTree(root, c.opts.quadTreeDepth)
		buf, ok := c.store.Get(ctx, indexKey)
		if !ok {
			continue
		}
		x, err := quadtree.Decode(buf)
		if err != nil {
			c.logger.LogResolveFailure(ctx, key, indexKey, err)
			return resolved{}, false
		}
		entry, ok := x.Find(key)
		if !ok {
			return resolved{}, false
		}
		return resolved{tile: key, entry: entry, index: x, indexKey: indexKey}, true
	}
	return resolved{}, false
}

// findIn looks key up in the cached index stored under indexKey.
func (c *Client) findIn(ctx context.Context, indexKey string, key tilekey.TileKey) (quadtree.Entry, bool) {
	buf, ok := c.store.Get(ctx, indexKey)
	if !ok {
		return quadtree.Entry{}, false
	}
	x, err := quadtree.Decode(buf)
	if err != nil {
		c.logger.LogResolveFailure(ctx, key, indexKey, err)
		return quadtree.Entry{}, false
	}
	return x.Find(key)
}

// IsCached reports whether the data blob of key is in the cache.
func (c *Client) IsCached(ctx context.Context, key tilekey.TileKey) bool {
	r, ok := c.resolve(ctx, key)
	if !ok || r.entry.DataHandle == "" {
		return false
	}
	return c.store.Contains(ctx, c.keys.Data(r.entry.DataHandle))
}

// IsPartitionCached reports whether the metadata and the data blob of the
// partition are in the cache.
func (c *Client) IsPartitionCached(ctx context.Context, id string) bool {
	p, ok := c.cachedPartition(ctx, id)
	if !ok || p.DataHandle == "" {
		return false
	}
	return c.store.Contains(ctx, c.keys.Data(p.DataHandle))
}

func (c *Client) cachedPartition(ctx context.Context, id string) (catalog.Partition, bool) {
	buf, ok := c.store.Get(ctx, c.keys.Partition(id))
	if !ok {
		return catalog.Partition{}, false
	}
	var p catalog.Partition
	if err := c.opts.codec.Unmarshal(buf, &p); err != nil {
		c.logger.WarnContext(ctx, "cached partition metadata unusable", "partition", id, "error", err)
		return catalog.Partition{}, false
	}
	return p, true
}

// RemovePartitionFromCache removes the metadata and the data blob of a
// partition. Removing a partition that is not cached is a no-op.
func (c *Client) RemovePartitionFromCache(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRemove(time.Since(start), err)
		c.logger.LogRemove(ctx, "partition "+id, err)
	}()

	metaKey := c.keys.Partition(id)
	buf, ok := c.store.Get(ctx, metaKey)
	if !ok {
		return nil
	}

	var p catalog.Partition
	if err := c.opts.codec.Unmarshal(buf, &p); err != nil {
		c.logger.WarnContext(ctx, "cached partition metadata unusable", "partition", id, "error", err)
	}

	if err := c.store.RemoveKeysWithPrefix(ctx, metaKey); err != nil {
		return storeFailure("remove", metaKey, err)
	}
	if p.DataHandle != "" {
		dataKey := c.keys.Data(p.DataHandle)
		if err := c.store.RemoveKeysWithPrefix(ctx, dataKey); err != nil {
			return storeFailure("remove", dataKey, err)
		}
	}
	return nil
}

// RemoveTileFromCache removes the data blob of a tile. The covering index
// is removed as well unless it still resolves cached data or is protected.
// Removing an unresolved tile is a no-op.
func (c *Client) RemoveTileFromCache(ctx context.Context, key tilekey.TileKey) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRemove(time.Since(start), err)
		c.logger.LogRemove(ctx, "tile "+key.String(), err)
	}()

	r, ok := c.resolve(ctx, key)
	if !ok {
		return nil
	}

	if r.entry.DataHandle != "" {
		dataKey := c.keys.Data(r.entry.DataHandle)
		if err := c.store.RemoveKeysWithPrefix(ctx, dataKey); err != nil {
			return storeFailure("remove", dataKey, err)
		}
	}

	if c.pins.Count(r.indexKey) > 0 {
		return nil
	}
	for e := range r.index.All() {
		if e.DataHandle != "" && c.store.Contains(ctx, c.keys.Data(e.DataHandle)) {
			return nil
		}
	}
	if err := c.store.RemoveKeysWithPrefix(ctx, r.indexKey); err != nil {
		return storeFailure("remove", r.indexKey, err)
	}
	return nil
}

// Protect exempts the tiles, their covering indexes and their data from
// expiry. Every tile must resolve through a cached index, otherwise nothing
// is protected and ErrNotResolved is returned. Protecting a tile twice has
// no further effect.
//
// Stores that do not implement cache.Protector get the protected entries
// rewritten without expiry.
func (c *Client) Protect(ctx context.Context, keys []tilekey.TileKey) (err error) {
	defer func() {
		c.metrics.RecordProtect(len(keys), err)
		c.logger.LogProtect(ctx, len(keys), err)
	}()

	if len(keys) == 0 {
		return fmtInvalid("no tile keys to protect")
	}

	c.protectMu.Lock()
	defer c.protectMu.Unlock()

	all := make([]resolved, 0, len(keys))
	for _, key := range keys {
		r, ok := c.resolve(ctx, key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotResolved, key)
		}
		all = append(all, r)
	}

	var errs []error
	for _, r := range all {
		var dataKey string
		if r.entry.DataHandle != "" {
			dataKey = c.keys.Data(r.entry.DataHandle)
		}
		if added, _ := c.pins.Protect(r.indexKey, r.tile, dataKey); !added {
			continue
		}

		held := []string{r.indexKey}
		if dataKey != "" {
			held = append(held, dataKey)
		}
		if c.protector != nil {
			c.protector.Protect(held...)
			continue
		}
		if err := c.rewriteExpiry(ctx, cache.NoExpiry, held...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Release drops protection of the tiles. When the last protected tile of an
// index is released, the index and that tile's data are removed from the
// cache. Data still referenced by another protected tile stays protected.
// Tiles that are not protected fail with ErrNotProtected; the others are
// still released.
func (c *Client) Release(ctx context.Context, keys []tilekey.TileKey) (err error) {
	defer func() {
		c.metrics.RecordRelease(len(keys), err)
		c.logger.LogRelease(ctx, len(keys), err)
	}()

	if len(keys) == 0 {
		return fmtInvalid("no tile keys to release")
	}

	c.protectMu.Lock()
	defer c.protectMu.Unlock()

	var errs []error
	for _, key := range keys {
		rel, ok := c.pins.Release(key)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNotProtected, key))
			continue
		}

		indexFree := rel.Remaining == 0
		dataFree := rel.DataKey != "" && rel.DataRemaining == 0

		if c.protector != nil {
			if dataFree {
				c.protector.Release(rel.DataKey)
			}
			if indexFree {
				c.protector.Release(rel.QuadKey)
			}
		}

		if !indexFree {
			if dataFree && c.protector == nil {
				if err := c.rewriteExpiry(ctx, c.opts.defaultExpiry, rel.DataKey); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}

		if err := c.store.RemoveKeysWithPrefix(ctx, rel.QuadKey); err != nil {
			errs = append(errs, storeFailure("remove", rel.QuadKey, err))
		}
		if dataFree {
			if err := c.store.RemoveKeysWithPrefix(ctx, rel.DataKey); err != nil {
				errs = append(errs, storeFailure("remove", rel.DataKey, err))
			}
		}
	}
	return errors.Join(errs...)
}

// rewriteExpiry writes the cached values of keys back with ttl. Keys that
// are not cached are skipped; they get the right ttl once written.
func (c *Client) rewriteExpiry(ctx context.Context, ttl time.Duration, keys ...string) error {
	for _, key := range keys {
		buf, ok := c.store.Get(ctx, key)
		if !ok {
			continue
		}
		if err := c.store.Put(ctx, key, buf, ttl); err != nil {
			return storeFailure("put", key, err)
		}
	}
	return nil
}

// expiryFor returns the ttl for writing key. On stores without protection
// support, keys held by protected tiles never expire.
func (c *Client) expiryFor(key string) time.Duration {
	if c.protector == nil && c.pins.Held(key) {
		return cache.NoExpiry
	}
	return c.opts.defaultExpiry
}

// IsProtected reports whether key is protected.
func (c *Client) IsProtected(key tilekey.TileKey) bool {
	return c.pins.IsProtected(key)
}
