package quadcache

import (
	"context"
	"fmt"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

// FetchOption selects where reads are served from.
type FetchOption int

const (
	// OnlineIfNotFound serves from the cache and falls back to the catalog,
	// caching what it fetched.
	OnlineIfNotFound FetchOption = iota
	// CacheOnly never contacts the catalog.
	CacheOnly
	// OnlineOnly always asks the catalog and leaves the cache untouched.
	OnlineOnly
)

func (f FetchOption) String() string {
	switch f {
	case OnlineIfNotFound:
		return "OnlineIfNotFound"
	case CacheOnly:
		return "CacheOnly"
	case OnlineOnly:
		return "OnlineOnly"
	default:
		return fmt.Sprintf("FetchOption(%d)", int(f))
	}
}

// GetTileData returns the data blob of a tile.
func (c *Client) GetTileData(ctx context.Context, key tilekey.TileKey, fetch FetchOption) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	data, err := c.getTileData(ctx, key, fetch)
	return data, translateError(err)
}

func (c *Client) getTileData(ctx context.Context, key tilekey.TileKey, fetch FetchOption) ([]byte, error) {
	if fetch != OnlineOnly {
		if r, ok := c.resolve(ctx, key); ok {
			if r.entry.DataHandle == "" {
				return nil, fmt.Errorf("%w: tile %s has no data", ErrNotFound, key)
			}
			if data, ok := c.store.Get(ctx, c.keys.Data(r.entry.DataHandle)); ok {
				return data, nil
			}
			if fetch == CacheOnly {
				return nil, fmt.Errorf("%w: tile %s not cached", ErrNotFound, key)
			}
			return c.fetchBlob(ctx, r.entry.DataHandle, true)
		}
		if fetch == CacheOnly {
			return nil, fmt.Errorf("%w: tile %s not cached", ErrNotFound, key)
		}
	}

	root := c.indexRoot(key)
	x, err := c.loadQuadTree(ctx, root, fetch != OnlineOnly)
	if err != nil {
		return nil, err
	}
	entry, ok := x.Find(key)
	if !ok || entry.DataHandle == "" {
		return nil, fmt.Errorf("%w: tile %s has no data", ErrNotFound, key)
	}
	return c.fetchBlob(ctx, entry.DataHandle, fetch != OnlineOnly)
}

// GetPartitionData returns the data blob of a partition.
func (c *Client) GetPartitionData(ctx context.Context, id string, fetch FetchOption) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	data, err := c.getPartitionData(ctx, id, fetch)
	return data, translateError(err)
}

func (c *Client) getPartitionData(ctx context.Context, id string, fetch FetchOption) ([]byte, error) {
	if id == "" {
		return nil, fmtInvalid("empty partition id")
	}

	if fetch != OnlineOnly {
		if p, ok := c.cachedPartition(ctx, id); ok && p.DataHandle != "" {
			if data, ok := c.store.Get(ctx, c.keys.Data(p.DataHandle)); ok {
				return data, nil
			}
		}
		if fetch == CacheOnly {
			return nil, fmt.Errorf("%w: partition %s not cached", ErrNotFound, id)
		}
	}

	parts, err := c.service.LookupPartitions(ctx, c.keys.Layer(), c.keys.Version(), []string{id})
	if err != nil {
		return nil, err
	}
	var p catalog.Partition
	for _, candidate := range parts {
		if candidate.ID == id {
			p = candidate
			break
		}
	}
	if p.DataHandle == "" {
		return nil, fmt.Errorf("%w: partition %s", ErrNotFound, id)
	}

	if fetch == OnlineOnly {
		return c.fetchBlob(ctx, p.DataHandle, false)
	}
	data, err := c.fetchBlob(ctx, p.DataHandle, true)
	if err != nil {
		return nil, err
	}
	if err := c.putPartition(ctx, p); err != nil {
		return nil, err
	}
	return data, nil
}

// indexRoot returns the root of the index the client requests for key.
func (c *Client) indexRoot(key tilekey.TileKey) tilekey.TileKey {
	root, _ := key.ChangedLevelBy(-min(c.opts.quadTreeDepth, key.Level()))
	return root
}

// loadQuadTree returns the index rooted at root from the cache, or fetches
// it and, with write set, caches it. Concurrent loads of one index share a
// single request.
func (c *Client) loadQuadTree(ctx context.Context, root tilekey.TileKey, write bool) (*quadtree.Index, error) {
	indexKey := c.keys.QuadTree(root, c.opts.quadTreeDepth)
	if write {
		if buf, ok := c.store.Get(ctx, indexKey); ok {
			x, err := quadtree.Decode(buf)
			if err == nil {
				return x, nil
			}
			c.logger.LogResolveFailure(ctx, root, indexKey, err)
		}
	}

	// The shared load is detached from the caller; each caller stops
	// waiting when its own ctx is done.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(fmt.Sprintf("%s|%t", indexKey, write), func() (any, error) {
		buf, err := c.service.QuadTree(loadCtx, c.keys.Layer(), c.keys.Version(), root, c.opts.quadTreeDepth)
		if err != nil {
			return nil, err
		}
		x, err := quadtree.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: quadtree %s: %w", ErrDecode, root, err)
		}
		if write {
			if err := c.store.Put(loadCtx, indexKey, buf, c.expiryFor(indexKey)); err != nil {
				return nil, storeFailure("put", indexKey, err)
			}
		}
		return x, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*quadtree.Index), nil
	}
}

// fetchBlob downloads a data blob and, with write set, caches it.
func (c *Client) fetchBlob(ctx context.Context, handle string, write bool) ([]byte, error) {
	data, err := c.service.Blob(ctx, c.keys.Layer(), handle)
	if err != nil {
		return nil, err
	}
	if write {
		dataKey := c.keys.Data(handle)
		if err := c.store.Put(ctx, dataKey, data, c.expiryFor(dataKey)); err != nil {
			return nil, storeFailure("put", dataKey, err)
		}
	}
	return data, nil
}

// cachePartition makes sure the data and the metadata of p are cached and
// returns the number of bytes downloaded.
func (c *Client) cachePartition(ctx context.Context, p catalog.Partition) (int64, error) {
	var n int64
	if !c.store.Contains(ctx, c.keys.Data(p.DataHandle)) {
		data, err := c.fetchBlob(ctx, p.DataHandle, true)
		if err != nil {
			return 0, err
		}
		n = int64(len(data))
	}
	return n, c.putPartition(ctx, p)
}

func (c *Client) putPartition(ctx context.Context, p catalog.Partition) error {
	meta, err := c.opts.codec.Marshal(p)
	if err != nil {
		return err
	}
	metaKey := c.keys.Partition(p.ID)
	if err := c.store.Put(ctx, metaKey, meta, c.opts.defaultExpiry); err != nil {
		return storeFailure("put", metaKey, err)
	}
	return nil
}
