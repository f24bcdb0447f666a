package quadcache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/internal/workerpool"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

// PrefetchStatus reports the progress of a prefetch. PrefetchedItems
// counts attempted items, successful or not.
type PrefetchStatus struct {
	TotalItems       int
	PrefetchedItems  int
	BytesTransferred int64
}

// ProgressFunc receives status updates. Calls are serialized and observe
// non-decreasing values.
type ProgressFunc func(PrefetchStatus)

// PrefetchPartitionsRequest lists the partitions to prefetch.
type PrefetchPartitionsRequest struct {
	PartitionIDs []string
	Progress     ProgressFunc
}

// PrefetchPartitionsResult holds the partitions that are cached after the
// prefetch, in request order.
type PrefetchPartitionsResult struct {
	PartitionIDs []string
}

// MaxPrefetchRoots bounds the number of indexes one PrefetchTiles call may
// load. Level ranges reaching further below the requested tiles are
// rejected with ErrInvalidArgument.
const MaxPrefetchRoots = 1 << 12

// LevelRange is an inclusive range of tile levels.
type LevelRange struct {
	Min int
	Max int
}

// Contains reports whether level is in the range.
func (r LevelRange) Contains(level int) bool {
	return level >= r.Min && level <= r.Max
}

// PrefetchTilesRequest selects tiles to prefetch.
//
// Without Levels exactly the listed tiles are prefetched. With Levels every
// tile within the range that is an ancestor or a descendant of a listed
// tile is prefetched.
type PrefetchTilesRequest struct {
	TileKeys []tilekey.TileKey
	Levels   *LevelRange
	Progress ProgressFunc
}

// TileResult is the outcome for one tile. Err is nil when the tile's data
// is cached.
type TileResult struct {
	Key tilekey.TileKey
	Err error
}

// PrefetchTilesResult holds one result per selected tile in quadkey order.
type PrefetchTilesResult struct {
	Tiles []TileResult
}

// Succeeded returns the tiles whose data is cached.
func (r *PrefetchTilesResult) Succeeded() []tilekey.TileKey {
	var out []tilekey.TileKey
	for _, t := range r.Tiles {
		if t.Err == nil {
			out = append(out, t.Key)
		}
	}
	return out
}

type statusTracker struct {
	mu       sync.Mutex
	status   PrefetchStatus
	progress ProgressFunc
}

func newStatusTracker(total int, progress ProgressFunc) *statusTracker {
	return &statusTracker{status: PrefetchStatus{TotalItems: total}, progress: progress}
}

func (s *statusTracker) add(items int, bytes int64) {
	if items == 0 && bytes == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.PrefetchedItems += items
	s.status.BytesTransferred += bytes
	if s.progress != nil {
		s.progress(s.status)
	}
}

func (s *statusTracker) get() PrefetchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PrefetchPartitions caches the metadata and data of the partitions.
//
// Partitions already cached cost no request. The rest are looked up in
// batches and their data fetched in parallel. Individual failures only
// shrink the result; the call fails with ErrNoPartitionsPrefetched when
// nothing ends up cached, or with the catalog error when a lookup fails.
func (c *Client) PrefetchPartitions(ctx context.Context, req PrefetchPartitionsRequest) (*PrefetchPartitionsResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if len(req.PartitionIDs) == 0 {
		return nil, fmtInvalid("no partition ids to prefetch")
	}

	start := time.Now()
	logger := c.logger.WithOperation("prefetch_partitions", uuid.NewString())

	res, err := c.prefetchPartitions(ctx, req, logger)
	err = translateError(err)

	cached := 0
	if res != nil {
		cached = len(res.PartitionIDs)
	}
	c.metrics.RecordPrefetch("partitions", len(req.PartitionIDs), cached, time.Since(start), err)
	logger.LogPrefetch(ctx, len(req.PartitionIDs), cached, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) prefetchPartitions(ctx context.Context, req PrefetchPartitionsRequest, logger *Logger) (*PrefetchPartitionsResult, error) {
	ids := uniqueStrings(req.PartitionIDs)
	status := newStatusTracker(len(ids), req.Progress)

	var (
		mu     sync.Mutex
		cached = make(map[string]struct{}, len(ids))
	)

	var missing []string
	for _, id := range ids {
		if id == "" {
			return nil, fmtInvalid("empty partition id")
		}
		if c.IsPartitionCached(ctx, id) {
			cached[id] = struct{}{}
			status.add(1, 0)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		parts, err := c.lookupPartitions(ctx, missing)
		if err != nil {
			return nil, err
		}

		wanted := make(map[string]struct{}, len(missing))
		for _, id := range missing {
			wanted[id] = struct{}{}
		}
		var fetch []catalog.Partition
		for _, p := range parts {
			if _, ok := wanted[p.ID]; !ok || p.DataHandle == "" {
				continue
			}
			delete(wanted, p.ID)
			fetch = append(fetch, p)
		}
		if len(fetch) == 0 && len(cached) == 0 {
			return nil, ErrNoPartitionsPrefetched
		}
		// Unknown partitions and partitions without data are done.
		status.add(len(wanted), 0)

		g := workerpool.NewGroup(ctx, c.pool, false)
		for _, p := range fetch {
			g.Go(func(ctx context.Context) error {
				n, err := c.cachePartition(ctx, p)
				if err != nil {
					logger.DebugContext(ctx, "partition prefetch failed", "partition", p.ID, "error", err)
				} else {
					mu.Lock()
					cached[p.ID] = struct{}{}
					mu.Unlock()
				}
				status.add(1, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	res := &PrefetchPartitionsResult{}
	for _, id := range ids {
		if _, ok := cached[id]; ok {
			res.PartitionIDs = append(res.PartitionIDs, id)
		}
	}
	if len(res.PartitionIDs) == 0 {
		return nil, ErrNoPartitionsPrefetched
	}

	s := status.get()
	logger.DebugContext(ctx, "partition prefetch status",
		"total", s.TotalItems,
		"prefetched", s.PrefetchedItems,
		"bytes", s.BytesTransferred,
	)
	return res, nil
}

// lookupPartitions issues one metadata request per batch. The first failing
// batch cancels the others.
func (c *Client) lookupPartitions(ctx context.Context, ids []string) ([]catalog.Partition, error) {
	batches := slices.Collect(slices.Chunk(ids, c.opts.batchSize))
	results := make([][]catalog.Partition, len(batches))

	g := workerpool.NewGroup(ctx, c.pool, true)
	for i, batch := range batches {
		g.Go(func(ctx context.Context) error {
			parts, err := c.service.LookupPartitions(ctx, c.keys.Layer(), c.keys.Version(), batch)
			if err != nil {
				return err
			}
			results[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

// PrefetchTiles caches the indexes covering the tiles and the data of the
// selected tiles.
//
// Indexes are written to the cache as soon as they arrive, so tiles become
// resolvable before the call returns. The call fails on invalid input, on
// cancellation, or when no index could be loaded; other failures are
// reported per tile.
func (c *Client) PrefetchTiles(ctx context.Context, req PrefetchTilesRequest) (*PrefetchTilesResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if len(req.TileKeys) == 0 {
		return nil, fmtInvalid("no tile keys to prefetch")
	}
	if req.Levels != nil {
		if req.Levels.Min < 0 || req.Levels.Max > tilekey.MaxLevel || req.Levels.Min > req.Levels.Max {
			return nil, fmtInvalid("level range [%d, %d] out of range", req.Levels.Min, req.Levels.Max)
		}
	}

	start := time.Now()
	logger := c.logger.WithOperation("prefetch_tiles", uuid.NewString())

	res, err := c.prefetchTiles(ctx, req, logger)
	err = translateError(err)

	requested, cached := 0, 0
	if res != nil {
		requested = len(res.Tiles)
		cached = len(res.Succeeded())
	}
	c.metrics.RecordPrefetch("tiles", requested, cached, time.Since(start), err)
	logger.LogPrefetch(ctx, requested, cached, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type loadedIndex struct {
	root tilekey.TileKey
	x    *quadtree.Index
	err  error
}

func (c *Client) prefetchTiles(ctx context.Context, req PrefetchTilesRequest, logger *Logger) (*PrefetchTilesResult, error) {
	roots, err := c.prefetchRoots(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmtInvalid("tile keys and levels mismatch")
	}

	indexes, err := c.loadIndexes(ctx, roots)
	if err != nil {
		return nil, err
	}

	results := make(map[tilekey.TileKey]error)
	var targets []quadtree.Entry
	if req.Levels == nil {
		targets = c.selectListed(req.TileKeys, indexes, results)
	} else {
		targets = selectInRange(req.TileKeys, *req.Levels, indexes, results)
	}

	status := newStatusTracker(len(targets), req.Progress)
	var mu sync.Mutex

	g := workerpool.NewGroup(ctx, c.pool, false)
	for _, e := range targets {
		g.Go(func(ctx context.Context) error {
			var (
				n   int64
				err error
			)
			if !c.store.Contains(ctx, c.keys.Data(e.DataHandle)) {
				var data []byte
				data, err = c.fetchBlob(ctx, e.DataHandle, true)
				n = int64(len(data))
			}
			if err != nil {
				logger.DebugContext(ctx, "tile prefetch failed", "tile", e.TileKey.String(), "error", err)
			}
			mu.Lock()
			results[e.TileKey] = translateError(err)
			mu.Unlock()
			status.add(1, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &PrefetchTilesResult{Tiles: make([]TileResult, 0, len(results))}
	for key, err := range results {
		res.Tiles = append(res.Tiles, TileResult{Key: key, Err: err})
	}
	slices.SortFunc(res.Tiles, func(a, b TileResult) int { return a.Key.Compare(b.Key) })
	return res, nil
}

// prefetchRoots returns the sorted roots of the indexes covering the
// request. Without levels each tile is covered by the index the client
// requests for it. With levels the range is cut into slabs of depth+1
// levels and each slab contributes the ancestor of a tile at its first
// level, or the tile's descendants there when the slab starts below it.
// More than MaxPrefetchRoots roots fail with ErrInvalidArgument.
func (c *Client) prefetchRoots(ctx context.Context, req PrefetchTilesRequest) ([]tilekey.TileKey, error) {
	set := make(map[tilekey.TileKey]struct{})
	if req.Levels == nil {
		for _, key := range req.TileKeys {
			set[c.indexRoot(key)] = struct{}{}
		}
	} else {
		step := c.opts.quadTreeDepth + 1
		if n := countRoots(req.TileKeys, *req.Levels, step); n > MaxPrefetchRoots {
			return nil, fmtInvalid("level range [%d, %d] covers more than %d indexes", req.Levels.Min, req.Levels.Max, MaxPrefetchRoots)
		}
		for _, key := range req.TileKeys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for level := req.Levels.Min; level <= req.Levels.Max; level += step {
				if level <= key.Level() {
					root, err := key.ChangedLevelTo(level)
					if err == nil {
						set[root] = struct{}{}
					}
					continue
				}
				for root := range key.Descendants(level) {
					set[root] = struct{}{}
				}
			}
		}
	}

	roots := make([]tilekey.TileKey, 0, len(set))
	for root := range set {
		roots = append(roots, root)
	}
	slices.SortFunc(roots, tilekey.TileKey.Compare)
	return roots, nil
}

// countRoots returns an upper bound of the roots a level range produces,
// saturating just above MaxPrefetchRoots.
func countRoots(keys []tilekey.TileKey, levels LevelRange, step int) int {
	n := 0
	for _, key := range keys {
		for level := levels.Min; level <= levels.Max; level += step {
			d := level - key.Level()
			switch {
			case d <= 0:
				n++
			case d > 15:
				return MaxPrefetchRoots + 1
			default:
				n += 1 << (2 * d)
			}
			if n > MaxPrefetchRoots {
				return n
			}
		}
	}
	return n
}

// loadIndexes loads every root index in parallel. It fails when the
// context is done or when no index could be loaded.
func (c *Client) loadIndexes(ctx context.Context, roots []tilekey.TileKey) ([]loadedIndex, error) {
	indexes := make([]loadedIndex, len(roots))

	g := workerpool.NewGroup(ctx, c.pool, false)
	for i, root := range roots {
		g.Go(func(ctx context.Context) error {
			x, err := c.loadQuadTree(ctx, root, true)
			indexes[i] = loadedIndex{root: root, x: x, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var firstErr error
	for _, li := range indexes {
		if li.err == nil {
			return indexes, nil
		}
		if firstErr == nil {
			firstErr = li.err
		}
	}
	return nil, firstErr
}

// selectListed picks the listed tiles from the indexes. Tiles that are
// missing are recorded in results.
func (c *Client) selectListed(keys []tilekey.TileKey, indexes []loadedIndex, results map[tilekey.TileKey]error) []quadtree.Entry {
	byRoot := make(map[tilekey.TileKey]loadedIndex, len(indexes))
	for _, li := range indexes {
		byRoot[li.root] = li
	}

	var targets []quadtree.Entry
	for _, key := range keys {
		if _, seen := results[key]; seen {
			continue
		}
		li := byRoot[c.indexRoot(key)]
		if li.err != nil {
			results[key] = translateError(li.err)
			continue
		}
		e, ok := li.x.Find(key)
		if !ok || e.DataHandle == "" {
			results[key] = fmt.Errorf("%w: tile %s", ErrNotFound, key)
			continue
		}
		results[key] = nil
		targets = append(targets, e)
	}
	return targets
}

// selectInRange picks every index entry inside levels that is related to a
// requested tile. Roots whose index failed are recorded in results.
func selectInRange(keys []tilekey.TileKey, levels LevelRange, indexes []loadedIndex, results map[tilekey.TileKey]error) []quadtree.Entry {
	var targets []quadtree.Entry
	for _, li := range indexes {
		if li.err != nil {
			results[li.root] = translateError(li.err)
			continue
		}
		for e := range li.x.All() {
			if !levels.Contains(e.TileKey.Level()) || e.DataHandle == "" {
				continue
			}
			if _, seen := results[e.TileKey]; seen {
				continue
			}
			if !related(keys, e.TileKey) {
				continue
			}
			results[e.TileKey] = nil
			targets = append(targets, e)
		}
	}
	return targets
}

func related(keys []tilekey.TileKey, tile tilekey.TileKey) bool {
	for _, key := range keys {
		if key.Covers(tile) || tile.IsAncestorOf(key) {
			return true
		}
	}
	return false
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
