// Package pin tracks which tiles are protected from cache expiry, grouped by
// the quadtree index that resolves them.
//
// Each quad index cache key owns a bitmap of protected tile quadkeys. The
// quad's reference count is the bitmap cardinality: the index must stay
// protected while at least one of its tiles is. Data keys are reference
// counted separately because tiles of different quads may share a blob.
package pin

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/quadcache/tilekey"
)

type tilePin struct {
	quadKey string
	dataKey string
}

// Released describes the state left behind by Table.Release.
type Released struct {
	// QuadKey is the index cache key the tile was protected under.
	QuadKey string
	// Remaining is the number of tiles still protected under QuadKey.
	Remaining int
	// DataKey is the data cache key recorded when the tile was protected.
	// Empty for tiles without data.
	DataKey string
	// DataRemaining is the number of protected tiles still referencing DataKey.
	DataRemaining int
}

// Table is the in-memory pin table. It is never persisted.
// Safe for concurrent use.
type Table struct {
	mu    sync.Mutex
	quads map[string]*roaring64.Bitmap
	tiles map[uint64]tilePin
	data  map[string]int
}

// New returns an empty table.
func New() *Table {
	return &Table{
		quads: make(map[string]*roaring64.Bitmap),
		tiles: make(map[uint64]tilePin),
		data:  make(map[string]int),
	}
}

// Protect adds tile to the set of quadKey and references dataKey, which may
// be empty. It reports whether the tile was newly added and the quad's
// resulting count. A tile already protected stays with the quad and data
// key that first protected it.
func (t *Table) Protect(quadKey string, tile tilekey.TileKey, dataKey string) (added bool, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	qk := tile.QuadKey64()
	if p, ok := t.tiles[qk]; ok {
		return false, int(t.quads[p.quadKey].GetCardinality())
	}

	set, ok := t.quads[quadKey]
	if !ok {
		set = roaring64.New()
		t.quads[quadKey] = set
	}
	set.Add(qk)
	t.tiles[qk] = tilePin{quadKey: quadKey, dataKey: dataKey}
	if dataKey != "" {
		t.data[dataKey]++
	}
	return true, int(set.GetCardinality())
}

// Release removes tile from its quad and drops its data reference. ok is
// false if the tile was not protected. Quads and data keys without
// references are dropped from the table.
func (t *Table) Release(tile tilekey.TileKey) (r Released, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	qk := tile.QuadKey64()
	p, ok := t.tiles[qk]
	if !ok {
		return Released{}, false
	}
	delete(t.tiles, qk)

	set := t.quads[p.quadKey]
	set.Remove(qk)
	r = Released{QuadKey: p.quadKey, Remaining: int(set.GetCardinality()), DataKey: p.dataKey}
	if r.Remaining == 0 {
		delete(t.quads, p.quadKey)
	}

	if p.dataKey != "" {
		t.data[p.dataKey]--
		r.DataRemaining = t.data[p.dataKey]
		if r.DataRemaining == 0 {
			delete(t.data, p.dataKey)
		}
	}
	return r, true
}

// IsProtected reports whether tile is protected.
func (t *Table) IsProtected(tile tilekey.TileKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.tiles[tile.QuadKey64()]
	return ok
}

// Held reports whether key is the quad key or the data key of a protected
// tile.
func (t *Table) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.quads[key]; ok {
		return true
	}
	return t.data[key] > 0
}

// Count returns the number of protected tiles of quadKey.
func (t *Table) Count(quadKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if set, ok := t.quads[quadKey]; ok {
		return int(set.GetCardinality())
	}
	return 0
}

// Tiles returns the protected tiles of quadKey in quadkey order.
func (t *Table) Tiles(quadKey string) []tilekey.TileKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.quads[quadKey]
	if !ok {
		return nil
	}
	out := make([]tilekey.TileKey, 0, set.GetCardinality())
	it := set.Iterator()
	for it.HasNext() {
		if k, err := tilekey.FromQuadKey64(it.Next()); err == nil {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of quads with at least one protected tile.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.quads)
}
