package quadcache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/quadcache/cache"
	"github.com/hupe1980/quadcache/testutil"
	"github.com/hupe1980/quadcache/tilekey"
)

const (
	testHRN     = "hrn:here:data::olp-here:test"
	testLayer   = "roads"
	testVersion = 42
	testTTL     = time.Minute
)

// recordingStore records prefix removals and can fail them.
type recordingStore struct {
	*cache.MemoryStore

	mu         sync.Mutex
	removed    []string
	failRemove error
}

func (s *recordingStore) RemoveKeysWithPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	s.removed = append(s.removed, prefix)
	fail := s.failRemove
	s.mu.Unlock()

	if fail != nil {
		return fail
	}
	return s.MemoryStore.RemoveKeysWithPrefix(ctx, prefix)
}

func (s *recordingStore) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.removed)
}

type testEnv struct {
	client *Client
	svc    *testutil.FakeService
	store  *recordingStore
	clock  *testutil.ManualClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	clock := testutil.NewManualClock(time.Unix(1_700_000_000, 0))
	mem, err := cache.NewMemoryStore(func(o *cache.MemoryOptions) { o.Now = clock.Now })
	require.NoError(t, err)
	store := &recordingStore{MemoryStore: mem}
	svc := testutil.NewFakeService(testLayer, testVersion)

	opts = append([]Option{WithWorkers(4), WithDefaultExpiry(testTTL)}, opts...)
	client, err := New(testHRN, testLayer, testVersion, store, svc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &testEnv{client: client, svc: svc, store: store, clock: clock}
}

func (e *testEnv) indexKey(root tilekey.TileKey) string {
	return e.client.KeySpace().QuadTree(root, DefaultQuadTreeDepth)
}

func (e *testEnv) dataKey(handle string) string {
	return e.client.KeySpace().Data(handle)
}

// cacheIndex stores the index of root built from the registered tiles.
func (e *testEnv) cacheIndex(t *testing.T, root tilekey.TileKey) {
	t.Helper()
	buf, err := e.svc.BuildQuadTree(root, DefaultQuadTreeDepth)
	require.NoError(t, err)
	require.NoError(t, e.store.Put(context.Background(), e.indexKey(root), buf, testTTL))
}

func (e *testEnv) cacheData(t *testing.T, handle string, data []byte) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), e.dataKey(handle), data, testTTL))
}

func ancestor(t *testing.T, k tilekey.TileKey, levels int) tilekey.TileKey {
	t.Helper()
	a, err := k.ChangedLevelBy(-levels)
	require.NoError(t, err)
	return a
}

func child(t *testing.T, k tilekey.TileKey, levels int) tilekey.TileKey {
	t.Helper()
	c, err := k.ChangedLevelBy(levels)
	require.NoError(t, err)
	return c
}

func TestNew_Invalid(t *testing.T) {
	store, err := cache.NewMemoryStore()
	require.NoError(t, err)
	svc := testutil.NewFakeService(testLayer, testVersion)

	_, err = New("", testLayer, 1, store, svc)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(testHRN, testLayer, 1, nil, svc)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(testHRN, testLayer, 1, store, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(testHRN, testLayer, 1, store, svc, WithQuadTreeDepth(8))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(testHRN, testLayer, 1, store, svc, WithBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestResolveTile(t *testing.T) {
	ctx := context.Background()
	tile := tilekey.MustNew(12, 1320, 2118)

	var entries []any
	for _, up := range []int{4, 3, 0} {
		env := newTestEnv(t)
		env.svc.AddTile(tile, "tile-handle", []byte("data"))
		env.cacheIndex(t, ancestor(t, tile, up))

		e, ok := env.client.ResolveTile(ctx, tile)
		require.True(t, ok, "index %d levels up", up)
		entries = append(entries, e)
	}
	assert.Equal(t, entries[0], entries[1])
	assert.Equal(t, entries[0], entries[2])

	t.Run("beyond max resolve depth", func(t *testing.T) {
		env := newTestEnv(t)
		env.svc.AddTile(tile, "tile-handle", nil)
		env.cacheIndex(t, ancestor(t, tile, 5))
		_, ok := env.client.ResolveTile(ctx, tile)
		assert.False(t, ok)
	})

	t.Run("tile absent from index", func(t *testing.T) {
		env := newTestEnv(t)
		env.cacheIndex(t, ancestor(t, tile, 2))
		_, ok := env.client.ResolveTile(ctx, tile)
		assert.False(t, ok)
	})

	t.Run("corrupt index", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}
		env := newTestEnv(t, WithMetricsCollector(metrics))
		require.NoError(t, env.store.Put(ctx, env.indexKey(ancestor(t, tile, 1)), []byte{1, 2, 3}, testTTL))
		_, ok := env.client.ResolveTile(ctx, tile)
		assert.False(t, ok)
		assert.Equal(t, int64(1), metrics.GetStats().ResolveMisses)
	})

	t.Run("custom resolve depth", func(t *testing.T) {
		env := newTestEnv(t, WithMaxResolveDepth(1))
		env.svc.AddTile(tile, "tile-handle", nil)
		env.cacheIndex(t, ancestor(t, tile, 2))
		_, ok := env.client.ResolveTile(ctx, tile)
		assert.False(t, ok)
	})
}

func TestIsCached(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(8, 10, 10)
	tile := child(t, root, 2)
	env.svc.AddTile(tile, "h", []byte("data"))

	assert.False(t, env.client.IsCached(ctx, tile))
	env.cacheIndex(t, root)
	assert.False(t, env.client.IsCached(ctx, tile))
	env.cacheData(t, "h", []byte("data"))
	assert.True(t, env.client.IsCached(ctx, tile))

	env.clock.Advance(2 * testTTL)
	assert.False(t, env.client.IsCached(ctx, tile))
}

func TestProtect_SurvivesExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(9, 100, 200)
	protected := child(t, root, 3)
	other := tilekey.MustNew(protected.Level(), protected.Row(), protected.Column()+1)

	env.svc.AddTile(protected, "p", []byte("protected"))
	env.svc.AddTile(other, "o", []byte("other"))
	env.cacheIndex(t, root)
	env.cacheData(t, "p", []byte("protected"))
	env.cacheData(t, "o", []byte("other"))

	require.NoError(t, env.client.Protect(ctx, []tilekey.TileKey{protected}))
	assert.True(t, env.client.IsProtected(protected))

	env.clock.Advance(10 * testTTL)

	assert.True(t, env.client.IsCached(ctx, protected))
	assert.False(t, env.client.IsCached(ctx, other), "unprotected data expires")
	_, ok := env.client.ResolveTile(ctx, other)
	assert.True(t, ok, "protected index keeps resolving siblings")
}

func TestProtect_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(6, 1, 2)
	tile := child(t, root, 1)
	env.svc.AddTile(tile, "h", []byte("x"))
	env.cacheIndex(t, root)
	env.cacheData(t, "h", []byte("x"))

	keys := []tilekey.TileKey{tile}
	require.NoError(t, env.client.Protect(ctx, keys))
	require.NoError(t, env.client.Protect(ctx, keys))
	assert.Equal(t, 1, env.client.pins.Count(env.indexKey(root)))

	require.NoError(t, env.client.Release(ctx, keys))
	assert.False(t, env.client.IsProtected(tile))

	err := env.client.Release(ctx, keys)
	assert.ErrorIs(t, err, ErrNotProtected)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestProtect_Unresolved(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(6, 1, 2)
	tile := child(t, root, 1)
	env.svc.AddTile(tile, "h", nil)
	env.cacheIndex(t, root)

	unknown := tilekey.MustNew(6, 40, 40)
	err := env.client.Protect(ctx, []tilekey.TileKey{tile, unknown})
	assert.ErrorIs(t, err, ErrNotResolved)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, env.client.IsProtected(tile), "nothing is protected on failure")
	assert.False(t, env.store.IsProtected(env.indexKey(root)))

	assert.ErrorIs(t, env.client.Protect(ctx, nil), ErrInvalidArgument)
}

func TestProtect_DataFetchedLater(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(7, 3, 3)
	tile := child(t, root, 2)
	env.svc.AddTile(tile, "late", []byte("late data"))
	env.cacheIndex(t, root)

	require.NoError(t, env.client.Protect(ctx, []tilekey.TileKey{tile}))
	assert.False(t, env.client.IsCached(ctx, tile))

	data, err := env.client.GetTileData(ctx, tile, OnlineIfNotFound)
	require.NoError(t, err)
	assert.Equal(t, []byte("late data"), data)
	assert.True(t, env.client.IsCached(ctx, tile))

	env.clock.Advance(5 * testTTL)
	assert.True(t, env.client.IsCached(ctx, tile))
}

func TestRelease_Cascade(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(10, 500, 600)
	first := child(t, root, 1)
	second := tilekey.MustNew(first.Level(), first.Row()+1, first.Column())
	env.svc.AddTile(first, "first", []byte("1"))
	env.svc.AddTile(second, "second", []byte("2"))
	env.cacheIndex(t, root)
	env.cacheData(t, "first", []byte("1"))
	env.cacheData(t, "second", []byte("2"))

	require.NoError(t, env.client.Protect(ctx, []tilekey.TileKey{first, second}))

	require.NoError(t, env.client.Release(ctx, []tilekey.TileKey{first}))
	assert.Empty(t, env.store.Removed())
	assert.True(t, env.client.IsCached(ctx, second))
	assert.True(t, env.client.IsCached(ctx, first), "released data stays until it expires")

	env.clock.Advance(2 * testTTL)
	assert.False(t, env.client.IsCached(ctx, first))
	assert.True(t, env.client.IsCached(ctx, second))

	require.NoError(t, env.client.Release(ctx, []tilekey.TileKey{second}))
	assert.Equal(t, []string{env.indexKey(root), env.dataKey("second")}, env.store.Removed())
	_, ok := env.client.ResolveTile(ctx, second)
	assert.False(t, ok)
	assert.False(t, env.store.Contains(ctx, env.dataKey("second")))
	assert.False(t, env.store.IsProtected(env.indexKey(root)))
}

func TestRelease_PartialFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(5, 1, 1)
	tile := child(t, root, 1)
	env.svc.AddTile(tile, "h", []byte("x"))
	env.cacheIndex(t, root)

	require.NoError(t, env.client.Protect(ctx, []tilekey.TileKey{tile}))
	env.store.failRemove = errors.New("disk full")

	err := env.client.Release(ctx, []tilekey.TileKey{tilekey.MustNew(5, 0, 0), tile})
	assert.ErrorIs(t, err, ErrNotProtected)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.False(t, env.client.IsProtected(tile))
}

func TestRemovePartitionFromCache(t *testing.T) {
	ctx := context.Background()

	t.Run("never cached", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.client.RemovePartitionFromCache(ctx, "unknown"))
		assert.Empty(t, env.store.Removed())
	})

	t.Run("cached", func(t *testing.T) {
		env := newTestEnv(t)
		env.svc.AddPartition("23618402", "handle", []byte("payload"))
		_, err := env.client.GetPartitionData(ctx, "23618402", OnlineIfNotFound)
		require.NoError(t, err)
		require.True(t, env.client.IsPartitionCached(ctx, "23618402"))

		require.NoError(t, env.client.RemovePartitionFromCache(ctx, "23618402"))
		assert.Equal(t, []string{
			testHRN + "::roads::23618402::42::partition",
			testHRN + "::roads::handle::Data",
		}, env.store.Removed())
		assert.False(t, env.client.IsPartitionCached(ctx, "23618402"))
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.svc.AddPartition("1", "h", []byte("x"))
		_, err := env.client.GetPartitionData(ctx, "1", OnlineIfNotFound)
		require.NoError(t, err)

		env.store.failRemove = errors.New("io error")
		assert.ErrorIs(t, env.client.RemovePartitionFromCache(ctx, "1"), ErrStoreFailure)
	})
}

func TestRemoveTileFromCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(11, 20, 30)
	a := child(t, root, 2)
	b := tilekey.MustNew(a.Level(), a.Row(), a.Column()+1)
	env.svc.AddTile(a, "a", []byte("a"))
	env.svc.AddTile(b, "b", []byte("b"))
	env.cacheIndex(t, root)
	env.cacheData(t, "a", []byte("a"))
	env.cacheData(t, "b", []byte("b"))

	require.NoError(t, env.client.RemoveTileFromCache(ctx, tilekey.MustNew(11, 0, 0)))
	assert.Empty(t, env.store.Removed(), "unresolved tile is a no-op")

	require.NoError(t, env.client.RemoveTileFromCache(ctx, a))
	assert.Equal(t, []string{env.dataKey("a")}, env.store.Removed())
	assert.False(t, env.client.IsCached(ctx, a))
	_, ok := env.client.ResolveTile(ctx, b)
	assert.True(t, ok, "index kept while a sibling is cached")

	require.NoError(t, env.client.RemoveTileFromCache(ctx, b))
	assert.Equal(t, []string{env.dataKey("a"), env.dataKey("b"), env.indexKey(root)}, env.store.Removed())
	_, ok = env.client.ResolveTile(ctx, b)
	assert.False(t, ok)

	env.cacheIndex(t, root)
	env.store.failRemove = errors.New("io error")
	assert.ErrorIs(t, env.client.RemoveTileFromCache(ctx, a), ErrStoreFailure)
}

func TestRemoveTileFromCache_ProtectedIndexKept(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := tilekey.MustNew(4, 1, 1)
	a := child(t, root, 1)
	b := tilekey.MustNew(a.Level(), a.Row()+1, a.Column()+1)
	env.svc.AddTile(a, "a", []byte("a"))
	env.svc.AddTile(b, "b", nil)
	env.cacheIndex(t, root)
	env.cacheData(t, "a", []byte("a"))

	require.NoError(t, env.client.Protect(ctx, []tilekey.TileKey{b}))
	require.NoError(t, env.client.RemoveTileFromCache(ctx, a))
	assert.Equal(t, []string{env.dataKey("a")}, env.store.Removed())
	_, ok := env.client.ResolveTile(ctx, b)
	assert.True(t, ok)
}

func TestClose(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.client.Close())
	require.NoError(t, env.client.Close())

	_, err := env.client.PrefetchPartitions(context.Background(), PrefetchPartitionsRequest{PartitionIDs: []string{"1"}})
	assert.ErrorIs(t, err, ErrClosed)
}

// plainStore exposes only the Store methods of the wrapped store.
type plainStore struct {
	cache.Store
}

func TestProtect_PlainStore(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Unix(1_700_000_000, 0))
	mem, err := cache.NewMemoryStore(func(o *cache.MemoryOptions) { o.Now = clock.Now })
	require.NoError(t, err)
	svc := testutil.NewFakeService(testLayer, testVersion)

	client, err := New(testHRN, testLayer, testVersion, plainStore{mem}, svc, WithWorkers(2), WithDefaultExpiry(testTTL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	a := tilekey.MustNew(12, 100, 200)
	b := tilekey.MustNew(12, 100, 201)
	late := tilekey.MustNew(12, 101, 200)
	loose := tilekey.MustNew(12, 101, 201)
	svc.AddTile(a, "a", []byte("a"))
	svc.AddTile(b, "b", []byte("b"))
	svc.AddTile(late, "late", []byte("late"))
	svc.AddTile(loose, "loose", []byte("loose"))

	_, err = client.PrefetchTiles(ctx, PrefetchTilesRequest{TileKeys: []tilekey.TileKey{a, b, loose}})
	require.NoError(t, err)
	require.NoError(t, client.Protect(ctx, []tilekey.TileKey{a, b, late}))

	data, err := client.GetTileData(ctx, late, OnlineIfNotFound)
	require.NoError(t, err)
	assert.Equal(t, []byte("late"), data)

	clock.Advance(5 * testTTL)
	assert.True(t, client.IsCached(ctx, a))
	assert.True(t, client.IsCached(ctx, b))
	assert.True(t, client.IsCached(ctx, late), "data fetched after protect")
	assert.False(t, client.IsCached(ctx, loose), "unprotected data expires")

	require.NoError(t, client.Release(ctx, []tilekey.TileKey{a}))
	clock.Advance(2 * testTTL)
	assert.False(t, client.IsCached(ctx, a), "released data expires again")
	assert.True(t, client.IsCached(ctx, b))

	require.NoError(t, client.Release(ctx, []tilekey.TileKey{b, late}))
	indexKey := client.KeySpace().QuadTree(ancestor(t, a, DefaultQuadTreeDepth), DefaultQuadTreeDepth)
	assert.False(t, mem.Contains(ctx, indexKey))
	assert.False(t, client.IsCached(ctx, b))
}

func TestRelease_SharedData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := tilekey.MustNew(12, 100, 200)
	b := tilekey.MustNew(12, 300, 200)
	env.svc.AddTile(a, "shared", []byte("shared"))
	env.svc.AddTile(b, "shared", []byte("shared"))

	_, err := env.client.PrefetchTiles(ctx, PrefetchTilesRequest{TileKeys: []tilekey.TileKey{a, b}})
	require.NoError(t, err)
	require.NoError(t, env.client.Protect(ctx, []tilekey.TileKey{a, b}))

	require.NoError(t, env.client.Release(ctx, []tilekey.TileKey{a}))
	assert.Equal(t, []string{env.indexKey(ancestor(t, a, DefaultQuadTreeDepth))}, env.store.Removed())
	assert.True(t, env.store.IsProtected(env.dataKey("shared")))

	env.clock.Advance(5 * testTTL)
	assert.True(t, env.client.IsCached(ctx, b))

	require.NoError(t, env.client.Release(ctx, []tilekey.TileKey{b}))
	assert.False(t, env.store.IsProtected(env.dataKey("shared")))
	assert.Contains(t, env.store.Removed(), env.dataKey("shared"))
}
