package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

func TestRNG_Tiles(t *testing.T) {
	rng := NewRNG(4711)

	tiles := rng.Tiles(16, 2)
	assert.Len(t, tiles, 16)
	seen := make(map[tilekey.TileKey]bool)
	for _, k := range tiles {
		assert.Equal(t, 2, k.Level())
		assert.False(t, seen[k])
		seen[k] = true
	}

	assert.Panics(t, func() { rng.Tiles(5, 1) })

	rng.Reset()
	assert.Equal(t, tiles[0], rng.Tile(2))
}

func TestManualClock(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewManualClock(start)
	clock.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), clock.Now())
}

func TestFakeService(t *testing.T) {
	ctx := context.Background()
	svc := NewFakeService("roads", 7)

	root := tilekey.MustNew(10, 5, 5)
	child, _ := root.ChangedLevelBy(1)
	parent, _ := root.Parent()
	svc.AddTile(child, "c", []byte("child"))
	svc.AddTile(parent, "p", []byte("parent"))
	svc.AddPartition("1", "h1", []byte("one"))

	buf, err := svc.QuadTree(ctx, "roads", 7, root, 4)
	require.NoError(t, err)
	x, err := quadtree.Decode(buf)
	require.NoError(t, err)
	e, ok := x.Find(child)
	require.True(t, ok)
	assert.Equal(t, "c", e.DataHandle)
	_, ok = x.Find(parent)
	assert.True(t, ok)

	parts, err := svc.LookupPartitions(ctx, "roads", 7, []string{"1", "2"})
	require.NoError(t, err)
	assert.Len(t, parts, 1)
	assert.Equal(t, [][]string{{"1", "2"}}, svc.Batches())

	_, err = svc.LookupPartitions(ctx, "roads", 8, []string{"1"})
	assert.True(t, catalog.IsNotFound(err))

	data, err := svc.Blob(ctx, "roads", "h1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	boom := errors.New("boom")
	svc.BlobHook = func(context.Context, string) error { return boom }
	_, err = svc.Blob(ctx, "roads", "h1")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(2), svc.BlobCalls.Load())
	assert.Equal(t, int64(2), svc.LookupCalls.Load())
	assert.Equal(t, int64(1), svc.QuadTreeCalls.Load())
}
