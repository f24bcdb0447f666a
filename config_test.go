package quadcache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/quadcache/cache"
	"github.com/hupe1980/quadcache/cache/dynamodb"
	"github.com/hupe1980/quadcache/testutil"
	"github.com/hupe1980/quadcache/tilekey"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 16384, cfg.CacheMaxEntries)
	assert.Equal(t, "none", cfg.CacheCompression)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 4, cfg.QuadTreeDepth)
	assert.Equal(t, -1, cfg.MaxResolveDepth)
	assert.Equal(t, "go-json", cfg.Codec)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("QUADCACHE_CATALOG", testHRN)
	t.Setenv("QUADCACHE_LAYER", testLayer)
	t.Setenv("QUADCACHE_VERSION", "42")
	t.Setenv("QUADCACHE_BATCH_SIZE", "50")
	t.Setenv("QUADCACHE_QUADTREE_DEPTH", "3")
	t.Setenv("QUADCACHE_DEFAULT_EXPIRY", "90s")
	t.Setenv("QUADCACHE_CODEC", "json")
	t.Setenv("QUADCACHE_LOG_FORMAT", "json")
	t.Setenv("QUADCACHE_BYTES_PER_SECOND", "1048576")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, testHRN, cfg.Catalog)
	assert.Equal(t, testLayer, cfg.Layer)
	assert.Equal(t, uint64(42), cfg.Version)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 3, cfg.QuadTreeDepth)
	assert.Equal(t, 90*time.Second, cfg.DefaultExpiry)
	assert.Equal(t, int64(1048576), cfg.LimitConfig().BytesPerSecond)

	opts, err := cfg.Options()
	require.NoError(t, err)

	store, err := cfg.OpenStore(context.Background())
	require.NoError(t, err)
	client, err := New(cfg.Catalog, cfg.Layer, cfg.Version, store, testutil.NewFakeService(cfg.Layer, cfg.Version), opts...)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 50, client.opts.batchSize)
	assert.Equal(t, 3, client.opts.quadTreeDepth)
	assert.Equal(t, 3, client.opts.maxResolveDepth)
	assert.Equal(t, "json", client.opts.codec.Name())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("QUADCACHE_WORKERS", "many")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "parse env")
}

func TestConfig_InvalidOptions(t *testing.T) {
	cases := map[string]Config{
		"log level":  {LogLevel: "loud", Codec: "json"},
		"log format": {LogLevel: "info", LogFormat: "xml", Codec: "json"},
		"codec":      {LogLevel: "info", Codec: "yaml"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := cfg.Options()
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestConfig_OpenStore(t *testing.T) {
	ctx := context.Background()

	store, err := Config{CacheMaxEntries: 10}.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryStore{}, store)

	store, err = Config{CacheDir: t.TempDir(), CacheCompression: "zstd"}.OpenStore(ctx)
	require.NoError(t, err)
	require.IsType(t, &cache.DiskStore{}, store)
	require.NoError(t, store.(io.Closer).Close())

	_, err = Config{CacheDir: t.TempDir(), CacheCompression: "brotli"}.OpenStore(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	store, err = Config{
		CacheDynamoDBTable:     "tiles",
		CacheDynamoDBNamespace: "roads",
		CacheDynamoDBRegion:    "eu-central-1",
		CacheDynamoDBEndpoint:  "http://localhost:8000",
	}.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &dynamodb.Store{}, store)

	_, err = Config{CacheDynamoDBTable: "tiles", CacheDir: t.TempDir()}.OpenStore(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClient_DiskStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc := testutil.NewFakeService(testLayer, testVersion)
	tile := tilekey.MustNew(15, 9000, 17000)
	svc.AddTile(tile, "disk-handle", []byte("persisted"))

	open := func() (*Client, *cache.DiskStore) {
		store, err := cache.OpenDiskStore(dir, func(o *cache.DiskOptions) { o.Compression = cache.CompressionLZ4 })
		require.NoError(t, err)
		client, err := New(testHRN, testLayer, testVersion, store, svc, WithWorkers(2))
		require.NoError(t, err)
		return client, store
	}

	client, store := open()
	res, err := client.PrefetchTiles(ctx, PrefetchTilesRequest{TileKeys: []tilekey.TileKey{tile}})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded(), 1)
	require.NoError(t, client.Protect(ctx, []tilekey.TileKey{tile}))
	assert.True(t, store.IsProtected(client.KeySpace().Data("disk-handle")))
	require.NoError(t, client.Close())
	require.NoError(t, store.Close())

	client, store = open()
	defer store.Close()
	defer client.Close()

	data, err := client.GetTileData(ctx, tile, CacheOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
	assert.False(t, client.IsProtected(tile), "protection does not survive a restart")
}
