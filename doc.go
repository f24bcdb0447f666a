// Package quadcache provides the read-side cache of a tile-organized,
// versioned data catalog.
//
// A Client reads one version of one catalog layer. Data is addressed by
// partition id or by tile key; tile keys are resolved through compact
// binary quadtree indexes that map a whole subtree of tiles to their data
// handles, so one cached index answers every tile below its root without a
// network round trip.
//
// # Quick Start
//
//	store, _ := cache.NewMemoryStore()
//	svc := catalog.NewBlobCatalog(blobstore.NewLocalStore("./catalog"))
//
//	client, _ := quadcache.New("hrn:here:data::olp-here:rib-2", "roads", 42, store, svc)
//	defer client.Close()
//
//	res, _ := client.PrefetchTiles(ctx, quadcache.PrefetchTilesRequest{
//	    TileKeys: []tilekey.TileKey{tilekey.MustNew(12, 1320, 2118)},
//	})
//	data, _ := client.GetTileData(ctx, res.Succeeded()[0], quadcache.CacheOnly)
//
// # Pinning
//
// Protect keeps the indexes and data of tiles in the cache past their expiry
// until Release. The client tracks protected tiles per index; releasing the
// last protected tile of an index removes the index and that tile's data.
//
//	_ = client.Protect(ctx, tiles)
//	// ... work offline ...
//	_ = client.Release(ctx, tiles)
//
// # Prefetching
//
// PrefetchPartitions and PrefetchTiles fan large requests out into batched
// catalog requests on the client's worker pool. Partial failures shrink the
// result instead of failing the call. Each has an Async variant returning a
// Future and a WithCallback variant.
//
// # Errors
//
// Errors match the package sentinels with errors.Is. Failures reported by
// the catalog are *catalog.Error values and can be inspected with errors.As
// or catalog.CodeOf.
package quadcache
