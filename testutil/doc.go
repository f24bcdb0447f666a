// Package testutil provides testing utilities for quadcache.
//
// This package is intended for use in tests and benchmarks only.
//
// # Fake Catalog
//
//	svc := testutil.NewFakeService("roads", 42)
//	svc.AddTile(tile, "handle-1", []byte("payload"))
//	buf, _ := svc.PublishQuadTree(root, 4)
//
// FakeService counts requests and supports failure injection, which makes
// network behavior of the client observable.
//
// # Random Tiles
//
//	rng := testutil.NewRNG(seed)
//	tiles := rng.Tiles(100, 12)
//
// # Manual Clock
//
//	clock := testutil.NewManualClock(time.Unix(0, 0))
//	store, _ := cache.NewMemoryStore(func(o *cache.MemoryOptions) { o.Now = clock.Now })
//	clock.Advance(time.Hour)
package testutil
