package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

type quadTreeRequest struct {
	root  tilekey.TileKey
	depth int
}

// FakeService is an in-memory catalog.Service for one layer version.
//
// Indexes are built on demand from the registered tiles unless a raw index
// was set with SetQuadTree. Hooks run before a request is answered; a
// non-nil hook error fails the request. Hooks must be set before the
// service is used concurrently.
type FakeService struct {
	layer   string
	version uint64

	mu         sync.Mutex
	partitions map[string]catalog.Partition
	blobs      map[string][]byte
	tiles      map[tilekey.TileKey]quadtree.Entry
	quadtrees  map[quadTreeRequest][]byte
	batches    [][]string

	LookupHook   func(ctx context.Context, ids []string) error
	QuadTreeHook func(ctx context.Context, root tilekey.TileKey, depth int) error
	BlobHook     func(ctx context.Context, handle string) error

	LookupCalls   atomic.Int64
	QuadTreeCalls atomic.Int64
	BlobCalls     atomic.Int64
}

// NewFakeService returns an empty service for version of layer.
func NewFakeService(layer string, version uint64) *FakeService {
	return &FakeService{
		layer:      layer,
		version:    version,
		partitions: make(map[string]catalog.Partition),
		blobs:      make(map[string][]byte),
		tiles:      make(map[tilekey.TileKey]quadtree.Entry),
		quadtrees:  make(map[quadTreeRequest][]byte),
	}
}

// AddPartition registers a partition. A nil data registers the partition
// without a blob, so fetching its data fails with NotFound.
func (s *FakeService) AddPartition(id, handle string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions[id] = catalog.Partition{ID: id, DataHandle: handle, Version: s.version, DataSize: int64(len(data))}
	if data != nil {
		s.blobs[handle] = data
	}
}

// AddTile registers a tile with its data.
func (s *FakeService) AddTile(tile tilekey.TileKey, handle string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiles[tile] = quadtree.Entry{TileKey: tile, DataHandle: handle, Version: s.version}
	if data != nil {
		s.blobs[handle] = data
	}
}

// SetQuadTree makes QuadTree return buf for root and depth.
func (s *FakeService) SetQuadTree(root tilekey.TileKey, depth int, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quadtrees[quadTreeRequest{root: root, depth: depth}] = buf
}

// BuildQuadTree encodes the index of root at depth from the registered tiles.
func (s *FakeService) BuildQuadTree(root tilekey.TileKey, depth int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocked(root, depth)
}

func (s *FakeService) buildLocked(root tilekey.TileKey, depth int) ([]byte, error) {
	var ancestors, descendants []quadtree.Entry
	for tile, e := range s.tiles {
		switch {
		case root.Covers(tile) && tile.Level()-root.Level() <= depth:
			descendants = append(descendants, e)
		case tile.IsAncestorOf(root):
			ancestors = append(ancestors, e)
		}
	}
	return quadtree.Encode(root, depth, ancestors, descendants)
}

// Batches returns the id batches of all LookupPartitions calls.
func (s *FakeService) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.batches)
}

func (s *FakeService) checkLayer(layer string, version uint64) error {
	if layer != s.layer || version != s.version {
		return catalog.NewError(catalog.NotFound, fmt.Sprintf("layer %s version %d", layer, version), nil)
	}
	return nil
}

// LookupPartitions implements catalog.Service.
func (s *FakeService) LookupPartitions(ctx context.Context, layer string, version uint64, ids []string) ([]catalog.Partition, error) {
	s.LookupCalls.Add(1)

	s.mu.Lock()
	s.batches = append(s.batches, slices.Clone(ids))
	s.mu.Unlock()

	if s.LookupHook != nil {
		if err := s.LookupHook(ctx, ids); err != nil {
			return nil, err
		}
	}
	if err := s.checkLayer(layer, version); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]catalog.Partition, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.partitions[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// QuadTree implements catalog.Service.
func (s *FakeService) QuadTree(ctx context.Context, layer string, version uint64, root tilekey.TileKey, depth int) ([]byte, error) {
	s.QuadTreeCalls.Add(1)

	if s.QuadTreeHook != nil {
		if err := s.QuadTreeHook(ctx, root, depth); err != nil {
			return nil, err
		}
	}
	if err := s.checkLayer(layer, version); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if buf, ok := s.quadtrees[quadTreeRequest{root: root, depth: depth}]; ok {
		return slices.Clone(buf), nil
	}
	buf, err := s.buildLocked(root, depth)
	if err != nil {
		return nil, catalog.NewError(catalog.BadRequest, "quadtree "+root.String(), err)
	}
	return buf, nil
}

// Blob implements catalog.Service.
func (s *FakeService) Blob(ctx context.Context, layer, handle string) ([]byte, error) {
	s.BlobCalls.Add(1)

	if s.BlobHook != nil {
		if err := s.BlobHook(ctx, handle); err != nil {
			return nil, err
		}
	}
	if layer != s.layer {
		return nil, catalog.NewError(catalog.NotFound, "layer "+layer, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blobs[handle]
	if !ok {
		return nil, catalog.NewError(catalog.NotFound, "blob "+handle, nil)
	}
	return slices.Clone(data), nil
}

var _ catalog.Service = (*FakeService)(nil)
