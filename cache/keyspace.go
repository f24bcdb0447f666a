package cache

import (
	"strconv"
	"strings"

	"github.com/hupe1980/quadcache/tilekey"
)

const (
	// Separator joins the components of a cache key.
	Separator = "::"

	partitionSuffix = "partition"
	dataSuffix      = "Data"
	quadTreeSuffix  = "quadtree"
)

// KeySpace builds the cache keys of one catalog layer version.
//
//	partition metadata  <catalog>::<layer>::<partition>::<version>::partition
//	data blob           <catalog>::<layer>::<data handle>::Data
//	quadtree index      <catalog>::<layer>::<root tile>::<version>::<depth>::quadtree
//
// Data handles identify immutable blobs, so data keys carry no version and
// are shared between versions of a layer.
type KeySpace struct {
	catalog string
	layer   string
	version uint64
}

// NewKeySpace returns the key space for a catalog layer version.
func NewKeySpace(catalog, layer string, version uint64) KeySpace {
	return KeySpace{catalog: catalog, layer: layer, version: version}
}

// Catalog returns the catalog identifier.
func (k KeySpace) Catalog() string { return k.catalog }

// Layer returns the layer identifier.
func (k KeySpace) Layer() string { return k.layer }

// Version returns the layer version.
func (k KeySpace) Version() uint64 { return k.version }

// Partition returns the metadata key of a partition.
func (k KeySpace) Partition(id string) string {
	return k.join(id, strconv.FormatUint(k.version, 10), partitionSuffix)
}

// Data returns the key of a data blob.
func (k KeySpace) Data(handle string) string {
	return k.join(handle, dataSuffix)
}

// QuadTree returns the key of the index rooted at root with the given depth.
func (k KeySpace) QuadTree(root tilekey.TileKey, depth int) string {
	return k.join(root.String(), strconv.FormatUint(k.version, 10), strconv.Itoa(depth), quadTreeSuffix)
}

// LayerPrefix returns the prefix shared by every key of the layer.
func (k KeySpace) LayerPrefix() string {
	return k.catalog + Separator + k.layer + Separator
}

func (k KeySpace) join(parts ...string) string {
	var b strings.Builder
	b.WriteString(k.LayerPrefix())
	for i, p := range parts {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(p)
	}
	return b.String()
}
