package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hupe1980/quadcache/blobstore"
	"github.com/hupe1980/quadcache/codec"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

// BlobCatalog serves a catalog from a blob store with the layout
//
//	<layer>/v<version>/partitions/<id>.json
//	<layer>/v<version>/quadtree/<root>/<depth>.json
//	<layer>/blobs/<handle>
//
// Index documents are stored as JSON and encoded to the binary index on
// read.
type BlobCatalog struct {
	store blobstore.BlobStore
	codec codec.Codec
}

// BlobCatalogOptions configures a BlobCatalog.
type BlobCatalogOptions struct {
	// Codec encodes partition records and index documents. Defaults to codec.Default.
	Codec codec.Codec
}

// NewBlobCatalog returns a catalog backed by store.
func NewBlobCatalog(store blobstore.BlobStore, optFns ...func(o *BlobCatalogOptions)) *BlobCatalog {
	opts := BlobCatalogOptions{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	return &BlobCatalog{store: store, codec: opts.Codec}
}

func partitionPath(layer string, version uint64, id string) string {
	return layer + "/v" + strconv.FormatUint(version, 10) + "/partitions/" + id + ".json"
}

func quadTreePath(layer string, version uint64, root tilekey.TileKey, depth int) string {
	return layer + "/v" + strconv.FormatUint(version, 10) + "/quadtree/" + root.String() + "/" + strconv.Itoa(depth) + ".json"
}

func blobPath(layer, handle string) string {
	return layer + "/blobs/" + handle
}

// LookupPartitions implements Service.
func (c *BlobCatalog) LookupPartitions(ctx context.Context, layer string, version uint64, ids []string) ([]Partition, error) {
	out := make([]Partition, 0, len(ids))
	for _, id := range ids {
		data, err := c.read(ctx, partitionPath(layer, version, id))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		var p Partition
		if err := c.codec.Unmarshal(data, &p); err != nil {
			return nil, NewError(Unknown, "partition "+id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// QuadTree implements Service.
func (c *BlobCatalog) QuadTree(ctx context.Context, layer string, version uint64, root tilekey.TileKey, depth int) ([]byte, error) {
	if depth < 0 || depth > quadtree.MaxDepth {
		return nil, NewError(BadRequest, fmt.Sprintf("depth %d out of range", depth), nil)
	}
	data, err := c.read(ctx, quadTreePath(layer, version, root, depth))
	if err != nil {
		return nil, err
	}
	doc, err := ParseIndexDocument(c.codec, data)
	if err != nil {
		return nil, NewError(Unknown, "quadtree "+root.String(), err)
	}
	buf, err := doc.Encode(root, depth)
	if err != nil {
		return nil, NewError(Unknown, "quadtree "+root.String(), err)
	}
	return buf, nil
}

// Blob implements Service.
func (c *BlobCatalog) Blob(ctx context.Context, layer, dataHandle string) ([]byte, error) {
	if dataHandle == "" {
		return nil, NewError(BadRequest, "empty data handle", nil)
	}
	return c.read(ctx, blobPath(layer, dataHandle))
}

// PublishBlob stores a data blob under handle.
func (c *BlobCatalog) PublishBlob(ctx context.Context, layer, handle string, data []byte) error {
	return c.store.Put(ctx, blobPath(layer, handle), data)
}

// PublishPartition stores the partition record and, when data is not nil,
// its blob.
func (c *BlobCatalog) PublishPartition(ctx context.Context, layer string, version uint64, p Partition, data []byte) error {
	if data != nil {
		if p.DataSize == 0 {
			p.DataSize = int64(len(data))
		}
		if err := c.PublishBlob(ctx, layer, p.DataHandle, data); err != nil {
			return err
		}
	}
	rec, err := c.codec.Marshal(p)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, partitionPath(layer, version, p.ID), rec)
}

// PublishQuadTree stores the index document of root at depth.
func (c *BlobCatalog) PublishQuadTree(ctx context.Context, layer string, version uint64, root tilekey.TileKey, depth int, doc IndexDocument) error {
	// Reject documents the binary format cannot carry at publish time.
	if _, err := doc.Encode(root, depth); err != nil {
		return err
	}
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, quadTreePath(layer, version, root, depth), data)
}

func (c *BlobCatalog) read(ctx context.Context, name string) ([]byte, error) {
	data, err := blobstore.ReadAll(ctx, c.store, name)
	if err == nil {
		return data, nil
	}
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return nil, NewError(NotFound, name, err)
	case errors.Is(err, context.Canceled):
		return nil, NewError(Cancelled, name, err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, NewError(RequestTimeout, name, err)
	default:
		return nil, NewError(ServiceUnavailable, name, err)
	}
}
