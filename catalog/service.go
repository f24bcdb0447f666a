// Package catalog defines the metadata and blob service the tile client
// reads from, and a reference implementation backed by a blob store.
//
// Service implementations own transport concerns: timeouts, retries and
// authentication. Failures are reported as *Error so callers can branch on
// the error class.
package catalog

import (
	"context"

	"github.com/hupe1980/quadcache/tilekey"
)

// Partition is the metadata record of one partition of a layer version.
type Partition struct {
	ID         string `json:"partition"`
	DataHandle string `json:"dataHandle"`
	Version    uint64 `json:"version,omitempty"`
	DataSize   int64  `json:"dataSize,omitempty"`
}

// Service is the remote catalog.
type Service interface {
	// LookupPartitions returns the metadata of the requested partitions.
	// Unknown ids are omitted from the result.
	LookupPartitions(ctx context.Context, layer string, version uint64, ids []string) ([]Partition, error)

	// QuadTree returns the binary index rooted at root with the given depth.
	QuadTree(ctx context.Context, layer string, version uint64, root tilekey.TileKey, depth int) ([]byte, error)

	// Blob returns the data blob identified by handle.
	Blob(ctx context.Context, layer, dataHandle string) ([]byte, error)
}
