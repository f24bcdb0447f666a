package catalog

import (
	"fmt"
	"strconv"

	"github.com/hupe1980/quadcache/codec"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

// SubQuad is a tile below (or at) the index root, addressed by its sub
// quadkey relative to the root.
type SubQuad struct {
	SubQuadKey string `json:"subQuadKey"`
	DataHandle string `json:"dataHandle,omitempty"`
	Version    uint64 `json:"version,omitempty"`
	DataSize   int64  `json:"dataSize,omitempty"`
}

// ParentQuad is an ancestor of the index root that has data of its own.
type ParentQuad struct {
	Partition  string `json:"partition"`
	DataHandle string `json:"dataHandle,omitempty"`
	Version    uint64 `json:"version,omitempty"`
	DataSize   int64  `json:"dataSize,omitempty"`
}

// IndexDocument is the JSON form of a quadtree index.
type IndexDocument struct {
	SubQuads    []SubQuad    `json:"subQuads"`
	ParentQuads []ParentQuad `json:"parentQuads"`
}

// ParseIndexDocument decodes a JSON index document.
func ParseIndexDocument(c codec.Codec, data []byte) (IndexDocument, error) {
	if c == nil {
		c = codec.Default
	}
	var doc IndexDocument
	if err := c.Unmarshal(data, &doc); err != nil {
		return IndexDocument{}, fmt.Errorf("catalog: parse index document: %w", err)
	}
	return doc, nil
}

// Entries converts the document into quadtree entries for root.
func (d IndexDocument) Entries(root tilekey.TileKey) (ancestors, descendants []quadtree.Entry, err error) {
	descendants = make([]quadtree.Entry, 0, len(d.SubQuads))
	for _, sq := range d.SubQuads {
		sub, err := strconv.ParseUint(sq.SubQuadKey, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: sub quad key %q: %w", sq.SubQuadKey, err)
		}
		tile, err := root.AddedSubQuadKey(sub)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: sub quad key %q: %w", sq.SubQuadKey, err)
		}
		descendants = append(descendants, quadtree.Entry{TileKey: tile, DataHandle: sq.DataHandle, Version: sq.Version})
	}

	ancestors = make([]quadtree.Entry, 0, len(d.ParentQuads))
	for _, pq := range d.ParentQuads {
		tile, err := tilekey.Parse(pq.Partition)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: parent quad %q: %w", pq.Partition, err)
		}
		ancestors = append(ancestors, quadtree.Entry{TileKey: tile, DataHandle: pq.DataHandle, Version: pq.Version})
	}
	return ancestors, descendants, nil
}

// Encode returns the binary index of the document rooted at root.
func (d IndexDocument) Encode(root tilekey.TileKey, depth int) ([]byte, error) {
	ancestors, descendants, err := d.Entries(root)
	if err != nil {
		return nil, err
	}
	return quadtree.Encode(root, depth, ancestors, descendants)
}

// DocumentFromEntries builds the JSON form of an index.
func DocumentFromEntries(root tilekey.TileKey, ancestors, descendants []quadtree.Entry) (IndexDocument, error) {
	doc := IndexDocument{
		SubQuads:    make([]SubQuad, 0, len(descendants)),
		ParentQuads: make([]ParentQuad, 0, len(ancestors)),
	}
	for _, e := range descendants {
		sub, ok := root.SubQuadKey(e.TileKey)
		if !ok {
			return IndexDocument{}, fmt.Errorf("catalog: %s is not below root %s", e.TileKey, root)
		}
		doc.SubQuads = append(doc.SubQuads, SubQuad{
			SubQuadKey: strconv.FormatUint(sub, 10),
			DataHandle: e.DataHandle,
			Version:    e.Version,
		})
	}
	for _, e := range ancestors {
		doc.ParentQuads = append(doc.ParentQuads, ParentQuad{
			Partition:  e.TileKey.String(),
			DataHandle: e.DataHandle,
			Version:    e.Version,
		})
	}
	return doc, nil
}
