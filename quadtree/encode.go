package quadtree

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/hupe1980/quadcache/tilekey"
)

// Encode serializes an index for root. descendants must lie in the root
// subtree within depth levels (the root itself included); ancestors must be
// strict ancestors of root. Inputs are not modified.
func Encode(root tilekey.TileKey, depth int, ancestors, descendants []Entry) ([]byte, error) {
	if depth < 0 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: depth %d out of range [0, %d]", ErrInvalidArgument, depth, MaxDepth)
	}
	if len(descendants) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d descendants exceed %d", ErrInvalidArgument, len(descendants), math.MaxUint16)
	}
	if len(ancestors) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d ancestors exceed %d", ErrInvalidArgument, len(ancestors), math.MaxUint8)
	}

	type keyed struct {
		key uint64
		e   Entry
	}

	subs := make([]keyed, 0, len(descendants))
	for _, e := range descendants {
		sub, ok := root.SubQuadKey(e.TileKey)
		if !ok || e.TileKey.Level()-root.Level() > depth {
			return nil, fmt.Errorf("%w: %s is not within depth %d of %s", ErrInvalidArgument, e.TileKey, depth, root)
		}
		subs = append(subs, keyed{key: sub, e: e})
	}

	parents := make([]keyed, 0, len(ancestors))
	for _, e := range ancestors {
		if !e.TileKey.IsAncestorOf(root) {
			return nil, fmt.Errorf("%w: %s is not an ancestor of %s", ErrInvalidArgument, e.TileKey, root)
		}
		parents = append(parents, keyed{key: e.TileKey.QuadKey64(), e: e})
	}

	byKey := func(a, b keyed) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		default:
			return 0
		}
	}
	slices.SortFunc(subs, byKey)
	slices.SortFunc(parents, byKey)
	for _, list := range [][]keyed{subs, parents} {
		for i := range list {
			if strings.IndexByte(list[i].e.DataHandle, 0) >= 0 {
				return nil, fmt.Errorf("%w: data handle of %s contains NUL", ErrInvalidArgument, list[i].e.TileKey)
			}
			if i > 0 && list[i].key == list[i-1].key {
				return nil, fmt.Errorf("%w: duplicate entry %s", ErrInvalidArgument, list[i].e.TileKey)
			}
		}
	}

	dataStart := HeaderSize + len(subs)*subEntrySize + len(parents)*parentEntrySize
	buf := make([]byte, dataStart, dataStart+64*(len(subs)+len(parents)))

	binary.LittleEndian.PutUint64(buf[0:], root.QuadKey64())
	buf[8] = uint8(depth)
	buf[9] = uint8(len(parents))
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(subs)))

	for i, s := range subs {
		off := len(buf) - dataStart
		if off > math.MaxUint16 {
			return nil, fmt.Errorf("%w: record offset %d exceeds %d", ErrInvalidArgument, off, math.MaxUint16)
		}
		p := HeaderSize + i*subEntrySize
		binary.LittleEndian.PutUint16(buf[p:], uint16(s.key))
		binary.LittleEndian.PutUint16(buf[p+2:], uint16(off))
		buf = appendRecord(buf, s.e)
	}

	parentStart := HeaderSize + len(subs)*subEntrySize
	for i, pe := range parents {
		off := len(buf) - dataStart
		if uint64(off) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: record offset %d exceeds %d", ErrInvalidArgument, off, uint32(math.MaxUint32))
		}
		p := parentStart + i*parentEntrySize
		binary.LittleEndian.PutUint64(buf[p:], pe.key)
		binary.LittleEndian.PutUint32(buf[p+8:], uint32(off))
		binary.LittleEndian.PutUint32(buf[p+12:], 0)
		buf = appendRecord(buf, pe.e)
	}

	return buf, nil
}

// New encodes and decodes an index in one step.
func New(root tilekey.TileKey, depth int, ancestors, descendants []Entry) (*Index, error) {
	buf, err := Encode(root, depth, ancestors, descendants)
	if err != nil {
		return nil, err
	}
	return Decode(buf)
}

func appendRecord(buf []byte, e Entry) []byte {
	var flags byte
	if e.Version != 0 {
		flags |= flagVersion
	}
	if e.DataHandle != "" {
		flags |= flagDataHandle
	}
	buf = append(buf, flags)
	if flags&flagVersion != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, e.Version)
	}
	if flags&flagDataHandle != 0 {
		buf = append(buf, e.DataHandle...)
		buf = append(buf, 0)
	}
	return buf
}
