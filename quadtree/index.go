// Package quadtree implements the compact binary quadtree index.
//
// An index describes the subtree of a root tile up to a fixed depth and
// maps every tile in it to the handle of its data blob. Ancestors of the
// root that carry their own data can be listed as overrides. The format is
// bit exact, little-endian:
//
//	offset  size  field
//	0       8     root quadkey
//	8       1     depth (0..7)
//	9       1     ancestor override count P
//	10      2     descendant count S
//	12      4*S   {u16 sub quadkey, u16 record offset}, sorted by sub quadkey
//	..      16*P  {u64 quadkey, u32 record offset, u32 reserved}, sorted by quadkey
//	..      ..    records
//
// A record starts with a flags byte. Flag 0x1 is followed by a u64
// version, flag 0x8 by a NUL-terminated data handle. Flag 0x2 is reserved
// for a checksum and never written. Record offsets are relative to the
// start of the record region.
//
// Decoding is zero-copy: an Index keeps the buffer and reads entries on
// demand. An Index is immutable and safe for concurrent use.
package quadtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math/bits"
	"sort"

	"github.com/hupe1980/quadcache/tilekey"
)

const (
	// HeaderSize is the size of the fixed header.
	HeaderSize = 12

	// MaxDepth is the deepest subtree an index can describe.
	MaxDepth = 7

	subEntrySize    = 4
	parentEntrySize = 16

	flagVersion    = 0x1
	flagChecksum   = 0x2
	flagDataHandle = 0x8
)

var (
	// ErrCorrupt is returned by Decode for malformed buffers.
	ErrCorrupt = errors.New("quadtree: corrupt index")

	// ErrInvalidArgument is returned by Encode for inputs the format cannot represent.
	ErrInvalidArgument = errors.New("quadtree: invalid argument")
)

// Entry is one tile of an index. An empty DataHandle or a zero Version
// means the field is absent and inherited from the catalog.
type Entry struct {
	TileKey    tilekey.TileKey
	DataHandle string
	Version    uint64
}

// Index is a decoded view over an index buffer.
type Index struct {
	buf         []byte
	root        tilekey.TileKey
	depth       int
	subCount    int
	parentCount int
	parentStart int
	dataStart   int
}

// Decode validates buf and returns a view over it. The index retains buf;
// callers must not modify it afterwards.
func Decode(buf []byte) (*Index, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(buf))
	}

	root, err := tilekey.FromQuadKey64(binary.LittleEndian.Uint64(buf[0:8]))
	if err != nil {
		return nil, fmt.Errorf("%w: root: %w", ErrCorrupt, err)
	}

	x := &Index{
		buf:         buf,
		root:        root,
		depth:       int(buf[8]),
		parentCount: int(buf[9]),
		subCount:    int(binary.LittleEndian.Uint16(buf[10:12])),
	}
	if x.depth > MaxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrCorrupt, x.depth, MaxDepth)
	}

	x.parentStart = HeaderSize + x.subCount*subEntrySize
	x.dataStart = x.parentStart + x.parentCount*parentEntrySize
	if x.dataStart > len(buf) {
		return nil, fmt.Errorf("%w: %d entries do not fit %d bytes", ErrCorrupt, x.subCount+x.parentCount, len(buf))
	}

	maxSub := uint64(1) << (2 * uint(x.depth+1))
	var prev uint64
	for i := 0; i < x.subCount; i++ {
		sub, off := x.subEntry(i)
		if sub == 0 || uint64(sub) >= maxSub || !hasLevelMarker(uint64(sub)) {
			return nil, fmt.Errorf("%w: invalid sub quadkey %d", ErrCorrupt, sub)
		}
		if i > 0 && uint64(sub) <= prev {
			return nil, fmt.Errorf("%w: sub quadkeys not sorted at %d", ErrCorrupt, i)
		}
		prev = uint64(sub)
		if err := x.checkRecord(int(off)); err != nil {
			return nil, err
		}
	}

	for i := 0; i < x.parentCount; i++ {
		qk, off := x.parentEntry(i)
		key, err := tilekey.FromQuadKey64(qk)
		if err != nil || !key.IsAncestorOf(root) {
			return nil, fmt.Errorf("%w: %d is not an ancestor of %s", ErrCorrupt, qk, root)
		}
		if i > 0 && qk <= prev {
			return nil, fmt.Errorf("%w: parent quadkeys not sorted at %d", ErrCorrupt, i)
		}
		prev = qk
		if err := x.checkRecord(int(off)); err != nil {
			return nil, err
		}
	}

	return x, nil
}

// Root returns the root tile.
func (x *Index) Root() tilekey.TileKey { return x.root }

// Depth returns the number of levels below the root the index describes.
func (x *Index) Depth() int { return x.depth }

// Len returns the number of entries, descendants and ancestors.
func (x *Index) Len() int { return x.subCount + x.parentCount }

// Bytes returns the underlying buffer.
func (x *Index) Bytes() []byte { return x.buf }

// Find returns the entry for key. Keys outside the root subtree that are not
// listed ancestors, or deeper than the index depth, are a miss.
func (x *Index) Find(key tilekey.TileKey) (Entry, bool) {
	if x.root.Covers(key) {
		if key.Level()-x.root.Level() > x.depth {
			return Entry{}, false
		}
		sub, _ := x.root.SubQuadKey(key)
		i := sort.Search(x.subCount, func(i int) bool {
			s, _ := x.subEntry(i)
			return uint64(s) >= sub
		})
		if i == x.subCount {
			return Entry{}, false
		}
		s, off := x.subEntry(i)
		if uint64(s) != sub {
			return Entry{}, false
		}
		return x.entry(key, int(off)), true
	}

	if key.IsAncestorOf(x.root) {
		qk := key.QuadKey64()
		i := sort.Search(x.parentCount, func(i int) bool {
			p, _ := x.parentEntry(i)
			return p >= qk
		})
		if i == x.parentCount {
			return Entry{}, false
		}
		p, off := x.parentEntry(i)
		if p != qk {
			return Entry{}, false
		}
		return x.entry(key, int(off)), true
	}

	return Entry{}, false
}

// All yields every descendant entry in sub quadkey order followed by every
// ancestor override.
func (x *Index) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := 0; i < x.subCount; i++ {
			sub, off := x.subEntry(i)
			key, err := x.root.AddedSubQuadKey(uint64(sub))
			if err != nil {
				continue
			}
			if !yield(x.entry(key, int(off))) {
				return
			}
		}
		for i := 0; i < x.parentCount; i++ {
			qk, off := x.parentEntry(i)
			key, err := tilekey.FromQuadKey64(qk)
			if err != nil {
				continue
			}
			if !yield(x.entry(key, int(off))) {
				return
			}
		}
	}
}

func (x *Index) subEntry(i int) (sub, off uint16) {
	p := HeaderSize + i*subEntrySize
	return binary.LittleEndian.Uint16(x.buf[p:]), binary.LittleEndian.Uint16(x.buf[p+2:])
}

func (x *Index) parentEntry(i int) (qk uint64, off uint32) {
	p := x.parentStart + i*parentEntrySize
	return binary.LittleEndian.Uint64(x.buf[p:]), binary.LittleEndian.Uint32(x.buf[p+8:])
}

func (x *Index) checkRecord(off int) error {
	p := x.dataStart + off
	if off < 0 || p >= len(x.buf) {
		return fmt.Errorf("%w: record offset %d out of bounds", ErrCorrupt, off)
	}
	flags := x.buf[p]
	p++
	if flags&flagVersion != 0 {
		if p+8 > len(x.buf) {
			return fmt.Errorf("%w: truncated version at record %d", ErrCorrupt, off)
		}
		p += 8
	}
	if flags&flagDataHandle != 0 {
		if p > len(x.buf) || bytes.IndexByte(x.buf[p:], 0) < 0 {
			return fmt.Errorf("%w: unterminated data handle at record %d", ErrCorrupt, off)
		}
	}
	return nil
}

// entry reads a record validated by Decode.
func (x *Index) entry(key tilekey.TileKey, off int) Entry {
	e := Entry{TileKey: key}
	p := x.dataStart + off
	flags := x.buf[p]
	p++
	if flags&flagVersion != 0 {
		e.Version = binary.LittleEndian.Uint64(x.buf[p:])
		p += 8
	}
	if flags&flagDataHandle != 0 {
		n := bytes.IndexByte(x.buf[p:], 0)
		e.DataHandle = string(x.buf[p : p+n])
	}
	return e
}

func hasLevelMarker(v uint64) bool {
	return (bits.Len64(v)-1)%2 == 0
}
