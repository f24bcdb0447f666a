// Package tilekey implements quadtree tile addressing.
//
// A TileKey names one cell of a recursive 2x2 subdivision of the map:
// level 0 is the whole world, and a tile at level L has row and column in
// [0, 2^L). Every key maps bijectively to a 64-bit quadkey
//
//	quadkey64 = 1<<(2*level) | morton(row, column)
//
// where morton interleaves the column bits on the even positions and the row
// bits on the odd positions. The leading 1 bit encodes the level. The decimal
// rendering of quadkey64 is the canonical string form.
package tilekey

import (
	"errors"
	"fmt"
	"iter"
	"math/bits"
	"strconv"
)

const (
	// MaxLevel is the deepest level representable in a 64-bit quadkey.
	MaxLevel = 31

	// LevelCount is the number of valid levels.
	LevelCount = MaxLevel + 1
)

// ErrInvalidArgument is returned for out-of-range levels, rows, columns and
// malformed quadkeys.
var ErrInvalidArgument = errors.New("tilekey: invalid argument")

// TileKey addresses a tile in the quadtree. The zero value is the root tile.
type TileKey struct {
	row    uint32
	column uint32
	level  uint8
}

// New returns the tile at (level, row, column).
func New(level int, row, column uint32) (TileKey, error) {
	if level < 0 || level > MaxLevel {
		return TileKey{}, fmt.Errorf("%w: level %d out of range [0, %d]", ErrInvalidArgument, level, MaxLevel)
	}
	limit := uint64(1) << uint(level)
	if uint64(row) >= limit || uint64(column) >= limit {
		return TileKey{}, fmt.Errorf("%w: row %d or column %d out of range for level %d", ErrInvalidArgument, row, column, level)
	}
	return TileKey{row: row, column: column, level: uint8(level)}, nil
}

// MustNew is like New but panics on invalid input. Intended for tests and
// constant tables.
func MustNew(level int, row, column uint32) TileKey {
	k, err := New(level, row, column)
	if err != nil {
		panic(err)
	}
	return k
}

// FromQuadKey64 decodes a 64-bit quadkey.
func FromQuadKey64(qk uint64) (TileKey, error) {
	if qk == 0 {
		return TileKey{}, fmt.Errorf("%w: zero quadkey", ErrInvalidArgument)
	}
	msb := bits.Len64(qk) - 1
	if msb%2 != 0 {
		return TileKey{}, fmt.Errorf("%w: quadkey %d has no level marker", ErrInvalidArgument, qk)
	}
	level := msb / 2
	if level > MaxLevel {
		return TileKey{}, fmt.Errorf("%w: quadkey %d exceeds level %d", ErrInvalidArgument, qk, MaxLevel)
	}
	row, column := deinterleave(qk &^ (uint64(1) << uint(msb)))
	return TileKey{row: row, column: column, level: uint8(level)}, nil
}

// Parse decodes the canonical decimal string form.
func Parse(s string) (TileKey, error) {
	qk, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return TileKey{}, fmt.Errorf("%w: %q is not a quadkey: %w", ErrInvalidArgument, s, err)
	}
	return FromQuadKey64(qk)
}

// Level returns the tile's level.
func (k TileKey) Level() int { return int(k.level) }

// Row returns the tile's row.
func (k TileKey) Row() uint32 { return k.row }

// Column returns the tile's column.
func (k TileKey) Column() uint32 { return k.column }

// QuadKey64 returns the 64-bit quadkey.
func (k TileKey) QuadKey64() uint64 {
	return uint64(1)<<(2*uint(k.level)) | interleave(k.row, k.column)
}

// String returns the decimal quadkey.
func (k TileKey) String() string {
	return strconv.FormatUint(k.QuadKey64(), 10)
}

// MarshalText implements encoding.TextMarshaler.
func (k TileKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TileKey) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ChangedLevelBy returns the ancestor delta levels up (delta < 0) or the
// first descendant delta levels down (delta > 0).
func (k TileKey) ChangedLevelBy(delta int) (TileKey, error) {
	level := int(k.level) + delta
	if level < 0 || level > MaxLevel {
		return TileKey{}, fmt.Errorf("%w: level %d%+d out of range [0, %d]", ErrInvalidArgument, k.level, delta, MaxLevel)
	}
	if delta < 0 {
		shift := uint(-delta)
		return TileKey{row: k.row >> shift, column: k.column >> shift, level: uint8(level)}, nil
	}
	shift := uint(delta)
	return TileKey{row: k.row << shift, column: k.column << shift, level: uint8(level)}, nil
}

// ChangedLevelTo is ChangedLevelBy(level - k.Level()).
func (k TileKey) ChangedLevelTo(level int) (TileKey, error) {
	return k.ChangedLevelBy(level - int(k.level))
}

// Parent returns the direct ancestor. The root has no parent.
func (k TileKey) Parent() (TileKey, bool) {
	if k.level == 0 {
		return TileKey{}, false
	}
	return TileKey{row: k.row >> 1, column: k.column >> 1, level: k.level - 1}, true
}

// IsAncestorOf reports whether k is a strict ancestor of other.
func (k TileKey) IsAncestorOf(other TileKey) bool {
	if k.level >= other.level {
		return false
	}
	shift := uint(other.level - k.level)
	return other.row>>shift == k.row && other.column>>shift == k.column
}

// Covers reports whether other is k or one of its descendants.
func (k TileKey) Covers(other TileKey) bool {
	return k == other || k.IsAncestorOf(other)
}

// SubQuadKey returns the quadkey of descendant relative to k: the leading 1
// bit marks the level distance and the low bits carry the path below k.
// The relative key of k itself is 1.
func (k TileKey) SubQuadKey(descendant TileKey) (uint64, bool) {
	if !k.Covers(descendant) {
		return 0, false
	}
	delta := 2 * uint(descendant.level-k.level)
	mask := uint64(1)<<delta - 1
	return uint64(1)<<delta | descendant.QuadKey64()&mask, true
}

// AddedSubQuadKey is the inverse of SubQuadKey.
func (k TileKey) AddedSubQuadKey(sub uint64) (TileKey, error) {
	if sub == 0 {
		return TileKey{}, fmt.Errorf("%w: zero sub quadkey", ErrInvalidArgument)
	}
	msb := bits.Len64(sub) - 1
	if msb%2 != 0 {
		return TileKey{}, fmt.Errorf("%w: sub quadkey %d has no level marker", ErrInvalidArgument, sub)
	}
	delta := msb / 2
	base, err := k.ChangedLevelBy(delta)
	if err != nil {
		return TileKey{}, err
	}
	row, column := deinterleave(sub &^ (uint64(1) << uint(msb)))
	return TileKey{row: base.row | row, column: base.column | column, level: base.level}, nil
}

// Descendants yields every descendant of k at level, in quadkey order.
// Nothing is yielded when level is above k or beyond MaxLevel.
func (k TileKey) Descendants(level int) iter.Seq[TileKey] {
	return func(yield func(TileKey) bool) {
		if level < int(k.level) || level > MaxLevel {
			return
		}
		first, _ := k.ChangedLevelTo(level)
		n := uint64(1) << (2 * uint(level-int(k.level)))
		base := first.QuadKey64()
		for i := uint64(0); i < n; i++ {
			child, err := FromQuadKey64(base + i)
			if err != nil {
				return
			}
			if !yield(child) {
				return
			}
		}
	}
}

// Compare orders keys by their numeric quadkey.
func (k TileKey) Compare(other TileKey) int {
	a, b := k.QuadKey64(), other.QuadKey64()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func interleave(row, column uint32) uint64 {
	return spread(uint64(column)) | spread(uint64(row))<<1
}

func deinterleave(v uint64) (row, column uint32) {
	return uint32(compact(v >> 1)), uint32(compact(v))
}

// spread moves bit i of x to bit 2i.
func spread(x uint64) uint64 {
	x &= 0x00000000FFFFFFFF
	x = (x | x<<16) & 0x0000FFFF0000FFFF
	x = (x | x<<8) & 0x00FF00FF00FF00FF
	x = (x | x<<4) & 0x0F0F0F0F0F0F0F0F
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}

func compact(x uint64) uint64 {
	x &= 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0F0F0F0F0F0F0F0F
	x = (x | x>>4) & 0x00FF00FF00FF00FF
	x = (x | x>>8) & 0x0000FFFF0000FFFF
	x = (x | x>>16) & 0x00000000FFFFFFFF
	return x
}
