package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/quadcache/tilekey"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Tile returns a random tile at level.
func (r *RNG) Tile(level int) tilekey.TileKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tileLocked(level)
}

func (r *RNG) tileLocked(level int) tilekey.TileKey {
	n := uint64(1) << uint(level)
	row := uint32(r.rand.Uint64() % n)
	column := uint32(r.rand.Uint64() % n)
	return tilekey.MustNew(level, row, column)
}

// Tiles returns n distinct random tiles at level. It panics if the level
// has fewer than n tiles.
func (r *RNG) Tiles(n, level int) []tilekey.TileKey {
	if level < 31 && uint64(n) > uint64(1)<<(2*uint(level)) {
		panic(fmt.Sprintf("testutil: level %d has fewer than %d tiles", level, n))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[tilekey.TileKey]struct{}, n)
	out := make([]tilekey.TileKey, 0, n)
	for len(out) < n {
		k := r.tileLocked(level)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Bytes returns n random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	_, _ = r.rand.Read(b)
	return b
}
