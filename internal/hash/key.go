package hash

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// KeyName returns a stable, file-system safe name for a cache key.
// The 128-bit xxh3 digest makes collisions negligible for cache sized key sets.
func KeyName(key string) string {
	sum := xxh3.HashString128(key).Bytes()
	return hex.EncodeToString(sum[:])
}
