package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/quadcache/tilekey"
)

func TestKeySpace(t *testing.T) {
	const hrn = "hrn:here:data::olp-here-test:hereos-internal-test-v2"
	ks := NewKeySpace(hrn, "testlayer", 4)

	root, err := tilekey.Parse("23064")
	require.NoError(t, err)

	assert.Equal(t, hrn+"::testlayer::269::4::partition", ks.Partition("269"))
	assert.Equal(t, hrn+"::testlayer::4eed6ed1-0d32-43b9-ae79-043cb4256432::Data", ks.Data("4eed6ed1-0d32-43b9-ae79-043cb4256432"))
	assert.Equal(t, hrn+"::testlayer::23064::4::4::quadtree", ks.QuadTree(root, 4))
	assert.Equal(t, hrn+"::testlayer::", ks.LayerPrefix())

	assert.Equal(t, hrn, ks.Catalog())
	assert.Equal(t, "testlayer", ks.Layer())
	assert.Equal(t, uint64(4), ks.Version())
}
