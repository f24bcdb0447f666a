package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known answer for the Castagnoli polynomial.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))

	data := []byte("hello world")
	assert.Equal(t, CRC32C(data), UpdateCRC32C(CRC32C(data[:5]), data[5:]))
}

func TestKeyName(t *testing.T) {
	a := KeyName("hrn::layer::handle::Data")
	b := KeyName("hrn::layer::handle::Data")
	c := KeyName("hrn::layer::other::Data")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}
