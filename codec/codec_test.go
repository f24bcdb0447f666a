package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID         string `json:"id"`
	DataHandle string `json:"dataHandle"`
	Version    uint64 `json:"version"`
	DataSize   int64  `json:"dataSize,omitempty"`
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	c, ok = ByName(" GO-JSON ")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)

	assert.Equal(t, []string{"go-json", "json"}, Names())
}

func TestCodecs_Interchangeable(t *testing.T) {
	in := record{ID: "23618403", DataHandle: "4eed6ed1-0d32-43b9-ae79-043cb4256432", Version: 4}

	std := MustMarshal(JSON{}, in)
	fast := MustMarshal(GoJSON{}, in)
	assert.JSONEq(t, string(std), string(fast))

	var out record
	require.NoError(t, GoJSON{}.Unmarshal(std, &out))
	assert.Equal(t, in, out)
	require.NoError(t, JSON{}.Unmarshal(fast, &out))
	assert.Equal(t, in, out)
}

func TestMustMarshal_Panics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(JSON{}, make(chan int)) })
}

func BenchmarkCodec_Unmarshal_Record(b *testing.B) {
	data := MustMarshal(nil, record{ID: "1", DataHandle: "h", Version: 1})

	for _, c := range []Codec{JSON{}, GoJSON{}} {
		b.Run(c.Name(), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))
			var r record
			for b.Loop() {
				if err := c.Unmarshal(data, &r); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
