package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlobStore(t *testing.T, store BlobStore) {
	ctx := t.Context()

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "layer/v1/a.json", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "layer/v1/b.json", []byte("beta")))
	require.NoError(t, store.Put(ctx, "layer/blobs/h1", []byte{}))
	require.NoError(t, store.Put(ctx, "other/c", []byte("gamma")))

	data, err := ReadAll(ctx, store, "layer/v1/a.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	empty, err := ReadAll(ctx, store, "layer/blobs/h1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	b, err := store.Open(ctx, "layer/v1/b.json")
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.Size())
	buf := make([]byte, 8)
	n, err := b.ReadAt(ctx, buf, 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ta", string(buf[:n]))
	require.NoError(t, b.Close())

	names, err := store.List(ctx, "layer/v1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"layer/v1/a.json", "layer/v1/b.json"}, names)

	require.NoError(t, store.Put(ctx, "layer/v1/a.json", []byte("alpha2")))
	data, err = ReadAll(ctx, store, "layer/v1/a.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha2"), data)

	require.NoError(t, store.Delete(ctx, "layer/v1/a.json"))
	require.NoError(t, store.Delete(ctx, "layer/v1/a.json"))
	_, err = store.Open(ctx, "layer/v1/a.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testBlobStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testBlobStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	store := NewMemoryStore()
	assert.ErrorIs(t, store.Put(ctx, "a", nil), context.Canceled)
	_, err := store.Open(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
