package quadcache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/internal/workerpool"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	ce := catalog.NewError(catalog.Forbidden, "denied", nil)
	assert.Same(t, ce, translateError(ce))

	wrapped := fmt.Errorf("lookup: %w", ce)
	assert.Equal(t, wrapped, translateError(wrapped))

	tests := []struct {
		in   error
		want error
	}{
		{context.Canceled, ErrCancelled},
		{context.DeadlineExceeded, ErrCancelled},
		{fmt.Errorf("read: %w", quadtree.ErrCorrupt), ErrDecode},
		{quadtree.ErrInvalidArgument, ErrInvalidArgument},
		{tilekey.ErrInvalidArgument, ErrInvalidArgument},
		{workerpool.ErrClosed, ErrClosed},
		{storeFailure("put", "k", errors.New("disk full")), ErrStoreFailure},
		{ErrNotResolved, ErrInvalidArgument},
		{ErrNoPartitionsPrefetched, ErrNoPartitionsPrefetched},
	}
	for _, tt := range tests {
		got := translateError(tt.in)
		assert.ErrorIs(t, got, tt.want, "in=%v", tt.in)
		assert.ErrorIs(t, got, tt.in)
	}

	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}

func TestSentinelHierarchy(t *testing.T) {
	assert.ErrorIs(t, ErrNotResolved, ErrInvalidArgument)
	assert.ErrorIs(t, ErrNotProtected, ErrInvalidArgument)
	assert.NotErrorIs(t, ErrNotFound, ErrInvalidArgument)
}
