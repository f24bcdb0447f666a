package quadcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/internal/workerpool"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

var (
	// ErrInvalidArgument is returned for inputs an operation cannot act on,
	// such as an empty id set.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotResolved is returned by Protect when a tile has no cached
	// covering index.
	ErrNotResolved = fmt.Errorf("%w: tile not resolved", ErrInvalidArgument)

	// ErrNotProtected is returned by Release for tiles that are not protected.
	ErrNotProtected = fmt.Errorf("%w: tile not protected", ErrInvalidArgument)

	// ErrDecode is returned when a cached or fetched record cannot be decoded.
	ErrDecode = errors.New("decode error")

	// ErrNotFound is returned when a tile or partition has no data.
	ErrNotFound = errors.New("not found")

	// ErrStoreFailure is returned when the cache store rejects an operation.
	ErrStoreFailure = errors.New("cache store failure")

	// ErrCancelled is returned when an operation was cancelled before it completed.
	ErrCancelled = errors.New("cancelled")

	// ErrNoPartitionsPrefetched is returned when a prefetch cached nothing.
	ErrNoPartitionsPrefetched = errors.New("No partitions were prefetched.")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client closed")
)

// translateError maps package errors to the public sentinels. Catalog
// errors pass through so callers can inspect their code.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ce *catalog.Error
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrDecode), errors.Is(err, ErrStoreFailure),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrClosed),
		errors.Is(err, ErrNoPartitionsPrefetched):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, quadtree.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrDecode, err)
	case errors.Is(err, quadtree.ErrInvalidArgument), errors.Is(err, tilekey.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, workerpool.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

func storeFailure(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrStoreFailure, op, key, err)
}

func fmtInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
