package quadcache

import (
	"context"
	"fmt"
	"sync"
)

// Future is the pending result of an asynchronous operation.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// CancellationToken cancels an asynchronous operation. Cancel returns
// immediately; the operation resolves with ErrCancelled once its running
// sub-tasks finished.
type CancellationToken struct {
	cancel context.CancelFunc
}

// Cancel requests cancellation. It is safe to call more than once.
func (t CancellationToken) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// startFuture runs fn on its own goroutine. The coordinator must not run on
// a pool worker because it waits for pool tasks.
func startFuture[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		f.val, f.err = fn(ctx)
		close(f.done)
	}()
	return f
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the result is available.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.val, f.err
}

// Wait is like Get but gives up when ctx is done. Giving up does not
// cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// Cancel requests cancellation of the operation.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Token returns a token that cancels the operation.
func (f *Future[T]) Token() CancellationToken {
	return CancellationToken{cancel: f.cancel}
}

// notify invokes cb exactly once with the result of f, on a pool worker
// while the pool is open.
func notify[T any](c *Client, f *Future[T], cb func(T, error)) {
	if cb == nil {
		return
	}
	go func() {
		val, err := f.Get()
		var once sync.Once
		call := func() { once.Do(func() { cb(val, err) }) }
		if c.pool.Submit(context.Background(), call) != nil {
			call()
		}
	}()
}

// PrefetchPartitionsAsync starts PrefetchPartitions and returns its future.
func (c *Client) PrefetchPartitionsAsync(ctx context.Context, req PrefetchPartitionsRequest) *Future[*PrefetchPartitionsResult] {
	return startFuture(ctx, func(ctx context.Context) (*PrefetchPartitionsResult, error) {
		return c.PrefetchPartitions(ctx, req)
	})
}

// PrefetchPartitionsWithCallback starts PrefetchPartitions and invokes cb
// once with its outcome.
func (c *Client) PrefetchPartitionsWithCallback(ctx context.Context, req PrefetchPartitionsRequest, cb func(*PrefetchPartitionsResult, error)) CancellationToken {
	f := c.PrefetchPartitionsAsync(ctx, req)
	notify(c, f, cb)
	return f.Token()
}

// PrefetchTilesAsync starts PrefetchTiles and returns its future.
func (c *Client) PrefetchTilesAsync(ctx context.Context, req PrefetchTilesRequest) *Future[*PrefetchTilesResult] {
	return startFuture(ctx, func(ctx context.Context) (*PrefetchTilesResult, error) {
		return c.PrefetchTiles(ctx, req)
	})
}

// PrefetchTilesWithCallback starts PrefetchTiles and invokes cb once with
// its outcome.
func (c *Client) PrefetchTilesWithCallback(ctx context.Context, req PrefetchTilesRequest, cb func(*PrefetchTilesResult, error)) CancellationToken {
	f := c.PrefetchTilesAsync(ctx, req)
	notify(c, f, cb)
	return f.Token()
}
