package workerpool

import (
	"context"
	"sync"
)

// Group runs a set of tasks on a pool and waits for them.
//
// A task whose context is done before it starts is skipped. With
// cancel-on-error, the first task error cancels the group context so
// pending tasks are skipped too.
type Group struct {
	pool          *WorkerPool
	ctx           context.Context
	cancel        context.CancelFunc
	cancelOnError bool

	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

// NewGroup returns a group whose tasks run on pool under a context derived
// from ctx.
func NewGroup(ctx context.Context, pool *WorkerPool, cancelOnError bool) *Group {
	gctx, cancel := context.WithCancel(ctx)
	return &Group{
		pool:          pool,
		ctx:           gctx,
		cancel:        cancel,
		cancelOnError: cancelOnError,
	}
}

// Go submits fn. It blocks while the pool queue is full.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	err := g.pool.Submit(g.ctx, func() {
		defer g.wg.Done()
		if g.ctx.Err() != nil {
			return
		}
		if err := fn(g.ctx); err != nil {
			g.fail(err)
		}
	})
	if err != nil {
		g.wg.Done()
		g.fail(err)
	}
}

// Wait blocks until every submitted task finished or was skipped and
// returns the first error.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

func (g *Group) fail(err error) {
	g.errOnce.Do(func() {
		g.err = err
		if g.cancelOnError {
			g.cancel()
		}
	})
}
