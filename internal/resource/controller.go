package resource

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxConcurrentRequests is the maximum number of requests in flight.
	// If 0, unlimited.
	MaxConcurrentRequests int64

	// BytesPerSecond is the maximum download throughput.
	// If 0, unlimited.
	BytesPerSecond int64
}

// Controller enforces the limits of a Config.
type Controller struct {
	cfg Config

	reqSem   *semaphore.Weighted // nil if unlimited
	inFlight atomic.Int64

	ioLimiter *rate.Limiter // nil if unlimited
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MaxConcurrentRequests > 0 {
		c.reqSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)
	}
	if cfg.BytesPerSecond > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), int(cfg.BytesPerSecond))
	}

	return c
}

// AcquireRequest reserves a request slot, blocking while all are busy.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.reqSem != nil {
		if err := c.reqSem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquireRequest reserves a request slot without blocking.
func (c *Controller) TryAcquireRequest() bool {
	if c == nil {
		return true
	}
	if c.reqSem != nil && !c.reqSem.TryAcquire(1) {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// ReleaseRequest releases a request slot.
func (c *Controller) ReleaseRequest() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	if c.reqSem != nil {
		c.reqSem.Release(1)
	}
}

// InFlight returns the number of reserved request slots.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// AcquireBytes waits until the rate limit allows n bytes. Amounts larger
// than one second of budget are paid in installments.
func (c *Controller) AcquireBytes(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.ioLimiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// TryAcquireBytes takes n bytes of budget without blocking.
func (c *Controller) TryAcquireBytes(n int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), n)
}
