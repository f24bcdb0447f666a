// Package resource implements the Controller that bounds outbound catalog
// traffic.
//
//	┌──────────────────────────────────────────────┐
//	│                  Controller                  │
//	├──────────────────────┬───────────────────────┤
//	│  Requests (sem)      │  Bytes (token bucket) │
//	├──────────────────────┼───────────────────────┤
//	│  AcquireRequest      │  AcquireBytes         │
//	│  TryAcquireRequest   │  TryAcquireBytes      │
//	│  ReleaseRequest      │                       │
//	└──────────────────────┴───────────────────────┘
//
// Usage:
//
//	rc := resource.NewController(resource.Config{
//	    MaxConcurrentRequests: 8,
//	    BytesPerSecond:        50 << 20,
//	})
//
//	if err := rc.AcquireRequest(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseRequest()
//
// All methods are safe for concurrent use and treat a nil Controller as
// unlimited.
package resource
