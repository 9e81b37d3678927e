// Package ratelimit bounds how often an actor may invoke an expensive
// operation. Limits are fixed windows that open on an actor's first call, so a
// burst of up to twice the limit can straddle a window edge.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Key identifies a bucket.
type Key struct {
	Actor     string
	Operation string
}

func (k Key) String() string {
	return k.Operation + ":" + k.Actor
}

// Policy allows at most Limit calls per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Validate reports an unusable policy.
func (p Policy) Validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return fmt.Errorf("invalid rate policy: limit %d window %s", p.Limit, p.Window)
	}
	return nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for Retry-After headers.
func (d Decision) RetryAfterSeconds(now time.Time) int {
	return int(math.Ceil(d.RetryAfter(now).Seconds()))
}

// Limiter counts calls per key. Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key Key, policy Policy) (Decision, error)
}
