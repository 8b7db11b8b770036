// Package ratelimit throttles abusive callers. The in-memory limiter suits a
// single instance; the Redis limiter shares counters across instances.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter admits at most a fixed number of events per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	Close() error
}
