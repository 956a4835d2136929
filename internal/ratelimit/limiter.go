package ratelimit

import (
	"context"
	"time"
)

// Limiter answers whether the request identified by id may proceed. When the
// limit is hit, retryAfter reports how long until the window resets. A
// non-nil error means the backing store failed; callers are expected to fail
// open on it.
type Limiter interface {
	Allow(ctx context.Context, id string) (allowed bool, retryAfter time.Duration, err error)
}
