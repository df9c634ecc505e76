package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
)

// fixedWindow buckets requests into fixed windows of tier.Window length.
// The counter for a bucket lives under a key derived from the identity and
// the window number, so one atomic increment both creates and advances it.
//
// Known weakness, kept on purpose: a burst at a window boundary can admit
// up to twice the capacity across a short interval (capacity at the end of
// one window plus capacity at the start of the next). Callers who cannot
// tolerate that choose the sliding window or token bucket instead.
type fixedWindow struct {
	store counter.Store
	clock clock.Clock
}

func (fw *fixedWindow) check(ctx context.Context, key string, tier Tier) (Decision, error) {
	now := fw.clock.Now()
	windowID := now.UnixNano() / int64(tier.Window)
	resetAt := time.Unix(0, (windowID+1)*int64(tier.Window))

	bucketKey := fmt.Sprintf("fw:%s:%d", key, windowID)
	count, err := fw.store.Increment(ctx, bucketKey, 1, stateTTL(tier.Window))
	if err != nil {
		return Decision{}, err
	}

	if count <= int64(tier.Capacity) {
		return Decision{
			Allowed:   true,
			Remaining: tier.Capacity - int(count),
			Limit:     tier.Capacity,
			ResetAt:   resetAt,
		}, nil
	}

	return Decision{
		Allowed:   false,
		Remaining: 0,
		Limit:     tier.Capacity,
		ResetAt:   resetAt,
	}, nil
}
