package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
)

// slidingWindow keeps an ordered log of request timestamps per identity and
// counts the ones inside the trailing window. Precise at the boundary, at
// the cost of one stored timestamp per allowed request.
//
// The log is updated through an optimistic compare-and-swap loop: read the
// snapshot, evict expired entries, append, and swap only if nobody changed
// it meanwhile. Denied checks never write; the next allowed request prunes.
type slidingWindow struct {
	store counter.Store
	clock clock.Clock
}

func (sw *slidingWindow) check(ctx context.Context, key string, tier Tier) (Decision, error) {
	logKey := "sw:" + key

	for attempt := 0; attempt < casAttempts; attempt++ {
		snapshot, err := sw.store.Get(ctx, logKey)
		if err != nil {
			return Decision{}, err
		}

		var stamps []int64
		if snapshot != nil {
			if err := json.Unmarshal(snapshot, &stamps); err != nil {
				return Decision{}, fmt.Errorf("corrupt window log for %q: %w", key, err)
			}
		}

		now := sw.clock.Now()
		nowMS := now.UnixMilli()
		cutoff := nowMS - tier.Window.Milliseconds()

		live := stamps[:0]
		for _, ts := range stamps {
			if ts > cutoff {
				live = append(live, ts)
			}
		}

		count := len(live)
		resetAt := now.Add(tier.Window)
		if count > 0 {
			resetAt = time.UnixMilli(live[0]).Add(tier.Window)
		}

		if count >= tier.Capacity {
			return Decision{
				Allowed:   false,
				Remaining: 0,
				Limit:     tier.Capacity,
				ResetAt:   resetAt,
			}, nil
		}

		live = append(live, nowMS)
		next, err := json.Marshal(live)
		if err != nil {
			return Decision{}, fmt.Errorf("encode window log: %w", err)
		}

		ok, err := sw.store.CompareAndSwap(ctx, logKey, snapshot, next, stateTTL(tier.Window))
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{
				Allowed:   true,
				Remaining: tier.Capacity - count - 1,
				Limit:     tier.Capacity,
				ResetAt:   resetAt,
			}, nil
		}
		// Lost the swap to a concurrent check for the same identity.
	}

	return Decision{}, errContention
}
