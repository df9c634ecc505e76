package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
)

// tokenBucket refills a fractional token balance at capacity/window and
// charges one token per allowed request. Bursts drain the bucket; a steady
// trickle keeps it topped up.
type tokenBucket struct {
	store counter.Store
	clock clock.Clock
}

// bucketState is the stored record. Tokens stays within [0, capacity];
// the balance only moves on writes, so denied checks cost no tokens and
// no swap.
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill_ms"`
}

func (tb *tokenBucket) check(ctx context.Context, key string, tier Tier) (Decision, error) {
	bucketKey := "tb:" + key

	for attempt := 0; attempt < casAttempts; attempt++ {
		snapshot, err := tb.store.Get(ctx, bucketKey)
		if err != nil {
			return Decision{}, err
		}

		now := tb.clock.Now()
		nowMS := now.UnixMilli()
		st := bucketState{Tokens: float64(tier.Capacity), LastRefill: nowMS}
		if snapshot != nil {
			if err := json.Unmarshal(snapshot, &st); err != nil {
				return Decision{}, fmt.Errorf("corrupt bucket state for %q: %w", key, err)
			}
			st.Tokens += refillTokens(nowMS-st.LastRefill, tier)
			if st.Tokens > float64(tier.Capacity) {
				st.Tokens = float64(tier.Capacity)
			}
			st.LastRefill = nowMS
		}

		if st.Tokens < 1 {
			return Decision{
				Allowed:   false,
				Remaining: 0,
				Limit:     tier.Capacity,
				ResetAt:   now.Add(waitForTokens(1-st.Tokens, tier)),
			}, nil
		}

		st.Tokens--
		next, err := json.Marshal(st)
		if err != nil {
			return Decision{}, fmt.Errorf("encode bucket state: %w", err)
		}
		ok, err := tb.store.CompareAndSwap(ctx, bucketKey, snapshot, next, stateTTL(tier.Window))
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			continue
		}

		resetAt := now
		if st.Tokens < 1 {
			resetAt = now.Add(waitForTokens(1-st.Tokens, tier))
		}
		return Decision{
			Allowed:   true,
			Remaining: int(st.Tokens), // fractional balance reports floored
			Limit:     tier.Capacity,
			ResetAt:   resetAt,
		}, nil
	}

	return Decision{}, errContention
}

// refillTokens converts elapsed milliseconds into accrued tokens. The
// multiply-then-divide order keeps whole-token boundaries exact, so a
// half-window wait on a capacity-2 tier yields exactly one token.
func refillTokens(elapsedMS int64, tier Tier) float64 {
	if elapsedMS <= 0 {
		return 0
	}
	return float64(elapsedMS) * float64(tier.Capacity) / float64(tier.Window.Milliseconds())
}

// waitForTokens is how long deficit tokens take to accrue, rounded up to
// whole seconds.
func waitForTokens(deficit float64, tier Tier) time.Duration {
	ms := deficit * float64(tier.Window.Milliseconds()) / float64(tier.Capacity)
	return time.Duration(math.Ceil(ms/1000.0)) * time.Second
}
