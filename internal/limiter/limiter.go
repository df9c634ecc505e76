// Package limiter decides, per identity and tier, whether one unit of
// consumption is currently permitted. The limiter itself holds no state
// between calls; every algorithm reads and writes the shared counter store,
// so any number of processes can enforce one budget against one backend.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
)

// Algorithm identifies a rate limiting algorithm.
type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
)

// ParseAlgorithm validates a configuration string.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("unknown rate limit algorithm %q", s)
}

// Tier is a rate-limit profile assigned by authentication status. Tiers are
// configuration-time constants; identities are mapped to a tier fresh on
// every check.
type Tier struct {
	Name     string
	Capacity int
	Window   time.Duration
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// errContention is returned by a strategy when it loses the optimistic
// update race too many times in a row.
var errContention = errors.New("limiter: store contention, retries exhausted")

// casAttempts bounds the optimistic read-modify-write loop. Each lost
// round means another caller made progress on the same identity.
const casAttempts = 5

// strategy is one algorithm's check against the store. Implementations
// return an error only for store failures; the Limiter turns those into
// fail-open decisions.
type strategy interface {
	check(ctx context.Context, key string, tier Tier) (Decision, error)
}

// Limiter dispatches checks to the configured algorithm.
//
// Failure policy: if the counter store is unreachable, errors, or stays
// contended past the retry budget, Check fails open and reports the full
// allowance. Availability is deliberately preferred over strictness, and
// the caller never sees a store error.
type Limiter struct {
	algorithm Algorithm
	strat     strategy
	clock     clock.Clock
}

// New builds a Limiter running the given algorithm against store.
func New(algorithm Algorithm, store counter.Store, c clock.Clock) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}

	var strat strategy
	switch algorithm {
	case AlgorithmFixedWindow:
		strat = &fixedWindow{store: store, clock: c}
	case AlgorithmSlidingWindow:
		strat = &slidingWindow{store: store, clock: c}
	case AlgorithmTokenBucket:
		strat = &tokenBucket{store: store, clock: c}
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q", algorithm)
	}

	return &Limiter{algorithm: algorithm, strat: strat, clock: c}, nil
}

// Algorithm reports which algorithm this limiter runs.
func (l *Limiter) Algorithm() Algorithm {
	return l.algorithm
}

// Check consumes one unit from key's budget under tier. It never returns
// an error: store failures are logged and fail open.
func (l *Limiter) Check(ctx context.Context, key string, tier Tier) Decision {
	if tier.Capacity <= 0 || tier.Window <= 0 {
		log.Printf("limiter: invalid tier %+v for key %q, failing open", tier, key)
		return l.failOpen(tier)
	}

	d, err := l.strat.check(ctx, key, tier)
	if err != nil {
		log.Printf("limiter: check for key %q failed open: %v", key, err)
		return l.failOpen(tier)
	}
	return d
}

func (l *Limiter) failOpen(tier Tier) Decision {
	return Decision{
		Allowed:   true,
		Remaining: tier.Capacity,
		Limit:     tier.Capacity,
		ResetAt:   l.clock.Now().Add(tier.Window),
	}
}

// stateTTL pads the window so state for a still-active window cannot
// expire under a caller mid-check; idle identities still age out.
func stateTTL(window time.Duration) time.Duration {
	grace := window / 10
	if grace < time.Second {
		grace = time.Second
	}
	return window + grace
}
