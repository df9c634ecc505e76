// Package chat simulates the model backend: an opaque unit of work with
// a two-to-three second price tag. The pool treats it as replaceable;
// nothing outside this package knows the reply is canned.
package chat

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
)

var replies = []string{
	"I thought about %q and here is my take.",
	"Interesting question. The short answer to %q is yes, with caveats.",
	"Let me summarize what matters about %q.",
	"Here is a draft response covering %q.",
	"On %q: it depends, but mostly on the window size.",
}

// Responder produces a canned reply after a uniformly random delay
// between its configured bounds, waiting on the injected clock.
type Responder struct {
	minDelay time.Duration
	maxDelay time.Duration
	clock    clock.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// NewResponder builds a Responder with delay bounds [minDelay, maxDelay].
func NewResponder(minDelay, maxDelay time.Duration, c clock.Clock) (*Responder, error) {
	if minDelay < 0 {
		return nil, fmt.Errorf("min delay must not be negative, got %v", minDelay)
	}
	if maxDelay < minDelay {
		return nil, fmt.Errorf("max delay %v is shorter than min delay %v", maxDelay, minDelay)
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Responder{
		minDelay: minDelay,
		maxDelay: maxDelay,
		clock:    c,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Respond waits out the simulated thinking time, then answers. It
// matches the worker pool's work function signature and honors ctx
// while waiting.
func (r *Responder) Respond(ctx context.Context, identity, payload string) (string, error) {
	select {
	case <-r.clock.After(r.delay()):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return r.reply(payload), nil
}

func (r *Responder) delay() time.Duration {
	if r.maxDelay == r.minDelay {
		return r.minDelay
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay + time.Duration(r.rng.Int63n(int64(r.maxDelay-r.minDelay)+1))
}

func (r *Responder) reply(payload string) string {
	prompt := payload
	if len(prompt) > 60 {
		prompt = prompt[:60] + "..."
	}
	r.mu.Lock()
	template := replies[r.rng.Intn(len(replies))]
	r.mu.Unlock()
	return fmt.Sprintf(template, prompt)
}
