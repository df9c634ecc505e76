package admission

import (
	"errors"
	"fmt"
	"time"
)

// ErrQueueFull rejects an unthrottled request whose queue slot does not
// exist. Terminal and immediate; no retry hint is computed.
var ErrQueueFull = errors.New("admission: queue full")

// ErrTimedOut rejects a request whose work did not finish inside the
// deadline. The work itself may still complete server-side; its result
// is discarded.
var ErrTimedOut = errors.New("admission: request timed out")

// RateLimitedError rejects a gated request that exhausted its tier. It
// carries everything the caller needs to phrase a retry hint.
type RateLimitedError struct {
	Limit           int
	ResetAt         time.Time
	CooldownSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("admission: rate limit of %d exceeded, retry in %ds", e.Limit, e.CooldownSeconds)
}

// OverloadedError rejects a gated request that passed the limiter but
// found every worker slot busy. The gated path never queues, so this is
// terminal.
type OverloadedError struct {
	QueueLength int
	Concurrency int
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("admission: all %d workers busy", e.Concurrency)
}
