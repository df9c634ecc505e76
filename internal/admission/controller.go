// Package admission decides, per inbound chat request, whether to run it
// now, queue it, or turn it away.
//
// Two independent flows share one worker pool. The gated flow spends one
// unit of the caller's rate-limit budget and dispatches straight to a free
// slot, so its latency never includes queue wait. The unthrottled flow
// skips the limiter, queues behind the pool, and races the queued work
// against a deadline timer started at enqueue. Whichever side settles
// first wins; the loser's late signal is a no-op.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/worker"
)

// TierResolver maps an authentication flag to the tier in force for this
// request. It is consulted fresh on every check, never cached per
// identity, so configuration changes take effect immediately.
type TierResolver func(authenticated bool) limiter.Tier

// Request is one inbound chat request, identity already resolved.
type Request struct {
	Identity      string
	Authenticated bool
	Payload       string
}

// Result is a successful admission: the work ran and finished in time.
// Remaining, Limit and ResetAt are populated on the gated flow only.
type Result struct {
	Reply     string
	Remaining int
	Limit     int
	ResetAt   time.Time
	Elapsed   time.Duration
}

// Controller orchestrates the limiter and the worker pool. Methods are
// safe for concurrent use; all shared state lives in the pool and the
// counter store.
type Controller struct {
	limiter *limiter.Limiter
	pool    *worker.Pool
	tierFor TierResolver
	timeout time.Duration
	clock   clock.Clock
	sink    Sink
}

// New builds a Controller. sink may be nil when nobody listens for
// decision events.
func New(lim *limiter.Limiter, pool *worker.Pool, tiers TierResolver, timeout time.Duration, c clock.Clock, sink Sink) (*Controller, error) {
	if lim == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if tiers == nil {
		return nil, fmt.Errorf("tier resolver is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Controller{
		limiter: lim,
		pool:    pool,
		tierFor: tiers,
		timeout: timeout,
		clock:   c,
		sink:    sink,
	}, nil
}

// Gated runs req through the rate limiter and, if admitted, straight
// onto a worker slot. It never queues: a saturated pool rejects with
// OverloadedError so the rate-limited tier keeps bounded latency.
func (c *Controller) Gated(ctx context.Context, req Request) (Result, error) {
	tier := c.tierFor(req.Authenticated)
	decision := c.limiter.Check(ctx, req.Identity, tier)
	if !decision.Allowed {
		c.emit(Event{
			Flow:     FlowGated,
			Identity: req.Identity,
			Outcome:  OutcomeRateLimited,
			ResetAt:  decision.ResetAt,
		})
		return Result{}, &RateLimitedError{
			Limit:           decision.Limit,
			ResetAt:         decision.ResetAt,
			CooldownSeconds: cooldownSeconds(c.clock.Now(), decision.ResetAt),
		}
	}

	task := worker.NewTask(uuid.NewString(), req.Identity, req.Payload, c.clock.Now(), c.timeout)
	if !c.pool.TryImmediate(task) {
		c.emit(Event{Flow: FlowGated, Identity: req.Identity, Outcome: OutcomeOverloaded})
		return Result{}, &OverloadedError{
			QueueLength: c.pool.QueueLength(),
			Concurrency: c.pool.Concurrency(),
		}
	}

	out, err := c.await(ctx, task, c.clock.After(c.timeout))
	if err != nil {
		c.emit(Event{
			Flow:      FlowGated,
			Identity:  req.Identity,
			Outcome:   outcomeFor(err),
			ElapsedMS: out.Elapsed.Milliseconds(),
		})
		return Result{}, err
	}

	c.emit(Event{
		Flow:      FlowGated,
		Identity:  req.Identity,
		Outcome:   OutcomeCompleted,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
		ElapsedMS: out.Elapsed.Milliseconds(),
	})
	return Result{
		Reply:     out.Result,
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
		ResetAt:   decision.ResetAt,
		Elapsed:   out.Elapsed,
	}, nil
}

// Unthrottled queues req behind the pool with no rate-limit check and
// races completion against the deadline timer. A full queue rejects
// synchronously with ErrQueueFull.
func (c *Controller) Unthrottled(ctx context.Context, req Request) (Result, error) {
	task := worker.NewTask(uuid.NewString(), req.Identity, req.Payload, c.clock.Now(), c.timeout)
	if err := c.pool.Submit(task); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			c.emit(Event{Flow: FlowUnthrottled, Identity: req.Identity, Outcome: OutcomeQueueFull})
			return Result{}, ErrQueueFull
		}
		return Result{}, err
	}

	out, err := c.await(ctx, task, c.clock.After(c.timeout))
	if err != nil {
		c.emit(Event{
			Flow:      FlowUnthrottled,
			Identity:  req.Identity,
			Outcome:   outcomeFor(err),
			ElapsedMS: out.Elapsed.Milliseconds(),
		})
		return Result{}, err
	}

	c.emit(Event{
		Flow:      FlowUnthrottled,
		Identity:  req.Identity,
		Outcome:   OutcomeCompleted,
		ElapsedMS: out.Elapsed.Milliseconds(),
	})
	return Result{Reply: out.Result, Elapsed: out.Elapsed}, nil
}

// Timeout reports the deadline both flows race against.
func (c *Controller) Timeout() time.Duration {
	return c.timeout
}

// Algorithm reports which rate limiting algorithm gates the throttled flow.
func (c *Controller) Algorithm() limiter.Algorithm {
	return c.limiter.Algorithm()
}

// await blocks until the task settles, the deadline channel fires, or
// the caller gives up. When the timer wins, the task is abandoned so its
// eventual result is discarded; when the abandonment itself loses the
// race, the worker's outcome already in the cell is authoritative.
func (c *Controller) await(ctx context.Context, task *worker.Task, deadline <-chan time.Time) (worker.Outcome, error) {
	select {
	case out := <-task.Done():
		return interpret(out)
	case <-deadline:
		elapsed := c.clock.Since(task.ArrivedAt)
		if task.Abandon(elapsed) {
			return worker.Outcome{TimedOut: true, Elapsed: elapsed}, ErrTimedOut
		}
		return interpret(<-task.Done())
	case <-ctx.Done():
		task.Abandon(c.clock.Since(task.ArrivedAt))
		return worker.Outcome{}, ctx.Err()
	}
}

// interpret translates a settled outcome into the caller-facing error
// taxonomy. A late completion already marked by the worker is a timeout
// here too.
func interpret(out worker.Outcome) (worker.Outcome, error) {
	switch {
	case out.TimedOut:
		return out, ErrTimedOut
	case out.Err != nil:
		return out, fmt.Errorf("admission: work failed: %w", out.Err)
	}
	return out, nil
}

func outcomeFor(err error) Outcome {
	if errors.Is(err, ErrTimedOut) {
		return OutcomeTimedOut
	}
	return OutcomeFailed
}

// cooldownSeconds converts a reset timestamp into the whole-second retry
// hint carried by rate-limited rejections. Never less than 1, so a
// caller sleeping for the hint lands past the reset.
func cooldownSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	return int((d + time.Second - 1) / time.Second)
}

func (c *Controller) emit(e Event) {
	if c.sink == nil {
		return
	}
	e.Time = c.clock.Now()
	c.sink.Record(e)
}
