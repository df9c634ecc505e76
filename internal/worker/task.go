// Package worker runs admitted work on a fixed number of slots, feeding
// them from a bounded FIFO queue or by direct dispatch. Every task settles
// exactly once; whoever settles second is silently discarded.
package worker

import (
	"sync/atomic"
	"time"
)

// Outcome is the terminal result of one task.
type Outcome struct {
	Result   string
	Err      error
	TimedOut bool
	// Elapsed is measured from the task's original arrival, queue wait
	// included.
	Elapsed time.Duration
}

// Task is one unit of admitted work. The queue owns it until a worker
// claims it; the worker owns it until it settles.
type Task struct {
	ID        string
	Identity  string
	Payload   string
	ArrivedAt time.Time
	// Timeout is the caller's deadline relative to arrival. A worker that
	// finishes past it settles a timeout outcome instead of the result.
	Timeout time.Duration

	settled atomic.Bool
	done    chan Outcome
}

// NewTask wraps one request for execution. arrivedAt anchors both the
// queue-wait measurement and the timeout.
func NewTask(id, identity, payload string, arrivedAt time.Time, timeout time.Duration) *Task {
	return &Task{
		ID:        id,
		Identity:  identity,
		Payload:   payload,
		ArrivedAt: arrivedAt,
		Timeout:   timeout,
		done:      make(chan Outcome, 1),
	}
}

// Done delivers the winning outcome. The channel is buffered, so the
// settler never blocks on a caller that has moved on.
func (t *Task) Done() <-chan Outcome {
	return t.done
}

// settle resolves the task with o. Only the first settle wins; later
// calls report false and their outcome is dropped.
func (t *Task) settle(o Outcome) bool {
	if !t.settled.CompareAndSwap(false, true) {
		return false
	}
	t.done <- o
	return true
}

// Abandon settles the task as timed out after elapsed. It reports false
// when a real outcome won the race first, in which case that outcome is
// already waiting on Done.
func (t *Task) Abandon(elapsed time.Duration) bool {
	return t.settle(Outcome{TimedOut: true, Elapsed: elapsed})
}
