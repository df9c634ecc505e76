package worker

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned by Enqueue once the queue holds MaxSize items.
// Rejection is synchronous; callers must fail the request, not retry.
var ErrQueueFull = errors.New("worker: queue full")

// Queue is a bounded FIFO of pending tasks. Enqueue never blocks and
// ordering is strict: tasks leave in exactly the order they entered.
type Queue struct {
	mu    sync.Mutex
	tasks []*Task
	max   int
}

// NewQueue returns an empty queue holding at most max tasks.
func NewQueue(max int) *Queue {
	return &Queue{max: max}
}

// Enqueue appends t, or rejects with ErrQueueFull at capacity.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) >= q.max {
		return ErrQueueFull
	}
	q.tasks = append(q.tasks, t)
	return nil
}

// Dequeue removes and returns the oldest task, or reports false when the
// queue is empty.
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil // free the slot for the collector
	q.tasks = q.tasks[1:]
	return t, true
}

// Len reports the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Cap reports the configured maximum.
func (q *Queue) Cap() int {
	return q.max
}
