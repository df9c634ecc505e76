package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/metrics"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker: pool closed")

// WorkFunc is the opaque unit of work. It receives the pool's own context,
// not the request's: admitted work is never preempted by an impatient
// caller, only by pool shutdown.
type WorkFunc func(ctx context.Context, identity, payload string) (string, error)

// Pool executes tasks on a fixed number of slots. Tasks arrive two ways:
// TryImmediate claims a slot on the spot or reports failure instantly, and
// Submit queues the task for the drain loop. Slot accounting is a channel
// semaphore, so claim and release are single indivisible operations.
type Pool struct {
	concurrency int
	queue       *Queue
	slots       chan struct{}
	work        WorkFunc
	clock       clock.Clock
	collector   *metrics.Collector

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewPool builds a pool with the given fixed concurrency and queue bound.
func NewPool(concurrency, maxQueueSize int, work WorkFunc, c clock.Clock, m *metrics.Collector) *Pool {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		concurrency: concurrency,
		queue:       NewQueue(maxQueueSize),
		slots:       make(chan struct{}, concurrency),
		work:        work,
		clock:       c,
		collector:   m,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
}

// TryImmediate claims a free slot for t and starts it, or reports false
// without waiting. It never touches the queue; direct dispatch either
// runs now or not at all.
func (p *Pool) TryImmediate(t *Task) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	p.start(t)
	return true
}

// Submit queues t for the drain loop. The only failure modes are a full
// queue and a closed pool; a queued task is guaranteed to be picked up by
// a worker eventually.
func (p *Pool) Submit(t *Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.queue.Enqueue(t); err != nil {
		return err
	}
	p.drain()
	return nil
}

// drain moves queued tasks onto free slots until one side runs dry.
// After a failed dequeue the claimed slot is handed back and the queue is
// checked once more: an enqueue that landed between the two steps would
// otherwise strand a task with a slot free.
func (p *Pool) drain() {
	for {
		select {
		case p.slots <- struct{}{}:
		default:
			return // pool full; a release will drain again
		}

		t, ok := p.queue.Dequeue()
		if !ok {
			<-p.slots
			if p.queue.Len() == 0 {
				return
			}
			continue
		}
		p.start(t)
	}
}

// start runs t on an already-claimed slot.
func (p *Pool) start(t *Task) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		result, err := p.work(p.baseCtx, t.Identity, t.Payload)
		elapsed := p.clock.Since(t.ArrivedAt)

		out := Outcome{Result: result, Err: err, Elapsed: elapsed}
		if t.Timeout > 0 && elapsed >= t.Timeout {
			// Too late to deliver; the caller sees a timeout even if
			// nobody is racing a timer anymore.
			out = Outcome{TimedOut: true, Elapsed: elapsed}
		}
		t.settle(out)

		// Release the slot before recording and draining; draining on a
		// still-held slot would under-admit, the reverse over-admits.
		<-p.slots
		p.collector.RecordCompletion(elapsed)
		p.drain()
	}()
}

// ActiveWorkers reports the number of claimed slots.
func (p *Pool) ActiveWorkers() int {
	return len(p.slots)
}

// QueueLength reports the number of waiting tasks.
func (p *Pool) QueueLength() int {
	return p.queue.Len()
}

// Concurrency reports the fixed slot count.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Metrics assembles the status snapshot from the live gauges and the
// collector's totals.
func (p *Pool) Metrics() metrics.Snapshot {
	return p.collector.Snapshot(p.ActiveWorkers(), p.queue.Len(), p.concurrency, p.queue.Cap())
}

// Close stops intake, cancels the work context, and waits for running
// tasks until ctx expires. Queued tasks that never reached a slot are
// dropped; queued work does not survive shutdown.
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
