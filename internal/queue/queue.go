// Package queue implements the ordered, rate-limited, single-consumer
// delivery pipeline. Tasks are executed strictly in enqueue order with
// at most one in flight; pacing between executions is a pluggable
// policy. The queue holds work while the session is down and is drained
// with transport errors on a hard disconnect so tasks never hang
// forever.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/goblast/internal/driver"
)

// Executor runs one dequeued task against the current driver and
// returns its terminal outcome. Implemented by the send package.
type Executor interface {
	Execute(ctx context.Context, drv driver.Driver, task *Task) Outcome
}

// DeliveryQueue is the FIFO pipeline between the bulk coordinator and
// the connection driver.
type DeliveryQueue struct {
	capacity int
	pacer    Pacer
	exec     Executor

	mu     sync.Mutex
	tasks  []*Task
	drv    driver.Driver // nil while the session is not connected
	active bool          // a task is executing right now
	closed bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the queue and starts its drain loop. The loop idles until
// Resume provides a driver. capacity <= 0 means unbounded.
func New(capacity int, pacer Pacer, exec Executor) *DeliveryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &DeliveryQueue{
		capacity: capacity,
		pacer:    pacer,
		exec:     exec,
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go q.drainLoop(ctx)
	return q
}

// Enqueue appends a task to the tail. Never blocks; safe for concurrent
// callers. Returns ErrQueueFull at capacity and ErrQueueClosed after
// Close (the task is untouched in both cases).
func (q *DeliveryQueue) Enqueue(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.tasks) >= q.capacity {
		return ErrQueueFull
	}
	q.tasks = append(q.tasks, task)
	q.kick()
	return nil
}

// Resume attaches the connected driver and restarts draining. Called by
// the session manager on the ready transition.
func (q *DeliveryQueue) Resume(drv driver.Driver) {
	q.mu.Lock()
	q.drv = drv
	q.kick()
	q.mu.Unlock()
	slog.Debug("delivery queue resumed", "pending", q.Len())
}

// Pause stops issuing new executions. A task already in flight runs to
// completion; queued tasks stay queued.
func (q *DeliveryQueue) Pause() {
	q.mu.Lock()
	q.drv = nil
	q.mu.Unlock()
}

// DrainAll resolves every queued (not in-flight) task with the given
// outcome and empties the queue. Used on hard disconnects so callers
// are not left waiting across a long outage.
func (q *DeliveryQueue) DrainAll(out Outcome) int {
	q.mu.Lock()
	drained := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, t := range drained {
		t.resolve(out)
	}
	if len(drained) > 0 {
		slog.Info("delivery queue drained", "tasks", len(drained), "outcome", out.Code)
	}
	return len(drained)
}

// Len returns the number of queued tasks (excluding any in flight).
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// InFlight reports whether a task is currently executing.
func (q *DeliveryQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Close stops the drain loop. Queued tasks are left unresolved; callers
// shutting down should DrainAll first.
func (q *DeliveryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	<-q.done
}

// kick wakes the drain loop. Must be called with q.mu held.
func (q *DeliveryQueue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DeliveryQueue) drainLoop(ctx context.Context) {
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

// drain executes tasks head-first until the queue empties, the driver
// detaches, or the loop is cancelled. Single consumer: this is the only
// place tasks are popped and executed.
func (q *DeliveryQueue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.closed || q.drv == nil || len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.active = true
		drv := q.drv
		q.mu.Unlock()

		if err := q.pacer.Wait(ctx); err != nil {
			// Shutdown mid-wait: the popped task still gets a terminal
			// outcome instead of hanging.
			task.resolve(TransportError("queue shut down"))
			q.mu.Lock()
			q.active = false
			q.mu.Unlock()
			return
		}

		out := q.exec.Execute(ctx, drv, task)
		task.resolve(out)

		q.mu.Lock()
		q.active = false
		q.mu.Unlock()
	}
}
