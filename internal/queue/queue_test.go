package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goblast/internal/driver"
)

// stubDriver satisfies driver.Driver for queue tests; the queue only
// passes it through to the executor.
type stubDriver struct {
	events chan driver.Event
}

func newStubDriver() *stubDriver {
	return &stubDriver{events: make(chan driver.Event)}
}

func (d *stubDriver) Connect(context.Context) error  { return nil }
func (d *stubDriver) Disconnect()                    {}
func (d *stubDriver) Events() <-chan driver.Event    { return d.events }
func (d *stubDriver) IsRegistered(context.Context, string) (bool, error) {
	return true, nil
}
func (d *stubDriver) SendText(context.Context, string, string) error { return nil }
func (d *stubDriver) SendAttachment(context.Context, string, driver.Attachment) error {
	return nil
}

// recordingExecutor records execution order and tracks overlap.
type recordingExecutor struct {
	mu        sync.Mutex
	order     []string
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
	outcome   Outcome
}

func (e *recordingExecutor) Execute(ctx context.Context, drv driver.Driver, task *Task) Outcome {
	cur := e.active.Add(1)
	for {
		old := e.maxActive.Load()
		if cur <= old || e.maxActive.CompareAndSwap(old, cur) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.order = append(e.order, task.Recipient)
	e.mu.Unlock()
	e.active.Add(-1)
	return e.outcome
}

func TestQueue_FIFOSingleConsumer(t *testing.T) {
	exec := &recordingExecutor{delay: 10 * time.Millisecond, outcome: DeliveredOutcome()}
	q := New(0, NopPacer{}, exec)
	defer q.Close()

	tasks := make([]*Task, 5)
	for i, r := range []string{"a", "b", "c", "d", "e"} {
		tasks[i] = NewTask(r, "hi", nil)
		if err := q.Enqueue(tasks[i]); err != nil {
			t.Fatalf("enqueue %q: %v", r, err)
		}
	}

	q.Resume(newStubDriver())

	for i, task := range tasks {
		select {
		case out := <-task.Done():
			if out.Code != Delivered {
				t.Errorf("task %d outcome = %s, want delivered", i, out.Code)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d never resolved", i)
		}
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	want := []string{"a", "b", "c", "d", "e"}
	for i, r := range want {
		if exec.order[i] != r {
			t.Fatalf("execution order = %v, want %v", exec.order, want)
		}
	}
	if m := exec.maxActive.Load(); m > 1 {
		t.Errorf("max concurrent executions = %d, want 1", m)
	}
}

func TestQueue_CapacityLimit(t *testing.T) {
	q := New(2, NopPacer{}, &recordingExecutor{outcome: DeliveredOutcome()})
	defer q.Close()

	if err := q.Enqueue(NewTask("a", "hi", nil)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(NewTask("b", "hi", nil)); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := q.Enqueue(NewTask("c", "hi", nil)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third enqueue err = %v, want ErrQueueFull", err)
	}
	if q.Len() != 2 {
		t.Errorf("len = %d, want 2", q.Len())
	}
}

func TestQueue_DrainAll(t *testing.T) {
	q := New(0, NopPacer{}, &recordingExecutor{outcome: DeliveredOutcome()})
	defer q.Close()

	tasks := make([]*Task, 3)
	for i := range tasks {
		tasks[i] = NewTask("r", "hi", nil)
		if err := q.Enqueue(tasks[i]); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// No driver attached, so nothing is in flight.
	n := q.DrainAll(TransportError("disconnected"))
	if n != 3 {
		t.Errorf("drained = %d, want 3", n)
	}
	if q.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", q.Len())
	}

	for i, task := range tasks {
		select {
		case out := <-task.Done():
			if out.Code != TransportFailed {
				t.Errorf("task %d code = %s, want transport-failed", i, out.Code)
			}
			if out.Reason != "disconnected" {
				t.Errorf("task %d reason = %q, want %q", i, out.Reason, "disconnected")
			}
		default:
			t.Fatalf("task %d not resolved by drain", i)
		}
	}
}

func TestQueue_PauseHoldsWork(t *testing.T) {
	exec := &recordingExecutor{outcome: DeliveredOutcome()}
	q := New(0, NopPacer{}, exec)
	defer q.Close()

	drv := newStubDriver()
	q.Resume(drv)

	first := NewTask("a", "hi", nil)
	q.Enqueue(first)
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task never resolved while resumed")
	}

	q.Pause()
	held := NewTask("b", "hi", nil)
	q.Enqueue(held)

	time.Sleep(50 * time.Millisecond)
	if q.Len() != 1 {
		t.Fatalf("len while paused = %d, want 1", q.Len())
	}
	select {
	case <-held.Done():
		t.Fatal("task resolved while paused")
	default:
	}

	q.Resume(drv)
	select {
	case out := <-held.Done():
		if out.Code != Delivered {
			t.Errorf("outcome = %s, want delivered", out.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never resolved after resume")
	}
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(0, NopPacer{}, &recordingExecutor{outcome: DeliveredOutcome()})
	q.Close()

	if err := q.Enqueue(NewTask("a", "hi", nil)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestIntervalPacer_SpacesExecutions(t *testing.T) {
	p := NewIntervalPacer(50 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	// First wait is immediate; the next two are spaced.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 waits took %v, want >= ~100ms", elapsed)
	}
}

func TestIntervalPacer_SetInterval(t *testing.T) {
	p := NewIntervalPacer(time.Hour)
	p.SetInterval(0) // unlimited

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("wait after SetInterval(0): %v", err)
		}
	}
}
