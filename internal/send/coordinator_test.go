package send

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goblast/internal/driver"
	"github.com/nextlevelbuilder/goblast/internal/queue"
	"github.com/nextlevelbuilder/goblast/internal/recipients"
	"github.com/nextlevelbuilder/goblast/internal/session"
)

// fakeDriver scripts registration lookups and records sends.
type fakeDriver struct {
	events    chan driver.Event
	closeOnce sync.Once

	mu         sync.Mutex
	registered map[string]bool
	sentText   []string // addresses that received a text
}

func newFakeDriver(registered map[string]bool) *fakeDriver {
	return &fakeDriver{
		events:     make(chan driver.Event, 8),
		registered: registered,
	}
}

func (d *fakeDriver) Connect(context.Context) error { return nil }

func (d *fakeDriver) Disconnect() {
	d.closeOnce.Do(func() { close(d.events) })
}

func (d *fakeDriver) Events() <-chan driver.Event { return d.events }

func (d *fakeDriver) IsRegistered(_ context.Context, address string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registered == nil {
		return true, nil
	}
	return d.registered[address], nil
}

func (d *fakeDriver) SendText(_ context.Context, address, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentText = append(d.sentText, address)
	return nil
}

func (d *fakeDriver) SendAttachment(context.Context, string, driver.Attachment) error {
	return nil
}

func (d *fakeDriver) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sentText...)
}

func (d *fakeDriver) goOnline() {
	d.events <- driver.Event{Kind: driver.EventAuthenticated, At: time.Now()}
	d.events <- driver.Event{Kind: driver.EventReady, At: time.Now()}
}

type nopCreds struct{}

func (nopCreds) Wipe(context.Context) error { return nil }

// connectSession brings a manager online around the given driver.
func connectSession(t *testing.T, q *queue.DeliveryQueue, drv *fakeDriver) *session.Manager {
	t.Helper()
	m := session.NewManager(
		func(context.Context) (driver.Driver, error) { return drv, nil },
		nopCreds{}, q, session.DefaultBackoff(),
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	drv.goOnline()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Connected() {
		t.Fatal("session never connected")
	}
	t.Cleanup(m.Stop)
	return m
}

func TestCoordinator_ValidationRejects(t *testing.T) {
	drv := newFakeDriver(nil)
	exec := NewExecutor(nil, recipients.NewCache(0, 0), "20")
	q := queue.New(0, queue.NopPacer{}, exec)
	defer q.Close()
	m := connectSession(t, q, drv)
	c := NewCoordinator(q, m, Config{DefaultCountryCode: "20"})

	cases := []Request{
		{Recipients: nil, Text: "hi"},
		{Recipients: []string{"0100000001"}},
	}
	for i, req := range cases {
		if _, err := c.SubmitBatch(context.Background(), req); !errors.Is(err, ErrInvalidBatch) {
			t.Errorf("case %d: err = %v, want ErrInvalidBatch", i, err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue len = %d, want 0 (no tasks created for invalid batches)", q.Len())
	}
}

func TestCoordinator_FailFastWhenDisconnected(t *testing.T) {
	exec := NewExecutor(nil, recipients.NewCache(0, 0), "20")
	q := queue.New(0, queue.NopPacer{}, exec)
	defer q.Close()
	m := session.NewManager(
		func(context.Context) (driver.Driver, error) { return newFakeDriver(nil), nil },
		nopCreds{}, q, session.DefaultBackoff(),
	)

	c := NewCoordinator(q, m, Config{DefaultCountryCode: "20"})
	_, err := c.SubmitBatch(context.Background(), Request{Recipients: []string{"0100000001"}, Text: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestCoordinator_GraceWaitsForConnection(t *testing.T) {
	drv := newFakeDriver(nil)
	exec := NewExecutor(nil, recipients.NewCache(0, 0), "20")
	q := queue.New(0, queue.NopPacer{}, exec)
	defer q.Close()

	m := session.NewManager(
		func(context.Context) (driver.Driver, error) { return drv, nil },
		nopCreds{}, q, session.DefaultBackoff(),
	)
	t.Cleanup(m.Stop)

	go func() {
		time.Sleep(100 * time.Millisecond)
		m.Start(context.Background())
		drv.goOnline()
	}()

	c := NewCoordinator(q, m, Config{DefaultCountryCode: "20", ConnectGrace: 2 * time.Second})
	report, err := c.SubmitBatch(context.Background(), Request{Recipients: []string{"0100000001"}, Text: "hi"})
	if err != nil {
		t.Fatalf("submit within grace: %v", err)
	}
	if len(report.Delivered) != 1 {
		t.Errorf("delivered = %v, want one entry", report.Delivered)
	}
}

func TestCoordinator_BatchReport(t *testing.T) {
	drv := newFakeDriver(map[string]bool{
		"20100000001": true,
		"20100000002": false,
	})
	exec := NewExecutor(nil, recipients.NewCache(0, 0), "20")
	q := queue.New(0, queue.NopPacer{}, exec)
	defer q.Close()
	m := connectSession(t, q, drv)
	c := NewCoordinator(q, m, Config{DefaultCountryCode: "20"})

	report, err := c.SubmitBatch(context.Background(), Request{
		Recipients: []string{"0100000001", "100000002"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(report.Delivered) != 1 || report.Delivered[0] != "20100000001" {
		t.Errorf("delivered = %v, want [20100000001]", report.Delivered)
	}
	if reason := report.Failed["20100000002"]; reason != string(queue.NotRegistered) {
		t.Errorf("failed[20100000002] = %q, want %q", reason, queue.NotRegistered)
	}

	// The unregistered recipient must not receive anything.
	texts := drv.texts()
	if len(texts) != 1 || texts[0] != "20100000001" {
		t.Errorf("texts sent to %v, want only 20100000001", texts)
	}
}

func TestCoordinator_EveryRecipientAccountedFor(t *testing.T) {
	drv := newFakeDriver(map[string]bool{
		"20100000001": true,
		"20100000002": false,
		"20100000003": true,
		"20100000004": false,
		"20100000005": true,
	})
	exec := NewExecutor(nil, recipients.NewCache(0, 0), "20")
	q := queue.New(0, queue.NopPacer{}, exec)
	defer q.Close()
	m := connectSession(t, q, drv)
	c := NewCoordinator(q, m, Config{DefaultCountryCode: "20"})

	recipientsIn := []string{"100000001", "100000002", "100000003", "100000004", "100000005"}
	report, err := c.SubmitBatch(context.Background(), Request{Recipients: recipientsIn, Text: "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := len(report.Delivered) + len(report.Failed); got != len(recipientsIn) {
		t.Errorf("accounted recipients = %d, want %d", got, len(recipientsIn))
	}
	if len(report.Delivered) != 3 {
		t.Errorf("delivered = %v, want 3 entries", report.Delivered)
	}
}

// blockGate lets the test hold the first execution while more tasks queue.
type blockGate struct {
	inner   queue.Executor
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *blockGate) Execute(ctx context.Context, drv driver.Driver, task *queue.Task) queue.Outcome {
	g.once.Do(func() {
		g.started <- struct{}{}
		<-g.release
	})
	return g.inner.Execute(ctx, drv, task)
}

func TestCoordinator_MidBatchDisconnect(t *testing.T) {
	drv := newFakeDriver(nil)
	gate := &blockGate{
		inner:   NewExecutor(nil, recipients.NewCache(0, 0), "20"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	q := queue.New(0, queue.NopPacer{}, gate)
	defer q.Close()
	m := connectSession(t, q, drv)
	c := NewCoordinator(q, m, Config{DefaultCountryCode: "20"})

	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := c.SubmitBatch(context.Background(), Request{
			Recipients: []string{"100000001", "100000002", "100000003"},
			Text:       "hi",
		})
		done <- result{report, err}
	}()

	<-gate.started
	drv.events <- driver.Event{Kind: driver.EventDisconnected, Reason: "stream error", At: time.Now()}

	// Give the manager time to flush the queued tasks, then let the
	// in-flight task finish.
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(gate.release)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("submit: %v", res.err)
		}
		if got := len(res.report.Delivered) + len(res.report.Failed); got != 3 {
			t.Fatalf("accounted recipients = %d, want 3", got)
		}
		if len(res.report.Failed) < 2 {
			t.Errorf("failed = %v, want the two flushed tasks as transport failures", res.report.Failed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch never completed after mid-batch disconnect")
	}
}
