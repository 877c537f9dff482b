// Package send expands bulk requests into delivery tasks and runs each
// task against the connection driver. The coordinator fans a batch into
// the queue and aggregates per-recipient outcomes; the executor is the
// queue's per-task pipeline.
package send

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/goblast/internal/queue"
	"github.com/nextlevelbuilder/goblast/internal/session"
)

var (
	// ErrInvalidBatch rejects a malformed batch before any task is
	// created: recipients must be non-empty and at least one of text or
	// attachments must be present.
	ErrInvalidBatch = errors.New("invalid batch: need recipients and text or attachments")

	// ErrNotConnected means the session was not connected within the
	// configured grace period.
	ErrNotConnected = errors.New("session not connected")
)

// Request is one bulk-send call. Text and attachments are shared by all
// recipients: a broadcast, not per-recipient customization.
type Request struct {
	Recipients     []string `json:"recipients"`
	Text           string   `json:"text,omitempty"`
	AttachmentRefs []string `json:"attachments,omitempty"`
}

// Report aggregates the batch: every recipient lands in exactly one of
// the two buckets, keyed by normalized address.
type Report struct {
	Delivered []string          `json:"delivered"`
	Failed    map[string]string `json:"failed"`
}

// Config tunes coordinator policy.
type Config struct {
	// DefaultCountryCode is prepended to recipients that lack it.
	DefaultCountryCode string

	// ConnectGrace is how long SubmitBatch waits for the session to
	// become connected before failing fast. Zero means fail fast.
	ConnectGrace time.Duration
}

// Coordinator is the boundary operation behind POST /send.
type Coordinator struct {
	queue   *queue.DeliveryQueue
	session *session.Manager
	cfg     Config
}

// NewCoordinator wires the batch boundary.
func NewCoordinator(q *queue.DeliveryQueue, s *session.Manager, cfg Config) *Coordinator {
	return &Coordinator{queue: q, session: s, cfg: cfg}
}

// SubmitBatch validates, expands one task per recipient, enqueues them
// all in submission order, and waits for every outcome. Per-recipient
// failures never abort the batch; tasks flushed by a mid-batch hard
// disconnect resolve as transport errors instead of hanging.
func (c *Coordinator) SubmitBatch(ctx context.Context, req Request) (*Report, error) {
	ctx, span := tracer.Start(ctx, "batch.submit")
	span.SetAttributes(attribute.Int("batch.recipients", len(req.Recipients)))
	defer span.End()

	if len(req.Recipients) == 0 || (req.Text == "" && len(req.AttachmentRefs) == 0) {
		return nil, ErrInvalidBatch
	}

	if err := c.awaitConnected(ctx); err != nil {
		return nil, err
	}

	report := &Report{Failed: make(map[string]string)}

	type pending struct {
		address string
		task    *queue.Task
	}
	tasks := make([]pending, 0, len(req.Recipients))

	for _, raw := range req.Recipients {
		address := NormalizeAddress(raw, c.cfg.DefaultCountryCode)
		task := queue.NewTask(raw, req.Text, req.AttachmentRefs)
		if err := c.queue.Enqueue(task); err != nil {
			report.Failed[address] = err.Error()
			continue
		}
		tasks = append(tasks, pending{address: address, task: task})
	}

	slog.Info("batch submitted",
		"recipients", len(req.Recipients),
		"enqueued", len(tasks),
		"attachments", len(req.AttachmentRefs),
	)

	// Outcome channels are buffered and fulfilled independently, so
	// collecting them in order still lets execution and resolution
	// proceed concurrently across the whole batch.
	for _, p := range tasks {
		select {
		case out := <-p.task.Done():
			if out.Code == queue.Delivered {
				report.Delivered = append(report.Delivered, p.address)
			} else {
				report.Failed[p.address] = failureReason(out)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	span.SetAttributes(
		attribute.Int("batch.delivered", len(report.Delivered)),
		attribute.Int("batch.failed", len(report.Failed)),
	)
	return report, nil
}

// awaitConnected applies the not-connected policy: poll for the session
// up to the grace period, then fail fast.
func (c *Coordinator) awaitConnected(ctx context.Context) error {
	if c.session.Connected() {
		return nil
	}
	if c.cfg.ConnectGrace <= 0 {
		return ErrNotConnected
	}

	deadline := time.NewTimer(c.cfg.ConnectGrace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if c.session.Connected() {
				return nil
			}
		case <-deadline.C:
			return ErrNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func failureReason(out queue.Outcome) string {
	if out.Reason != "" {
		return out.Reason
	}
	return string(out.Code)
}
