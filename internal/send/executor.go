package send

import (
	"context"
	"errors"
	"path"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/goblast/internal/content"
	"github.com/nextlevelbuilder/goblast/internal/driver"
	"github.com/nextlevelbuilder/goblast/internal/queue"
	"github.com/nextlevelbuilder/goblast/internal/recipients"
)

var tracer = otel.Tracer("goblast/send")

// Executor performs one task against the connected driver: normalize,
// registration check, then text or attachment delivery. It runs inside
// the queue's drain loop, so executions are strictly sequential.
type Executor struct {
	store       content.Store
	cache       *recipients.Cache
	countryCode string
}

// NewExecutor wires the per-task pipeline.
func NewExecutor(store content.Store, cache *recipients.Cache, countryCode string) *Executor {
	return &Executor{store: store, cache: cache, countryCode: countryCode}
}

var _ queue.Executor = (*Executor)(nil)

// Execute resolves the task to its single terminal outcome. Attachment
// delivery is at-least-once per recipient: a mid-task failure aborts
// the remaining attachments but already-sent ones are not retracted.
func (e *Executor) Execute(ctx context.Context, drv driver.Driver, task *queue.Task) queue.Outcome {
	ctx, span := tracer.Start(ctx, "task.execute")
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.attachments", len(task.AttachmentRefs)),
	)
	defer span.End()

	out := e.execute(ctx, drv, task)
	span.SetAttributes(attribute.String("task.outcome", string(out.Code)))
	if out.Code != queue.Delivered {
		span.SetStatus(codes.Error, out.Reason)
	}
	return out
}

func (e *Executor) execute(ctx context.Context, drv driver.Driver, task *queue.Task) queue.Outcome {
	address := NormalizeAddress(task.Recipient, e.countryCode)
	if address == "" {
		return queue.Outcome{Code: queue.NotRegistered, Reason: "empty address"}
	}

	registered, err := e.cache.IsRegistered(ctx, drv, address)
	if err != nil {
		return queue.TransportError("registration check: " + err.Error())
	}
	if !registered {
		return queue.Outcome{Code: queue.NotRegistered}
	}

	if len(task.AttachmentRefs) == 0 {
		if err := drv.SendText(ctx, address, task.Text); err != nil {
			return queue.TransportError(err.Error())
		}
		return queue.DeliveredOutcome()
	}

	for i, ref := range task.AttachmentRefs {
		if out, ok := e.sendAttachment(ctx, drv, address, task, i, ref); !ok {
			return out
		}
	}
	return queue.DeliveredOutcome()
}

// sendAttachment stages and sends one attachment. The caption (the
// task's text body) rides on the first attachment only.
func (e *Executor) sendAttachment(ctx context.Context, drv driver.Driver, address string, task *queue.Task, idx int, ref string) (queue.Outcome, bool) {
	body, err := e.store.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return queue.AttachmentError("not found: " + ref), false
		}
		return queue.AttachmentError(err.Error()), false
	}
	defer body.Close()

	mimeType, err := e.store.ContentType(ctx, ref)
	if err != nil {
		if errors.Is(err, content.ErrUnknownType) {
			return queue.AttachmentError("unsupported type: " + ref), false
		}
		return queue.AttachmentError(err.Error()), false
	}

	att := driver.Attachment{
		Data:            body,
		Mime:            mimeType,
		FileName:        path.Base(ref),
		VideoAsDocument: strings.HasPrefix(mimeType, "video/"),
	}
	if idx == 0 {
		att.Caption = task.Text
	}

	if err := drv.SendAttachment(ctx, address, att); err != nil {
		return queue.AttachmentError(err.Error()), false
	}
	return queue.Outcome{}, true
}
