package queue

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeCode classifies the terminal result of one task.
type OutcomeCode string

const (
	// Delivered means every part of the task reached the recipient.
	Delivered OutcomeCode = "delivered"

	// NotRegistered means the recipient has no account on the network;
	// nothing was sent.
	NotRegistered OutcomeCode = "not-registered"

	// AttachmentFailed means an attachment could not be staged or sent.
	// Earlier attachments of the same task may already have been
	// delivered; they are not retracted.
	AttachmentFailed OutcomeCode = "attachment-failed"

	// TransportFailed means the connection layer failed, including
	// tasks abandoned when the session hard-disconnected.
	TransportFailed OutcomeCode = "transport-failed"
)

// Outcome is the single terminal result of a task.
type Outcome struct {
	Code   OutcomeCode
	Reason string
}

// DeliveredOutcome is the success outcome.
func DeliveredOutcome() Outcome { return Outcome{Code: Delivered} }

// TransportError builds a transport failure outcome.
func TransportError(reason string) Outcome {
	return Outcome{Code: TransportFailed, Reason: reason}
}

// AttachmentError builds an attachment failure outcome.
func AttachmentError(reason string) Outcome {
	return Outcome{Code: AttachmentFailed, Reason: reason}
}

// Task is one recipient's message within a batch. It is created by the
// coordinator, owned by the queue from enqueue to dequeue, and resolved
// exactly once through its outcome channel.
type Task struct {
	ID             string
	Recipient      string // raw caller input, normalized at execution time
	Text           string
	AttachmentRefs []string
	EnqueuedAt     time.Time

	done chan Outcome
}

// NewTask creates a task with a fresh correlation id. Retries are always
// fresh tasks; a task is never re-enqueued.
func NewTask(recipient, text string, attachmentRefs []string) *Task {
	return &Task{
		ID:             uuid.NewString(),
		Recipient:      recipient,
		Text:           text,
		AttachmentRefs: attachmentRefs,
		EnqueuedAt:     time.Now(),
		done:           make(chan Outcome, 1),
	}
}

// Done returns the single-shot outcome channel. It receives exactly one
// value and is then closed.
func (t *Task) Done() <-chan Outcome { return t.done }

// resolve fulfills the outcome channel. Must be called exactly once.
func (t *Task) resolve(out Outcome) {
	t.done <- out
	close(t.done)
}
