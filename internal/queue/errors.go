package queue

import "errors"

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("delivery queue is full")

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("delivery queue is closed")
)
