package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive task executions. The drain loop consults it
// before every execution; implementations decide the policy.
type Pacer interface {
	Wait(ctx context.Context) error
}

// IntervalPacer enforces a fixed minimum interval between executions
// using a token bucket of size one. The interval is a tunable, not a
// correctness property, and can be changed while the queue is running
// (config hot reload).
type IntervalPacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewIntervalPacer creates a pacer with the given inter-task interval.
// A non-positive interval disables pacing.
func NewIntervalPacer(interval time.Duration) *IntervalPacer {
	return &IntervalPacer{limiter: rate.NewLimiter(limitFor(interval), 1)}
}

// Wait blocks until the next execution slot or ctx cancellation.
func (p *IntervalPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	l := p.limiter
	p.mu.Unlock()
	return l.Wait(ctx)
}

// SetInterval updates the pacing interval for subsequent executions.
func (p *IntervalPacer) SetInterval(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter.SetLimit(limitFor(interval))
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// NopPacer never waits. Used in tests.
type NopPacer struct{}

func (NopPacer) Wait(context.Context) error { return nil }
