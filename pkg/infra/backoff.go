package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff produces exponential waits between min and max, jittered by ±20% unless fixed
type Backoff struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
	current    time.Duration
	attempts   int
}

// NewBackoff is used for broker reconnects
func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	return &Backoff{minDelay: min, maxDelay: max, multiplier: mult, jitter: true, current: min}
}

// NewFixedBackoff returns a backoff that always waits d. A zero d never waits
func NewFixedBackoff(d time.Duration) *Backoff {
	return &Backoff{minDelay: d, maxDelay: d, multiplier: 1, current: d}
}

// Next records an attempt and returns how long to wait before the following one
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	wait := b.current
	if b.jitter {
		spread := rand.Float64()*0.4 - 0.2
		wait = max(b.current+time.Duration(spread*float64(b.current)), b.minDelay)
	}
	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)
	return wait
}

// Wait sleeps for the next delay. It returns ctx.Err() if ctx ends first
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.Next()
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
