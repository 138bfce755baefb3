package transport

import (
	"context"
	"time"
)

// Backoff produces a capped exponential delay sequence: base, 2*base,
// 4*base, ... capped at max. The zero value is not usable; construct with
// NewBackoff.
//
// Backoff is not safe for concurrent use. Each transport owns exactly one,
// which is the point: backoff state is per-transport (and per-hub for the
// poller), never shared.
type Backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, next: base}
}

// Next returns the delay to wait before the upcoming retry and advances the
// sequence. The returned delays are monotonically non-decreasing.
func (b *Backoff) Next() time.Duration {
	d := b.next
	doubled := b.next * 2
	if doubled > b.max {
		doubled = b.max
	}
	b.next = doubled
	return d
}

// Reset returns the sequence to its base delay. Call after a success.
func (b *Backoff) Reset() {
	b.next = b.base
}

// Current returns the delay the next call to Next will yield, without
// advancing.
func (b *Backoff) Current() time.Duration {
	return b.next
}

// Sleep waits for the next backoff delay or until the context is cancelled,
// whichever comes first. Returns the context error on cancellation.
func (b *Backoff) Sleep(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
