// Package approval provides the in-process wait/signal primitive that lets a
// pipeline executor suspend on a human decision without blocking anything
// else, plus the Coordinator that tracks one Signal per in-flight pipeline.
package approval

import (
	"context"
	"sync"
	"time"
)

// Signal is a single-shot wake-up: Fire closes an internal channel exactly
// once, and any number of Wait/WaitWithReminder calls observe it immediately,
// before or after the close. A closed channel is a permanent latch, which is
// what makes the reminder-timeout shielding below race-free: once the
// reminder fires and the wait falls through to the unconditional select, a
// Fire call that raced with the timer is never lost.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unfired Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire wakes every current and future waiter. Safe to call more than once;
// only the first call has an effect.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Wait blocks until Fire is called or ctx is cancelled.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitWithReminder blocks until Fire is called or ctx is cancelled. If
// reminderAfter is positive and elapses first, onReminder is invoked exactly
// once and the wait continues indefinitely on the same underlying channel —
// the reminder never cancels or replaces the signal, so a decision arriving
// during or after the reminder fire is still observed.
func (s *Signal) WaitWithReminder(ctx context.Context, reminderAfter time.Duration, onReminder func()) error {
	if reminderAfter > 0 {
		timer := time.NewTimer(reminderAfter)
		defer timer.Stop()
		select {
		case <-s.ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if onReminder != nil {
				onReminder()
			}
		}
	}
	return s.Wait(ctx)
}
