// Package pool provides pooled timers and the context-aware waits built on them.
package pool

import (
	"context"
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer firing after d, reusing a pooled one when available.
// Return it with PutTimer once it is no longer read from.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		t.Reset(d)

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff yields exponentially growing delays between Initial and Max.
// The zero value waits 50ms, doubling up to one second.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  int

	next time.Duration
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = 50 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = time.Second
	}
	if b.Factor < 2 {
		b.Factor = 2
	}

	if b.next == 0 {
		b.next = b.Initial
	}
	d := b.next

	b.next *= time.Duration(b.Factor)
	if b.next > b.Max {
		b.next = b.Max
	}
	if d > b.Max {
		d = b.Max
	}

	return d
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() { b.next = 0 }

// Wait sleeps for the next delay. It returns ctx.Err() if ctx is done first.
func (b *Backoff) Wait(ctx context.Context) error {
	return Sleep(ctx, b.Next())
}
