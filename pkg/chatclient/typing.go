package chatclient

import (
	"sync"
	"time"
)

// DefaultTypingTimeout is how long after the last keystroke stop_typing is sent,
// and how long a peer typing signal stays up without a stop_typing.
const DefaultTypingTimeout = 2000 * time.Millisecond

// debouncer runs at most one pending callback. Re-arming replaces the pending
// callback; a callback whose timer was superseded never runs.
type debouncer struct {
	d time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func newDebouncer(d time.Duration) *debouncer {
	if d <= 0 {
		d = DefaultTypingTimeout
	}
	return &debouncer{d: d}
}

// Arm schedules fn after the debounce duration, cancelling any pending callback.
func (b *debouncer) Arm(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.d, func() {
		b.mu.Lock()
		if b.gen != gen {
			b.mu.Unlock()
			return
		}
		b.timer = nil
		b.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback and reports whether one was pending.
func (b *debouncer) Cancel() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if b.timer == nil {
		return false
	}
	b.timer.Stop()
	b.timer = nil
	return true
}

// Pending reports whether a callback is scheduled.
func (b *debouncer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}
