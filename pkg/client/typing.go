package client

import (
	"sync"
	"time"
)

// DefaultTypingTimeout is the idle period after the last keystroke before typing stops
const DefaultTypingTimeout = 2000 * time.Millisecond

// Timer is a pending deferred callback
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc in production.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TypingDebouncer turns raw keystrokes into discrete typing start/stop signals
// for one input context. It is Idle or Announcing; at most one timer is pending.
type TypingDebouncer struct {
	mu         sync.Mutex
	emit       func(isTyping bool)
	timeout    time.Duration
	after      AfterFunc
	announcing bool
	timer      Timer
	generation uint64 // invalidates timers that fire after being replaced
	closed     bool
}

// DebouncerOption configures a TypingDebouncer
type DebouncerOption func(*TypingDebouncer)

// WithAfterFunc replaces the timer source
func WithAfterFunc(after AfterFunc) DebouncerOption {
	return func(d *TypingDebouncer) {
		if after != nil {
			d.after = after
		}
	}
}

// NewTypingDebouncer creates a debouncer that reports transitions through emit.
// emit is called with the debouncer lock held and must not call back into it.
func NewTypingDebouncer(emit func(isTyping bool), timeout time.Duration, opts ...DebouncerOption) *TypingDebouncer {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	d := &TypingDebouncer{
		emit:    emit,
		timeout: timeout,
		after:   realAfterFunc,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Keystroke records input activity. The first keystroke after idle announces typing;
// later ones only push the stop deadline back.
func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	starting := !d.announcing
	d.announcing = true
	d.arm()

	if starting {
		d.emit(true)
	}
}

// Submit ends typing immediately, as when the message is sent
func (d *TypingDebouncer) Submit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.announcing {
		return
	}
	d.disarm()
	d.announcing = false
	d.emit(false)
}

// Close cancels any pending timer without emitting
func (d *TypingDebouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disarm()
	d.announcing = false
	d.closed = true
}

// Announcing reports whether a typing start has been sent without a matching stop
func (d *TypingDebouncer) Announcing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.announcing
}

// arm replaces the pending timer. Caller holds mu.
func (d *TypingDebouncer) arm() {
	d.disarm()
	gen := d.generation
	d.timer = d.after(d.timeout, func() { d.expire(gen) })
}

// disarm stops the pending timer. Caller holds mu.
func (d *TypingDebouncer) disarm() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
}

func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.generation || !d.announcing {
		return
	}
	d.timer = nil
	d.announcing = false
	d.emit(false)
}
