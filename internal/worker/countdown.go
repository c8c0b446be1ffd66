package worker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimerStarted is returned when Start is called on a timer that already ran.
	ErrTimerStarted = errors.New("countdown already started")
	// ErrTimerStopped is returned when Start is called after Stop.
	ErrTimerStopped = errors.New("countdown already stopped")
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// CountdownTimer counts whole seconds down to zero. It knows nothing about
// exams: onTick receives the new remaining value, onExpire fires exactly once
// when zero is reached, and the timer stops itself.
type CountdownTimer struct {
	mu        sync.Mutex
	scheduler Scheduler
	remaining int
	started   bool
	stopped   bool
	cancel    func()
	onTick    func(remaining int)
	onExpire  func()
}

// NewCountdownTimer creates a timer driven by the given scheduler.
func NewCountdownTimer(scheduler Scheduler) *CountdownTimer {
	return &CountdownTimer{scheduler: scheduler}
}

// Start begins counting down from initialSeconds. A non-positive start value
// expires immediately. Callbacks run outside the timer's lock.
func (t *CountdownTimer) Start(initialSeconds int, onTick func(remaining int), onExpire func()) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrTimerStarted
	}
	if t.stopped {
		t.mu.Unlock()
		return ErrTimerStopped
	}
	t.started = true
	t.onTick = onTick
	t.onExpire = onExpire

	if initialSeconds <= 0 {
		t.remaining = 0
		t.stopped = true
		t.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return nil
	}

	t.remaining = initialSeconds
	t.cancel = t.scheduler.Schedule(t.tick, TickInterval)
	t.mu.Unlock()
	return nil
}

func (t *CountdownTimer) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.remaining--
	remaining := t.remaining
	expired := remaining == 0

	var cancel func()
	if expired {
		t.stopped = true
		cancel = t.cancel
	}
	onTick, onExpire := t.onTick, t.onExpire
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
}

// Stop halts the countdown. Safe to call repeatedly, before Start or after expiry.
func (t *CountdownTimer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Remaining returns the seconds left.
func (t *CountdownTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether the timer is still ticking.
func (t *CountdownTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.stopped
}
