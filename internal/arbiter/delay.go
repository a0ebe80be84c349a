package arbiter

import (
	"sync"
	"time"
)

// delayedActivation schedules a single deferred (re)activation after a
// screen-on event. Each schedule carries an epoch marker (the wall-clock time
// it was scheduled) so a task that fires after being superseded by a newer
// schedule recognizes staleness and takes no action.
//
// Scheduling and cancellation happen on the engine goroutine; the timer
// callback runs off-loop, so the mutex guards the shared fields.
type delayedActivation struct {
	now  func() time.Time
	fire func(epoch time.Time)

	mu    sync.Mutex
	timer *time.Timer
	epoch time.Time // zero while nothing is pending
	delay time.Duration
}

func newDelayedActivation(now func() time.Time, fire func(epoch time.Time)) *delayedActivation {
	return &delayedActivation{now: now, fire: fire}
}

// Schedule cancels any pending delay and schedules a new one, returning its
// epoch marker.
func (d *delayedActivation) Schedule(delay time.Duration) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	epoch := d.now()
	d.epoch = epoch
	d.delay = delay
	d.timer = time.AfterFunc(delay, func() {
		d.fire(epoch)
	})

	return epoch
}

// Cancel stops any pending delay. It is immediate and idempotent; the return
// value reports whether anything was actually cancelled.
func (d *delayedActivation) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.epoch.IsZero() {
		return false
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.epoch = time.Time{}
	d.delay = 0
	return true
}

// Current reports whether the given epoch marker still identifies the live
// schedule. A fired task whose epoch is stale must be discarded.
func (d *delayedActivation) Current(epoch time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.epoch.IsZero() && d.epoch.Equal(epoch)
}

// Pending reports whether a delay is currently scheduled.
func (d *delayedActivation) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.epoch.IsZero()
}

// Remaining returns max(0, delay-elapsed). Observer display only, never a
// scheduling input.
func (d *delayedActivation) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.epoch.IsZero() {
		return 0
	}
	left := d.delay - d.now().Sub(d.epoch)
	if left < 0 {
		return 0
	}
	return left
}
