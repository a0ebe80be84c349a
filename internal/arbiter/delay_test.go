package arbiter

import (
	"sync"
	"testing"
	"time"
)

type firedLog struct {
	mu     sync.Mutex
	epochs []time.Time
}

func (l *firedLog) record(epoch time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epochs = append(l.epochs, epoch)
}

func (l *firedLog) snapshot() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, len(l.epochs))
	copy(out, l.epochs)
	return out
}

func TestDelayedActivationFires(t *testing.T) {
	t.Parallel()

	log := &firedLog{}
	d := newDelayedActivation(time.Now, log.record)

	epoch := d.Schedule(10 * time.Millisecond)
	if !d.Pending() {
		t.Fatal("expected pending after schedule")
	}

	deadline := time.After(time.Second)
	for len(log.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("delayed activation never fired")
		case <-time.After(2 * time.Millisecond):
		}
	}

	fired := log.snapshot()
	if !fired[0].Equal(epoch) {
		t.Fatalf("fired epoch %v, want %v", fired[0], epoch)
	}
	if !d.Current(epoch) {
		t.Fatal("fired epoch should still be current until consumed")
	}
}

func TestDelayedActivationStaleEpoch(t *testing.T) {
	t.Parallel()

	log := &firedLog{}
	d := newDelayedActivation(time.Now, log.record)

	first := d.Schedule(50 * time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	second := d.Schedule(20 * time.Millisecond)

	if d.Current(first) {
		t.Fatal("superseded epoch must not be current")
	}
	if !d.Current(second) {
		t.Fatal("newest epoch must be current")
	}

	time.Sleep(100 * time.Millisecond)

	// Only the second schedule may act; a first-timer that slipped through
	// Stop is recognizably stale via its epoch.
	for _, e := range log.snapshot() {
		if e.Equal(first) && d.Current(first) {
			t.Fatal("stale task considered current")
		}
	}
	if !d.Current(second) {
		t.Fatal("second epoch should remain current until consumed")
	}
}

func TestDelayedActivationCancelIdempotent(t *testing.T) {
	t.Parallel()

	d := newDelayedActivation(time.Now, func(time.Time) {})

	if d.Cancel() {
		t.Fatal("cancelling a non-pending delay must report false")
	}

	d.Schedule(time.Hour)
	if !d.Cancel() {
		t.Fatal("first cancel must report true")
	}
	if d.Cancel() {
		t.Fatal("second cancel must report false")
	}
	if d.Pending() {
		t.Fatal("cancelled delay must not be pending")
	}
}

func TestDelayedActivationRemaining(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	now := base
	d := newDelayedActivation(func() time.Time { return now }, func(time.Time) {})

	if d.Remaining() != 0 {
		t.Fatal("no pending delay must report zero remaining")
	}

	d.Schedule(2 * time.Second)
	if got := d.Remaining(); got != 2*time.Second {
		t.Fatalf("remaining = %v, want 2s", got)
	}

	now = base.Add(1500 * time.Millisecond)
	if got := d.Remaining(); got != 500*time.Millisecond {
		t.Fatalf("remaining = %v, want 500ms", got)
	}

	// A task that wakes late clamps to zero rather than going negative.
	now = base.Add(5 * time.Second)
	if got := d.Remaining(); got != 0 {
		t.Fatalf("remaining = %v, want 0", got)
	}
}
