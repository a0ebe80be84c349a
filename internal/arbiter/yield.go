package arbiter

import "time"

// Timing contracts of the arbitration engine. Fixed in production; tests
// shrink them through the timing struct below.
const (
	// DefaultSilenceCooldown is the mandatory wait after a silencing
	// transition before any re-acquisition attempt.
	DefaultSilenceCooldown = 3000 * time.Millisecond
	// DefaultBackoffFloor / DefaultBackoffCeiling bound the poll interval
	// while contention persists after the cooldown.
	DefaultBackoffFloor   = 500 * time.Millisecond
	DefaultBackoffCeiling = 5000 * time.Millisecond
	// DefaultAcquireRetryDelay is the flat delay between acquisition
	// attempts after a dual mechanism failure.
	DefaultAcquireRetryDelay = 2000 * time.Millisecond
)

type timing struct {
	silenceCooldown   time.Duration
	backoffFloor      time.Duration
	backoffCeiling    time.Duration
	acquireRetryDelay time.Duration
}

func defaultTiming() timing {
	return timing{
		silenceCooldown:   DefaultSilenceCooldown,
		backoffFloor:      DefaultBackoffFloor,
		backoffCeiling:    DefaultBackoffCeiling,
		acquireRetryDelay: DefaultAcquireRetryDelay,
	}
}

// yielder produces the re-acquisition poll intervals for one silence
// episode: the delay doubles from the floor and saturates at the ceiling
// (500, 1000, 2000, 4000, 5000, 5000, ...).
type yielder struct {
	floor   time.Duration
	ceiling time.Duration
	next    time.Duration
}

func newYielder(floor, ceiling time.Duration) *yielder {
	return &yielder{floor: floor, ceiling: ceiling, next: floor}
}

// Next returns the current interval and advances the doubling.
func (y *yielder) Next() time.Duration {
	d := y.next
	y.next *= 2
	if y.next > y.ceiling {
		y.next = y.ceiling
	}
	return d
}

// Reset drops the interval back to the floor. Called when contention clears.
func (y *yielder) Reset() {
	y.next = y.floor
}
