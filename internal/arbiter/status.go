package arbiter

import "github.com/soundkeeplab/michold/internal/capture"

// State is the holding loop state.
type State string

const (
	StateIdle         State = "idle"
	StateAcquiring    State = "acquiring"
	StateHeld         State = "held"
	StateSilenced     State = "silenced"
	StateScreenPaused State = "screen_paused"
	StateStopped      State = "stopped"
)

// Status is the single source of truth for arbitration state. It has exactly
// one writer (the engine loop); everyone else reads snapshots through
// Engine.Status or a feed subscription.
type Status struct {
	State State `json:"state"`

	Running         bool `json:"running"`
	PausedBySilence bool `json:"paused_by_silence"`

	// PausedByScreenOff stays set from the screen-off transition until a
	// reactivation actually happens, including while a delayed activation
	// counts down.
	PausedByScreenOff bool `json:"paused_by_screen_off"`

	// DeviceAddress identifies the capture route currently held; empty while
	// no mechanism is holding the resource.
	DeviceAddress string `json:"device_address,omitempty"`

	DelayedActivationPending     bool  `json:"delayed_activation_pending"`
	DelayedActivationRemainingMs int64 `json:"delayed_activation_remaining_ms"`

	// PausedBySilenceAtMs is the epoch-millisecond start of the current
	// silence pause; 0 when not paused.
	PausedBySilenceAtMs int64 `json:"paused_by_silence_at_ms"`

	// SilencedBeforeScreenOff snapshots the silence flag at the moment the
	// screen turned off.
	SilencedBeforeScreenOff bool `json:"silenced_before_screen_off"`

	// LastAcquire is the result of the most recent acquisition attempt.
	LastAcquire capture.Result `json:"last_acquire,omitempty"`

	// Revision increments on every published transition.
	Revision uint64 `json:"revision"`
}

// RecordingSession is one active system-wide recording session as reported
// by the platform notifier.
type RecordingSession struct {
	ID     string `json:"id"`
	Client string `json:"client"`
	// Ours marks sessions created by this engine's own capture mechanism.
	Ours bool `json:"ours"`
}

// SessionSnapshot is the full set of active recording sessions at one point
// in time. Notifications are unordered and may arrive in bursts.
type SessionSnapshot struct {
	Sessions []RecordingSession
}

// OthersActive reports whether any session not owned by this engine is
// currently recording.
func (s SessionSnapshot) OthersActive() bool {
	for _, sess := range s.Sessions {
		if !sess.Ours {
			return true
		}
	}
	return false
}
