package arbiter

// enforceInvariants reconciles the status record after a transition,
// correcting impossible flag combinations instead of rejecting them. It runs
// synchronously as the last step of every state-mutating operation; no
// observer sees the record before it has run.
//
// Corrected invariants:
//  1. PausedBySilence requires Running.
//  2. Without a registered recording-activity notifier there can be no
//     silence pause at all.
//  3. A pending delayed activation cannot coexist with an actively held
//     mechanism.
//  4. DeviceAddress is set only while a mechanism holds the resource.
func enforceInvariants(st *Status, notifierActive, held bool) {
	if st.PausedBySilence && !st.Running {
		st.PausedBySilence = false
	}

	if !notifierActive {
		st.PausedBySilence = false
		st.SilencedBeforeScreenOff = false
	}

	if !st.PausedBySilence {
		st.PausedBySilenceAtMs = 0
	}

	if held {
		st.DelayedActivationPending = false
		st.DelayedActivationRemainingMs = 0
	}

	if !held {
		st.DeviceAddress = ""
	}

	if !st.DelayedActivationPending {
		st.DelayedActivationRemainingMs = 0
	}
}
