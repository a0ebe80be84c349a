package capture

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Mechanism identifies one of the two mutually exclusive capture mechanisms.
type Mechanism string

const (
	// MechanismLowLevel is the low-level capture API with fine route control.
	MechanismLowLevel Mechanism = "lowlevel"
	// MechanismRecorder is the high-level recorder API, more compatible on
	// constrained setups. Route inspection does not apply to it.
	MechanismRecorder Mechanism = "recorder"
)

// Result is the outcome of one acquisition attempt.
type Result string

const (
	SucceededWithLowLevel Result = "succeeded_lowlevel"
	SucceededWithRecorder Result = "succeeded_recorder"
	Failed                Result = "failed"
)

// Handle is an actively held capture mechanism.
type Handle interface {
	// Address returns the identifier of the capture route being held.
	Address() string
	// Mechanism returns which mechanism is holding the route.
	Mechanism() Mechanism
	// Close releases the mechanism.
	Close() error
}

// LowLevelOpener starts a low-level capture session (mechanism A).
type LowLevelOpener interface {
	OpenLowLevel(ctx context.Context, sessionID string, f Format) (Handle, error)
}

// RecorderOpener starts a high-level recorder session (mechanism B).
type RecorderOpener interface {
	OpenRecorder(ctx context.Context, f Format) (Handle, error)
}

// RouteInspector resolves the route a low-level session actually landed on.
// A nil route with nil error means no active route could be resolved.
type RouteInspector interface {
	ActiveRoute(sessionID string, f Format) (*Route, error)
}

// PreferenceStore persists the last mechanism that successfully acquired.
// This is a write-through: the selector never reads it back.
type PreferenceStore interface {
	SaveLastMechanism(m Mechanism) error
}

// Attempt is the result of Selector.Acquire. Handle is non-nil exactly when
// Result is not Failed.
type Attempt struct {
	Result Result
	Handle Handle
	Route  *Route
}

// Selector chooses and attempts one of the two capture mechanisms, falling
// back from the low-level mechanism to the recorder when the low-level route
// turns out defective or fails to start. At most one mechanism is left active
// after a call; zero are active on Failed.
type Selector struct {
	lowLevel LowLevelOpener
	recorder RecorderOpener
	routes   RouteInspector
	prefs    PreferenceStore
}

// NewSelector creates a selector over the given mechanism openers. prefs may
// be nil, in which case the last-mechanism write-through is skipped.
func NewSelector(lowLevel LowLevelOpener, recorder RecorderOpener, routes RouteInspector, prefs PreferenceStore) *Selector {
	return &Selector{
		lowLevel: lowLevel,
		recorder: recorder,
		routes:   routes,
		prefs:    prefs,
	}
}

// Acquire performs one acquisition attempt with the given preferred
// mechanism. Start failures and route defects are recoverable: they trigger
// the fallback mechanism, never an error. Failed is returned only when both
// the preferred mechanism and its fallback fail to start.
func (s *Selector) Acquire(ctx context.Context, preferred Mechanism, f Format, knownBadAddresses []string) Attempt {
	if preferred == MechanismRecorder {
		return s.acquireRecorder(ctx, f)
	}
	return s.acquireLowLevelWithFallback(ctx, f, knownBadAddresses)
}

func (s *Selector) acquireLowLevelWithFallback(ctx context.Context, f Format, knownBadAddresses []string) Attempt {
	sessionID := uuid.NewString()

	handle, err := s.lowLevel.OpenLowLevel(ctx, sessionID, f)
	if err != nil {
		slog.Warn("low-level capture failed to start, falling back to recorder", "session_id", sessionID, "error", err)
		return s.acquireRecorder(ctx, f)
	}

	route, err := s.routes.ActiveRoute(sessionID, f)
	if err != nil {
		slog.Debug("route inspection failed, keeping low-level capture", "session_id", sessionID, "error", err)
	}

	if defect := Classify(route, f, knownBadAddresses); defect != DefectNone {
		slog.Info("defective capture route, falling back to recorder",
			"session_id", sessionID, "defect", string(defect), "address", route.Address, "channels", route.Channels)
		if err := handle.Close(); err != nil {
			slog.Warn("failed to tear down low-level capture", "session_id", sessionID, "error", err)
		}
		return s.acquireRecorder(ctx, f)
	}

	s.persistLastMechanism(MechanismLowLevel)
	slog.Info("capture acquired", "mechanism", string(MechanismLowLevel), "address", handle.Address())
	return Attempt{Result: SucceededWithLowLevel, Handle: handle, Route: route}
}

func (s *Selector) acquireRecorder(ctx context.Context, f Format) Attempt {
	handle, err := s.recorder.OpenRecorder(ctx, f)
	if err != nil {
		slog.Warn("recorder capture failed to start", "error", err)
		return Attempt{Result: Failed}
	}

	s.persistLastMechanism(MechanismRecorder)
	slog.Info("capture acquired", "mechanism", string(MechanismRecorder), "address", handle.Address())
	return Attempt{Result: SucceededWithRecorder, Handle: handle}
}

func (s *Selector) persistLastMechanism(m Mechanism) {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.SaveLastMechanism(m); err != nil {
		slog.Warn("failed to persist last capture mechanism", "mechanism", string(m), "error", err)
	}
}
