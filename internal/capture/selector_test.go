package capture

import (
	"context"
	"errors"
	"testing"
)

type fakeHandle struct {
	addr   string
	mech   Mechanism
	closed bool
}

func (h *fakeHandle) Address() string      { return h.addr }
func (h *fakeHandle) Mechanism() Mechanism { return h.mech }
func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

type fakeLowLevel struct {
	handle *fakeHandle
	err    error
	calls  int
}

func (f *fakeLowLevel) OpenLowLevel(_ context.Context, sessionID string, _ Format) (Handle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if sessionID == "" {
		return nil, errors.New("missing session id")
	}
	return f.handle, nil
}

type fakeRecorder struct {
	handle *fakeHandle
	err    error
	calls  int
}

func (f *fakeRecorder) OpenRecorder(_ context.Context, _ Format) (Handle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

type fakeInspector struct {
	route *Route
	err   error
}

func (f *fakeInspector) ActiveRoute(sessionID string, _ Format) (*Route, error) {
	if f.route != nil {
		r := *f.route
		r.SessionID = sessionID
		return &r, f.err
	}
	return nil, f.err
}

type fakePrefs struct {
	saved []Mechanism
	err   error
}

func (f *fakePrefs) SaveLastMechanism(m Mechanism) error {
	f.saved = append(f.saved, m)
	return f.err
}

func TestSelectorLowLevelCleanRoute(t *testing.T) {
	t.Parallel()

	lowLevel := &fakeLowLevel{handle: &fakeHandle{addr: "alsa:hw:0", mech: MechanismLowLevel}}
	recorder := &fakeRecorder{handle: &fakeHandle{addr: "default", mech: MechanismRecorder}}
	inspector := &fakeInspector{route: &Route{Device: "builtin", Address: "alsa:hw:0", Channels: 2, OnPrimaryArray: true}}
	prefs := &fakePrefs{}

	s := NewSelector(lowLevel, recorder, inspector, prefs)
	att := s.Acquire(context.Background(), MechanismLowLevel, Format{Channels: 2}, nil)

	if att.Result != SucceededWithLowLevel {
		t.Fatalf("result = %q, want %q", att.Result, SucceededWithLowLevel)
	}
	if att.Handle == nil || att.Handle.Address() != "alsa:hw:0" {
		t.Fatalf("unexpected handle: %+v", att.Handle)
	}
	if recorder.calls != 0 {
		t.Errorf("recorder attempted %d times, want 0", recorder.calls)
	}
	if len(prefs.saved) != 1 || prefs.saved[0] != MechanismLowLevel {
		t.Errorf("prefs write-through = %v, want [lowlevel]", prefs.saved)
	}
	if att.Route == nil || att.Route.SessionID == "" {
		t.Errorf("expected route with session id, got %+v", att.Route)
	}
}

func TestSelectorDefectiveRouteFallsBackToRecorder(t *testing.T) {
	t.Parallel()

	held := &fakeHandle{addr: "alsa:hw:1", mech: MechanismLowLevel}
	lowLevel := &fakeLowLevel{handle: held}
	recorder := &fakeRecorder{handle: &fakeHandle{addr: "default", mech: MechanismRecorder}}
	// Non-primary array and mono instead of the requested stereo.
	inspector := &fakeInspector{route: &Route{Address: "alsa:hw:1", Channels: 1, OnPrimaryArray: false}}
	prefs := &fakePrefs{}

	s := NewSelector(lowLevel, recorder, inspector, prefs)
	att := s.Acquire(context.Background(), MechanismLowLevel, Format{Channels: 2}, nil)

	if att.Result != SucceededWithRecorder {
		t.Fatalf("result = %q, want %q", att.Result, SucceededWithRecorder)
	}
	if !held.closed {
		t.Error("defective low-level handle was not torn down")
	}
	if len(prefs.saved) != 1 || prefs.saved[0] != MechanismRecorder {
		t.Errorf("prefs write-through = %v, want [recorder]", prefs.saved)
	}
}

func TestSelectorLowLevelStartFailureFallsBack(t *testing.T) {
	t.Parallel()

	lowLevel := &fakeLowLevel{err: errors.New("device busy")}
	recorder := &fakeRecorder{handle: &fakeHandle{addr: "default", mech: MechanismRecorder}}

	s := NewSelector(lowLevel, recorder, &fakeInspector{}, nil)
	att := s.Acquire(context.Background(), MechanismLowLevel, Format{Channels: 1}, nil)

	if att.Result != SucceededWithRecorder {
		t.Fatalf("result = %q, want %q", att.Result, SucceededWithRecorder)
	}
}

func TestSelectorDualFailure(t *testing.T) {
	t.Parallel()

	lowLevel := &fakeLowLevel{err: errors.New("device busy")}
	recorder := &fakeRecorder{err: errors.New("no sound server")}
	prefs := &fakePrefs{}

	s := NewSelector(lowLevel, recorder, &fakeInspector{}, prefs)
	att := s.Acquire(context.Background(), MechanismLowLevel, Format{Channels: 1}, nil)

	if att.Result != Failed {
		t.Fatalf("result = %q, want %q", att.Result, Failed)
	}
	if att.Handle != nil {
		t.Error("Failed attempt must leave no mechanism active")
	}
	if len(prefs.saved) != 0 {
		t.Errorf("no write-through expected on failure, got %v", prefs.saved)
	}
}

func TestSelectorRecorderPreferredSkipsRouteInspection(t *testing.T) {
	t.Parallel()

	lowLevel := &fakeLowLevel{handle: &fakeHandle{addr: "alsa:hw:0", mech: MechanismLowLevel}}
	recorder := &fakeRecorder{handle: &fakeHandle{addr: "default", mech: MechanismRecorder}}

	s := NewSelector(lowLevel, recorder, &fakeInspector{}, nil)
	att := s.Acquire(context.Background(), MechanismRecorder, Format{Channels: 2}, nil)

	if att.Result != SucceededWithRecorder {
		t.Fatalf("result = %q, want %q", att.Result, SucceededWithRecorder)
	}
	if lowLevel.calls != 0 {
		t.Errorf("low-level attempted %d times, want 0", lowLevel.calls)
	}
	if att.Route != nil {
		t.Error("recorder acquisition must not carry a route descriptor")
	}
}

func TestSelectorKnownBadAddressFallsBack(t *testing.T) {
	t.Parallel()

	held := &fakeHandle{addr: "alsa:hw:2.bottom", mech: MechanismLowLevel}
	lowLevel := &fakeLowLevel{handle: held}
	recorder := &fakeRecorder{handle: &fakeHandle{addr: "default", mech: MechanismRecorder}}
	inspector := &fakeInspector{route: &Route{Address: "alsa:hw:2.bottom", Channels: 2, OnPrimaryArray: true}}

	s := NewSelector(lowLevel, recorder, inspector, nil)
	att := s.Acquire(context.Background(), MechanismLowLevel, Format{Channels: 2}, []string{"alsa:hw:2.bottom"})

	if att.Result != SucceededWithRecorder {
		t.Fatalf("result = %q, want %q", att.Result, SucceededWithRecorder)
	}
	if !held.closed {
		t.Error("known-bad route handle was not torn down")
	}
}
