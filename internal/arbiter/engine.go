package arbiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundkeeplab/michold/internal/capture"
	"github.com/soundkeeplab/michold/internal/config"
)

// SessionSource is a registered recording-activity subscription. It is
// acquired when arbitration starts and released deterministically on stop,
// whichever transition path triggered the stop.
type SessionSource interface {
	// Events delivers session snapshots as the platform reports changes.
	Events() <-chan SessionSnapshot
	// Snapshot polls the current set of active recording sessions.
	Snapshot(ctx context.Context) (SessionSnapshot, error)
	Close() error
}

// SessionNotifier creates recording-activity subscriptions.
type SessionNotifier interface {
	Register(ctx context.Context) (SessionSource, error)
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdScreenOff
	cmdScreenOn
	cmdReconfigure
	cmdActivateNow
	cmdStatus
)

type command struct {
	kind          cmdKind
	userInitiated bool
	cfg           *config.Config
	statusReply   chan Status
	done          chan struct{}
}

// Engine is the holding loop: a single goroutine that owns the status
// record and serializes every control event. External callbacks and
// collaborators never touch the record directly; they issue commands which
// the loop processes one at a time, invariant enforcement included, before
// dequeuing the next.
type Engine struct {
	cfg      *config.Config
	selector *capture.Selector
	notifier SessionNotifier
	feed     *Feed

	timing timing
	now    func() time.Time

	cmds       chan command
	delayFired chan time.Time
	stopped    chan struct{}

	// Loop-owned state; touched only from Run's goroutine.
	ctx         context.Context
	st          Status
	held        capture.Handle
	source      SessionSource
	yield       *yielder
	delay       *delayedActivation
	retry       *time.Timer
	wake        *time.Timer
	userStopped bool
}

// New creates an engine. Run must be started before any command is issued.
func New(cfg *config.Config, selector *capture.Selector, notifier SessionNotifier) *Engine {
	e := &Engine{
		cfg:        cfg,
		selector:   selector,
		notifier:   notifier,
		feed:       NewFeed(),
		timing:     defaultTiming(),
		now:        time.Now,
		cmds:       make(chan command),
		delayFired: make(chan time.Time, 8),
		stopped:    make(chan struct{}),
		st:         Status{State: StateIdle},
	}
	e.yield = newYielder(e.timing.backoffFloor, e.timing.backoffCeiling)
	e.delay = newDelayedActivation(func() time.Time { return e.now() }, e.postDelayFired)
	return e
}

func (e *Engine) postDelayFired(epoch time.Time) {
	select {
	case e.delayFired <- epoch:
	case <-e.stopped:
	}
}

// Run processes control events until ctx is cancelled. Cancellation releases
// any held mechanism before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	e.yield = newYielder(e.timing.backoffFloor, e.timing.backoffCeiling)
	e.feed.Publish(e.st)

	defer close(e.stopped)
	defer e.shutdown()

	for {
		var retryC, wakeC <-chan time.Time
		if e.retry != nil {
			retryC = e.retry.C
		}
		if e.wake != nil {
			wakeC = e.wake.C
		}
		var events <-chan SessionSnapshot
		if e.source != nil {
			events = e.source.Events()
		}

		select {
		case <-ctx.Done():
			return nil

		case cmd := <-e.cmds:
			e.handleCommand(cmd)

		case <-retryC:
			e.retry = nil
			e.handleRetry()

		case <-wakeC:
			e.wake = nil
			e.handleWake()

		case snap, ok := <-events:
			if !ok {
				e.source = nil
				e.commit()
				continue
			}
			e.handleSessions(snap)

		case epoch := <-e.delayFired:
			e.handleDelayFired(epoch)
		}
	}
}

func (e *Engine) shutdown() {
	e.releaseHeld()
	e.stopRetry()
	e.stopWake()
	e.delay.Cancel()
	e.closeSource()
	e.feed.Close()
	slog.Info("arbitration engine stopped")
}

// Start commands the engine on. userInitiated marks explicit user intent as
// opposed to boot or screen-driven starts.
func (e *Engine) Start(userInitiated bool) {
	e.dispatch(command{kind: cmdStart, userInitiated: userInitiated})
}

// Stop commands the engine off, releasing the held mechanism and resetting
// the status record.
func (e *Engine) Stop() {
	e.dispatch(command{kind: cmdStop})
}

// ScreenOff suspends holding while the display is off.
func (e *Engine) ScreenOff() {
	e.dispatch(command{kind: cmdScreenOff})
}

// ScreenOn resumes holding, subject to the configured delay policy.
func (e *Engine) ScreenOn() {
	e.dispatch(command{kind: cmdScreenOn})
}

// Reconfigure applies a new configuration. Active capture is torn down and
// re-acquired; a stopped engine ignores the command.
func (e *Engine) Reconfigure(cfg *config.Config) {
	e.dispatch(command{kind: cmdReconfigure, cfg: cfg})
}

// ActivateNow cancels any pending delayed activation and activates
// immediately.
func (e *Engine) ActivateNow() {
	e.dispatch(command{kind: cmdActivateNow})
}

// Status returns a snapshot of the status record.
func (e *Engine) Status() Status {
	reply := make(chan Status, 1)
	if !e.dispatch(command{kind: cmdStatus, statusReply: reply}) {
		st, _ := e.feed.Latest()
		return st
	}
	return <-reply
}

// Subscribe attaches a status observer with replay-one semantics.
func (e *Engine) Subscribe() (<-chan Status, func()) {
	return e.feed.Subscribe()
}

// dispatch hands a command to the loop and waits until it has been fully
// processed, invariant enforcement included. Returns false if the loop has
// already exited.
func (e *Engine) dispatch(cmd command) bool {
	cmd.done = make(chan struct{})
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
		return false
	}
	select {
	case <-cmd.done:
		return true
	case <-e.stopped:
		return false
	}
}

func (e *Engine) handleCommand(cmd command) {
	defer close(cmd.done)

	switch cmd.kind {
	case cmdStart:
		e.handleStart()
	case cmdStop:
		e.handleStop()
	case cmdScreenOff:
		e.handleScreenOff()
	case cmdScreenOn:
		e.handleScreenOn()
	case cmdReconfigure:
		e.handleReconfigure(cmd.cfg)
	case cmdActivateNow:
		e.handleActivateNow()
	case cmdStatus:
		st := e.st
		st.DelayedActivationRemainingMs = e.delay.Remaining().Milliseconds()
		cmd.statusReply <- st
	}
}

func (e *Engine) handleStart() {
	if e.st.Running {
		slog.Debug("start ignored, engine already running")
		return
	}

	slog.Info("arbitration engine starting")
	e.userStopped = false
	e.st = Status{State: StateAcquiring, Running: true, Revision: e.st.Revision}
	e.openSource()
	e.attemptAcquire()
}

func (e *Engine) handleStop() {
	if e.st.State == StateStopped {
		return
	}

	slog.Info("arbitration engine stopping on command")
	e.userStopped = true
	e.releaseHeld()
	e.stopRetry()
	e.stopWake()
	e.delay.Cancel()
	e.closeSource()
	e.st = Status{State: StateStopped, Revision: e.st.Revision}
	e.commit()
}

func (e *Engine) handleScreenOff() {
	if e.cfg.ScreenOnDelay() == config.DelayAlwaysOn {
		slog.Debug("screen off ignored, always-on policy holds through screen-off")
		return
	}

	switch e.st.State {
	case StateHeld, StateSilenced, StateAcquiring:
		e.st.SilencedBeforeScreenOff = e.st.PausedBySilence
		e.releaseHeld()
		e.stopRetry()
		e.stopWake()
		e.st.PausedByScreenOff = true
		e.st.State = StateScreenPaused
		slog.Info("capture released for screen-off", "was_silenced", e.st.SilencedBeforeScreenOff)
		e.commit()
	}
}

func (e *Engine) handleScreenOn() {
	if e.st.State != StateScreenPaused {
		return
	}

	policy := e.cfg.ScreenOnDelay()
	switch {
	case policy == config.DelayNever:
		slog.Debug("screen on ignored, reactivation policy is 'never'")
		return

	case policy == config.DelayAlwaysOn || policy == 0:
		e.st.PausedByScreenOff = false
		e.activate()

	default:
		d := policy.Duration()
		e.delay.Schedule(d)
		// The pause flag stands until the activation actually happens, so
		// observers never see screen_paused with no pause recorded.
		e.st.DelayedActivationPending = true
		e.st.DelayedActivationRemainingMs = d.Milliseconds()
		slog.Info("delayed activation scheduled", "delay_ms", d.Milliseconds())
		e.commit()
	}
}

func (e *Engine) handleReconfigure(cfg *config.Config) {
	if cfg != nil {
		e.cfg = cfg
	}

	switch e.st.State {
	case StateIdle, StateStopped:
		slog.Debug("reconfigure ignored while stopped")

	case StateHeld, StateSilenced:
		slog.Info("reconfiguring, tearing down active capture")
		e.releaseHeld()
		e.stopWake()
		e.st.PausedBySilence = false
		e.st.PausedBySilenceAtMs = 0
		e.attemptAcquire()

	case StateAcquiring:
		e.stopRetry()
		e.attemptAcquire()

	case StateScreenPaused:
		if !e.delay.Cancel() {
			return
		}
		// The activation cycle survives reconfiguration: re-schedule the
		// pending delay under the possibly changed policy.
		policy := e.cfg.ScreenOnDelay()
		switch {
		case policy == config.DelayNever:
			e.st.DelayedActivationPending = false
			e.st.DelayedActivationRemainingMs = 0
			e.commit()
		case policy == config.DelayAlwaysOn || policy == 0:
			e.st.PausedByScreenOff = false
			e.activate()
		default:
			d := policy.Duration()
			e.delay.Schedule(d)
			e.st.DelayedActivationPending = true
			e.st.DelayedActivationRemainingMs = d.Milliseconds()
			e.commit()
		}
	}
}

func (e *Engine) handleActivateNow() {
	cancelled := e.delay.Cancel()
	e.st.DelayedActivationPending = false
	e.st.DelayedActivationRemainingMs = 0

	if !e.st.Running || e.userStopped {
		if cancelled {
			e.commit()
		}
		return
	}
	if e.held != nil {
		return
	}

	e.st.PausedByScreenOff = false
	e.activate()
}

func (e *Engine) handleSessions(snap SessionSnapshot) {
	others := snap.OthersActive()

	switch {
	case e.st.State == StateHeld && others:
		e.silence()

	case e.st.State == StateSilenced && others:
		// Burst within the same pause episode: the cooldown timer is not
		// reset and the timestamp stays as first set.

	case e.st.State == StateScreenPaused && !others && e.st.PausedBySilence:
		// The contention that caused the pre-screen-off pause is gone;
		// clear the pause even while the screen stays off.
		e.st.PausedBySilence = false
		e.st.PausedBySilenceAtMs = 0
		e.st.SilencedBeforeScreenOff = false
		e.commit()
	}
}

func (e *Engine) silence() {
	slog.Info("another process is recording, yielding capture")
	e.releaseHeld()
	e.st.PausedBySilence = true
	e.st.PausedBySilenceAtMs = e.now().UnixMilli()
	e.st.State = StateSilenced
	e.yield.Reset()
	e.armWake(e.timing.silenceCooldown)
	e.commit()
}

// handleWake runs when the cooldown or a backoff interval elapses while
// silenced. Elapsed time is measured against the wall clock so a task that
// wakes late under load still judges the cooldown correctly.
func (e *Engine) handleWake() {
	if e.st.State != StateSilenced {
		return
	}

	elapsed := e.now().Sub(time.UnixMilli(e.st.PausedBySilenceAtMs))
	if elapsed < e.timing.silenceCooldown {
		e.armWake(e.timing.silenceCooldown - elapsed)
		return
	}

	if e.source == nil {
		// Notifier gone: a silence pause nobody can ever clear must not
		// linger. Drop it and go re-acquire.
		e.st.PausedBySilence = false
		e.st.PausedBySilenceAtMs = 0
		e.attemptAcquire()
		return
	}

	snap, err := e.source.Snapshot(e.ctx)
	if err != nil {
		slog.Warn("recording-session poll failed, backing off", "error", err)
		e.armWake(e.yield.Next())
		return
	}

	if snap.OthersActive() {
		e.armWake(e.yield.Next())
		return
	}

	slog.Info("contention cleared, re-acquiring capture")
	e.st.PausedBySilence = false
	e.st.PausedBySilenceAtMs = 0
	e.yield.Reset()
	e.attemptAcquire()
}

func (e *Engine) handleRetry() {
	if e.st.State != StateAcquiring || !e.st.Running {
		return
	}
	e.attemptAcquire()
}

func (e *Engine) handleDelayFired(epoch time.Time) {
	if !e.delay.Current(epoch) {
		// Superseded or cancelled after firing; stale tasks take no action.
		slog.Debug("stale delayed activation discarded", "epoch", epoch)
		return
	}
	e.delay.Cancel()
	e.st.DelayedActivationPending = false
	e.st.DelayedActivationRemainingMs = 0

	if !e.shouldActivateAfterDelay() {
		slog.Debug("delayed activation abandoned, existing state takes precedence")
		e.commit()
		return
	}

	e.st.PausedByScreenOff = false
	e.activate()
}

// shouldActivateAfterDelay is the respect-existing-state guard: a delayed
// activation is abandoned when the resource is already held, the engine is
// silenced, or the user explicitly stopped it.
func (e *Engine) shouldActivateAfterDelay() bool {
	if e.held != nil {
		return false
	}
	if e.st.PausedBySilence {
		return false
	}
	if e.userStopped || !e.st.Running {
		return false
	}
	return true
}

// activate resumes holding after a screen pause. A silence pause that
// predates the screen-off and still stands resumes into Silenced instead of
// grabbing the route from under the other recorder.
func (e *Engine) activate() {
	if e.st.PausedBySilence {
		e.st.State = StateSilenced
		rem := e.timing.silenceCooldown - e.now().Sub(time.UnixMilli(e.st.PausedBySilenceAtMs))
		if rem <= 0 {
			rem = e.timing.backoffFloor
		}
		e.yield.Reset()
		e.armWake(rem)
		e.commit()
		return
	}
	e.attemptAcquire()
}

func (e *Engine) attemptAcquire() {
	e.st.State = StateAcquiring
	e.commit()

	att := e.selector.Acquire(e.ctx, e.cfg.Mechanism(), e.cfg.Format(), e.cfg.Capture.KnownBadAddresses)
	e.st.LastAcquire = att.Result

	if att.Result == capture.Failed {
		slog.Warn("acquisition failed, retrying", "retry_ms", e.timing.acquireRetryDelay.Milliseconds())
		e.armRetry(e.timing.acquireRetryDelay)
		e.commit()
		return
	}

	e.held = att.Handle
	e.st.DeviceAddress = att.Handle.Address()
	e.st.State = StateHeld
	e.stopRetry()
	e.commit()
}

// commit runs the invariant enforcer and publishes the transition. It is the
// single exit point of every state mutation.
func (e *Engine) commit() {
	enforceInvariants(&e.st, e.source != nil, e.held != nil)
	if e.held != nil {
		// Invariant: no pending delayed activation while actively holding.
		e.delay.Cancel()
	}
	e.st.Revision++
	e.feed.Publish(e.st)
}

func (e *Engine) releaseHeld() {
	if e.held == nil {
		return
	}
	if err := e.held.Close(); err != nil {
		// Teardown failures never block the loop from moving on.
		slog.Warn("capture teardown failed", "address", e.held.Address(), "error", err)
	}
	e.held = nil
}

func (e *Engine) openSource() {
	if e.notifier == nil || e.source != nil {
		return
	}
	src, err := e.notifier.Register(e.ctx)
	if err != nil {
		slog.Warn("recording-activity notifier unavailable", "error", err)
		return
	}
	e.source = src
}

func (e *Engine) closeSource() {
	if e.source == nil {
		return
	}
	if err := e.source.Close(); err != nil {
		slog.Warn("failed to close recording-activity source", "error", err)
	}
	e.source = nil
}

func (e *Engine) armRetry(d time.Duration) {
	e.stopRetry()
	e.retry = time.NewTimer(d)
}

func (e *Engine) stopRetry() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
}

func (e *Engine) armWake(d time.Duration) {
	e.stopWake()
	e.wake = time.NewTimer(d)
}

func (e *Engine) stopWake() {
	if e.wake != nil {
		e.wake.Stop()
		e.wake = nil
	}
}
