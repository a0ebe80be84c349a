package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// ScreenWatcher observes display power state over the session bus. The
// freedesktop ScreenSaver interface emits ActiveChanged(true) when the
// screen blanks and ActiveChanged(false) when it wakes.
type ScreenWatcher struct {
	conn *dbus.Conn
}

func NewScreenWatcher() (*ScreenWatcher, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &ScreenWatcher{conn: conn}, nil
}

// Watch delivers screen transitions until ctx is cancelled. onOff fires when
// the screen turns off, onOn when it turns back on.
func (w *ScreenWatcher) Watch(ctx context.Context, onOff, onOn func()) error {
	if err := w.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.ScreenSaver"),
		dbus.WithMatchMember("ActiveChanged"),
	); err != nil {
		return fmt.Errorf("failed to subscribe to screensaver signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	slog.Info("watching screensaver state on session bus")

	return watchSignals(ctx, signals, onOff, onOn)
}

// watchSignals dispatches screensaver transitions until ctx is cancelled.
// A closed channel means the bus connection died; holding continues without
// screen transitions rather than taking the daemon down with the bus.
func watchSignals(ctx context.Context, signals <-chan *dbus.Signal, onOff, onOn func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case sig, ok := <-signals:
			if !ok {
				slog.Warn("session bus connection lost, screen transitions unavailable")
				return nil
			}
			if len(sig.Body) != 1 {
				continue
			}
			active, ok := sig.Body[0].(bool)
			if !ok {
				continue
			}
			if active {
				slog.Info("screen turned off")
				onOff()
			} else {
				slog.Info("screen turned on")
				onOn()
			}
		}
	}
}

func (w *ScreenWatcher) Close() error {
	return w.conn.Close()
}
