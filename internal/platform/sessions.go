package platform

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/soundkeeplab/michold/internal/arbiter"
)

// SessionWatcher reports system-wide recording activity. It subscribes to
// source-output events through pactl and lists the active source-outputs on
// every change; its own capture streams are recognized by name prefix and
// reported as owned.
type SessionWatcher struct {
	// overridable for tests
	list func(ctx context.Context) ([]byte, error)
}

func NewSessionWatcher() *SessionWatcher {
	return &SessionWatcher{
		list: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "pactl", "-f", "json", "list", "source-outputs").Output()
		},
	}
}

// Register starts the event subscription. The returned source stays valid
// until Close; a dying pactl subscription closes the event channel, which
// the consumer observes as the notifier going away.
func (w *SessionWatcher) Register(ctx context.Context) (arbiter.SessionSource, error) {
	cmd := exec.CommandContext(ctx, "pactl", "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe pactl subscribe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pactl subscribe: %w", err)
	}

	src := &sessionSource{
		watcher: w,
		cmd:     cmd,
		events:  make(chan arbiter.SessionSnapshot, 16),
	}
	go src.pump(ctx, stdout)

	slog.Info("recording-activity watcher registered")
	return src, nil
}

type sessionSource struct {
	watcher *SessionWatcher
	cmd     *exec.Cmd
	events  chan arbiter.SessionSnapshot

	mu     sync.Mutex
	closed bool
}

func (s *sessionSource) Events() <-chan arbiter.SessionSnapshot { return s.events }

func (s *sessionSource) Snapshot(ctx context.Context) (arbiter.SessionSnapshot, error) {
	out, err := s.watcher.list(ctx)
	if err != nil {
		return arbiter.SessionSnapshot{}, fmt.Errorf("failed to list source-outputs: %w", err)
	}
	sessions, err := parseSourceOutputs(out)
	if err != nil {
		return arbiter.SessionSnapshot{}, err
	}
	return arbiter.SessionSnapshot{Sessions: sessions}, nil
}

// pump forwards one snapshot per relevant subscription line. Bursts are
// forwarded as-is; collapsing them is the consumer's business.
func (s *sessionSource) pump(ctx context.Context, stdout io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "source-output") {
			continue
		}

		snap, err := s.Snapshot(ctx)
		if err != nil {
			slog.Warn("failed to refresh recording sessions", "error", err)
			continue
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		select {
		case s.events <- snap:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("pactl subscription ended", "error", err)
	}
}

func (s *sessionSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// sourceOutput is the subset of a pactl source-output entry read here.
type sourceOutput struct {
	Index      int               `json:"index"`
	Corked     bool              `json:"corked"`
	Properties map[string]string `json:"properties"`
}

func parseSourceOutputs(out []byte) ([]arbiter.RecordingSession, error) {
	var outputs []sourceOutput
	if err := json.Unmarshal(out, &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse source-outputs: %w", err)
	}

	var sessions []arbiter.RecordingSession
	for _, o := range outputs {
		// A corked stream holds a connection but does not record.
		if o.Corked {
			continue
		}
		client := o.Properties["application.name"]
		if client == "" {
			client = o.Properties["application.process.binary"]
		}
		sessions = append(sessions, arbiter.RecordingSession{
			ID:     strconv.Itoa(o.Index),
			Client: client,
			Ours:   strings.HasPrefix(o.Properties["media.name"], streamNamePrefix),
		})
	}
	return sessions, nil
}
