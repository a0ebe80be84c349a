package platform

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/soundkeeplab/michold/internal/capture"
)

const stopTimeout = 5 * time.Second

// procHandle wraps a long-running capture process. Close interrupts it and
// waits for exit, escalating to SIGKILL after a timeout.
type procHandle struct {
	cmd       *exec.Cmd
	addr      string
	mech      capture.Mechanism
	stderrBuf *strings.Builder

	mu     sync.Mutex
	closed bool
}

func (h *procHandle) Address() string              { return h.addr }
func (h *procHandle) Mechanism() capture.Mechanism { return h.mech }

func (h *procHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.cmd == nil {
		return nil
	}
	h.closed = true

	if h.cmd.Process != nil {
		slog.Debug("sending interrupt to capture process", "pid", h.cmd.Process.Pid)
		if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("failed to interrupt capture process", "error", err)
			h.cmd.Process.Kill()
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ProcessState != nil {
				state := exitErr.ProcessState.String()
				if state == "signal: interrupt" || state == "signal: killed" {
					slog.Debug("capture process exited on signal", "state", state)
					return nil
				}
			}
			slog.Debug("capture process stderr", "output", h.stderrBuf.String())
			return fmt.Errorf("capture process failed: %w", err)
		}
		return nil

	case <-time.After(stopTimeout):
		slog.Warn("capture process did not exit within timeout, force killing")
		if h.cmd.Process != nil {
			h.cmd.Process.Kill()
		}
		<-done
		return nil
	}
}
