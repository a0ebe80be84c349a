package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/soundkeeplab/michold/internal/capture"
)

// Recorder is the high-level fallback mechanism. parec goes through the
// PulseAudio compatibility layer, which survives setups where direct graph
// access is restricted, at the cost of route inspectability.
type Recorder struct {
	device string
}

func NewRecorder(device string) *Recorder {
	return &Recorder{device: device}
}

func (r *Recorder) OpenRecorder(ctx context.Context, f capture.Format) (capture.Handle, error) {
	args := []string{
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", f.Encoding,
	}
	if r.device != "" {
		args = append(args, "--device", r.device)
	}

	cmd := exec.Command("parec", args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PULSE_PROP=media.name=%srecorder", streamNamePrefix))
	cmd.Stdout = io.Discard

	stderrBuf := &strings.Builder{}
	cmd.Stderr = stderrBuf

	slog.Info("starting parec", "device", r.device, "rate", f.SampleRate, "channels", f.Channels)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start parec: %w", err)
	}

	addr := r.device
	if addr == "" {
		addr = "default"
	}
	return &procHandle{
		cmd:       cmd,
		addr:      addr,
		mech:      capture.MechanismRecorder,
		stderrBuf: stderrBuf,
	}, nil
}
