package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/soundkeeplab/michold/internal/capture"
)

// streamNamePrefix tags every capture stream this daemon creates so it can
// recognize its own sessions in system-wide recording activity.
const streamNamePrefix = "michold-"

// PipeWire is the low-level capture mechanism. It holds the resource with
// pw-record and inspects the resulting route through pw-dump, which exposes
// the full node graph including which source the stream actually landed on.
type PipeWire struct {
	device string

	// overridable for tests
	dump func(ctx context.Context) ([]byte, error)
}

func NewPipeWire(device string) *PipeWire {
	return &PipeWire{
		device: device,
		dump: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "pw-dump").Output()
		},
	}
}

// OpenLowLevel starts a pw-record stream tagged with the session identifier.
// Audio is discarded; holding the route open is the point.
func (p *PipeWire) OpenLowLevel(ctx context.Context, sessionID string, f capture.Format) (capture.Handle, error) {
	args := []string{
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", f.Encoding,
	}
	if p.device != "" {
		args = append(args, "--target", p.device)
	}
	args = append(args, "-")

	cmd := exec.Command("pw-record", args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PIPEWIRE_PROPS=media.name=%s%s", streamNamePrefix, sessionID))
	cmd.Stdout = io.Discard

	stderrBuf := &strings.Builder{}
	cmd.Stderr = stderrBuf

	slog.Info("starting pw-record", "session", sessionID, "target", p.device,
		"rate", f.SampleRate, "channels", f.Channels)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-record: %w", err)
	}

	addr := p.device
	if addr == "" {
		addr = "default"
	}
	return &procHandle{
		cmd:       cmd,
		addr:      addr,
		mech:      capture.MechanismLowLevel,
		stderrBuf: stderrBuf,
	}, nil
}

// ActiveRoute locates the stream created for sessionID in the node graph and
// reports the source it is linked to.
func (p *PipeWire) ActiveRoute(sessionID string, f capture.Format) (*capture.Route, error) {
	out, err := p.dump(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to dump node graph: %w", err)
	}
	return parseRouteDump(out, sessionID)
}

// pwObject is the subset of a pw-dump entry the route inspector reads.
type pwObject struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Info struct {
		OutputNodeID int                        `json:"output-node-id"`
		InputNodeID  int                        `json:"input-node-id"`
		Props        map[string]json.RawMessage `json:"props"`
	} `json:"info"`
}

func (o *pwObject) prop(key string) string {
	raw, ok := o.Info.Props[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.Itoa(int(n))
	}
	return ""
}

// parseRouteDump walks the graph: stream node by media.name, link into it,
// source node on the link's output side. A nil route with nil error means
// the stream exists but no link has formed yet.
func parseRouteDump(dump []byte, sessionID string) (*capture.Route, error) {
	var objects []pwObject
	if err := json.Unmarshal(dump, &objects); err != nil {
		return nil, fmt.Errorf("failed to parse node graph: %w", err)
	}

	wantName := streamNamePrefix + sessionID
	streamID := -1
	nodes := make(map[int]*pwObject)

	for i := range objects {
		obj := &objects[i]
		switch obj.Type {
		case "PipeWire:Interface:Node":
			nodes[obj.ID] = obj
			if obj.prop("media.name") == wantName {
				streamID = obj.ID
			}
		}
	}
	if streamID == -1 {
		return nil, fmt.Errorf("capture stream %q not present in node graph", wantName)
	}

	sourceID := -1
	for i := range objects {
		obj := &objects[i]
		if obj.Type == "PipeWire:Interface:Link" && obj.Info.InputNodeID == streamID {
			sourceID = obj.Info.OutputNodeID
			break
		}
	}
	if sourceID == -1 {
		return nil, nil
	}

	src, ok := nodes[sourceID]
	if !ok {
		return nil, fmt.Errorf("link references unknown source node %d", sourceID)
	}

	name := src.prop("node.name")
	channels := 0
	if c, err := strconv.Atoi(src.prop("audio.channels")); err == nil {
		channels = c
	}

	return &capture.Route{
		Device:         src.prop("node.description"),
		SessionID:      sessionID,
		Address:        name,
		Position:       src.prop("object.path"),
		Channels:       channels,
		OnPrimaryArray: isPrimarySource(src),
	}, nil
}

// isPrimarySource distinguishes a real microphone from a monitor or loopback
// source. Monitors mirror playback streams and must never satisfy a capture
// request.
func isPrimarySource(src *pwObject) bool {
	name := src.prop("node.name")
	if strings.HasSuffix(name, ".monitor") {
		return false
	}
	if src.prop("stream.monitor") == "true" {
		return false
	}
	return src.prop("media.class") == "Audio/Source"
}
