package platform

import (
	"testing"

	"github.com/soundkeeplab/michold/internal/capture"
)

func testFormat() capture.Format {
	return capture.Format{SampleRate: 48000, Channels: 1, Encoding: "s16le"}
}

const sourceOutputsFixture = `[
  {
    "index": 12,
    "corked": false,
    "properties": {
      "application.name": "OBS Studio",
      "media.name": "obs-mic-capture"
    }
  },
  {
    "index": 13,
    "corked": false,
    "properties": {
      "media.name": "michold-abc123"
    }
  },
  {
    "index": 14,
    "corked": true,
    "properties": {
      "application.name": "Firefox",
      "media.name": "paused call"
    }
  },
  {
    "index": 15,
    "corked": false,
    "properties": {
      "application.process.binary": "arecord"
    }
  }
]`

func TestParseSourceOutputs(t *testing.T) {
	sessions, err := parseSourceOutputs([]byte(sourceOutputsFixture))
	if err != nil {
		t.Fatalf("parseSourceOutputs: %v", err)
	}

	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3 (corked streams excluded)", len(sessions))
	}

	byID := map[string]struct {
		client string
		ours   bool
	}{}
	for _, s := range sessions {
		byID[s.ID] = struct {
			client string
			ours   bool
		}{s.Client, s.Ours}
	}

	if got := byID["12"]; got.client != "OBS Studio" || got.ours {
		t.Errorf("session 12 = %+v", got)
	}
	if got := byID["13"]; !got.ours {
		t.Errorf("own stream not recognized: %+v", got)
	}
	if got := byID["15"]; got.client != "arecord" || got.ours {
		t.Errorf("binary fallback failed: %+v", got)
	}
	if _, present := byID["14"]; present {
		t.Error("corked stream must not count as recording")
	}
}

func TestParseSourceOutputsEmpty(t *testing.T) {
	sessions, err := parseSourceOutputs([]byte("[]"))
	if err != nil {
		t.Fatalf("parseSourceOutputs: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("got %d sessions, want 0", len(sessions))
	}
}

func TestParseSourceOutputsMalformed(t *testing.T) {
	if _, err := parseSourceOutputs([]byte("not json")); err == nil {
		t.Fatal("expected a parse error")
	}
}
