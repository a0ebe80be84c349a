package platform

import (
	"context"
	"testing"
)

const routeDumpFixture = `[
  {
    "id": 30,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_input.pci-0000_00_1f.3.analog-stereo",
        "node.description": "Built-in Audio Analog Stereo",
        "media.class": "Audio/Source",
        "object.path": "alsa:pcm:0:front:capture",
        "audio.channels": 2
      }
    }
  },
  {
    "id": 31,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor",
        "media.class": "Audio/Source",
        "audio.channels": 2
      }
    }
  },
  {
    "id": 55,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "pw-record",
        "media.name": "michold-abc123",
        "media.class": "Stream/Input/Audio"
      }
    }
  },
  {
    "id": 70,
    "type": "PipeWire:Interface:Link",
    "info": {
      "output-node-id": 30,
      "input-node-id": 55
    }
  }
]`

func TestParseRouteDump(t *testing.T) {
	route, err := parseRouteDump([]byte(routeDumpFixture), "abc123")
	if err != nil {
		t.Fatalf("parseRouteDump: %v", err)
	}
	if route == nil {
		t.Fatal("expected a route")
	}
	if route.Address != "alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("address = %q", route.Address)
	}
	if route.Device != "Built-in Audio Analog Stereo" {
		t.Errorf("device = %q", route.Device)
	}
	if route.Channels != 2 {
		t.Errorf("channels = %d", route.Channels)
	}
	if !route.OnPrimaryArray {
		t.Error("analog capture source should count as primary")
	}
	if route.SessionID != "abc123" {
		t.Errorf("session id = %q", route.SessionID)
	}
}

func TestParseRouteDumpStreamMissing(t *testing.T) {
	if _, err := parseRouteDump([]byte(routeDumpFixture), "other-session"); err == nil {
		t.Fatal("expected an error for an unknown stream")
	}
}

func TestParseRouteDumpNoLinkYet(t *testing.T) {
	dump := `[
	  {
	    "id": 55,
	    "type": "PipeWire:Interface:Node",
	    "info": {"props": {"media.name": "michold-abc123", "media.class": "Stream/Input/Audio"}}
	  }
	]`
	route, err := parseRouteDump([]byte(dump), "abc123")
	if err != nil {
		t.Fatalf("parseRouteDump: %v", err)
	}
	if route != nil {
		t.Fatalf("expected no route before a link forms, got %+v", route)
	}
}

func TestParseRouteDumpMonitorSourceNotPrimary(t *testing.T) {
	dump := `[
	  {
	    "id": 31,
	    "type": "PipeWire:Interface:Node",
	    "info": {"props": {
	      "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor",
	      "media.class": "Audio/Source",
	      "audio.channels": 2
	    }}
	  },
	  {
	    "id": 55,
	    "type": "PipeWire:Interface:Node",
	    "info": {"props": {"media.name": "michold-s1"}}
	  },
	  {
	    "id": 70,
	    "type": "PipeWire:Interface:Link",
	    "info": {"output-node-id": 31, "input-node-id": 55}
	  }
	]`
	route, err := parseRouteDump([]byte(dump), "s1")
	if err != nil {
		t.Fatalf("parseRouteDump: %v", err)
	}
	if route == nil {
		t.Fatal("expected a route")
	}
	if route.OnPrimaryArray {
		t.Error("monitor source must not count as primary")
	}
}

func TestActiveRouteUsesDump(t *testing.T) {
	pw := NewPipeWire("")
	pw.dump = func(ctx context.Context) ([]byte, error) {
		return []byte(routeDumpFixture), nil
	}

	route, err := pw.ActiveRoute("abc123", testFormat())
	if err != nil {
		t.Fatalf("ActiveRoute: %v", err)
	}
	if route == nil || route.Address == "" {
		t.Fatalf("route = %+v", route)
	}
}
