package capture

// Format describes the capture parameters requested from a mechanism.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// Stereo reports whether a two-channel capture was requested.
func (f Format) Stereo() bool {
	return f.Channels >= 2
}

// Route describes the capture route resolved for one acquisition attempt.
// It is produced per attempt by a RouteInspector and discarded right after
// classification; nothing here is persisted.
type Route struct {
	Device         string // capture device identity
	SessionID      string // session identifier of the attempt that produced it
	Address        string // device address string
	Position       string // physical microphone position, empty if unresolvable
	Channels       int    // actual negotiated channel count
	OnPrimaryArray bool   // route sits on the primary/preferred microphone array
}

// Defect classifies why a resolved route is unusable.
type Defect string

const (
	DefectNone             Defect = ""
	DefectSecondaryArray   Defect = "secondary_array"
	DefectChannelShortfall Defect = "channel_shortfall"
	DefectKnownBadAddress  Defect = "known_bad_address"
)

// Classify inspects a resolved route against the requested format and returns
// the first defect found. A nil route (no active route could be resolved)
// classifies as DefectNone: without a descriptor there is nothing to judge.
func Classify(r *Route, requested Format, knownBadAddresses []string) Defect {
	if r == nil {
		return DefectNone
	}

	if !r.OnPrimaryArray {
		return DefectSecondaryArray
	}

	if r.Channels < requested.Channels {
		return DefectChannelShortfall
	}

	for _, bad := range knownBadAddresses {
		if bad != "" && r.Address == bad {
			return DefectKnownBadAddress
		}
	}

	return DefectNone
}
