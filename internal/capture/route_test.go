package capture

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	stereo := Format{SampleRate: 48000, Channels: 2, Encoding: "s16le"}
	mono := Format{SampleRate: 48000, Channels: 1, Encoding: "s16le"}

	tests := []struct {
		name      string
		route     *Route
		requested Format
		knownBad  []string
		want      Defect
	}{
		{
			name:      "nil route is not judged",
			route:     nil,
			requested: stereo,
			want:      DefectNone,
		},
		{
			name:      "primary array with full channels is acceptable",
			route:     &Route{Address: "alsa:hw:0", Channels: 2, OnPrimaryArray: true},
			requested: stereo,
			want:      DefectNone,
		},
		{
			name:      "secondary array is defective",
			route:     &Route{Address: "alsa:hw:1", Channels: 2, OnPrimaryArray: false},
			requested: stereo,
			want:      DefectSecondaryArray,
		},
		{
			name:      "mono negotiated for stereo request is defective",
			route:     &Route{Address: "alsa:hw:0", Channels: 1, OnPrimaryArray: true},
			requested: stereo,
			want:      DefectChannelShortfall,
		},
		{
			name:      "mono negotiated for mono request is acceptable",
			route:     &Route{Address: "alsa:hw:0", Channels: 1, OnPrimaryArray: true},
			requested: mono,
			want:      DefectNone,
		},
		{
			name:      "known-bad secondary array address is defective",
			route:     &Route{Address: "alsa:hw:2.bottom", Channels: 2, OnPrimaryArray: true},
			requested: stereo,
			knownBad:  []string{"alsa:hw:2.bottom"},
			want:      DefectKnownBadAddress,
		},
		{
			name:      "empty known-bad entries never match",
			route:     &Route{Address: "", Channels: 2, OnPrimaryArray: true},
			requested: stereo,
			knownBad:  []string{""},
			want:      DefectNone,
		},
		{
			name:      "secondary array wins over channel shortfall",
			route:     &Route{Address: "alsa:hw:1", Channels: 1, OnPrimaryArray: false},
			requested: stereo,
			want:      DefectSecondaryArray,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.route, tt.requested, tt.knownBad)
			if got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
