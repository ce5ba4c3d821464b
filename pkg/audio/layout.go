package audio

import "fmt"

// SpeakerLayout enumerates the output channel layouts a consumer can select.
// Numeric values match the host's persisted layout setting.
type SpeakerLayout int

const (
	// LayoutUnknown is an unset layout. Consumers fall back to stereo.
	LayoutUnknown SpeakerLayout = 0
	LayoutMono    SpeakerLayout = 1 // FC
	LayoutStereo  SpeakerLayout = 2 // FL FR
	Layout2Point1 SpeakerLayout = 3 // FL FR LFE
	Layout4Point0 SpeakerLayout = 4 // FL FR FC RC
	Layout4Point1 SpeakerLayout = 5 // FL FR FC LFE RC
	Layout5Point1 SpeakerLayout = 6 // FL FR FC LFE RL RR
	Layout7Point1 SpeakerLayout = 8 // FL FR FC LFE RL RR SL SR
)

// Layouts lists every selectable layout in presentation order.
var Layouts = []SpeakerLayout{
	LayoutMono, LayoutStereo, Layout2Point1, Layout4Point0,
	Layout4Point1, Layout5Point1, Layout7Point1,
}

// Channels returns the channel count of the layout, or 0 when unknown.
func (l SpeakerLayout) Channels() int {
	switch l {
	case LayoutMono:
		return 1
	case LayoutStereo:
		return 2
	case Layout2Point1:
		return 3
	case Layout4Point0:
		return 4
	case Layout4Point1:
		return 5
	case Layout5Point1:
		return 6
	case Layout7Point1:
		return 8
	default:
		return 0
	}
}

// IsValid reports whether l is a selectable layout.
func (l SpeakerLayout) IsValid() bool {
	return l.Channels() > 0
}

// String returns the short name used in configuration files.
func (l SpeakerLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case Layout2Point1:
		return "2.1"
	case Layout4Point0:
		return "4.0"
	case Layout4Point1:
		return "4.1"
	case Layout5Point1:
		return "5.1"
	case Layout7Point1:
		return "7.1"
	default:
		return "unknown"
	}
}

// ParseLayout converts a configuration name ("stereo", "5.1", ...) into a
// [SpeakerLayout].
func ParseLayout(s string) (SpeakerLayout, error) {
	for _, l := range Layouts {
		if l.String() == s {
			return l, nil
		}
	}
	return LayoutUnknown, fmt.Errorf("audio: unknown speaker layout %q", s)
}
