package audio_test

import (
	"testing"

	"github.com/MrWong99/voicetap/pkg/audio"
)

func TestSpeakerLayout_Channels(t *testing.T) {
	tests := []struct {
		layout audio.SpeakerLayout
		want   int
	}{
		{audio.LayoutUnknown, 0},
		{audio.LayoutMono, 1},
		{audio.LayoutStereo, 2},
		{audio.Layout2Point1, 3},
		{audio.Layout4Point0, 4},
		{audio.Layout4Point1, 5},
		{audio.Layout5Point1, 6},
		{audio.Layout7Point1, 8},
		{audio.SpeakerLayout(7), 0},
	}
	for _, tc := range tests {
		t.Run(tc.layout.String(), func(t *testing.T) {
			if got := tc.layout.Channels(); got != tc.want {
				t.Errorf("Channels() = %d, want %d", got, tc.want)
			}
			if got := tc.layout.IsValid(); got != (tc.want > 0) {
				t.Errorf("IsValid() = %v, want %v", got, tc.want > 0)
			}
		})
	}
}

func TestParseLayout(t *testing.T) {
	for _, l := range audio.Layouts {
		got, err := audio.ParseLayout(l.String())
		if err != nil {
			t.Fatalf("ParseLayout(%q): %v", l.String(), err)
		}
		if got != l {
			t.Errorf("ParseLayout(%q) = %v, want %v", l.String(), got, l)
		}
	}

	if _, err := audio.ParseLayout("quad"); err == nil {
		t.Error("expected error for unknown layout name")
	}
}
