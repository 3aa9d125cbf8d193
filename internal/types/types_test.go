package types

import (
	"testing"
	"time"
)

func TestAudioFormatValidate(t *testing.T) {
	tests := []struct {
		name string
		f    AudioFormat
		ok   bool
	}{
		{"48k stereo", AudioFormat{48000, 2, 16}, true},
		{"48k mono", AudioFormat{48000, 1, 16}, true},
		{"zero rate", AudioFormat{0, 2, 16}, false},
		{"no channels", AudioFormat{48000, 0, 16}, false},
		{"float", AudioFormat{48000, 2, 32}, false},
	}
	for _, tt := range tests {
		err := tt.f.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestFrameDuration(t *testing.T) {
	f := AudioFormat{SampleRate: 48000, Channels: 2, BitDepth: 16}
	if d := f.FrameDuration(960); d != 20*time.Millisecond {
		t.Errorf("960 frames = %v, want 20ms", d)
	}
}

func TestParseAudioSource(t *testing.T) {
	if s, err := ParseAudioSource(""); err != nil || s != AudioSystem {
		t.Errorf("empty source = %q, %v", s, err)
	}
	if _, err := ParseAudioSource("line-in"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestVideoFrameRelease(t *testing.T) {
	var got []byte
	f := NewVideoFrame(make([]byte, 4), func(b []byte) { got = b })
	f.Release()
	f.Release()
	if len(got) != 4 {
		t.Fatalf("release callback got %d bytes", len(got))
	}
	if f.Data != nil {
		t.Error("Data should be nil after Release")
	}
}
