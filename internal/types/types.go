package types

import (
	"fmt"
	"time"
)

// Display is an immutable snapshot of one active display.
type Display struct {
	ID          uint32
	Name        string
	Width       int // pixels
	Height      int // pixels
	ScaleFactor float64
	Primary     bool
}

func (d Display) String() string {
	return fmt.Sprintf("%d:%s (%dx%d @%gx)", d.ID, d.Name, d.Width, d.Height, d.ScaleFactor)
}

const (
	PixFmtBGRA = 0
	PixFmtNV12 = 1
)

// VideoFrame is a captured screen frame. Data is a pooled copy of the native
// pixel buffer and stays valid until Release.
type VideoFrame struct {
	Data   []byte
	Width  int
	Height int
	Stride int
	PixFmt int
	PTS    time.Duration // native presentation timestamp
	Seq    uint64

	release func([]byte)
}

// NewVideoFrame wraps data that release hands back to its owner.
func NewVideoFrame(data []byte, release func([]byte)) *VideoFrame {
	return &VideoFrame{Data: data, release: release}
}

// Release returns the pixel buffer to its pool. Data must not be used afterwards.
func (f *VideoFrame) Release() {
	if f == nil || f.Data == nil {
		return
	}
	if f.release != nil {
		f.release(f.Data)
	}
	f.Data = nil
}

// AudioFormat describes interleaved PCM samples.
type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d (only 16-bit PCM)", f.BitDepth)
	}
	return nil
}

// FrameDuration returns how long n sample frames play for.
func (f AudioFormat) FrameDuration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// AudioSource selects where audio samples come from.
type AudioSource string

const (
	AudioSystem     AudioSource = "system"
	AudioMicrophone AudioSource = "microphone"
	AudioNone       AudioSource = "none"
)

func ParseAudioSource(s string) (AudioSource, error) {
	switch AudioSource(s) {
	case AudioSystem, AudioMicrophone, AudioNone:
		return AudioSource(s), nil
	case "":
		return AudioSystem, nil
	}
	return "", fmt.Errorf("unknown audio source %q (system, microphone or none)", s)
}
