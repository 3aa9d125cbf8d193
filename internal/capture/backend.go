// Package capture is the only package that talks to the native capture
// frameworks. Everything above it deals in types.Display, types.VideoFrame
// and int16 PCM samples.
package capture

import (
	"screenshare/internal/types"
)

// FrameFunc receives a frame on the native capture thread. It must not block.
// The callee owns the frame and must Release it.
type FrameFunc func(f *types.VideoFrame)

// SamplesFunc receives interleaved samples on the native audio thread. It
// must not block and must not retain the slice.
type SamplesFunc func(samples []int16)

// FaultFunc is called at most once per handle when the native stream stops
// on its own.
type FaultFunc func(err error)

// Backend opens native capture streams.
type Backend interface {
	// QueryDisplays asks the OS for the active displays.
	QueryDisplays() ([]types.Display, error)

	// OpenVideo starts a screen stream for display at fps frames per second.
	OpenVideo(display types.Display, fps int, onFrame FrameFunc, onFault FaultFunc) (*Handle, error)

	// OpenAudio starts an audio stream producing samples in format.
	OpenAudio(format types.AudioFormat, source types.AudioSource, onSamples SamplesFunc, onFault FaultFunc) (*Handle, error)
}
