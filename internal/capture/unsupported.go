package capture

import (
	"fmt"
	"runtime"

	"screenshare/internal/types"
)

// Unsupported is the backend for platforms without a native implementation.
// Every call fails with types.ErrUnsupported. Opens also match
// types.ErrCaptureUnavailable.
type Unsupported struct{}

func (Unsupported) QueryDisplays() ([]types.Display, error) {
	return nil, fmt.Errorf("%w: display query on %s", types.ErrUnsupported, runtime.GOOS)
}

func (Unsupported) OpenVideo(types.Display, int, FrameFunc, FaultFunc) (*Handle, error) {
	return nil, fmt.Errorf("%w: %w: screen capture on %s", types.ErrCaptureUnavailable, types.ErrUnsupported, runtime.GOOS)
}

func (Unsupported) OpenAudio(types.AudioFormat, types.AudioSource, SamplesFunc, FaultFunc) (*Handle, error) {
	return nil, fmt.Errorf("%w: %w: audio capture on %s", types.ErrCaptureUnavailable, types.ErrUnsupported, runtime.GOOS)
}
