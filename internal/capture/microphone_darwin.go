//go:build darwin

package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"screenshare/internal/types"
)

// PortAudio is initialized while at least one microphone stream is open.
var pa struct {
	mu   sync.Mutex
	refs int
}

func paAcquire() error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	pa.refs++
	return nil
}

func paRelease() error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.refs == 0 {
		return nil
	}
	pa.refs--
	if pa.refs == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// micStallLimit is how long an open input stream may go without a callback
// before it is reported as lost. Buffers are 10ms.
const micStallLimit = time.Second

func openMicrophone(format types.AudioFormat, onSamples SamplesFunc, onFault FaultFunc) (*Handle, error) {
	if err := paAcquire(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", types.ErrCaptureUnavailable, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: no input device: %v", types.ErrCaptureUnavailable, err), paRelease())
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.SampleRate / 100

	var watch atomic.Pointer[stallWatch]
	ps, err := portaudio.OpenStream(params, func(in []int16) {
		if w := watch.Load(); w != nil {
			w.kick()
		}
		if onSamples != nil {
			onSamples(in)
		}
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: open input stream: %v", types.ErrCaptureUnavailable, err), paRelease())
	}
	if err := ps.Start(); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: start input stream: %v", types.ErrCaptureUnavailable, err),
			ps.Close(), paRelease())
	}
	w := newStallWatch(&stream{onFault: onFault}, micStallLimit)
	watch.Store(w)

	return NewHandle(KindAudio, func() error {
		w.stop()
		return errors.Join(ps.Stop(), ps.Close(), paRelease())
	}), nil
}
