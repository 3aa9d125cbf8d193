//go:build darwin

package capture

/*
#cgo CFLAGS: -mmacosx-version-min=12.3 -fobjc-arc
#cgo LDFLAGS: -framework ScreenCaptureKit -framework CoreMedia -framework CoreVideo -framework CoreAudio -framework CoreGraphics -framework Cocoa

#include "sck_darwin.h"
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/rs/zerolog"

	"screenshare/internal/thread"
	"screenshare/internal/types"
)

var (
	minVideoVersion = osVersion{12, 3, 0}
	minAudioVersion = osVersion{13, 0, 0}
)

// SCKBackend captures through ScreenCaptureKit. System audio comes from an
// audio-only SCStream; microphone audio goes through PortAudio.
type SCKBackend struct {
	log zerolog.Logger
}

func NewSCKBackend(log zerolog.Logger) *SCKBackend {
	return &SCKBackend{log: log.With().Str("mod", "capture").Logger()}
}

// PreflightAccess reports whether screen recording permission is granted
// without prompting.
func PreflightAccess() bool { return C.sck_preflight_access() == 1 }

// RequestAccess triggers the system permission prompt if access has not
// been decided yet.
func RequestAccess() bool { return C.sck_request_access() == 1 }

func (b *SCKBackend) QueryDisplays() ([]types.Display, error) {
	var infos [C.SCK_MAX_DISPLAYS]C.SCKDisplayInfo
	var count C.int
	var rc C.int
	// NSScreen wants the main thread when there is one.
	thread.Call(func() {
		rc = C.sck_query_displays(&infos[0], C.int(len(infos)), &count)
	})
	if rc != C.SCK_OK {
		return nil, nativeError("query displays", rc)
	}

	out := make([]types.Display, 0, int(count))
	for i := 0; i < int(count); i++ {
		in := &infos[i]
		out = append(out, types.Display{
			ID:          uint32(in.id),
			Name:        C.GoString(&in.name[0]),
			Width:       int(in.width),
			Height:      int(in.height),
			ScaleFactor: float64(in.scale),
			Primary:     in.primary != 0,
		})
	}
	return out, nil
}

type sckStream struct {
	id     int32
	handle C.SCKStreamHandle
}

func (s *sckStream) close() error {
	// stop routing callbacks before tearing down the native stream
	unregisterStream(s.id)
	C.sck_stream_close(&s.handle)
	return nil
}

func (b *SCKBackend) OpenVideo(display types.Display, fps int, onFrame FrameFunc, onFault FaultFunc) (*Handle, error) {
	if err := requireVersion(minVideoVersion); err != nil {
		return nil, err
	}
	s := &sckStream{}
	s.id = registerStream(&stream{onFrame: onFrame, onFault: onFault})

	rc := C.sck_video_open(C.int32_t(s.id), C.uint32_t(display.ID),
		C.int(display.Width), C.int(display.Height), C.int(fps), &s.handle)
	if rc != C.SCK_OK {
		unregisterStream(s.id)
		return nil, nativeError(fmt.Sprintf("open video display=%d", display.ID), rc)
	}
	b.log.Info().Uint32("display", display.ID).Int("w", int(s.handle.width)).Int("h", int(s.handle.height)).
		Int("fps", fps).Int32("stream", s.id).Msg("video stream started")
	return NewHandle(KindVideo, s.close), nil
}

func (b *SCKBackend) OpenAudio(format types.AudioFormat, source types.AudioSource, onSamples SamplesFunc, onFault FaultFunc) (*Handle, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCaptureUnavailable, err)
	}
	switch source {
	case types.AudioMicrophone:
		h, err := openMicrophone(format, onSamples, onFault)
		if err != nil {
			return nil, err
		}
		b.log.Info().Int("rate", format.SampleRate).Int("ch", format.Channels).Msg("microphone stream started")
		return h, nil
	case types.AudioSystem:
	default:
		return nil, fmt.Errorf("%w: audio source %q", types.ErrCaptureUnavailable, source)
	}

	if err := requireVersion(minAudioVersion); err != nil {
		return nil, err
	}
	s := &sckStream{}
	s.id = registerStream(&stream{onSamples: onSamples, onFault: onFault})

	rc := C.sck_audio_open(C.int32_t(s.id), C.int(format.SampleRate), C.int(format.Channels), &s.handle)
	if rc != C.SCK_OK {
		unregisterStream(s.id)
		return nil, nativeError("open system audio", rc)
	}
	b.log.Info().Int("rate", format.SampleRate).Int("ch", format.Channels).Int32("stream", s.id).
		Msg("system audio stream started")
	return NewHandle(KindAudio, s.close), nil
}

func nativeError(op string, rc C.int) error {
	switch rc {
	case C.SCK_ERR_PERMISSION:
		return fmt.Errorf("%s: %w: screen recording permission denied", op, types.ErrCaptureUnavailable)
	case C.SCK_ERR_DISPLAY:
		return fmt.Errorf("%s: %w: %w", op, types.ErrCaptureUnavailable, types.ErrDisplayNotFound)
	case C.SCK_ERR_UNSUPPORTED:
		return fmt.Errorf("%s: %w: %w", op, types.ErrCaptureUnavailable, types.ErrUnsupported)
	case C.SCK_ERR_TIMEOUT:
		return fmt.Errorf("%s: %w: timed out waiting for ScreenCaptureKit", op, types.ErrCaptureUnavailable)
	case C.SCK_ERR_PLATFORM:
		return fmt.Errorf("%s: %w", op, types.ErrPlatform)
	default:
		return fmt.Errorf("%s: %w: native code %d", op, types.ErrCaptureUnavailable, int(rc))
	}
}

func requireVersion(need osVersion) error {
	v, err := currentOSVersion()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPlatform, err)
	}
	if v.Less(need) {
		return fmt.Errorf("%w: %w: macOS %s, need %s", types.ErrCaptureUnavailable, types.ErrUnsupported, v, need)
	}
	return nil
}

//export goVideoFrame
func goVideoFrame(id C.int32_t, data unsafe.Pointer, stride, width, height C.int, ptsValue C.int64_t, ptsScale C.int32_t) {
	s := lookupStream(int32(id))
	if s == nil || s.onFrame == nil || data == nil {
		return
	}
	n := int(stride) * int(height)
	src := unsafe.Slice((*byte)(data), n)
	s.onFrame(NewFrame(src, int(stride), int(width), int(height), types.PixFmtBGRA,
		ptsDuration(int64(ptsValue), int32(ptsScale))))
}

//export goAudioSamples
func goAudioSamples(id C.int32_t, samples *C.int16_t, count C.int) {
	s := lookupStream(int32(id))
	if s == nil || s.onSamples == nil || samples == nil || count <= 0 {
		return
	}
	s.onSamples(unsafe.Slice((*int16)(unsafe.Pointer(samples)), int(count)))
}

//export goStreamStopped
func goStreamStopped(id C.int32_t, code C.int, msg *C.char) {
	s := lookupStream(int32(id))
	if s == nil {
		return
	}
	s.fault(fmt.Errorf("%w: %s (code %d)", types.ErrCaptureFault, C.GoString(msg), int(code)))
}
