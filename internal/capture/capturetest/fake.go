// Package capturetest provides an in-memory capture.Backend. Tests drive it by
// pushing frames, samples and faults into the streams it opened.
package capturetest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"screenshare/internal/capture"
	"screenshare/internal/types"
)

// DefaultDisplays is what New reports: a primary laptop panel and
// an external monitor.
var DefaultDisplays = []types.Display{
	{ID: 2, Name: "External", Width: 2560, Height: 1440, ScaleFactor: 1},
	{ID: 1, Name: "Built-in Retina Display", Width: 3024, Height: 1964, ScaleFactor: 2, Primary: true},
}

// Backend is a fake capture.Backend. Set the exported fields before use.
type Backend struct {
	Displays []types.Display
	QueryErr error
	VideoErr error
	AudioErr error

	// BeforeOpen runs inside OpenVideo/OpenAudio before the handle exists.
	// Returning an error fails the open.
	BeforeOpen func(kind capture.Kind) error

	mu      sync.Mutex
	streams []*Stream
	open    atomic.Int64
	opened  atomic.Int64
	queries atomic.Int64
}

func New() *Backend {
	return &Backend{Displays: append([]types.Display(nil), DefaultDisplays...)}
}

func (b *Backend) QueryDisplays() ([]types.Display, error) {
	b.queries.Add(1)
	if b.QueryErr != nil {
		return nil, b.QueryErr
	}
	return append([]types.Display(nil), b.Displays...), nil
}

func (b *Backend) OpenVideo(display types.Display, fps int, onFrame capture.FrameFunc, onFault capture.FaultFunc) (*capture.Handle, error) {
	if err := b.before(capture.KindVideo); err != nil {
		return nil, err
	}
	if b.VideoErr != nil {
		return nil, b.VideoErr
	}
	found := false
	for _, d := range b.Displays {
		if d.ID == display.ID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %w", types.ErrCaptureUnavailable, types.ErrDisplayNotFound)
	}
	s := &Stream{Kind: capture.KindVideo, Display: display, FPS: fps, onFrame: onFrame, onFault: onFault}
	return b.track(s), nil
}

func (b *Backend) OpenAudio(format types.AudioFormat, source types.AudioSource, onSamples capture.SamplesFunc, onFault capture.FaultFunc) (*capture.Handle, error) {
	if err := b.before(capture.KindAudio); err != nil {
		return nil, err
	}
	if b.AudioErr != nil {
		return nil, b.AudioErr
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	s := &Stream{Kind: capture.KindAudio, Format: format, Source: source, onSamples: onSamples, onFault: onFault}
	return b.track(s), nil
}

func (b *Backend) before(kind capture.Kind) error {
	if b.BeforeOpen == nil {
		return nil
	}
	return b.BeforeOpen(kind)
}

func (b *Backend) track(s *Stream) *capture.Handle {
	b.open.Add(1)
	b.opened.Add(1)
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()
	return capture.NewHandle(s.Kind, func() error {
		s.closed.Store(true)
		b.open.Add(-1)
		return nil
	})
}

// Open is the number of handles from this backend not yet closed.
func (b *Backend) Open() int { return int(b.open.Load()) }

// Opened is the number of handles ever opened.
func (b *Backend) Opened() int { return int(b.opened.Load()) }

func (b *Backend) Queries() int { return int(b.queries.Load()) }

// Latest returns the most recently opened stream of kind, or nil.
func (b *Backend) Latest(kind capture.Kind) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.streams) - 1; i >= 0; i-- {
		if b.streams[i].Kind == kind {
			return b.streams[i]
		}
	}
	return nil
}

// Stream is one fake native stream.
type Stream struct {
	Kind    capture.Kind
	Display types.Display
	FPS     int
	Format  types.AudioFormat
	Source  types.AudioSource

	onFrame   capture.FrameFunc
	onSamples capture.SamplesFunc
	onFault   capture.FaultFunc
	closed    atomic.Bool
	faulted   atomic.Bool
}

func (s *Stream) Closed() bool { return s.closed.Load() }

// PushFrame delivers a small BGRA frame filled with fill. It is a no-op once
// the handle is closed, like a native stream after unregistering.
func (s *Stream) PushFrame(pts time.Duration, fill byte) {
	if s.closed.Load() || s.onFrame == nil {
		return
	}
	const w, h = 4, 2
	src := make([]byte, w*4*h)
	for i := range src {
		src[i] = fill
	}
	s.onFrame(capture.NewFrame(src, w*4, w, h, types.PixFmtBGRA, pts))
}

func (s *Stream) PushSamples(samples []int16) {
	if s.closed.Load() || s.onSamples == nil {
		return
	}
	s.onSamples(samples)
}

// Fault simulates the OS stopping the stream. Only the first call reports.
func (s *Stream) Fault(err error) {
	if s.closed.Load() || s.onFault == nil {
		return
	}
	if s.faulted.CompareAndSwap(false, true) {
		s.onFault(err)
	}
}
