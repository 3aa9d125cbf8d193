package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrHandleClosed is returned by a second Close on the same handle. The
// native stream is not touched again.
var ErrHandleClosed = errors.New("capture handle already closed")

type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

var openHandles atomic.Int64

// OpenHandles returns the number of native handles opened and not yet closed
// in this process.
func OpenHandles() int64 { return openHandles.Load() }

// Handle owns one open native stream.
type Handle struct {
	kind    Kind
	closed  atomic.Bool
	release func() error
}

// NewHandle wraps an opened native stream. release is called exactly once by
// the first Close.
func NewHandle(kind Kind, release func() error) *Handle {
	openHandles.Add(1)
	return &Handle{kind: kind, release: release}
}

func (h *Handle) Kind() Kind { return h.kind }

func (h *Handle) Closed() bool { return h.closed.Load() }

// Close releases the native stream. Closing twice returns ErrHandleClosed.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", h.kind, ErrHandleClosed)
	}
	openHandles.Add(-1)
	if h.release == nil {
		return nil
	}
	if err := h.release(); err != nil {
		return fmt.Errorf("close %s stream: %w", h.kind, err)
	}
	return nil
}
