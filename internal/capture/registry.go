package capture

import (
	"sync"
	"sync/atomic"
)

// Native code refers to a stream by id only; it never holds a Go pointer.
// Lookups happen on native threads and are lock-free.
var (
	streams      sync.Map // int32 -> *stream
	nextStreamID atomic.Int32
)

type stream struct {
	onFrame   FrameFunc
	onSamples SamplesFunc
	onFault   FaultFunc
	faulted   atomic.Bool
}

func registerStream(s *stream) int32 {
	id := nextStreamID.Add(1)
	streams.Store(id, s)
	return id
}

func unregisterStream(id int32) { streams.Delete(id) }

func lookupStream(id int32) *stream {
	v, ok := streams.Load(id)
	if !ok {
		return nil
	}
	return v.(*stream)
}

func (s *stream) fault(err error) {
	if s.onFault != nil && s.faulted.CompareAndSwap(false, true) {
		s.onFault(err)
	}
}
