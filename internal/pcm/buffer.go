// Package pcm holds the ring buffer between the audio capture callback and
// the consumer.
package pcm

import (
	"fmt"
	"sync/atomic"

	"screenshare/internal/types"
)

// Buffer is a single-producer/single-consumer ring of interleaved 16-bit
// samples. Write is called from the capture callback only and Read from one
// consumer goroutine only. Neither side takes a lock.
//
// Overflow policy: signal overrun, drop newest. Samples that do not fit are
// discarded and the next read reports ErrOverrun once for the whole episode.
// Storage is always in whole sample frames.
type Buffer struct {
	format   types.AudioFormat
	channels uint64
	s        []int16

	// monotonic sample counters; w-r is the number of unread samples
	w atomic.Uint64
	r atomic.Uint64

	overrun  atomic.Bool
	episodes atomic.Uint64
	dropped  atomic.Uint64 // sample frames
}

// Stats is a point-in-time view of the buffer counters.
type Stats struct {
	Buffered      int // sample frames
	Capacity      int // sample frames
	DroppedFrames uint64
	Overruns      uint64
}

func New(format types.AudioFormat, capacityFrames int) (*Buffer, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("pcm: %w", err)
	}
	if capacityFrames <= 0 {
		return nil, fmt.Errorf("pcm: capacity must be > 0 frames, got %d", capacityFrames)
	}
	return &Buffer{
		format:   format,
		channels: uint64(format.Channels),
		s:        make([]int16, capacityFrames*format.Channels),
	}, nil
}

func (b *Buffer) Format() types.AudioFormat { return b.format }

// Capacity returns the capacity in sample frames.
func (b *Buffer) Capacity() int { return len(b.s) / int(b.channels) }

// Write stores as many whole sample frames of s as fit and returns the number
// of samples stored. A trailing partial frame is ignored.
func (b *Buffer) Write(s []int16) int {
	n := uint64(len(s)) - uint64(len(s))%b.channels
	if n == 0 {
		return 0
	}
	w := b.w.Load()
	free := uint64(len(b.s)) - (w - b.r.Load())
	accept := min(n, free)
	if accept < n {
		b.dropped.Add((n - accept) / b.channels)
		if b.overrun.CompareAndSwap(false, true) {
			b.episodes.Add(1)
		}
	}
	if accept == 0 {
		return 0
	}
	size := uint64(len(b.s))
	start := w % size
	c := copy(b.s[start:], s[:accept])
	if uint64(c) < accept {
		copy(b.s, s[c:accept])
	}
	b.w.Store(w + accept)
	return int(accept)
}

// Read returns up to maxSamples samples, rounded down to whole frames, as a copy the
// caller owns. An empty result with a nil error means no data yet.
func (b *Buffer) Read(maxSamples int) ([]int16, error) {
	avail := int(b.w.Load() - b.r.Load())
	n := max(min(maxSamples, avail), 0)
	n -= n % int(b.channels)
	out := make([]int16, n)
	_, err := b.ReadInto(out)
	return out, err
}

// ReadInto fills dst with whole frames and returns the number of samples
// copied. It reports ErrOverrun once after each overrun episode.
func (b *Buffer) ReadInto(dst []int16) (int, error) {
	r := b.r.Load()
	avail := b.w.Load() - r
	n := min(uint64(len(dst)), avail)
	n -= n % b.channels
	if n > 0 {
		size := uint64(len(b.s))
		start := r % size
		c := copy(dst[:n], b.s[start:])
		if uint64(c) < n {
			copy(dst[c:n], b.s)
		}
		b.r.Store(r + n)
	}
	if b.overrun.Swap(false) {
		return int(n), types.ErrOverrun
	}
	return int(n), nil
}

// Reset drops unread samples. Consumer side only.
func (b *Buffer) Reset() {
	b.r.Store(b.w.Load())
	b.overrun.Store(false)
}

func (b *Buffer) Stats() Stats {
	return Stats{
		Buffered:      int((b.w.Load() - b.r.Load()) / b.channels),
		Capacity:      b.Capacity(),
		DroppedFrames: b.dropped.Load(),
		Overruns:      b.episodes.Load(),
	}
}
