package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"screenshare/internal/capture"
	"screenshare/internal/pcm"
	"screenshare/internal/types"
)

type session struct {
	id      uuid.UUID
	display types.Display
	cfg     Config
	engine  *Engine
	log     zerolog.Logger

	pcm    *pcm.Buffer
	frames chan *types.VideoFrame
	done   chan struct{}

	muted      atomic.Bool
	flushAudio atomic.Bool
	stopped    atomic.Bool
	fault      atomic.Pointer[FaultError] // first native fault, nil while healthy

	// written by the video callback only
	lastPTS atomic.Int64
	seq     atomic.Uint64

	delivered   atomic.Uint64
	dropped     atomic.Uint64
	seenDropped atomic.Uint64 // PCM drops already exported to metrics

	hmu     sync.Mutex
	handles []*capture.Handle
}

// adopt takes ownership of h. If the session was stopped while h was being
// opened, h is closed right away and adopt reports false.
func (s *session) adopt(h *capture.Handle) bool {
	s.hmu.Lock()
	if s.stopped.Load() {
		s.hmu.Unlock()
		if err := h.Close(); err != nil {
			s.log.Warn().Err(err).Stringer("kind", h.Kind()).Msg("close late handle")
		}
		return false
	}
	s.handles = append(s.handles, h)
	s.hmu.Unlock()
	return true
}

// stop closes every handle exactly once. Later calls return nil.
func (s *session) stop() error {
	s.hmu.Lock()
	if s.stopped.Swap(true) {
		s.hmu.Unlock()
		return nil
	}
	hs := s.handles
	s.handles = nil
	s.hmu.Unlock()

	close(s.done)
	var errs []error
	for _, h := range hs {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.drainFrames()

	err := errors.Join(errs...)
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Int("handles", len(hs)).Uint64("delivered", s.delivered.Load()).
		Uint64("dropped", s.dropped.Load()).Msg("capture stopped")
	return err
}

func (s *session) drainFrames() {
	for {
		select {
		case f := <-s.frames:
			f.Release()
		default:
			return
		}
	}
}

func (s *session) drop(f *types.VideoFrame, reason string) {
	f.Release()
	s.dropped.Add(1)
	s.engine.metrics.FramesDropped.WithLabelValues(reason).Inc()
}

// onFrame runs on the native capture queue and must not block.
func (s *session) onFrame(f *types.VideoFrame) {
	if s.stopped.Load() || s.muted.Load() {
		s.drop(f, dropMuted)
		return
	}
	pts := int64(f.PTS)
	if pts < s.lastPTS.Load() {
		s.drop(f, dropLate)
		return
	}
	s.lastPTS.Store(pts)
	f.Seq = s.seq.Add(1)

	select {
	case s.frames <- f:
		return
	default:
	}
	// queue full: make room by dropping the oldest frame
	select {
	case old := <-s.frames:
		s.drop(old, dropQueueFull)
	default:
	}
	select {
	case s.frames <- f:
	default:
		s.drop(f, dropQueueFull)
	}
}

// onSamples runs on the native audio thread and must not block.
func (s *session) onSamples(samples []int16) {
	if s.stopped.Load() || s.muted.Load() {
		return
	}
	s.pcm.Write(samples)
}

func (s *session) onFault(err error) {
	if s.stopped.Load() {
		return
	}
	fe := &FaultError{Session: s.id, Err: err}
	if !s.fault.CompareAndSwap(nil, fe) {
		return
	}
	s.log.Error().Err(err).Msg("native stream fault")
	s.engine.reportFault(s, fe)
}

// accountAudio exports PCM counters to metrics. Consumer side only.
func (s *session) accountAudio(err error) {
	if errors.Is(err, types.ErrOverrun) {
		s.engine.metrics.Overruns.Inc()
	}
	total := s.pcm.Stats().DroppedFrames
	if prev := s.seenDropped.Swap(total); total > prev {
		s.engine.metrics.AudioDropped.Add(float64(total - prev))
	}
}
