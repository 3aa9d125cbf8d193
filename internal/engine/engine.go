// Package engine runs one capture session at a time: it opens the native
// video and audio streams, routes their callbacks into a frame queue and a
// PCM buffer, and releases the streams when the session ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"screenshare/internal/capture"
	"screenshare/internal/pcm"
	"screenshare/internal/types"
)

var (
	ErrNotRunning = errors.New("engine: no capture session")
	ErrRunning    = errors.New("engine: capture session already active")
	ErrCancelled  = errors.New("engine: start cancelled")
)

// Config describes a capture session.
type Config struct {
	FPS          int
	Audio        types.AudioFormat
	AudioSource  types.AudioSource
	BufferFrames int // PCM buffer capacity in sample frames
	FrameQueue   int // video frames queued for the consumer
}

func DefaultConfig() Config {
	return Config{
		FPS:          30,
		Audio:        types.AudioFormat{SampleRate: 48000, Channels: 2, BitDepth: 16},
		AudioSource:  types.AudioSystem,
		BufferFrames: 48000 / 2,
		FrameQueue:   4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FPS <= 0 {
		c.FPS = d.FPS
	}
	if c.Audio == (types.AudioFormat{}) {
		c.Audio = d.Audio
	}
	if c.AudioSource == "" {
		c.AudioSource = d.AudioSource
	}
	if c.BufferFrames <= 0 {
		c.BufferFrames = c.Audio.SampleRate / 2
	}
	if c.FrameQueue <= 0 {
		c.FrameQueue = d.FrameQueue
	}
	return c
}

func (c Config) Validate() error {
	if c.FPS < 1 || c.FPS > 120 {
		return fmt.Errorf("fps %d out of range 1..120", c.FPS)
	}
	if c.AudioSource == types.AudioNone {
		return nil
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	return nil
}

// FaultError is a native fault reported by a running session.
type FaultError struct {
	Session uuid.UUID
	Err     error
}

func (e *FaultError) Error() string { return fmt.Sprintf("session %s: %v", e.Session, e.Err) }
func (e *FaultError) Unwrap() error { return e.Err }

// Stats is a snapshot of the current session's counters.
type Stats struct {
	Session         string
	FramesDelivered uint64
	FramesDropped   uint64
	AudioBuffered   int
	AudioDropped    uint64
	Overruns        uint64
}

// Engine owns at most one capture session.
type Engine struct {
	backend capture.Backend
	log     zerolog.Logger
	metrics *Metrics
	faults  chan error

	mu       sync.Mutex
	sess     *session
	starting *session
}

func New(backend capture.Backend, log zerolog.Logger, metrics *Metrics) *Engine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		backend: backend,
		log:     log.With().Str("mod", "engine").Logger(),
		metrics: metrics,
		faults:  make(chan error, 4),
	}
}

// Faults delivers native faults of running sessions. Sends never block; a
// fault is discarded when nobody drains the channel.
func (e *Engine) Faults() <-chan error { return e.faults }

// Start opens the video stream for display and then the audio stream. On any
// failure the streams opened so far are closed before Start returns. A Stop
// issued while Start runs makes Start return ErrCancelled. A native fault
// during Start fails it with the *FaultError.
func (e *Engine) Start(ctx context.Context, display types.Display, cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrCaptureUnavailable, err)
	}

	s, err := e.newSession(display, cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.sess != nil || e.starting != nil {
		e.mu.Unlock()
		return ErrRunning
	}
	e.starting = s
	e.mu.Unlock()

	if err := e.open(ctx, s); err != nil {
		s.stop()
		e.mu.Lock()
		if e.starting == s {
			e.starting = nil
		}
		e.mu.Unlock()
		result := "failed"
		if errors.Is(err, ErrCancelled) {
			result = "cancelled"
		}
		e.metrics.Sessions.WithLabelValues(result).Inc()
		s.log.Warn().Err(err).Msg("start failed")
		return err
	}

	e.mu.Lock()
	e.starting = nil
	if s.stopped.Load() {
		e.mu.Unlock()
		e.metrics.Sessions.WithLabelValues("cancelled").Inc()
		return ErrCancelled
	}
	if fe := s.fault.Load(); fe != nil {
		// a stream died before Start finished
		e.mu.Unlock()
		e.metrics.Sessions.WithLabelValues("failed").Inc()
		return errors.Join(fmt.Errorf("start: %w", fe), s.stop())
	}
	e.sess = s
	e.mu.Unlock()

	e.metrics.Sessions.WithLabelValues("started").Inc()
	s.log.Info().Stringer("display", display).Int("fps", cfg.FPS).
		Str("audio", string(cfg.AudioSource)).Msg("capture started")
	return nil
}

func (e *Engine) newSession(display types.Display, cfg Config) (*session, error) {
	s := &session{
		id:      uuid.New(),
		display: display,
		cfg:     cfg,
		engine:  e,
		frames:  make(chan *types.VideoFrame, cfg.FrameQueue),
		done:    make(chan struct{}),
	}
	s.lastPTS.Store(math.MinInt64)
	s.log = e.log.With().Str("session", s.id.String()).Logger()
	if cfg.AudioSource != types.AudioNone {
		buf, err := pcm.New(cfg.Audio, cfg.BufferFrames)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrCaptureUnavailable, err)
		}
		s.pcm = buf
	}
	return s, nil
}

func (e *Engine) open(ctx context.Context, s *session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	vh, err := e.backend.OpenVideo(s.display, s.cfg.FPS, s.onFrame, s.onFault)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	if !s.adopt(vh) {
		return ErrCancelled
	}

	if s.pcm == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	ah, err := e.backend.OpenAudio(s.cfg.Audio, s.cfg.AudioSource, s.onSamples, s.onFault)
	if err != nil {
		return fmt.Errorf("open %s audio: %w", s.cfg.AudioSource, err)
	}
	if !s.adopt(ah) {
		return ErrCancelled
	}
	return nil
}

// Stop ends the current session, or cancels one that is starting. It is
// safe to call any number of times.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		s = e.starting
	}
	e.sess = nil
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.stop()
}

// Running reports whether a session is fully started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

func (e *Engine) current() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// SessionID returns the id of the running session, or uuid.Nil.
func (e *Engine) SessionID() uuid.UUID {
	if s := e.current(); s != nil {
		return s.id
	}
	return uuid.Nil
}

// NextVideoFrame blocks until a frame is available. Frames come out in
// non-decreasing PTS order. The caller must Release the frame.
func (e *Engine) NextVideoFrame(ctx context.Context) (*types.VideoFrame, error) {
	s := e.current()
	if s == nil {
		return nil, ErrNotRunning
	}
	for {
		select {
		case f := <-s.frames:
			if s.muted.Load() {
				// queued just as Suspend drained
				s.drop(f, dropMuted)
				continue
			}
			s.delivered.Add(1)
			e.metrics.FramesDelivered.Inc()
			return f, nil
		case <-s.done:
			return nil, ErrNotRunning
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReadAudio returns up to maxSamples interleaved samples. It returns no samples and
// no error when audio is disabled, delivery is suspended or nothing is buffered.
func (e *Engine) ReadAudio(maxSamples int) ([]int16, error) {
	s := e.current()
	if s == nil {
		return nil, ErrNotRunning
	}
	if s.pcm == nil || s.muted.Load() {
		return nil, nil
	}
	if s.flushAudio.Swap(false) {
		s.pcm.Reset()
	}
	out, err := s.pcm.Read(maxSamples)
	s.accountAudio(err)
	return out, err
}

// ReadAudioInto is the allocation-free form of ReadAudio.
func (e *Engine) ReadAudioInto(dst []int16) (int, error) {
	s := e.current()
	if s == nil {
		return 0, ErrNotRunning
	}
	if s.pcm == nil || s.muted.Load() {
		return 0, nil
	}
	if s.flushAudio.Swap(false) {
		s.pcm.Reset()
	}
	n, err := s.pcm.ReadInto(dst)
	s.accountAudio(err)
	return n, err
}

// AudioFormat returns the format of the running session's PCM samples.
func (e *Engine) AudioFormat() (types.AudioFormat, bool) {
	s := e.current()
	if s == nil || s.pcm == nil {
		return types.AudioFormat{}, false
	}
	return s.pcm.Format(), true
}

// Suspend stops delivering frames and samples while the native streams keep
// running. Queued frames are discarded. Buffered audio is held back and
// discarded on Resume.
func (e *Engine) Suspend() error {
	s := e.current()
	if s == nil {
		return ErrNotRunning
	}
	s.muted.Store(true)
	s.drainFrames()
	s.log.Debug().Msg("delivery suspended")
	return nil
}

// Resume restarts delivery. Audio buffered before the suspend is discarded by
// the next read.
func (e *Engine) Resume() error {
	s := e.current()
	if s == nil {
		return ErrNotRunning
	}
	s.flushAudio.Store(true)
	s.muted.Store(false)
	s.log.Debug().Msg("delivery resumed")
	return nil
}

func (e *Engine) Stats() (Stats, error) {
	s := e.current()
	if s == nil {
		return Stats{}, ErrNotRunning
	}
	st := Stats{
		Session:         s.id.String(),
		FramesDelivered: s.delivered.Load(),
		FramesDropped:   s.dropped.Load(),
	}
	if s.pcm != nil {
		ps := s.pcm.Stats()
		st.AudioBuffered = ps.Buffered
		st.AudioDropped = ps.DroppedFrames
		st.Overruns = ps.Overruns
	}
	return st, nil
}

func (e *Engine) reportFault(s *session, fe *FaultError) {
	select {
	case e.faults <- fe:
	default:
		s.log.Warn().Err(fe.Err).Msg("fault dropped, channel full")
	}
}
