// Package recorder is the public entry point of the capture core. It drives a
// capture engine through the Idle, Starting, Recording, Paused, Stopping and
// Failed states and serializes every lifecycle call.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"screenshare/internal/engine"
	"screenshare/internal/types"
)

var ErrShutdown = errors.New("recorder: shut down")

// Capturer is the engine surface the recorder drives.
type Capturer interface {
	Start(ctx context.Context, display types.Display, cfg engine.Config) error
	Stop() error
	Suspend() error
	Resume() error
	NextVideoFrame(ctx context.Context) (*types.VideoFrame, error)
	ReadAudio(maxSamples int) ([]int16, error)
	Faults() <-chan error
	SessionID() uuid.UUID
}

type Options struct {
	// StartTimeout bounds Start. Zero means no bound.
	StartTimeout time.Duration
	// EventBuffer is the per-subscriber event queue length.
	EventBuffer int
}

type Recorder struct {
	eng  Capturer
	log  zerolog.Logger
	opts Options

	mu            sync.Mutex
	state         State
	err           error
	session       uuid.UUID
	startCancel   context.CancelFunc
	startDone     chan struct{}
	startFault    error // fault seen while Starting, applied when Start returns
	stopRequested bool
	stopDone      chan struct{}
	subs          map[int]chan Event
	nextSub       int
	closed        bool

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(eng Capturer, log zerolog.Logger, opts Options) *Recorder {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	r := &Recorder{
		eng:  eng,
		log:  log.With().Str("mod", "recorder").Logger(),
		opts: opts,
		subs: make(map[int]chan Event),
		quit: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.watchFaults()
	return r
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error that moved the recorder to Failed, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Start opens a capture session on display. It moves Idle to Starting, then
// to Recording on success or Failed on error. A Stop during Start cancels it
// and the recorder ends in Idle.
func (r *Recorder) Start(ctx context.Context, display types.Display, cfg engine.Config) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShutdown
	}
	if r.state != Idle {
		r.mu.Unlock()
		return &TransitionError{Op: "start", From: r.state}
	}
	if r.opts.StartTimeout > 0 {
		ctx, r.startCancel = context.WithTimeout(ctx, r.opts.StartTimeout)
	} else {
		ctx, r.startCancel = context.WithCancel(ctx)
	}
	r.startDone = make(chan struct{})
	r.startFault = nil
	r.stopRequested = false
	r.err = nil
	r.setLocked(Starting, nil)
	r.mu.Unlock()

	err := r.eng.Start(ctx, display, cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.startCancel()
	r.startCancel = nil
	defer close(r.startDone)

	if r.stopRequested {
		if err == nil {
			// Start won the race against Stop; undo it.
			if serr := r.eng.Stop(); serr != nil {
				r.log.Warn().Err(serr).Msg("stop after cancelled start")
			}
		}
		r.setLocked(Idle, nil)
		return fmt.Errorf("start %s: %w", display, engine.ErrCancelled)
	}
	if err != nil {
		err = fmt.Errorf("start %s: %w", display, err)
		r.err = err
		r.setLocked(Failed, err)
		return err
	}
	id := r.eng.SessionID()
	if ferr := r.startFault; ferr != nil && faultOf(ferr, id) {
		if serr := r.eng.Stop(); serr != nil {
			r.log.Warn().Err(serr).Msg("release after fault")
		}
		err = fmt.Errorf("start %s: %w", display, ferr)
		r.err = err
		r.setLocked(Failed, err)
		return err
	}
	r.session = id
	r.setLocked(Recording, nil)
	return nil
}

// Pause mutes delivery. Native streams stay open.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.state != Recording {
		return &TransitionError{Op: "pause", From: r.state}
	}
	if err := r.eng.Suspend(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	r.setLocked(Paused, nil)
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.state != Paused {
		return &TransitionError{Op: "resume", From: r.state}
	}
	if err := r.eng.Resume(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	r.setLocked(Recording, nil)
	return nil
}

// Stop is valid in every state. From Recording or Paused it tears the session
// down and ends in Idle. From Starting it cancels the start and waits for it.
// From Stopping it waits for the stop in flight. From Idle or Failed it does
// nothing.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	switch r.state {
	case Idle, Failed:
		r.mu.Unlock()
		return nil
	case Stopping:
		done := r.stopDone
		r.mu.Unlock()
		<-done
		return nil
	case Starting:
		r.stopRequested = true
		r.startCancel()
		done := r.startDone
		r.mu.Unlock()
		// closes whatever the start has opened so far
		if err := r.eng.Stop(); err != nil {
			r.log.Warn().Err(err).Msg("stop during start")
		}
		<-done
		return nil
	}

	r.stopDone = make(chan struct{})
	done := r.stopDone
	r.setLocked(Stopping, nil)
	r.mu.Unlock()

	err := r.eng.Stop()

	r.mu.Lock()
	r.session = uuid.Nil
	r.setLocked(Idle, nil)
	close(done)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// Reset clears a failure and returns to Idle. It does not retry.
func (r *Recorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.state != Failed {
		return &TransitionError{Op: "reset", From: r.state}
	}
	r.err = nil
	r.setLocked(Idle, nil)
	return nil
}

// NextVideoFrame returns the next captured frame. The caller must Release it.
func (r *Recorder) NextVideoFrame(ctx context.Context) (*types.VideoFrame, error) {
	return r.eng.NextVideoFrame(ctx)
}

// ReadAudio pulls up to maxSamples interleaved PCM samples. types.ErrOverrun
// comes with valid data and does not stop the recorder.
func (r *Recorder) ReadAudio(maxSamples int) ([]int16, error) {
	return r.eng.ReadAudio(maxSamples)
}

// Subscribe returns a channel of state changes. Events are dropped for a
// subscriber that does not keep up. cancel stops the subscription.
func (r *Recorder) Subscribe() (events <-chan Event, cancel func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, ErrShutdown
	}
	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, r.opts.EventBuffer)
	r.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}, nil
}

// Shutdown stops any session, closes all subscriptions and makes further
// lifecycle calls fail with ErrShutdown. It is the hook behind the
// application's "stop sharing" action.
func (r *Recorder) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.Stop()

	r.mu.Lock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.mu.Unlock()

	close(r.quit)
	r.wg.Wait()
	r.log.Info().Msg("recorder shut down")
	return err
}

func (r *Recorder) setLocked(to State, err error) {
	from := r.state
	r.state = to
	ev := r.log.Debug()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	ev.Stringer("from", from).Stringer("to", to).Msg("state")

	e := Event{From: from, To: to, Err: err}
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (r *Recorder) watchFaults() {
	defer r.wg.Done()
	faults := r.eng.Faults()
	for {
		select {
		case <-r.quit:
			return
		case err, ok := <-faults:
			if !ok {
				return
			}
			r.fail(err)
		}
	}
}

// fail handles a mid-session fault: the session is torn down first, then the
// recorder moves to Failed.
func (r *Recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Starting:
		// the session id is not known yet; Start checks it
		if r.startFault == nil {
			r.startFault = err
		}
		return
	case Recording, Paused:
	default:
		return
	}
	if !faultOf(err, r.session) {
		return // stale fault from an earlier session
	}
	if serr := r.eng.Stop(); serr != nil {
		r.log.Warn().Err(serr).Msg("release after fault")
	}
	r.session = uuid.Nil
	r.err = err
	r.setLocked(Failed, err)
}

// faultOf reports whether err belongs to session id. Faults without a
// session are assumed current.
func faultOf(err error, id uuid.UUID) bool {
	var fe *engine.FaultError
	return !errors.As(err, &fe) || fe.Session == id
}
