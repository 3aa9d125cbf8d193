package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"screenshare/internal/engine"
	"screenshare/internal/types"
)

// stubEngine is a Capturer whose Start and Stop can be held open so the
// recorder can be observed in Starting and Stopping.
type stubEngine struct {
	mu         sync.Mutex
	startErr   error
	blockStart bool
	blockStop  bool
	stopGate   chan struct{}
	release    chan struct{} // closing it lets a blocked Start succeed
	cancel     chan struct{}
	open       int
	id         uuid.UUID
	faults     chan error
}

func newStub() *stubEngine {
	return &stubEngine{
		stopGate: make(chan struct{}),
		cancel:   make(chan struct{}),
		faults:   make(chan error, 1),
	}
}

func (s *stubEngine) Start(ctx context.Context, _ types.Display, _ engine.Config) error {
	s.mu.Lock()
	if s.startErr != nil {
		s.mu.Unlock()
		return s.startErr
	}
	s.open = 2
	s.id = uuid.New()
	block, cancel, release := s.blockStart, s.cancel, s.release
	s.mu.Unlock()
	if !block {
		return nil
	}
	select {
	case <-release:
		return nil
	case <-cancel:
		return engine.ErrCancelled
	case <-ctx.Done():
		s.mu.Lock()
		s.open = 0
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *stubEngine) Stop() error {
	s.mu.Lock()
	block := s.blockStop
	s.mu.Unlock()
	if block {
		<-s.stopGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = 0
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
	return nil
}

func (s *stubEngine) Suspend() error { return nil }
func (s *stubEngine) Resume() error  { return nil }

func (s *stubEngine) NextVideoFrame(ctx context.Context) (*types.VideoFrame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stubEngine) ReadAudio(int) ([]int16, error) { return nil, nil }
func (s *stubEngine) Faults() <-chan error           { return s.faults }

func (s *stubEngine) SessionID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *stubEngine) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

var testDisplay = types.Display{ID: 1, Name: "test", Width: 1920, Height: 1080, ScaleFactor: 1, Primary: true}

func waitState(t *testing.T, r *Recorder, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", r.State(), want)
}

// reach builds a recorder in state st. finish releases anything held and
// waits for background calls.
func reach(t *testing.T, st State) (r *Recorder, stub *stubEngine, finish func()) {
	t.Helper()
	stub = newStub()
	r = New(stub, zerolog.Nop(), Options{})
	var wg sync.WaitGroup
	finish = func() {}

	switch st {
	case Idle:
	case Starting:
		stub.blockStart = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start(context.Background(), testDisplay, engine.Config{})
		}()
		waitState(t, r, Starting)
		finish = func() { r.Stop(); wg.Wait() }
	case Recording, Paused, Stopping:
		if err := r.Start(context.Background(), testDisplay, engine.Config{}); err != nil {
			t.Fatal(err)
		}
		if st == Paused {
			if err := r.Pause(); err != nil {
				t.Fatal(err)
			}
		}
		if st == Stopping {
			stub.mu.Lock()
			stub.blockStop = true
			stub.mu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Stop()
			}()
			waitState(t, r, Stopping)
			finish = func() {
				select {
				case <-stub.stopGate:
				default:
					close(stub.stopGate)
				}
				wg.Wait()
			}
		}
	case Failed:
		stub.startErr = types.ErrCaptureUnavailable
		if err := r.Start(context.Background(), testDisplay, engine.Config{}); err == nil {
			t.Fatal("start should fail")
		}
	}
	if got := r.State(); got != st {
		t.Fatalf("setup reached %s, want %s", got, st)
	}
	return r, stub, finish
}

func TestTransitionTable(t *testing.T) {
	ops := []struct {
		name string
		call func(r *Recorder) error
	}{
		{"start", func(r *Recorder) error { return r.Start(context.Background(), testDisplay, engine.Config{}) }},
		{"pause", (*Recorder).Pause},
		{"resume", (*Recorder).Resume},
		{"reset", (*Recorder).Reset},
	}
	// allowed[from][op] is the resulting state; missing means rejected
	allowed := map[State]map[string]State{
		Idle:      {"start": Recording},
		Recording: {"pause": Paused},
		Paused:    {"resume": Recording},
		Failed:    {"reset": Idle},
	}

	for _, from := range []State{Idle, Starting, Recording, Paused, Stopping, Failed} {
		for _, op := range ops {
			t.Run(from.String()+"/"+op.name, func(t *testing.T) {
				r, _, finish := reach(t, from)
				defer finish()
				err := op.call(r)
				to, ok := allowed[from][op.name]
				if ok {
					if err != nil {
						t.Fatalf("%s from %s: %v", op.name, from, err)
					}
					if r.State() != to {
						t.Fatalf("%s from %s ended in %s, want %s", op.name, from, r.State(), to)
					}
					return
				}
				if !errors.Is(err, types.ErrInvalidTransition) {
					t.Fatalf("%s from %s: err = %v, want ErrInvalidTransition", op.name, from, err)
				}
				var te *TransitionError
				if !errors.As(err, &te) || te.From != from {
					t.Fatalf("err = %#v, want TransitionError from %s", err, from)
				}
				if r.State() != from {
					t.Fatalf("rejected %s changed state %s -> %s", op.name, from, r.State())
				}
			})
		}
	}
}

func TestStopFromEveryState(t *testing.T) {
	for _, from := range []State{Idle, Recording, Paused, Failed} {
		t.Run(from.String(), func(t *testing.T) {
			r, stub, finish := reach(t, from)
			defer finish()
			want := Idle
			if from == Failed {
				want = Failed
			}
			for i := 0; i < 2; i++ {
				if err := r.Stop(); err != nil {
					t.Fatalf("Stop #%d: %v", i+1, err)
				}
				if r.State() != want {
					t.Fatalf("state after Stop #%d = %s, want %s", i+1, r.State(), want)
				}
			}
			if stub.Open() != 0 {
				t.Errorf("open handles = %d", stub.Open())
			}
		})
	}
}

func TestStopWhileStarting(t *testing.T) {
	stub := newStub()
	stub.blockStart = true
	r := New(stub, zerolog.Nop(), Options{})
	errc := make(chan error, 1)
	go func() { errc <- r.Start(context.Background(), testDisplay, engine.Config{}) }()
	waitState(t, r, Starting)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.State() != Idle {
		t.Fatalf("state = %s, want idle", r.State())
	}
	if err := <-errc; !errors.Is(err, engine.ErrCancelled) {
		t.Fatalf("Start err = %v, want ErrCancelled", err)
	}
	if stub.Open() != 0 {
		t.Errorf("open handles = %d", stub.Open())
	}
}

func TestStopWhileStopping(t *testing.T) {
	r, stub, finish := reach(t, Stopping)
	defer finish()
	errc := make(chan error, 1)
	go func() { errc <- r.Stop() }()
	select {
	case err := <-errc:
		t.Fatalf("second Stop returned before teardown finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(stub.stopGate)
	if err := <-errc; err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if r.State() != Idle {
		t.Errorf("state = %s, want idle", r.State())
	}
}

func TestStartTimeout(t *testing.T) {
	stub := newStub()
	stub.blockStart = true
	r := New(stub, zerolog.Nop(), Options{StartTimeout: 20 * time.Millisecond})
	err := r.Start(context.Background(), testDisplay, engine.Config{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start err = %v, want deadline exceeded", err)
	}
	if r.State() != Failed {
		t.Errorf("state = %s, want failed", r.State())
	}
}

func TestStaleFaultIgnored(t *testing.T) {
	r, stub, finish := reach(t, Recording)
	defer finish()
	stub.faults <- &engine.FaultError{Session: uuid.New(), Err: types.ErrCaptureFault}
	time.Sleep(20 * time.Millisecond)
	if r.State() != Recording {
		t.Fatalf("stale fault moved recorder to %s", r.State())
	}
	stub.faults <- &engine.FaultError{Session: stub.SessionID(), Err: types.ErrCaptureFault}
	waitState(t, r, Failed)
	if stub.Open() != 0 {
		t.Errorf("handles still open after fault: %d", stub.Open())
	}
}

func TestFaultDuringStartFails(t *testing.T) {
	stub := newStub()
	stub.blockStart = true
	stub.release = make(chan struct{})
	r := New(stub, zerolog.Nop(), Options{})
	errc := make(chan error, 1)
	go func() { errc <- r.Start(context.Background(), testDisplay, engine.Config{}) }()
	waitState(t, r, Starting)

	stub.faults <- &engine.FaultError{Session: stub.SessionID(), Err: types.ErrCaptureFault}
	time.Sleep(20 * time.Millisecond)
	close(stub.release)

	if err := <-errc; err != nil && !errors.Is(err, types.ErrCaptureFault) {
		t.Fatalf("Start err = %v", err)
	}
	waitState(t, r, Failed)
	if !errors.Is(r.Err(), types.ErrCaptureFault) {
		t.Errorf("Err() = %v, want ErrCaptureFault", r.Err())
	}
	if stub.Open() != 0 {
		t.Errorf("open handles = %d", stub.Open())
	}
}

func TestStaleFaultDuringStartIgnored(t *testing.T) {
	stub := newStub()
	stub.blockStart = true
	stub.release = make(chan struct{})
	r := New(stub, zerolog.Nop(), Options{})
	errc := make(chan error, 1)
	go func() { errc <- r.Start(context.Background(), testDisplay, engine.Config{}) }()
	waitState(t, r, Starting)

	stub.faults <- &engine.FaultError{Session: uuid.New(), Err: types.ErrCaptureFault}
	time.Sleep(20 * time.Millisecond)
	close(stub.release)

	if err := <-errc; err != nil {
		t.Fatalf("Start err = %v", err)
	}
	if r.State() != Recording {
		t.Errorf("state = %s, want recording", r.State())
	}
	r.Stop()
}

func TestSubscribeAndShutdown(t *testing.T) {
	stub := newStub()
	r := New(stub, zerolog.Nop(), Options{})
	events, cancel, err := r.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := r.Start(context.Background(), testDisplay, engine.Config{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Shutdown(); err != nil {
		t.Fatal(err)
	}

	var got []State
	for ev := range events {
		got = append(got, ev.To)
	}
	want := []State{Starting, Recording, Stopping, Idle}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	if err := r.Start(context.Background(), testDisplay, engine.Config{}); !errors.Is(err, ErrShutdown) {
		t.Errorf("Start after Shutdown err = %v", err)
	}
	if _, _, err := r.Subscribe(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Subscribe after Shutdown err = %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop after Shutdown: %v", err)
	}
	if err := r.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if Paused.String() != "paused" || State(42).String() != "state(42)" {
		t.Errorf("unexpected names %q %q", Paused, State(42))
	}
}
