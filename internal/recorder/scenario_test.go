package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"screenshare/internal/capture"
	"screenshare/internal/capture/capturetest"
	"screenshare/internal/display"
	"screenshare/internal/engine"
	"screenshare/internal/types"
)

func newScenario(t *testing.T) (*Recorder, *capturetest.Backend, types.Display) {
	t.Helper()
	fake := capturetest.New()
	eng := engine.New(fake, zerolog.Nop(), nil)
	r := New(eng, zerolog.Nop(), Options{StartTimeout: 2 * time.Second})
	t.Cleanup(func() { r.Shutdown() })

	ds, err := display.List(fake)
	if err != nil {
		t.Fatal(err)
	}
	return r, fake, ds[0]
}

var monoCfg = engine.Config{
	FPS:        30,
	Audio:      types.AudioFormat{SampleRate: 48000, Channels: 1, BitDepth: 16},
	FrameQueue: 16,
}

func TestRecordPauseResumeStop(t *testing.T) {
	r, fake, d := newScenario(t)

	began := time.Now()
	if err := r.Start(context.Background(), d, monoCfg); err != nil {
		t.Fatal(err)
	}
	if r.State() != Recording {
		t.Fatalf("state = %s", r.State())
	}
	if el := time.Since(began); el > time.Second {
		t.Errorf("start took %v", el)
	}
	video := fake.Latest(capture.KindVideo)
	if video.Display.ID != d.ID || video.FPS != 30 {
		t.Fatalf("video opened for %v at %d fps", video.Display, video.FPS)
	}

	frame := time.Second / 30
	pts := time.Duration(0)
	for i := 0; i < 10; i++ {
		pts += frame
		video.PushFrame(pts, byte(i))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	last := time.Duration(-1)
	for i := 0; i < 10; i++ {
		f, err := r.NextVideoFrame(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.PTS < last {
			t.Fatalf("frame %d pts %v before %v", i, f.PTS, last)
		}
		last = f.PTS
		f.Release()
	}

	if err := r.Pause(); err != nil {
		t.Fatal(err)
	}
	pts += frame
	video.PushFrame(pts, 0xff)
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	if f, err := r.NextVideoFrame(short); err == nil {
		t.Fatalf("frame pts %v delivered while paused", f.PTS)
	}
	cancelShort()

	if err := r.Resume(); err != nil {
		t.Fatal(err)
	}
	pts += frame
	video.PushFrame(pts, 1)
	f, err := r.NextVideoFrame(ctx)
	if err != nil {
		t.Fatalf("no frame after resume: %v", err)
	}
	if f.PTS != pts {
		t.Errorf("pts after resume = %v, want %v", f.PTS, pts)
	}
	f.Release()

	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if r.State() != Idle {
		t.Fatalf("state after stop = %s", r.State())
	}
	if fake.Open() != 0 {
		t.Fatalf("open handles after stop = %d", fake.Open())
	}
}

func TestAudioThroughRecorder(t *testing.T) {
	r, fake, d := newScenario(t)
	if err := r.Start(context.Background(), d, monoCfg); err != nil {
		t.Fatal(err)
	}
	mic := fake.Latest(capture.KindAudio)
	if mic.Format.Channels != 1 {
		t.Fatalf("audio opened with %d channels", mic.Format.Channels)
	}
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = int16(i)
	}
	mic.PushSamples(samples)
	out, err := r.ReadAudio(1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 480 || out[479] != 479 {
		t.Fatalf("read %d samples", len(out))
	}
	if out, err := r.ReadAudio(1000); err != nil || len(out) != 0 {
		t.Fatalf("underrun = %d samples, %v; want empty, nil", len(out), err)
	}
}

func TestStartFailureReleasesVideo(t *testing.T) {
	r, fake, d := newScenario(t)
	fake.AudioErr = types.ErrCaptureUnavailable
	err := r.Start(context.Background(), d, monoCfg)
	if !errors.Is(err, types.ErrCaptureUnavailable) {
		t.Fatalf("Start err = %v", err)
	}
	if r.State() != Failed || !errors.Is(r.Err(), types.ErrCaptureUnavailable) {
		t.Fatalf("state %s err %v", r.State(), r.Err())
	}
	if fake.Open() != 0 {
		t.Fatalf("open handles = %d", fake.Open())
	}
	if err := r.Reset(); err != nil {
		t.Fatal(err)
	}
	fake.AudioErr = nil
	if err := r.Start(context.Background(), d, monoCfg); err != nil {
		t.Fatalf("start after reset: %v", err)
	}
}

func TestFaultDuringStartEndsFailed(t *testing.T) {
	r, fake, d := newScenario(t)
	fake.BeforeOpen = func(kind capture.Kind) error {
		if kind == capture.KindAudio {
			fake.Latest(capture.KindVideo).Fault(types.ErrCaptureFault)
		}
		return nil
	}
	err := r.Start(context.Background(), d, monoCfg)
	if !errors.Is(err, types.ErrCaptureFault) {
		t.Fatalf("Start err = %v, want ErrCaptureFault", err)
	}
	if r.State() != Failed {
		t.Fatalf("state = %s, want failed", r.State())
	}
	if fake.Open() != 0 {
		t.Fatalf("open handles = %d", fake.Open())
	}
}

func TestPausedHoldsAudio(t *testing.T) {
	r, fake, d := newScenario(t)
	if err := r.Start(context.Background(), d, monoCfg); err != nil {
		t.Fatal(err)
	}
	mic := fake.Latest(capture.KindAudio)
	mic.PushSamples(make([]int16, 480))
	if err := r.Pause(); err != nil {
		t.Fatal(err)
	}
	mic.PushSamples(make([]int16, 480))
	if out, err := r.ReadAudio(4800); err != nil || len(out) != 0 {
		t.Fatalf("ReadAudio while paused = %d samples, %v", len(out), err)
	}
	if err := r.Resume(); err != nil {
		t.Fatal(err)
	}
	if out, err := r.ReadAudio(4800); err != nil || len(out) != 0 {
		t.Fatalf("audio from before resume = %d samples, %v", len(out), err)
	}
	mic.PushSamples(make([]int16, 480))
	if out, _ := r.ReadAudio(4800); len(out) != 480 {
		t.Errorf("read %d samples after resume, want 480", len(out))
	}
}

func TestFaultMovesToFailed(t *testing.T) {
	for _, paused := range []bool{false, true} {
		name := "recording"
		if paused {
			name = "paused"
		}
		t.Run(name, func(t *testing.T) {
			r, fake, d := newScenario(t)
			events, cancel, _ := r.Subscribe()
			defer cancel()
			if err := r.Start(context.Background(), d, monoCfg); err != nil {
				t.Fatal(err)
			}
			if paused {
				r.Pause()
			}
			fake.Latest(capture.KindAudio).Fault(types.ErrCaptureFault)

			timeout := time.After(time.Second)
			for {
				select {
				case ev := <-events:
					if ev.To != Failed {
						continue
					}
					if !errors.Is(ev.Err, types.ErrCaptureFault) {
						t.Fatalf("failure event err = %v", ev.Err)
					}
					// handles are released before the state changes
					if fake.Open() != 0 {
						t.Fatalf("open handles in Failed = %d", fake.Open())
					}
					return
				case <-timeout:
					t.Fatalf("no Failed event, state %s", r.State())
				}
			}
		})
	}
}
