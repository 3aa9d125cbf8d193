package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"screenshare/internal/types"
)

// stallWatch faults a stream that stops delivering. PortAudio has no
// device-lost notification on macOS: an unplugged microphone just stops
// calling back.
type stallWatch struct {
	s     *stream
	limit time.Duration
	last  atomic.Int64 // unix nanos of the last kick
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newStallWatch(s *stream, limit time.Duration) *stallWatch {
	w := &stallWatch{s: s, limit: limit, quit: make(chan struct{})}
	w.kick()
	w.wg.Add(1)
	go w.run()
	return w
}

// kick records a delivery. Safe to call from the audio thread.
func (w *stallWatch) kick() { w.last.Store(time.Now().UnixNano()) }

func (w *stallWatch) run() {
	defer w.wg.Done()
	t := time.NewTicker(w.limit / 4)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return
		case now := <-t.C:
			if quiet := now.Sub(time.Unix(0, w.last.Load())); quiet > w.limit {
				w.s.fault(fmt.Errorf("%w: no samples for %v", types.ErrCaptureFault, quiet.Round(time.Millisecond)))
				return
			}
		}
	}
}

// stop ends the watch and waits for it. No fault is reported afterwards.
func (w *stallWatch) stop() {
	w.once.Do(func() { close(w.quit) })
	w.wg.Wait()
}
