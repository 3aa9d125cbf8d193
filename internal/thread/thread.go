// Package thread runs work on the main OS thread. AppKit calls made while
// enumerating screens expect it on macOS.
// See: https://github.com/golang/go/wiki/LockOSThread
package thread

import (
	"runtime"
	"sync/atomic"

	"github.com/faiface/mainthread"
)

var (
	isMacOs = runtime.GOOS == "darwin"
	running atomic.Bool
)

// MainWrapMaybe runs f while the main thread serves Call. Enabled for macOS
// only. It returns when f returns.
func MainWrapMaybe(f func()) {
	if !isMacOs {
		f()
		return
	}
	mainthread.Run(func() {
		running.Store(true)
		defer running.Store(false)
		f()
	})
}

// Call runs f on the main thread when MainWrapMaybe is active and directly
// otherwise, so library callers and tests never deadlock.
func Call(f func()) {
	if running.Load() {
		mainthread.Call(f)
		return
	}
	f()
}

// Active reports whether Call is routed to the main thread.
func Active() bool { return running.Load() }
