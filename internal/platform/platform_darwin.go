//go:build darwin

// Package platform picks the native capture backend for the running OS.
package platform

import (
	"github.com/rs/zerolog"

	"screenshare/internal/capture"
)

// Init returns the ScreenCaptureKit backend. The cleanup func is always safe
// to call.
func Init(log zerolog.Logger) (capture.Backend, func(), error) {
	if !capture.PreflightAccess() {
		log.Warn().Str("mod", "platform").
			Msg("screen recording permission not granted; grant it in System Settings > Privacy & Security")
	}
	return capture.NewSCKBackend(log), func() {}, nil
}

// Probe reports whether screen recording is allowed, prompting the user when
// the decision is still open.
func Probe() (granted bool, err error) {
	if capture.PreflightAccess() {
		return true, nil
	}
	return capture.RequestAccess(), nil
}
