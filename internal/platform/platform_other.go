//go:build !darwin

// Package platform picks the native capture backend for the running OS.
package platform

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"screenshare/internal/capture"
	"screenshare/internal/types"
)

// Init returns a backend that fails every call; capture is macOS only.
func Init(log zerolog.Logger) (capture.Backend, func(), error) {
	log.Warn().Str("mod", "platform").Str("os", runtime.GOOS).Msg("no native capture backend")
	return capture.Unsupported{}, func() {}, nil
}

func Probe() (bool, error) {
	return false, fmt.Errorf("%w: permission probe on %s", types.ErrUnsupported, runtime.GOOS)
}
