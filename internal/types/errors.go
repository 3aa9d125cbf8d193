package types

import "errors"

var (
	// ErrPlatform is returned when an OS capability query fails. Retry later.
	ErrPlatform = errors.New("platform query failed")

	// ErrCaptureUnavailable is returned when permission is denied or the
	// device is gone at open time.
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrOverrun is reported alongside a PCM read after audio was dropped.
	ErrOverrun = errors.New("audio buffer overrun")

	// ErrInvalidTransition is returned by recorder calls the current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid recorder transition")

	// ErrCaptureFault reports a native stream that stopped mid-session.
	ErrCaptureFault = errors.New("capture stream fault")

	ErrDisplayNotFound = errors.New("display not found")
	ErrUnsupported     = errors.New("screen capture not supported on this platform")
)
