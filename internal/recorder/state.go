package recorder

import (
	"fmt"

	"screenshare/internal/types"
)

type State int

const (
	Idle State = iota
	Starting
	Recording
	Paused
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransitionError rejects a lifecycle call the current state does not allow.
// It matches types.ErrInvalidTransition.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("recorder: cannot %s while %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == types.ErrInvalidTransition }

// Event is published on every state change. Err is set for failures.
type Event struct {
	From State
	To   State
	Err  error
}
