package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a supervised process.
type State int32

const (
	StateStarting           State = iota // spawned, discovery pending
	StateRunning                         // discovery succeeded
	StateStoppedByCaller                 // terminal
	StateExitedUnexpectedly              // terminal
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStoppedByCaller:
		return "stopped_by_caller"
	case StateExitedUnexpectedly:
		return "exited_unexpectedly"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	return s == StateStoppedByCaller || s == StateExitedUnexpectedly
}

var (
	// ErrSpawn wraps failures to start the executable.
	ErrSpawn = errors.New("spawning process")

	// ErrProcessExited is reported when the process died without being asked to.
	ErrProcessExited = errors.New("process exited")

	// ErrInvalidTransition marks a state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

func canTransition(from, to State) bool {
	switch from {
	case StateStarting:
		return to == StateRunning || to.Terminal()
	case StateRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Outcome is the terminal result of a supervised process. Exactly one is
// delivered per Supervisor.
type Outcome struct {
	State    State
	Err      error
	ExitCode int
	At       time.Time
}

// Ok reports whether the process ended without error.
func (o Outcome) Ok() bool {
	return o.Err == nil
}
