package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Options describes the process to spawn.
type Options struct {
	Path string
	Args []string
	Env  map[string]string

	// StopGrace is how long a stop request waits after SIGTERM before
	// sending SIGKILL. Zero kills immediately.
	StopGrace time.Duration
}

// Supervisor exclusively owns one child process. Only its owner goroutine
// touches the process after Spawn returns; callers interact through
// RequestStop and the one-shot Exited channel.
type Supervisor struct {
	pid       int
	path      string
	startedAt time.Time
	state     atomic.Int32

	stop     chan struct{}
	stopOnce sync.Once

	released    chan struct{}
	releaseOnce sync.Once

	exited chan Outcome
	done   chan struct{}
	final  Outcome
}

// Spawn starts the executable in its own process group with all standard
// streams discarded, then hands it to a dedicated owner goroutine.
func Spawn(opts Options) (*Supervisor, error) {
	cmd := exec.Command(opts.Path, opts.Args...)

	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSpawn, opts.Path, err)
	}

	s := &Supervisor{
		pid:       cmd.Process.Pid,
		path:      opts.Path,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		released:  make(chan struct{}),
		exited:    make(chan Outcome, 1),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))

	slog.Info("tunnel process started",
		"path", opts.Path,
		"args", opts.Args,
		"pid", s.pid)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	go s.run(cmd.Process, waitCh, opts.StopGrace)

	return s, nil
}

// PID returns the process id of the child.
func (s *Supervisor) PID() int { return s.pid }

// Path returns the executable the child was started from.
func (s *Supervisor) Path() string { return s.path }

// StartedAt returns when the child was spawned.
func (s *Supervisor) StartedAt() time.Time { return s.startedAt }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// MarkRunning moves the supervisor from starting to running.
func (s *Supervisor) MarkRunning() error {
	return s.transition(StateRunning)
}

// RequestStop asks the owner goroutine to terminate the process. Only the
// first call signals; later calls are no-ops.
func (s *Supervisor) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Release tells the owner goroutine that no caller will ever request a stop.
// The process is left running and still reaped when it exits. Handles that
// can still stop the process should call RequestStop instead.
func (s *Supervisor) Release() {
	s.releaseOnce.Do(func() { close(s.released) })
}

// Exited delivers the terminal Outcome exactly once.
func (s *Supervisor) Exited() <-chan Outcome {
	return s.exited
}

// Done is closed after the Outcome has been delivered.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the process has terminated and returns its Outcome
// without consuming the Exited channel.
func (s *Supervisor) Wait() Outcome {
	<-s.done
	return s.final
}

func (s *Supervisor) transition(to State) error {
	for {
		from := State(s.state.Load())
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			slog.Debug("tunnel process state changed", "pid", s.pid, "from", from.String(), "to", to.String())
			return nil
		}
	}
}

func (s *Supervisor) run(proc *os.Process, waitCh <-chan error, grace time.Duration) {
	stop := s.stop
	released := s.released

	var out Outcome
loop:
	for {
		select {
		case err := <-waitCh:
			// A stop that raced with the exit still counts as the caller's.
			select {
			case <-stop:
				out = Outcome{State: StateStoppedByCaller, ExitCode: exitCode(err)}
			default:
				out = s.exitOutcome(err)
			}
			s.reapGroup()
			break loop

		case <-stop:
			out = s.terminate(proc, waitCh, grace)
			break loop

		case <-released:
			slog.Warn("tunnel handle released without Close, waiting for process exit", "pid", s.pid)
			stop = nil
			released = nil
		}
	}

	s.finish(out)
}

func (s *Supervisor) exitOutcome(waitErr error) Outcome {
	code := exitCode(waitErr)

	var err error
	if _, ok := errors.AsType[*exec.ExitError](waitErr); ok || waitErr == nil {
		err = fmt.Errorf("%w: %s (exit code %d)", ErrProcessExited, describeExit(waitErr), code)
	} else {
		err = fmt.Errorf("%w: waiting for process: %w", ErrProcessExited, waitErr)
	}

	slog.Warn("tunnel process exited unexpectedly",
		"pid", s.pid,
		"exit_code", code,
		"uptime", time.Since(s.startedAt).Round(time.Millisecond))

	return Outcome{State: StateExitedUnexpectedly, Err: err, ExitCode: code}
}

// terminate kills the process group and waits for the reaper so the process
// is gone by the time the Outcome is delivered.
func (s *Supervisor) terminate(proc *os.Process, waitCh <-chan error, grace time.Duration) Outcome {
	if grace > 0 {
		if err := signalGroup(s.pid, unix.SIGTERM); err == nil {
			select {
			case waitErr := <-waitCh:
				s.reapGroup()
				slog.Info("tunnel process stopped", "pid", s.pid, "signal", "SIGTERM")
				return Outcome{State: StateStoppedByCaller, ExitCode: exitCode(waitErr)}
			case <-time.After(grace):
				slog.Warn("tunnel process did not exit after SIGTERM, forcing kill", "pid", s.pid, "grace", grace)
			}
		}
	}

	if err := signalGroup(s.pid, unix.SIGKILL); err != nil {
		slog.Warn("killing process group failed, killing leader", "pid", s.pid, "error", err)
		if kerr := proc.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return Outcome{
				State:    StateStoppedByCaller,
				Err:      fmt.Errorf("killing process %d: %w", s.pid, errors.Join(err, kerr)),
				ExitCode: -1,
			}
		}
	}

	waitErr := <-waitCh
	slog.Info("tunnel process stopped", "pid", s.pid, "signal", "SIGKILL")
	return Outcome{State: StateStoppedByCaller, ExitCode: exitCode(waitErr)}
}

// reapGroup kills anything the leader left behind in its process group.
func (s *Supervisor) reapGroup() {
	if err := signalGroup(s.pid, unix.SIGKILL); err != nil {
		slog.Debug("sweeping process group failed", "pid", s.pid, "error", err)
	}
}

func (s *Supervisor) finish(out Outcome) {
	out.At = time.Now()
	if err := s.transition(out.State); err != nil {
		slog.Error("tunnel process lifecycle violation", "pid", s.pid, "error", err)
	}

	s.final = out
	s.exited <- out
	close(s.done)
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := errors.AsType[*exec.ExitError](waitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func describeExit(waitErr error) string {
	if waitErr == nil {
		return "exit status 0"
	}
	return waitErr.Error()
}
