package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/burrow/internal/procstat"
)

const outcomeWait = 10 * time.Second

func spawnSleep(t *testing.T) *Supervisor {
	t.Helper()
	s, err := Spawn(Options{Path: "sleep", Args: []string{"60"}})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.RequestStop()
		s.Wait()
	})
	return s
}

func receive(t *testing.T, s *Supervisor) Outcome {
	t.Helper()
	select {
	case out := <-s.Exited():
		return out
	case <-time.After(outcomeWait):
		t.Fatal("supervisor delivered no outcome")
		return Outcome{}
	}
}

func TestSpawn_WhenExecutableMissing_ReturnsSpawnError(t *testing.T) {
	t.Parallel()

	_, err := Spawn(Options{Path: filepath.Join(t.TempDir(), "no-such-binary")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestSpawn_StartsInStartingState(t *testing.T) {
	t.Parallel()

	s := spawnSleep(t)

	assert.Equal(t, StateStarting, s.State())
	assert.Positive(t, s.PID())
	assert.Equal(t, "sleep", s.Path())
	assert.True(t, procstat.Alive(s.PID()))
}

func TestRequestStop_KillsProcessAndReportsOk(t *testing.T) {
	t.Parallel()

	s := spawnSleep(t)
	require.NoError(t, s.MarkRunning())

	s.RequestStop()
	out := receive(t, s)

	assert.Equal(t, StateStoppedByCaller, out.State)
	assert.True(t, out.Ok())
	assert.False(t, out.At.IsZero())
	assert.Equal(t, StateStoppedByCaller, s.State())
	assert.False(t, procstat.Alive(s.PID()), "process must be gone once the outcome is delivered")
}

func TestRequestStop_WhenCalledTwice_DeliversSingleOutcome(t *testing.T) {
	t.Parallel()

	s := spawnSleep(t)

	s.RequestStop()
	s.RequestStop()
	receive(t, s)

	select {
	case out := <-s.Exited():
		t.Fatalf("unexpected second outcome: %+v", out)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRun_WhenProcessExitsOnItsOwn_ReportsProcessExited(t *testing.T) {
	t.Parallel()

	s, err := Spawn(Options{Path: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)

	out := receive(t, s)

	assert.Equal(t, StateExitedUnexpectedly, out.State)
	assert.ErrorIs(t, out.Err, ErrProcessExited)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Err.Error(), "exit code 3")
}

func TestRun_WhenProcessExitsCleanly_StillReportsProcessExited(t *testing.T) {
	t.Parallel()

	s, err := Spawn(Options{Path: "true"})
	require.NoError(t, err)

	out := receive(t, s)

	assert.Equal(t, StateExitedUnexpectedly, out.State)
	assert.ErrorIs(t, out.Err, ErrProcessExited)
	assert.Equal(t, 0, out.ExitCode)
}

func TestRun_WhenKilledExternally_ReportsProcessExited(t *testing.T) {
	t.Parallel()

	s := spawnSleep(t)
	require.NoError(t, s.MarkRunning())

	require.NoError(t, syscall.Kill(s.PID(), syscall.SIGKILL))
	out := receive(t, s)

	assert.Equal(t, StateExitedUnexpectedly, out.State)
	assert.ErrorIs(t, out.Err, ErrProcessExited)
	assert.Contains(t, out.Err.Error(), "killed")
}

func TestRelease_WhenProcessLaterExits_StillDeliversOutcome(t *testing.T) {
	t.Parallel()

	s, err := Spawn(Options{Path: "sleep", Args: []string{"0.2"}})
	require.NoError(t, err)

	s.Release()
	out := receive(t, s)

	assert.Equal(t, StateExitedUnexpectedly, out.State)
	assert.Equal(t, 0, out.ExitCode)
}

func TestRelease_IgnoresLaterStopRequests(t *testing.T) {
	t.Parallel()

	s, err := Spawn(Options{Path: "sleep", Args: []string{"0.3"}})
	require.NoError(t, err)

	s.Release()
	time.Sleep(50 * time.Millisecond)
	s.RequestStop()

	out := receive(t, s)
	assert.Equal(t, StateExitedUnexpectedly, out.State)
}

func TestRequestStop_KillsWholeProcessGroup(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	s, err := Spawn(Options{
		Path: "sh",
		Args: []string{"-c", `sleep 60 & echo $! > "$CHILD_PID_FILE"; wait`},
		Env:  map[string]string{"CHILD_PID_FILE": pidFile},
	})
	require.NoError(t, err)

	var child int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		child, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	s.RequestStop()
	out := receive(t, s)
	assert.True(t, out.Ok())

	require.Eventually(t, func() bool {
		return !procstat.Alive(child)
	}, 5*time.Second, 20*time.Millisecond, "background child must not outlive the group")
}

func TestRequestStop_WithGrace_StopsOnSIGTERM(t *testing.T) {
	t.Parallel()

	s, err := Spawn(Options{Path: "sleep", Args: []string{"60"}, StopGrace: 5 * time.Second})
	require.NoError(t, err)

	start := time.Now()
	s.RequestStop()
	out := receive(t, s)

	assert.Equal(t, StateStoppedByCaller, out.State)
	assert.True(t, out.Ok())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRequestStop_WhenSIGTERMIgnored_EscalatesAfterGrace(t *testing.T) {
	t.Parallel()

	grace := 200 * time.Millisecond
	s, err := Spawn(Options{
		Path:      "sh",
		Args:      []string{"-c", `trap "" TERM; sleep 60`},
		StopGrace: grace,
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond) // let the trap install

	start := time.Now()
	s.RequestStop()
	out := receive(t, s)

	assert.Equal(t, StateStoppedByCaller, out.State)
	assert.GreaterOrEqual(t, time.Since(start), grace)
	assert.False(t, procstat.Alive(s.PID()))
}

func TestWait_ReturnsDeliveredOutcome(t *testing.T) {
	t.Parallel()

	s := spawnSleep(t)
	s.RequestStop()

	delivered := receive(t, s)
	waited := s.Wait()

	assert.Equal(t, delivered, waited)

	select {
	case <-s.Done():
	default:
		t.Fatal("done must be closed after the outcome")
	}
}

func TestMarkRunning_AfterTerminal_ReturnsInvalidTransition(t *testing.T) {
	t.Parallel()

	s, err := Spawn(Options{Path: "true"})
	require.NoError(t, err)
	s.Wait()

	err = s.MarkRunning()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateExitedUnexpectedly, s.State())
}

func TestMarkRunning_Twice_ReturnsInvalidTransition(t *testing.T) {
	t.Parallel()

	s := spawnSleep(t)

	require.NoError(t, s.MarkRunning())
	assert.ErrorIs(t, s.MarkRunning(), ErrInvalidTransition)
	assert.Equal(t, StateRunning, s.State())
}
