// Package proc has the process-group signalling shared by the companion
// supervisor and terminal sessions.
package proc

import (
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// KillWait bounds the wait for a process to be reaped after SIGKILL.
const KillWait = 2 * time.Second

// Terminate asks the process group led by pid to exit with SIGTERM. If done
// is not closed within grace the group is sent SIGKILL. Terminate returns
// once done is closed or KillWait has passed after the kill; killed reports
// whether SIGKILL was needed.
func Terminate(pid int, done <-chan struct{}, grace time.Duration) (killed bool) {
	select {
	case <-done:
		return false
	default:
	}

	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		slog.Debug("SIGTERM failed", "pid", pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
	}

	slog.Debug("process did not exit in time, sending SIGKILL", "pid", pid, "grace", grace)
	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		slog.Debug("SIGKILL failed", "pid", pid, "error", err)
	}
	select {
	case <-done:
	case <-time.After(KillWait):
		slog.Warn("process still not reaped after SIGKILL", "pid", pid)
	}
	return true
}

// signalGroup signals the whole group, falling back to the single process
// when pid does not lead one.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		return unix.Kill(-pgid, sig)
	}
	return unix.Kill(pid, sig)
}

// ExitCode converts the result of cmd.Wait into a shell-style exit code:
// the status for a normal exit, 128+signal for a signalled one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}
