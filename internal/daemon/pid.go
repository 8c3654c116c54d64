package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tessro/ngconsole/internal/paths"
)

// AlreadyRunningError is returned by AcquirePID when a live host owns the
// PID file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("ngconsole host already running (pid %d)", e.PID)
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return paths.PIDPath()
}

func pidPathOrDefault(path string) string {
	if path == "" {
		return DefaultPIDPath()
	}
	return path
}

// WritePID records the current process in the PID file, creating its
// directory if needed.
func WritePID(path string) error {
	path = pidPathOrDefault(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	data := strconv.AppendInt(nil, int64(os.Getpid()), 10)
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPID returns the PID stored in the PID file. A missing file yields an
// error matching fs.ErrNotExist.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(pidPathOrDefault(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("parse pid %q: invalid", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// RemovePID deletes the PID file. A missing file is not an error.
func RemovePID(path string) error {
	err := os.Remove(pidPathOrDefault(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// IsProcessRunning reports whether pid names a live process.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 checks existence; EPERM means it exists but isn't ours.
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsDaemonRunning reports whether the PID file names a live process, and
// which one.
func IsDaemonRunning(pidPath string) (bool, int) {
	pid, err := ReadPID(pidPath)
	if err != nil || !IsProcessRunning(pid) {
		return false, 0
	}
	return true, pid
}

// CleanStalePID removes a PID file whose process is gone. It reports
// whether a file was removed.
func CleanStalePID(pidPath string) bool {
	if _, err := os.Stat(pidPathOrDefault(pidPath)); err != nil {
		return false
	}
	if running, _ := IsDaemonRunning(pidPath); running {
		return false
	}
	return RemovePID(pidPath) == nil
}

// AcquirePID claims the PID file for this process. A stale file is
// replaced; a live owner yields *AlreadyRunningError. The returned release
// removes the file.
func AcquirePID(pidPath string) (release func() error, err error) {
	CleanStalePID(pidPath)
	if running, pid := IsDaemonRunning(pidPath); running && pid != os.Getpid() {
		return nil, &AlreadyRunningError{PID: pid}
	}
	if err := WritePID(pidPath); err != nil {
		return nil, err
	}
	return func() error { return RemovePID(pidPath) }, nil
}
