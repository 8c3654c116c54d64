// Package paths resolves every file location the ngconsole host uses.
// Env overrides exist so tests and parallel hosts can run in isolation.
//
// Resolution order:
//  1. NGCONSOLE_SOCKET_PATH / NGCONSOLE_PID_PATH win for their own file
//  2. NGCONSOLE_DIR relocates the base directory and the config directory
//  3. otherwise ~/.ngconsole and ~/.config/ngconsole
package paths

import (
	"os"
	"path/filepath"
)

const (
	// EnvDir relocates the base directory (e.g. /tmp/ngconsole-it).
	EnvDir = "NGCONSOLE_DIR"

	// EnvSocketPath overrides the control socket path.
	EnvSocketPath = "NGCONSOLE_SOCKET_PATH"

	// EnvPIDPath overrides the host PID file path.
	EnvPIDPath = "NGCONSOLE_PID_PATH"
)

// BaseDir returns ~/.ngconsole unless NGCONSOLE_DIR is set.
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ngconsole"), nil
}

// ConfigDir returns ~/.config/ngconsole, or NGCONSOLE_DIR/config.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return filepath.Join(dir, "config"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ngconsole"), nil
}

// ConfigPath returns the path of config.toml inside ConfigDir.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LogPath returns the default log file location.
func LogPath() string {
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ngconsole.log")
	}
	return filepath.Join(base, "ngconsole.log")
}

// SocketPath returns the control socket path.
// NGCONSOLE_SOCKET_PATH > NGCONSOLE_DIR/ngconsole.sock > ~/.ngconsole/ngconsole.sock
func SocketPath() string {
	if path := os.Getenv(EnvSocketPath); path != "" {
		return path
	}
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ngconsole.sock")
	}
	return filepath.Join(base, "ngconsole.sock")
}

// PIDPath returns the host PID file path.
// NGCONSOLE_PID_PATH > NGCONSOLE_DIR/ngconsole.pid > ~/.ngconsole/ngconsole.pid
func PIDPath() string {
	if path := os.Getenv(EnvPIDPath); path != "" {
		return path
	}
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ngconsole.pid")
	}
	return filepath.Join(base, "ngconsole.pid")
}
