package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tessro/ngconsole/internal/daemon"
)

// ErrDaemonNotRunning indicates the host is not running.
var ErrDaemonNotRunning = errors.New("ngconsole host is not running")

// socketPath is the path to the control socket (can be overridden for testing).
var socketPath string

// SetSocketPath overrides the default socket path.
func SetSocketPath(path string) {
	socketPath = path
}

// getSocketPath returns the socket path to use.
func getSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	return daemon.DefaultSocketPath()
}

// NewClient creates a new daemon client with the configured socket path.
func NewClient() *daemon.Client {
	return daemon.NewClient(getSocketPath())
}

// ConnectClient creates and connects a daemon client.
// Returns ErrDaemonNotRunning if nothing is listening on the socket.
func ConnectClient() (*daemon.Client, error) {
	client := NewClient()
	if err := client.Connect(); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("connect to host: %w", err)
	}
	return client, nil
}

// MustConnect creates and connects a daemon client, exiting on failure.
func MustConnect() *daemon.Client {
	client, err := ConnectClient()
	if err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			fmt.Fprintln(os.Stderr, "🧭 ngconsole host is not running")
			fmt.Fprintln(os.Stderr, "   Start it with: ngconsole serve --bundle <dir>")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "🧭 Error connecting to host: %v\n", err)
		os.Exit(1)
	}
	return client
}

// IsDaemonRunning checks if the host answers on its socket.
func IsDaemonRunning() bool {
	client := NewClient()
	if err := client.Connect(); err != nil {
		return false
	}
	client.Close()
	return true
}
