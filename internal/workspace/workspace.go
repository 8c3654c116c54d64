// Package workspace tracks the logical clients sharing the companion server
// and starts or stops it as the first one arrives and the last one leaves.
package workspace

import (
	"path/filepath"
	"time"

	"github.com/tessro/ngconsole/internal/companion"
)

// Supervisor is the companion lifecycle the registry drives.
type Supervisor interface {
	State() companion.State
	Start() error
	Shutdown(force bool)
	PeerPort() int
}

// Client is notified about the shared server on behalf of one workspace.
type Client interface {
	ServerStarted(port int)
	ServerStopped()
	ServerError(err error)
	TerminalOutput(text string)
	// TerminalExited also signals that files on disk may have changed.
	TerminalExited(code int)
}

// Workspace is one registered client.
type Workspace struct {
	ID           string    `json:"id" yaml:"id"`
	RegisteredAt time.Time `json:"registered_at" yaml:"registered_at"`
	Client       Client    `json:"-" yaml:"-"`
}

// NormalizeID turns a filesystem path into a workspace id: absolute,
// cleaned, and with symlinks resolved when the path exists.
func NormalizeID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}
