package companion

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start outside Idle, Stopped or Error.
	ErrAlreadyRunning = errors.New("companion server already running")

	// ErrBundleMissing means the entry script is not where it should be.
	ErrBundleMissing = errors.New("companion bundle not found")

	// ErrInterpreterNotFound means no interpreter could be resolved.
	ErrInterpreterNotFound = errors.New("interpreter not found")
)

// SpawnError is a failure to launch the companion. It is never retried.
type SpawnError struct {
	Op  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn companion (%s): %v", e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CrashError reports the companion exiting while it was expected to run.
type CrashError struct {
	ExitCode int
	// Diagnostic is the tail of the process output.
	Diagnostic string
}

func (e *CrashError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("companion exited unexpectedly with code %d", e.ExitCode)
	}
	return fmt.Sprintf("companion exited unexpectedly with code %d: %s", e.ExitCode, e.Diagnostic)
}

// PeerError is an error the companion reported over RPC.
type PeerError struct {
	Message string
}

func (e *PeerError) Error() string {
	return "companion reported error: " + e.Message
}
