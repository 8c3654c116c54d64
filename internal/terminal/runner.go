package terminal

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Runner enforces single-flight execution: starting a command first
// terminates whatever is still running.
type Runner struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	// execMu serializes Exec and Close, which may block for the grace
	// period while a previous session winds down.
	execMu sync.Mutex
	// current is read without execMu so status and kill never wait on a
	// handover.
	current atomic.Pointer[Session]
}

// NewRunner returns a Runner delivering output to sink.
func NewRunner(cfg Config, sink Sink) *Runner {
	return &Runner{
		cfg:  cfg.withDefaults(),
		sink: sink,
		log:  slog.With("component", "terminal"),
	}
}

// Exec starts req under a pty. A live previous session is terminated and its
// exit reported before the new process is spawned. A spawn failure is
// returned as *SpawnError and leaves no session running.
func (r *Runner) Exec(req Request) (*Session, error) {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	if prev := r.current.Load(); prev != nil {
		if !prev.Exited() {
			r.log.Info("terminating previous terminal session", "session", prev.ID)
		}
		prev.stop()
		r.current.Store(nil)
	}

	s, err := start(req, r.cfg, r.sink)
	if err != nil {
		r.log.Warn("terminal spawn failed", "program", req.Program, "error", err)
		return nil, err
	}
	r.current.Store(s)
	return s, nil
}

// Kill terminates the current session without waiting. It is a no-op when
// nothing is running.
func (r *Runner) Kill() {
	if s := r.current.Load(); s != nil {
		s.Kill()
	}
}

// Resize changes the current session's column count.
func (r *Runner) Resize(cols uint16) error {
	s := r.current.Load()
	if s == nil {
		return ErrNoSession
	}
	return s.Resize(cols)
}

// Current returns the most recent session, running or not. During a
// handover it is the session being terminated.
func (r *Runner) Current() *Session {
	return r.current.Load()
}

// Close terminates the current session and waits for it.
func (r *Runner) Close() {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if s := r.current.Load(); s != nil {
		s.stop()
		r.current.Store(nil)
	}
}
