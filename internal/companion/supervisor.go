// Package companion supervises the companion server process: it spawns it,
// tracks its lifecycle from RPC signals and exit status, and tears it down.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/tessro/ngconsole/internal/logging"
	"github.com/tessro/ngconsole/internal/proc"
	"github.com/tessro/ngconsole/internal/rpc"
	"github.com/tessro/ngconsole/internal/terminal"
)

// Domain is the RPC domain shared with the companion.
const Domain = "ngConsoleServer"

// Defaults used when Config leaves a field zero.
const (
	DefaultEntryScript    = "main.js"
	DefaultServerSubdir   = "server"
	DefaultGracePeriod    = time.Second
	DefaultInstallTimeout = 5 * time.Minute
)

// Bus is the part of the RPC channel the supervisor uses.
type Bus interface {
	RegisterDomain(domain string, h rpc.Handler)
	UnregisterDomain(domain string)
	Send(domain, command string, args ...any)
}

// Events receives lifecycle and terminal notifications. Methods are called
// without supervisor locks held and must not block for long.
type Events interface {
	OnStarted(port int)
	OnStopped()
	OnError(err error)
	OnTerminalOutput(text string)
	OnTerminalExit(code int)
}

// Config describes how to launch the companion.
type Config struct {
	// BundleDir is the working directory and holds EntryScript.
	BundleDir    string
	EntryScript  string
	ServerSubdir string
	Interpreter  Interpreter
	// Install, when non-empty, runs in BundleDir before every spawn.
	Install        []string
	InstallTimeout time.Duration
	GracePeriod    time.Duration
	// Quiet logs companion output at debug level instead of info.
	Quiet bool
	Env   []string
	// CallbackPort returns the port of the host's RPC listener.
	CallbackPort func() int
	Terminal     terminal.Config
	Metrics      *Metrics
}

func (c Config) withDefaults() Config {
	if c.EntryScript == "" {
		c.EntryScript = DefaultEntryScript
	}
	if c.ServerSubdir == "" {
		c.ServerSubdir = DefaultServerSubdir
	}
	if c.Interpreter == nil {
		c.Interpreter = PathInterpreter{}
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = DefaultInstallTimeout
	}
	if c.CallbackPort == nil {
		c.CallbackPort = func() int { return 0 }
	}
	return c
}

// process is one spawned companion. Fields other than done are guarded by
// Supervisor.mu.
type process struct {
	cmd          *exec.Cmd
	callbackPort int
	output       *outputLogger
	stopping     bool
	cancel       context.CancelFunc
	done         chan struct{}
}

func (p *process) pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State        State     `json:"state" yaml:"state"`
	PID          int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	PeerPort     int       `json:"peer_port,omitempty" yaml:"peer_port,omitempty"`
	CallbackPort int       `json:"callback_port,omitempty" yaml:"callback_port,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	LastError    string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Terminal     string    `json:"terminal_session,omitempty" yaml:"terminal_session,omitempty"`
}

// Supervisor owns the companion process and its state machine.
type Supervisor struct {
	cfg     Config
	bus     Bus
	log     *slog.Logger
	metrics *Metrics
	runner  *terminal.Runner
	mux     *rpc.CommandMux

	mu sync.Mutex
	// +checklocks:mu
	state State
	// +checklocks:mu
	events Events
	// +checklocks:mu
	proc *process
	// +checklocks:mu
	peerPort int
	// +checklocks:mu
	startedAt time.Time
	// +checklocks:mu
	lastErr error
}

// New returns an idle Supervisor that talks to the peer over bus.
func New(cfg Config, bus Bus) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:      cfg,
		bus:      bus,
		log:      slog.With("component", "companion"),
		metrics:  cfg.Metrics,
		state:    StateIdle,
		events:   noopEvents{},
		peerPort: -1,
	}
	s.runner = terminal.NewRunner(cfg.Terminal, terminalSink{s})
	s.mux = s.commands()
	return s
}

// SetEvents installs the listener for lifecycle events.
func (s *Supervisor) SetEvents(ev Events) {
	if ev == nil {
		ev = noopEvents{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = ev
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerPort returns the port the companion reported, or -1.
func (s *Supervisor) PeerPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerPort
}

// ServerDir is the directory sent to the companion with "start".
func (s *Supervisor) ServerDir() string {
	return filepath.Join(s.cfg.BundleDir, s.cfg.ServerSubdir)
}

// Status snapshots the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.state,
		StartedAt: s.startedAt,
	}
	if s.peerPort > 0 {
		st.PeerPort = s.peerPort
	}
	if s.proc != nil {
		st.PID = s.proc.pid()
		st.CallbackPort = s.proc.callbackPort
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	if sess := s.runner.Current(); sess != nil && !sess.Exited() {
		st.Terminal = sess.ID
	}
	return st
}

// setState moves to next if validTransitions allows it. An invalid move is
// logged and refused.
//
// +checklocks:s.mu
func (s *Supervisor) setState(next State) bool {
	if s.state == next {
		return true
	}
	if !canTransition(s.state, next) {
		s.log.Warn("refusing invalid state transition", "from", s.state, "to", next)
		return false
	}
	s.log.Info("companion state changed", "from", s.state, "to", next)
	s.state = next
	s.metrics.setState(next)
	return true
}

// Start launches the companion. It is valid from Idle, Stopped and Error.
// Missing interpreter or entry script fail synchronously with a *SpawnError.
// Everything else happens in the background: readiness arrives later
// through OnStarted, and a later spawn failure through OnError.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if !canTransition(s.state, StateStarting) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, state)
	}

	interp, entry, err := s.preflight()
	if err != nil {
		// The attempt still counts as a lifecycle: Starting, then Error.
		s.lastErr = err
		s.setState(StateStarting)
		s.setState(StateError)
		s.mu.Unlock()
		s.log.Error("companion preflight failed", "error", err)
		return err
	}

	prev := s.proc
	ctx, cancel := context.WithCancel(context.Background())
	p := &process{
		callbackPort: s.cfg.CallbackPort(),
		output:       newOutputLogger(s.log, s.cfg.Quiet),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.proc = p
	s.peerPort = -1
	s.lastErr = nil
	s.startedAt = time.Time{}
	s.setState(StateStarting)
	s.mu.Unlock()

	s.metrics.spawned()
	// The handler goes in before the process exists so an early
	// serverStarted cannot be lost.
	s.bus.RegisterDomain(Domain, s.mux)

	go s.launch(ctx, p, prev, interp, entry)
	return nil
}

// +checklocks:s.mu
func (s *Supervisor) preflight() (interp, entry string, err error) {
	interp, err = s.cfg.Interpreter.Resolve()
	if err != nil {
		return "", "", &SpawnError{Op: "resolve interpreter", Err: err}
	}
	entry = filepath.Join(s.cfg.BundleDir, s.cfg.EntryScript)
	if info, statErr := os.Stat(entry); statErr != nil || info.IsDir() {
		return "", "", &SpawnError{Op: "locate entry script", Err: fmt.Errorf("%w: %s", ErrBundleMissing, entry)}
	}
	if len(s.cfg.Install) > 0 {
		if _, lookErr := exec.LookPath(s.cfg.Install[0]); lookErr != nil {
			return "", "", &SpawnError{Op: "install", Err: lookErr}
		}
	}
	return interp, entry, nil
}

func (s *Supervisor) launch(ctx context.Context, p *process, prev *process, interp, entry string) {
	defer logging.LogPanic("companion-launch", func(r any) {
		s.finish(p, 0, &SpawnError{Op: "launch", Err: fmt.Errorf("panic: %v", r)})
	})

	if prev != nil {
		s.log.Info("terminating previous companion before respawn", "pid", prev.pid())
		s.terminate(prev)
	}

	if len(s.cfg.Install) > 0 {
		if err := s.install(ctx, p); err != nil {
			s.finish(p, 0, err)
			return
		}
	}

	cmd := exec.Command(interp, entry, strconv.Itoa(p.callbackPort))
	cmd.Dir = s.cfg.BundleDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = p.output
	cmd.Stderr = p.output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = s.cfg.GracePeriod

	s.mu.Lock()
	if p.stopping {
		s.mu.Unlock()
		s.finish(p, 0, nil)
		return
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		s.finish(p, 0, &SpawnError{Op: "start", Err: err})
		return
	}
	p.cmd = cmd
	s.mu.Unlock()

	s.log.Info("companion spawned", "pid", cmd.Process.Pid, "interpreter", interp, "entry", entry, "callback_port", p.callbackPort)
	code := proc.ExitCode(cmd.Wait())
	s.finish(p, code, nil)
}

func (s *Supervisor) install(ctx context.Context, p *process) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	defer cancel()

	s.log.Info("running install step", "command", s.cfg.Install)
	cmd := exec.CommandContext(ctx, s.cfg.Install[0], s.cfg.Install[1:]...)
	cmd.Dir = s.cfg.BundleDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = p.output
	cmd.Stderr = p.output
	cmd.WaitDelay = s.cfg.GracePeriod

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.cfg.InstallTimeout, err)
		}
		return &SpawnError{Op: "install", Err: fmt.Errorf("%w\n%s", err, p.output.diagnostic())}
	}
	return nil
}

// finish is the exit observer for p. spawnErr is set when p never ran.
func (s *Supervisor) finish(p *process, code int, spawnErr error) {
	var notify func(Events)

	s.mu.Lock()
	current := s.proc == p
	if current {
		s.proc = nil
		switch {
		case p.stopping:
			if s.state.Live() {
				s.setState(StateStopped)
				notify = Events.OnStopped
			}
		case spawnErr != nil && s.state.Live():
			s.lastErr = spawnErr
			s.setState(StateError)
			notify = func(ev Events) { ev.OnError(spawnErr) }
		case s.state.Live():
			crash := &CrashError{ExitCode: code, Diagnostic: p.output.diagnostic()}
			s.lastErr = crash
			s.setState(StateError)
			s.metrics.crashed()
			notify = func(ev Events) { ev.OnError(crash) }
		}
	}
	ev := s.events
	close(p.done)
	s.mu.Unlock()

	switch {
	case spawnErr != nil:
		s.log.Error("companion failed to start", "error", spawnErr, "current", current)
	default:
		s.log.Info("companion exited", "code", code, "current", current)
	}
	if !current {
		return
	}

	s.bus.UnregisterDomain(Domain)
	s.runner.Close()
	if notify != nil {
		notify(ev)
	}
}

// Shutdown stops the companion. It does nothing when no process is live.
// The state becomes Stopped at once. The peer is asked to shut down, then
// the process gets the grace period before being killed. With force the call
// returns once the process is gone, otherwise termination continues in the
// background.
func (s *Supervisor) Shutdown(force bool) {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping
	p.stopping = true
	// The lifecycle ends here rather than when the process is reaped, so a
	// Start issued meanwhile is accepted and replaces the dying process.
	wasLive := s.state.Live()
	if wasLive {
		s.setState(StateStopped)
	}
	ev := s.events
	s.mu.Unlock()

	if wasLive {
		ev.OnStopped()
	}

	stop := func() {
		if first {
			s.log.Info("shutting down companion", "force", force)
			s.bus.Send(Domain, CmdShutdown)
			p.cancel()
		}
		s.terminate(p)
	}
	if force {
		stop()
		return
	}
	go func() {
		defer logging.LogPanic("companion-shutdown", nil)
		stop()
	}()
}

// terminate signals p and waits, bounded, for its observer to finish.
func (s *Supervisor) terminate(p *process) {
	s.mu.Lock()
	p.stopping = true
	pid := p.pid()
	s.mu.Unlock()

	if pid == 0 {
		// Still installing; the cancelled context ends it.
		select {
		case <-p.done:
		case <-time.After(s.cfg.GracePeriod + proc.KillWait):
			s.log.Warn("companion launch did not wind down in time")
		}
		return
	}
	if proc.Terminate(pid, p.done, s.cfg.GracePeriod) {
		s.log.Warn("companion killed after grace period", "pid", pid)
	}
}

// Wait blocks until the current process, if any, has exited or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noopEvents struct{}

func (noopEvents) OnStarted(int)           {}
func (noopEvents) OnStopped()              {}
func (noopEvents) OnError(error)           {}
func (noopEvents) OnTerminalOutput(string) {}
func (noopEvents) OnTerminalExit(int)      {}
