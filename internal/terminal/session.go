// Package terminal runs one command at a time under a pseudo-terminal and
// streams its output to a Sink.
package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/tessro/ngconsole/internal/logging"
	"github.com/tessro/ngconsole/internal/proc"
)

const (
	DefaultCols        = 80
	DefaultRows        = 24
	DefaultGracePeriod = time.Second

	SuccessBanner = "\r\nProcess completed 🙏\r\n"
	FailureBanner = "\r\nProcess failed 🐳\r\n"
)

// drainWait bounds how long output is read after the process exits.
// Descendants holding the pty open would otherwise stall the exit report.
const drainWait = 250 * time.Millisecond

// ErrNoSession is returned by Resize when nothing is running.
var ErrNoSession = errors.New("no terminal session")

// SpawnError reports a command that could not be started.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Sink receives a session's output. Calls for one session are sequential:
// output chunks, then the banner, then exactly one TerminalExit.
type Sink interface {
	TerminalOutput(text string)
	TerminalExit(code int)
}

// Request is the payload of a terminalExec command.
type Request struct {
	Cwd     string   `json:"cwd"`
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// ParseRequest decodes a JSON terminalExec payload.
func ParseRequest(payload string) (Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return Request{}, fmt.Errorf("decoding terminal request: %w", err)
	}
	if strings.TrimSpace(req.Program) == "" {
		return Request{}, errors.New("terminal request has no program")
	}
	return req, nil
}

// Invocation is the command line as a user would type it.
func (r Request) Invocation() string {
	return strings.Join(append([]string{r.Program}, r.Args...), " ")
}

// Config sizes sessions and bounds their termination.
type Config struct {
	Cols        uint16
	Rows        uint16
	GracePeriod time.Duration
	// Env is appended to the host environment.
	Env []string
}

func (c Config) withDefaults() Config {
	if c.Cols == 0 {
		c.Cols = DefaultCols
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Session is one command running under a pty.
type Session struct {
	ID        string
	Request   Request
	StartedAt time.Time

	log   *slog.Logger
	sink  Sink
	grace time.Duration
	rows  uint16
	cmd   *exec.Cmd

	mu sync.Mutex
	// +checklocks:mu
	ptmx *os.File
	// +checklocks:mu
	exited bool
	// +checklocks:mu
	exitCode int

	killOnce sync.Once
	done     chan struct{}
}

func termType() string {
	if runtime.GOOS == "windows" {
		return "cygwin"
	}
	return "xterm-256color"
}

func start(req Request, cfg Config, sink Sink) (*Session, error) {
	cmd := exec.Command(req.Program, req.Args...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Env = append(cmd.Env, "TERM="+termType())

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols})
	if err != nil {
		return nil, &SpawnError{Program: req.Program, Err: err}
	}

	s := &Session{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: time.Now(),
		sink:      sink,
		grace:     cfg.GracePeriod,
		rows:      cfg.Rows,
		cmd:       cmd,
		ptmx:      ptmx,
		done:      make(chan struct{}),
	}
	s.log = slog.With("component", "terminal", "session", s.ID, "program", req.Program)
	s.log.Info("terminal session started", "pid", cmd.Process.Pid, "cwd", req.Cwd, "args", req.Args)

	go s.run(ptmx)
	return s, nil
}

func (s *Session) run(ptmx *os.File) {
	defer close(s.done)
	defer logging.LogPanic("terminal-session", nil)

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		defer logging.LogPanic("terminal-reader", nil)
		s.pump(ptmx)
	}()

	code := proc.ExitCode(s.cmd.Wait())

	select {
	case <-pumped:
	case <-time.After(drainWait):
	}
	s.mu.Lock()
	s.ptmx.Close()
	s.exited = true
	s.exitCode = code
	s.mu.Unlock()
	<-pumped

	s.log.Info("terminal session exited", "code", code)
	if code == 0 {
		s.sink.TerminalOutput(SuccessBanner)
	} else {
		s.sink.TerminalOutput(FailureBanner)
	}
	s.sink.TerminalExit(code)
}

func (s *Session) pump(r io.Reader) {
	invocation := s.Request.Invocation()
	echoSkipped := false
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if !echoSkipped && strings.TrimSpace(chunk) == invocation {
				echoSkipped = true
			} else {
				s.sink.TerminalOutput(toTerminalLineEndings(chunk))
			}
		}
		if err != nil {
			// EIO is how Linux reports the slave side closing.
			return
		}
	}
}

// toTerminalLineEndings rewrites bare "\n" as "\r\n" without doubling
// existing "\r\n" pairs.
func toTerminalLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// Kill terminates the session in the background: SIGTERM, then SIGKILL
// after the grace period. Repeated calls and calls after exit do nothing.
func (s *Session) Kill() {
	if s.Exited() {
		return
	}
	s.killOnce.Do(func() {
		go func() {
			defer logging.LogPanic("terminal-kill", nil)
			s.terminate()
		}()
	})
}

// stop terminates the session and waits until its exit has been reported.
func (s *Session) stop() {
	s.killOnce.Do(s.terminate)
	<-s.done
}

func (s *Session) terminate() {
	if s.Exited() {
		return
	}
	if proc.Terminate(s.cmd.Process.Pid, s.done, s.grace) {
		s.log.Info("terminal session killed")
	}
}

// Resize changes the column count, keeping the row count.
func (s *Session) Resize(cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return ErrNoSession
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: s.rows, Cols: cols})
}

// Exited reports whether the process has been reaped.
func (s *Session) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// ExitCode returns the exit code once Exited is true.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Done is closed after TerminalExit has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Pid returns the child's process id.
func (s *Session) Pid() int {
	return s.cmd.Process.Pid
}
