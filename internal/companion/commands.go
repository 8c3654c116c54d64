package companion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tessro/ngconsole/internal/logging"
	"github.com/tessro/ngconsole/internal/rpc"
	"github.com/tessro/ngconsole/internal/terminal"
)

// Commands the companion sends to the host.
const (
	CmdServerStarted  = "serverStarted"
	CmdServerStopped  = "serverStopped"
	CmdRPCInitialized = "rpcInitialized"
	CmdError          = "error"
	CmdTerminalExec   = "terminalExec"
	CmdTerminalKill   = "terminalKill"
	CmdTerminalResize = "terminalResize"
)

// Commands the host sends to the companion.
const (
	CmdStart             = "start"
	CmdShutdown          = "shutdown"
	CmdTerminalDataWrite = "terminalDataWrite"
	CmdOnExit            = "onExit"
)

func (s *Supervisor) commands() *rpc.CommandMux {
	mux := rpc.NewCommandMux()
	mux.Handle(CmdServerStarted, s.handleServerStarted)
	mux.Handle(CmdServerStopped, s.handleServerStopped)
	mux.Handle(CmdRPCInitialized, s.handleRPCInitialized)
	mux.Handle(CmdError, s.handleError)
	mux.Handle(CmdTerminalExec, s.handleTerminalExec)
	mux.Handle(CmdTerminalKill, s.handleTerminalKill)
	mux.Handle(CmdTerminalResize, s.handleTerminalResize)
	return mux
}

func (s *Supervisor) handleServerStarted(_ context.Context, msg rpc.Message) error {
	port, err := msg.IntArg(0)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateStarting {
		state := s.state
		s.mu.Unlock()
		s.log.Warn("ignoring stale serverStarted", "state", state, "port", port)
		s.metrics.stale(CmdServerStarted)
		return nil
	}
	s.peerPort = port
	s.startedAt = time.Now()
	s.setState(StateStarted)
	ev := s.events
	s.mu.Unlock()

	ev.OnStarted(port)
	return nil
}

func (s *Supervisor) handleServerStopped(_ context.Context, _ rpc.Message) error {
	s.mu.Lock()
	if !s.state.Live() {
		state := s.state
		s.mu.Unlock()
		s.log.Warn("ignoring stale serverStopped", "state", state)
		s.metrics.stale(CmdServerStopped)
		return nil
	}
	s.setState(StateStopped)
	ev := s.events
	s.mu.Unlock()

	ev.OnStopped()
	return nil
}

func (s *Supervisor) handleRPCInitialized(_ context.Context, _ rpc.Message) error {
	s.bus.Send(Domain, CmdStart, s.ServerDir())
	return nil
}

func (s *Supervisor) handleError(_ context.Context, msg rpc.Message) error {
	text, err := msg.StringArg(0)
	if err != nil {
		text = "unknown error"
	}
	peerErr := &PeerError{Message: text}

	s.mu.Lock()
	if !s.state.Live() {
		state := s.state
		s.mu.Unlock()
		s.log.Warn("ignoring peer error outside a running lifecycle", "state", state, "error", text)
		s.metrics.stale(CmdError)
		return nil
	}
	s.lastErr = peerErr
	s.setState(StateError)
	p := s.proc
	ev := s.events
	s.mu.Unlock()

	s.log.Error("companion reported error", "error", text)
	ev.OnError(peerErr)
	if p != nil {
		go func() {
			defer logging.LogPanic("companion-error-teardown", nil)
			s.terminate(p)
		}()
	}
	return nil
}

func (s *Supervisor) handleTerminalExec(_ context.Context, msg rpc.Message) error {
	payload, err := msg.StringArg(0)
	if err != nil {
		return err
	}
	req, err := terminal.ParseRequest(payload)
	if err != nil {
		return err
	}
	sess, err := s.runner.Exec(req)
	if err != nil {
		return fmt.Errorf("terminal exec: %w", err)
	}
	s.metrics.terminalStarted()
	s.log.Debug("terminal session dispatched", "session", sess.ID)
	return nil
}

func (s *Supervisor) handleTerminalKill(_ context.Context, _ rpc.Message) error {
	s.runner.Kill()
	return nil
}

func (s *Supervisor) handleTerminalResize(_ context.Context, msg rpc.Message) error {
	cols, err := msg.IntArg(0)
	if err != nil {
		return err
	}
	if cols <= 0 || cols > 0xffff {
		return fmt.Errorf("terminal resize: invalid column count %d", cols)
	}
	if err := s.runner.Resize(uint16(cols)); err != nil && !errors.Is(err, terminal.ErrNoSession) {
		return fmt.Errorf("terminal resize: %w", err)
	}
	return nil
}

// terminalSink forwards terminal output to the peer and to Events.
type terminalSink struct {
	s *Supervisor
}

func (t terminalSink) TerminalOutput(text string) {
	t.s.bus.Send(Domain, CmdTerminalDataWrite, text)
	t.s.currentEvents().OnTerminalOutput(text)
}

func (t terminalSink) TerminalExit(code int) {
	t.s.bus.Send(Domain, CmdOnExit, code)
	t.s.metrics.terminalExited(code)
	t.s.currentEvents().OnTerminalExit(code)
}

func (s *Supervisor) currentEvents() Events {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}
