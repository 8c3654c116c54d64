package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tessro/ngconsole/internal/companion"
	"github.com/tessro/ngconsole/internal/config"
	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/rpc"
)

// The fake companion records its callback port and then idles.
const fakeCompanion = `echo "$1" > port; exec sleep 30`

type harness struct {
	app    *App
	client *daemon.Client
	bundle string
	events chan *daemon.StreamEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bundle := t.TempDir()
	if err := os.WriteFile(filepath.Join(bundle, config.DefaultEntryScript), []byte(fakeCompanion), 0644); err != nil {
		t.Fatal(err)
	}
	sockDir, err := os.MkdirTemp("/tmp", "ngc-host-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := config.Default()
	cfg.Server.BundleDir = bundle
	cfg.Server.GracePeriod.Duration = 300 * time.Millisecond

	app, err := New(Options{
		Config:      cfg,
		SocketPath:  filepath.Join(sockDir, "ngconsole.sock"),
		Interpreter: companion.PathInterpreter{Path: "/bin/sh"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h := &harness{app: app, bundle: bundle, events: make(chan *daemon.StreamEvent, 64)}
	app.Subscribe(func(ev *daemon.StreamEvent) { h.events <- ev })

	if err := app.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx, true)
	})

	h.client = daemon.NewClient(app.SocketPath())
	if err := h.client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { h.client.Close() })
	return h
}

func (h *harness) next(t *testing.T) *daemon.StreamEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return nil
	}
}

// waitSpawned waits for the fake companion to report its callback port.
func (h *harness) waitSpawned(t *testing.T) int {
	t.Helper()
	path := filepath.Join(h.bundle, "port")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && strings.HasSuffix(string(data), "\n") {
			port, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				t.Fatalf("bad port file %q", data)
			}
			return port
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("companion never started")
	return 0
}

// peer dials the callback listener the way the companion does.
type peer struct {
	conn *websocket.Conn
	in   chan rpc.Message
}

func dialPeer(t *testing.T, port int) *peer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d%s", port, rpc.RPCPath), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	p := &peer{conn: conn, in: make(chan rpc.Message, 64)}
	go func() {
		for {
			var msg rpc.Message
			if err := wsjson.Read(context.Background(), conn, &msg); err != nil {
				close(p.in)
				return
			}
			p.in <- msg
		}
	}()
	return p
}

func (p *peer) send(t *testing.T, command string, args ...any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := rpc.Message{Domain: companion.Domain, Command: command, Args: args}
	if err := wsjson.Write(ctx, p.conn, msg); err != nil {
		t.Fatalf("Write(%s) error = %v", command, err)
	}
}

func (p *peer) expect(t *testing.T, command string) rpc.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-p.in:
			if !ok {
				t.Fatalf("peer connection closed waiting for %s", command)
			}
			if msg.Command == command {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", command)
		}
	}
}

func TestWorkspaceLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	ws := t.TempDir()
	wsID, _ := filepath.EvalSymlinks(ws)

	open, err := h.client.WorkspaceOpen(ws, "tasks")
	if err != nil {
		t.Fatalf("WorkspaceOpen() error = %v", err)
	}
	if open.State != string(companion.StateStarting) {
		t.Errorf("state after open = %s, want starting", open.State)
	}
	if open.Workspace.Path != wsID || open.Workspace.Route != "tasks" || open.Workspace.URL != "" {
		t.Errorf("open workspace = %+v", open.Workspace)
	}

	port := h.waitSpawned(t)
	if port != h.app.CallbackPort() {
		t.Fatalf("companion got callback port %d, want %d", port, h.app.CallbackPort())
	}

	p := dialPeer(t, port)
	p.send(t, companion.CmdRPCInitialized)
	start := p.expect(t, companion.CmdStart)
	if dir, _ := start.StringArg(0); dir != filepath.Join(h.bundle, "server") {
		t.Errorf("start dir = %q", dir)
	}

	p.send(t, companion.CmdServerStarted, 4200)
	if ev := h.next(t); ev.Type != daemon.EventServerStarted || ev.Port != 4200 || ev.Workspace != wsID {
		t.Fatalf("event = %+v, want server.started", ev)
	}
	wantURL := "http://localhost:4200/workspace/" + url.QueryEscape(wsID) + "/tasks"
	if ev := h.next(t); ev.Type != daemon.EventRoute || ev.URL != wantURL {
		t.Fatalf("event = %+v, want route %s", ev, wantURL)
	}

	rt, err := h.client.WorkspaceRoute(ws, "connect")
	if err != nil {
		t.Fatalf("WorkspaceRoute() error = %v", err)
	}
	if rt.Workspace.URL != "http://localhost:4200/connect/support" {
		t.Errorf("route url = %s", rt.Workspace.URL)
	}
	if ev := h.next(t); ev.Type != daemon.EventRoute || ev.URL != rt.Workspace.URL {
		t.Errorf("event = %+v, want route", ev)
	}

	status, err := h.client.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Server.State != "started" || status.Server.PeerPort != 4200 || status.Server.PID == 0 {
		t.Errorf("server status = %+v", status.Server)
	}
	if status.Daemon.CallbackPort != port || len(status.Workspaces) != 1 {
		t.Errorf("status = %+v", status)
	}

	if err := h.client.WorkspaceClose(ws); err != nil {
		t.Fatalf("WorkspaceClose() error = %v", err)
	}
	p.expect(t, companion.CmdShutdown)
	if st := h.app.Supervisor().State(); st != companion.StateStopped {
		t.Errorf("state after last close = %s, want stopped", st)
	}

	list, err := h.client.WorkspaceList()
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Workspaces) != 0 {
		t.Errorf("workspaces after close = %+v", list.Workspaces)
	}
}

func TestTerminalEventsReachWorkspaces(t *testing.T) {
	h := newHarness(t)
	ws := t.TempDir()

	if _, err := h.client.WorkspaceOpen(ws, ""); err != nil {
		t.Fatal(err)
	}
	p := dialPeer(t, h.waitSpawned(t))
	p.send(t, companion.CmdServerStarted, 4200)
	h.next(t) // server.started
	h.next(t) // route

	req, _ := json.Marshal(map[string]any{"cwd": ws, "program": "/bin/sh", "args": []string{"-c", "exit 4"}})
	p.send(t, companion.CmdTerminalExec, string(req))

	onExit := p.expect(t, companion.CmdOnExit)
	if code, _ := onExit.IntArg(0); code != 4 {
		t.Errorf("onExit code = %d, want 4", code)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type != daemon.EventTerminalExit {
				continue
			}
			if ev.Code == nil || *ev.Code != 4 {
				t.Errorf("terminal.exit event = %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("no terminal.exit event")
		}
	}
}

func TestOpenErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		path  string
		route string
	}{
		{"empty path", "", ""},
		{"unknown route", t.TempDir(), "dashboard"},
		{"unmapped route", t.TempDir(), "new-workspace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.client.WorkspaceOpen(tt.path, tt.route); err == nil {
				t.Error("WorkspaceOpen() succeeded, want error")
			}
		})
	}
	if n := h.app.Registry().Count(); n != 0 {
		t.Errorf("registry count = %d after failed opens", n)
	}

	if err := h.client.WorkspaceClose(t.TempDir()); err == nil {
		t.Error("closing an unopened workspace succeeded")
	}
	if _, err := h.client.WorkspaceRoute(t.TempDir(), "tasks"); err == nil {
		t.Error("routing an unopened workspace succeeded")
	}
}

func TestSpawnFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	if err := os.Remove(filepath.Join(h.bundle, config.DefaultEntryScript)); err != nil {
		t.Fatal(err)
	}

	_, err := h.client.WorkspaceOpen(t.TempDir(), "")
	if err == nil || !strings.Contains(err.Error(), companion.ErrBundleMissing.Error()) {
		t.Fatalf("WorkspaceOpen() error = %v, want bundle missing", err)
	}
	if n := h.app.Registry().Count(); n != 0 {
		t.Errorf("registry count = %d after spawn failure", n)
	}
}

func TestReopenRestartsFailedCompanion(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	if _, err := h.client.WorkspaceOpen(dir, "tasks"); err != nil {
		t.Fatal(err)
	}
	p := dialPeer(t, h.waitSpawned(t))
	p.send(t, companion.CmdError, "boom")

	deadline := time.Now().Add(5 * time.Second)
	for h.app.Supervisor().State() != companion.StateError {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want error", h.app.Supervisor().State())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := os.Remove(filepath.Join(h.bundle, "port")); err != nil {
		t.Fatal(err)
	}

	open, err := h.client.WorkspaceOpen(dir, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if open.State != string(companion.StateStarting) {
		t.Errorf("reopen state = %s, want starting", open.State)
	}
	if open.Workspace.Route != "tasks" {
		t.Errorf("reopen route = %s, want the existing tasks route", open.Workspace.Route)
	}
	h.waitSpawned(t)
	if n := h.app.Registry().Count(); n != 1 {
		t.Errorf("registry count = %d, want 1", n)
	}
}

func TestSecondWorkspaceSharesServer(t *testing.T) {
	h := newHarness(t)
	a, b := t.TempDir(), t.TempDir()

	if _, err := h.client.WorkspaceOpen(a, ""); err != nil {
		t.Fatal(err)
	}
	p := dialPeer(t, h.waitSpawned(t))
	p.send(t, companion.CmdServerStarted, 4200)
	h.next(t)
	h.next(t)

	open, err := h.client.WorkspaceOpen(b, "settings")
	if err != nil {
		t.Fatal(err)
	}
	if open.State != "started" || !strings.HasSuffix(open.Workspace.URL, "/settings") {
		t.Errorf("second open = %+v", open)
	}

	if err := h.client.WorkspaceClose(a); err != nil {
		t.Fatal(err)
	}
	if st := h.app.Supervisor().State(); st != companion.StateStarted {
		t.Errorf("state with one workspace left = %s, want started", st)
	}

	if err := h.client.CloseAll(); err != nil {
		t.Fatal(err)
	}
	if st := h.app.Supervisor().State(); st != companion.StateStopped {
		t.Errorf("state after close_all = %s, want stopped", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", h.app.CallbackPort(), MetricsPath))
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `ngconsole_server_state{state="idle"} 1`) {
		t.Errorf("metrics missing idle state:\n%s", body)
	}
}

func TestShutdownRequest(t *testing.T) {
	h := newHarness(t)

	if h.app.ShutdownForced() {
		t.Error("ShutdownForced() before any request")
	}
	if err := h.client.Shutdown(true); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-h.app.ShutdownCh():
	case <-time.After(time.Second):
		t.Fatal("shutdown channel not closed")
	}
	if !h.app.ShutdownForced() {
		t.Error("force flag lost")
	}
	// Later requests don't reopen or change anything.
	if err := h.client.Shutdown(false); err != nil {
		t.Fatal(err)
	}
	if !h.app.ShutdownForced() {
		t.Error("second request changed the force flag")
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	ping, err := h.client.Ping()
	if err != nil {
		t.Fatal(err)
	}
	if ping.StartedAt.IsZero() || ping.Version == "" {
		t.Errorf("ping = %+v", ping)
	}
}

func TestUnknownRequest(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Send(&daemon.Request{Type: "agent.list"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || !strings.Contains(resp.Error, "unknown message type") {
		t.Errorf("response = %+v", resp)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Options{Config: config.Default()}); err == nil {
		t.Error("New() accepted a config without a bundle dir")
	}
}
