// Package host wires the ngconsole pieces together for one run: the RPC
// channel and its callback listener, the companion supervisor, the
// workspace registry and the control socket.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tessro/ngconsole/internal/companion"
	"github.com/tessro/ngconsole/internal/config"
	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/event"
	"github.com/tessro/ngconsole/internal/route"
	"github.com/tessro/ngconsole/internal/rpc"
	"github.com/tessro/ngconsole/internal/terminal"
	"github.com/tessro/ngconsole/internal/version"
	"github.com/tessro/ngconsole/internal/workspace"
)

// MetricsPath is where the callback listener serves Prometheus metrics.
const MetricsPath = "/metrics"

// Options configures New.
type Options struct {
	Config *config.Config
	// SocketPath of the control socket. Empty means the default.
	SocketPath string
	// Interpreter overrides the interpreter built from Config.
	Interpreter companion.Interpreter
}

// App is the application context. Create it with New, run it with Start
// and tear it down with Close.
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	channel   *rpc.Channel
	listener  *rpc.Listener
	sup       *companion.Supervisor
	registry  *workspace.Registry
	server    *daemon.Server
	metrics   *prometheus.Registry
	events    event.Emitter[*daemon.StreamEvent]
	startedAt time.Time

	// wsMu serializes workspace open, close and route handling.
	wsMu sync.Mutex
	mu   sync.Mutex
	// +checklocks:mu
	coordinators map[string]*route.Coordinator

	shutdownOnce  sync.Once
	shutdownCh    chan struct{}
	shutdownForce bool
}

// New builds the application without starting anything.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:          cfg,
		log:          slog.With("component", "host"),
		channel:      rpc.NewChannel(),
		coordinators: make(map[string]*route.Coordinator),
		shutdownCh:   make(chan struct{}),
	}
	a.listener = rpc.NewListener(a.channel)

	var metrics *companion.Metrics
	if cfg.MetricsEnabled() {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = companion.NewMetrics(a.metrics)
		a.listener.Handle("GET", MetricsPath, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	}

	interp := opts.Interpreter
	if interp == nil {
		interp = companion.PathInterpreter{
			Path: cfg.Server.Interpreter,
			Name: cfg.Server.InterpreterName,
		}
	}

	a.sup = companion.New(companion.Config{
		BundleDir:      cfg.Server.BundleDir,
		EntryScript:    cfg.Server.EntryScript,
		ServerSubdir:   cfg.Server.ServerDir,
		Interpreter:    interp,
		Install:        cfg.Server.Install,
		InstallTimeout: cfg.Server.InstallTimeout.Duration,
		GracePeriod:    cfg.Server.GracePeriod.Duration,
		Quiet:          cfg.Server.Quiet(),
		Env:            cfg.Server.Env,
		CallbackPort:   a.listener.Port,
		Terminal:       terminalConfig(cfg.Terminal),
		Metrics:        metrics,
	}, a.channel)

	a.registry = workspace.NewRegistry(a.sup)
	a.sup.SetEvents(a.registry)

	a.server = daemon.NewServer(opts.SocketPath, a)
	a.events.Subscribe(a.server.Broadcast)

	return a, nil
}

// Start runs the dispatch loop, binds the callback listener and opens the
// control socket.
func (a *App) Start() error {
	a.startedAt = time.Now()
	a.channel.Start()
	if err := a.listener.Start(a.cfg.RPC.Listen); err != nil {
		a.channel.Close()
		return err
	}
	if err := a.server.Start(); err != nil {
		_ = a.listener.Stop(context.Background())
		a.channel.Close()
		return err
	}
	a.log.Info("host started",
		"version", version.Version,
		"socket", a.server.SocketPath(),
		"callback_port", a.listener.Port(),
		"bundle", a.cfg.Server.BundleDir,
	)
	return nil
}

// Close closes every workspace and stops the companion, then the sockets.
// Without force the companion is asked to stop and given until ctx ends
// before it is killed.
func (a *App) Close(ctx context.Context, force bool) error {
	if !force {
		for _, ws := range a.registry.List() {
			a.registry.Unregister(ws.ID)
		}
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("companion did not stop in time, forcing", "error", err)
		}
	}
	a.registry.CloseAll()

	a.mu.Lock()
	clear(a.coordinators)
	a.mu.Unlock()

	var errs []error
	if err := a.server.Stop(); err != nil {
		errs = append(errs, err)
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.listener.Stop(stopCtx); err != nil {
		errs = append(errs, err)
	}
	a.channel.Close()
	a.log.Info("host stopped")
	return errors.Join(errs...)
}

// ShutdownCh is closed when a client asks the host to exit.
func (a *App) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// ShutdownForced reports whether the shutdown request asked for force.
// Only meaningful once ShutdownCh is closed.
func (a *App) ShutdownForced() bool {
	select {
	case <-a.shutdownCh:
		return a.shutdownForce
	default:
		return false
	}
}

func (a *App) requestShutdown(force bool) {
	a.shutdownOnce.Do(func() {
		a.shutdownForce = force
		close(a.shutdownCh)
	})
}

// Subscribe registers fn for every stream event the host emits.
func (a *App) Subscribe(fn func(*daemon.StreamEvent)) (cancel func()) {
	return a.events.Subscribe(fn)
}

// CallbackPort returns the port the companion calls back on.
func (a *App) CallbackPort() int {
	return a.listener.Port()
}

// SocketPath returns the control socket path.
func (a *App) SocketPath() string {
	return a.server.SocketPath()
}

// Supervisor exposes the companion supervisor.
func (a *App) Supervisor() *companion.Supervisor {
	return a.sup
}

// Registry exposes the workspace registry.
func (a *App) Registry() *workspace.Registry {
	return a.registry
}

func terminalConfig(c config.TerminalConfig) terminal.Config {
	return terminal.Config{
		Cols:        uint16(c.Cols),
		Rows:        uint16(c.Rows),
		GracePeriod: c.GracePeriod.Duration,
	}
}
