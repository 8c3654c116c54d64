package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tessro/ngconsole/internal/companion"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("workspace not registered")

// Registry holds the active workspaces. Register, Unregister and CloseAll
// are serialized so that only one of them decides whether to spawn or stop
// the companion at a time.
type Registry struct {
	sup Supervisor
	log *slog.Logger

	// lifecycle serializes the spawn/stop decisions.
	lifecycle sync.Mutex

	mu sync.RWMutex
	// +checklocks:mu
	workspaces map[string]*Workspace
}

// NewRegistry returns an empty registry driving sup. The caller wires the
// registry into sup's events (it implements companion.Events).
func NewRegistry(sup Supervisor) *Registry {
	return &Registry{
		sup:        sup,
		log:        slog.With("component", "workspace"),
		workspaces: make(map[string]*Workspace),
	}
}

// Register adds a workspace and makes sure the companion is running.
//
// A duplicate id is logged and not inserted again, but still goes through
// the state check below, so re-registering after a failed start retries it.
// If the server is already started the client is told so immediately; if it
// is starting the client will hear from the fan-out. Otherwise Start is
// called. Its failure removes a workspace inserted by this call and is
// returned.
func (r *Registry) Register(id string, client Client) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	existing, dup := r.workspaces[id]
	if dup {
		if client == nil {
			client = existing.Client
		}
	} else {
		r.workspaces[id] = &Workspace{ID: id, RegisteredAt: time.Now(), Client: client}
	}
	count := len(r.workspaces)
	r.mu.Unlock()
	if dup {
		r.log.Warn("workspace already registered", "workspace", id, "active", count)
	} else {
		r.log.Info("workspace registered", "workspace", id, "active", count)
	}

	switch state := r.sup.State(); state {
	case companion.StateStarted:
		if client != nil {
			client.ServerStarted(r.sup.PeerPort())
		}
		return nil
	case companion.StateStarting:
		return nil
	}

	if err := r.sup.Start(); err != nil {
		if !dup {
			r.mu.Lock()
			delete(r.workspaces, id)
			r.mu.Unlock()
		}
		r.log.Error("companion start failed", "workspace", id, "dropped", !dup, "error", err)
		return fmt.Errorf("starting companion for %s: %w", id, err)
	}
	return nil
}

// Unregister removes a workspace. Unknown ids are ignored. When the last
// workspace leaves, the companion is asked to stop without forcing.
func (r *Registry) Unregister(id string) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	if _, ok := r.workspaces[id]; !ok {
		r.mu.Unlock()
		r.log.Debug("unregister of unknown workspace", "workspace", id)
		return
	}
	delete(r.workspaces, id)
	count := len(r.workspaces)
	r.mu.Unlock()
	r.log.Info("workspace unregistered", "workspace", id, "active", count)

	if count == 0 {
		r.sup.Shutdown(false)
	}
}

// CloseAll drops every workspace and stops the companion, waiting for it.
func (r *Registry) CloseAll() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	n := len(r.workspaces)
	clear(r.workspaces)
	r.mu.Unlock()

	r.log.Info("closing all workspaces", "count", n)
	r.sup.Shutdown(true)
}

// Get returns the workspace registered under id.
func (r *Registry) Get(id string) (Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workspaces[id]
	if !ok {
		return Workspace{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *w, nil
}

// Count returns the number of active workspaces.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces)
}

// List returns the workspaces ordered by id.
func (r *Registry) List() []Workspace {
	r.mu.RLock()
	out := make([]Workspace, 0, len(r.workspaces))
	for _, w := range r.workspaces {
		out = append(out, *w)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.workspaces))
	for _, w := range r.workspaces {
		if w.Client != nil {
			out = append(out, w.Client)
		}
	}
	return out
}

// The methods below implement companion.Events by fanning out to every
// registered client.

func (r *Registry) OnStarted(port int) {
	for _, c := range r.clients() {
		c.ServerStarted(port)
	}
}

func (r *Registry) OnStopped() {
	for _, c := range r.clients() {
		c.ServerStopped()
	}
}

func (r *Registry) OnError(err error) {
	for _, c := range r.clients() {
		c.ServerError(err)
		c.ServerStopped()
	}
}

func (r *Registry) OnTerminalOutput(text string) {
	for _, c := range r.clients() {
		c.TerminalOutput(text)
	}
}

func (r *Registry) OnTerminalExit(code int) {
	for _, c := range r.clients() {
		c.TerminalExited(code)
	}
}

var _ companion.Events = (*Registry)(nil)
