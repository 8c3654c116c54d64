package route

import (
	"log/slog"
	"sync"
)

// Viewer displays companion pages for one workspace.
type Viewer interface {
	Show(url string)
	Hide()
}

// Coordinator keeps a workspace's Viewer in step with the companion. It
// implements workspace.Client; terminal events are ignored here.
type Coordinator struct {
	path   string
	viewer Viewer
	log    *slog.Logger

	mu sync.Mutex
	// +checklocks:mu
	route Route
	// +checklocks:mu
	port int
}

// NewCoordinator returns a coordinator for the workspace at path, showing
// initial once the companion is up. An empty initial means Default.
func NewCoordinator(path string, initial Route, viewer Viewer) *Coordinator {
	if initial == "" {
		initial = Default
	}
	return &Coordinator{
		path:   path,
		viewer: viewer,
		log:    slog.With("component", "route", "workspace", path),
		route:  initial,
		port:   -1,
	}
}

// Route returns the current route.
func (c *Coordinator) Route() Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.route
}

// URL returns the page currently shown, or "" while the companion is down.
func (c *Coordinator) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port < 0 {
		return ""
	}
	u, err := URL(c.route, c.port, c.path)
	if err != nil {
		return ""
	}
	return u
}

// ChangeRoute switches to r. The viewer navigates immediately if the
// companion is running; otherwise r is shown once it starts. Unmapped
// routes are rejected and leave the current route in place.
func (c *Coordinator) ChangeRoute(r Route) (string, error) {
	c.mu.Lock()
	if !r.Mapped() {
		c.mu.Unlock()
		_, err := URL(r, 0, c.path)
		return "", err
	}
	c.route = r
	port := c.port
	c.mu.Unlock()

	if port < 0 {
		c.log.Debug("route queued until companion starts", "route", r)
		return "", nil
	}
	return c.show(r, port), nil
}

func (c *Coordinator) show(r Route, port int) string {
	u, err := URL(r, port, c.path)
	if err != nil {
		c.log.Warn("cannot show route", "route", r, "error", err)
		c.viewer.Hide()
		return ""
	}
	c.log.Info("switching to new url", "url", u)
	c.viewer.Show(u)
	return u
}

func (c *Coordinator) ServerStarted(port int) {
	c.mu.Lock()
	c.port = port
	r := c.route
	c.mu.Unlock()
	c.show(r, port)
}

func (c *Coordinator) ServerStopped() {
	c.mu.Lock()
	was := c.port
	c.port = -1
	c.mu.Unlock()
	if was >= 0 {
		c.viewer.Hide()
	}
}

func (c *Coordinator) ServerError(err error) {
	c.log.Warn("companion error", "error", err)
}

func (c *Coordinator) TerminalOutput(string) {}

func (c *Coordinator) TerminalExited(int) {}
