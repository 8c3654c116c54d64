package host

import (
	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/route"
	"github.com/tessro/ngconsole/internal/workspace"
)

// streamViewer turns a coordinator's Show/Hide into route events for one
// workspace.
type streamViewer struct {
	app  *App
	path string
}

func (v streamViewer) Show(url string) {
	v.app.events.Emit(&daemon.StreamEvent{Type: daemon.EventRoute, Workspace: v.path, URL: url})
}

func (v streamViewer) Hide() {
	v.app.events.Emit(&daemon.StreamEvent{Type: daemon.EventRouteHidden, Workspace: v.path})
}

// workspaceClient is what the registry notifies for one open workspace. It
// publishes the lifecycle as stream events and keeps the route in step.
type workspaceClient struct {
	*route.Coordinator
	app  *App
	path string
}

func newWorkspaceClient(app *App, path string, initial route.Route) *workspaceClient {
	return &workspaceClient{
		Coordinator: route.NewCoordinator(path, initial, streamViewer{app: app, path: path}),
		app:         app,
		path:        path,
	}
}

func (c *workspaceClient) emit(ev *daemon.StreamEvent) {
	ev.Workspace = c.path
	c.app.events.Emit(ev)
}

func (c *workspaceClient) ServerStarted(port int) {
	c.emit(&daemon.StreamEvent{Type: daemon.EventServerStarted, Port: port})
	c.Coordinator.ServerStarted(port)
}

func (c *workspaceClient) ServerStopped() {
	c.emit(&daemon.StreamEvent{Type: daemon.EventServerStopped})
	c.Coordinator.ServerStopped()
}

func (c *workspaceClient) ServerError(err error) {
	c.emit(&daemon.StreamEvent{Type: daemon.EventServerError, Error: err.Error()})
	c.Coordinator.ServerError(err)
}

func (c *workspaceClient) TerminalOutput(text string) {
	c.emit(&daemon.StreamEvent{Type: daemon.EventTerminalOutput, Data: text})
}

func (c *workspaceClient) TerminalExited(code int) {
	c.emit(&daemon.StreamEvent{Type: daemon.EventTerminalExit, Code: &code})
}

var _ workspace.Client = (*workspaceClient)(nil)
