package host

import (
	"context"
	"strings"

	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/route"
	"github.com/tessro/ngconsole/internal/workspace"
)

// handleWorkspaceOpen registers a workspace, starting the companion if it
// is the first one.
func (a *App) handleWorkspaceOpen(_ context.Context, req *daemon.Request) *daemon.Response {
	var openReq daemon.WorkspaceOpenRequest
	if err := unmarshalPayload(req.Payload, &openReq); err != nil {
		return errorResponse(req, "invalid payload: "+err.Error())
	}
	if strings.TrimSpace(openReq.Path) == "" {
		return errorResponse(req, "path is required")
	}

	id, err := workspace.NormalizeID(openReq.Path)
	if err != nil {
		return errorResponse(req, "invalid workspace path: "+err.Error())
	}

	initial := route.Default
	if openReq.Route != "" {
		initial, err = route.Parse(openReq.Route)
		if err != nil {
			return errorResponse(req, err.Error())
		}
	}
	if !initial.Mapped() {
		return errorResponse(req, route.ErrUnmappedRoute.Error()+": "+string(initial))
	}

	a.wsMu.Lock()
	defer a.wsMu.Unlock()

	if _, err := a.registry.Get(id); err == nil {
		// Re-registering restarts a companion that failed after the
		// first open; the existing client and route are kept.
		a.log.Info("workspace already open", "workspace", id)
		if err := a.registry.Register(id, nil); err != nil {
			return errorResponse(req, err.Error())
		}
		return successResponse(req, daemon.WorkspaceOpenResponse{
			Workspace: a.workspaceInfo(id),
			State:     string(a.sup.State()),
		})
	}

	client := newWorkspaceClient(a, id, initial)
	// Stored first: Register may report the running server synchronously.
	a.mu.Lock()
	a.coordinators[id] = client.Coordinator
	a.mu.Unlock()

	if err := a.registry.Register(id, client); err != nil {
		a.mu.Lock()
		delete(a.coordinators, id)
		a.mu.Unlock()
		return errorResponse(req, err.Error())
	}

	return successResponse(req, daemon.WorkspaceOpenResponse{
		Workspace: a.workspaceInfo(id),
		State:     string(a.sup.State()),
	})
}

// handleWorkspaceClose unregisters a workspace; the last one out stops the
// companion.
func (a *App) handleWorkspaceClose(_ context.Context, req *daemon.Request) *daemon.Response {
	var closeReq daemon.WorkspaceCloseRequest
	if err := unmarshalPayload(req.Payload, &closeReq); err != nil {
		return errorResponse(req, "invalid payload: "+err.Error())
	}
	id, err := workspace.NormalizeID(closeReq.Path)
	if err != nil || strings.TrimSpace(closeReq.Path) == "" {
		return errorResponse(req, "invalid workspace path")
	}

	a.wsMu.Lock()
	defer a.wsMu.Unlock()

	if _, err := a.registry.Get(id); err != nil {
		return errorResponse(req, err.Error())
	}
	a.registry.Unregister(id)
	a.mu.Lock()
	delete(a.coordinators, id)
	a.mu.Unlock()
	return successResponse(req, nil)
}

// handleWorkspaceList lists open workspaces.
func (a *App) handleWorkspaceList(_ context.Context, req *daemon.Request) *daemon.Response {
	return successResponse(req, daemon.WorkspaceListResponse{Workspaces: a.workspaceInfos()})
}

// handleWorkspaceRoute points a workspace at another page.
func (a *App) handleWorkspaceRoute(_ context.Context, req *daemon.Request) *daemon.Response {
	var routeReq daemon.WorkspaceRouteRequest
	if err := unmarshalPayload(req.Payload, &routeReq); err != nil {
		return errorResponse(req, "invalid payload: "+err.Error())
	}
	id, err := workspace.NormalizeID(routeReq.Path)
	if err != nil || strings.TrimSpace(routeReq.Path) == "" {
		return errorResponse(req, "invalid workspace path")
	}
	r, err := route.Parse(routeReq.Route)
	if err != nil {
		return errorResponse(req, err.Error())
	}

	a.wsMu.Lock()
	defer a.wsMu.Unlock()

	a.mu.Lock()
	coord, ok := a.coordinators[id]
	a.mu.Unlock()
	if !ok {
		return errorResponse(req, workspace.ErrNotFound.Error()+": "+id)
	}

	if _, err := coord.ChangeRoute(r); err != nil {
		return errorResponse(req, err.Error())
	}
	return successResponse(req, daemon.WorkspaceRouteResponse{Workspace: a.workspaceInfo(id)})
}

// workspaceInfos describes every registered workspace, ordered by path.
func (a *App) workspaceInfos() []daemon.WorkspaceInfo {
	list := a.registry.List()
	out := make([]daemon.WorkspaceInfo, 0, len(list))
	for _, ws := range list {
		out = append(out, a.describe(ws))
	}
	return out
}

func (a *App) workspaceInfo(id string) daemon.WorkspaceInfo {
	ws, err := a.registry.Get(id)
	if err != nil {
		return daemon.WorkspaceInfo{Path: id}
	}
	return a.describe(ws)
}

func (a *App) describe(ws workspace.Workspace) daemon.WorkspaceInfo {
	info := daemon.WorkspaceInfo{Path: ws.ID, RegisteredAt: ws.RegisteredAt}
	a.mu.Lock()
	coord := a.coordinators[ws.ID]
	a.mu.Unlock()
	if coord != nil {
		info.Route = string(coord.Route())
		info.URL = coord.URL()
	}
	return info
}
