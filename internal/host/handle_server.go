package host

import (
	"context"
	"os"
	"time"

	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/version"
)

// handlePing responds to ping requests.
func (a *App) handlePing(_ context.Context, req *daemon.Request) *daemon.Response {
	return successResponse(req, daemon.PingResponse{
		Version:   version.Version,
		Uptime:    time.Since(a.startedAt).Round(time.Second).String(),
		StartedAt: a.startedAt,
	})
}

// handleShutdown asks the serve loop to exit. The response goes out before
// anything is torn down.
func (a *App) handleShutdown(_ context.Context, req *daemon.Request) *daemon.Response {
	var shutdownReq daemon.ShutdownRequest
	if err := unmarshalPayload(req.Payload, &shutdownReq); err != nil {
		// Treat a bad payload as the default (graceful).
		shutdownReq = daemon.ShutdownRequest{}
	}
	a.requestShutdown(shutdownReq.Force)
	return successResponse(req, nil)
}

// handleStatus reports the host, the companion and every open workspace.
func (a *App) handleStatus(_ context.Context, req *daemon.Request) *daemon.Response {
	st := a.sup.Status()
	return successResponse(req, daemon.StatusResponse{
		Daemon: daemon.DaemonStatus{
			Running:      true,
			PID:          os.Getpid(),
			StartedAt:    a.startedAt,
			Version:      version.Version,
			Socket:       a.server.SocketPath(),
			CallbackPort: a.listener.Port(),
			Attached:     a.server.AttachedCount(),
		},
		Server: daemon.ServerStatus{
			State:           string(st.State),
			PID:             st.PID,
			PeerPort:        st.PeerPort,
			StartedAt:       st.StartedAt,
			LastError:       st.LastError,
			TerminalSession: st.Terminal,
		},
		Workspaces: a.workspaceInfos(),
	})
}

// handleCloseAll closes every workspace and stops the companion.
func (a *App) handleCloseAll(_ context.Context, req *daemon.Request) *daemon.Response {
	a.wsMu.Lock()
	defer a.wsMu.Unlock()

	a.registry.CloseAll()
	a.mu.Lock()
	clear(a.coordinators)
	a.mu.Unlock()
	return successResponse(req, nil)
}
