package host

import (
	"context"
	"log/slog"

	"github.com/tessro/ngconsole/internal/daemon"
)

// Handle implements daemon.Handler.
func (a *App) Handle(ctx context.Context, req *daemon.Request) *daemon.Response {
	slog.Debug("host handling request", "type", req.Type)
	switch req.Type {
	// Host management
	case daemon.MsgPing:
		return a.handlePing(ctx, req)
	case daemon.MsgShutdown:
		return a.handleShutdown(ctx, req)
	case daemon.MsgStatus:
		return a.handleStatus(ctx, req)

	// Workspace management
	case daemon.MsgWorkspaceOpen:
		return a.handleWorkspaceOpen(ctx, req)
	case daemon.MsgWorkspaceClose:
		return a.handleWorkspaceClose(ctx, req)
	case daemon.MsgWorkspaceList:
		return a.handleWorkspaceList(ctx, req)
	case daemon.MsgWorkspaceRoute:
		return a.handleWorkspaceRoute(ctx, req)
	case daemon.MsgCloseAll:
		return a.handleCloseAll(ctx, req)

	// Streaming
	case daemon.MsgAttach:
		return a.handleAttach(ctx, req)
	case daemon.MsgDetach:
		return a.handleDetach(ctx, req)

	default:
		return errorResponse(req, "unknown message type: "+string(req.Type))
	}
}

var _ daemon.Handler = (*App)(nil)
