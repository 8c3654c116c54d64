package host

import (
	"context"

	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/workspace"
)

// handleAttach subscribes a client to stream events.
func (a *App) handleAttach(ctx context.Context, req *daemon.Request) *daemon.Response {
	var attachReq daemon.AttachRequest
	if err := unmarshalPayload(req.Payload, &attachReq); err != nil {
		return errorResponse(req, "invalid payload: "+err.Error())
	}

	conn := daemon.ConnFromContext(ctx)
	srv := daemon.ServerFromContext(ctx)
	encoder := daemon.EncoderFromContext(ctx)
	writeMu := daemon.WriteMuFromContext(ctx)

	if conn == nil || srv == nil || encoder == nil || writeMu == nil {
		return errorResponse(req, "internal error: missing connection context")
	}

	// Events are tagged with normalized ids; accept whatever path the
	// client used.
	filter := make([]string, 0, len(attachReq.Workspaces))
	for _, p := range attachReq.Workspaces {
		id, err := workspace.NormalizeID(p)
		if err != nil {
			return errorResponse(req, "invalid workspace path: "+err.Error())
		}
		filter = append(filter, id)
	}

	srv.Attach(conn, filter, encoder, writeMu)
	return successResponse(req, nil)
}

// handleDetach unsubscribes a client from stream events.
func (a *App) handleDetach(ctx context.Context, req *daemon.Request) *daemon.Response {
	conn := daemon.ConnFromContext(ctx)
	srv := daemon.ServerFromContext(ctx)

	if conn == nil || srv == nil {
		return errorResponse(req, "internal error: missing connection context")
	}

	srv.Detach(conn)
	return successResponse(req, nil)
}
