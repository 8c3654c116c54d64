// Package daemon provides the ngconsole control socket and its IPC protocol.
package daemon

import "time"

// MessageType identifies the type of IPC message.
type MessageType string

const (
	// Host management
	MsgPing     MessageType = "ping"
	MsgShutdown MessageType = "shutdown"
	MsgStatus   MessageType = "status"

	// Workspace management
	MsgWorkspaceOpen  MessageType = "workspace.open"
	MsgWorkspaceClose MessageType = "workspace.close"
	MsgWorkspaceList  MessageType = "workspace.list"
	MsgWorkspaceRoute MessageType = "workspace.route"
	MsgCloseAll       MessageType = "close_all"

	// Streaming
	MsgAttach MessageType = "attach" // Subscribe to workspace events
	MsgDetach MessageType = "detach" // Unsubscribe from events
)

// Request is the envelope for all IPC requests.
type Request struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`      // Optional request ID for correlation
	Payload any         `json:"payload,omitempty"` // Type-specific payload
}

// Response is the envelope for all IPC responses.
type Response struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"` // Correlates with request ID
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Payload any         `json:"payload,omitempty"` // Type-specific payload
}

// PingResponse is the payload for ping responses.
type PingResponse struct {
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
}

// ShutdownRequest is the payload for shutdown requests.
type ShutdownRequest struct {
	Force bool `json:"force,omitempty"` // Kill the companion without waiting for it
}

// StatusResponse is the payload for status responses.
type StatusResponse struct {
	Daemon     DaemonStatus    `json:"daemon" yaml:"daemon"`
	Server     ServerStatus    `json:"server" yaml:"server"`
	Workspaces []WorkspaceInfo `json:"workspaces" yaml:"workspaces"`
}

// DaemonStatus contains host health info.
type DaemonStatus struct {
	Running      bool      `json:"running" yaml:"running"`
	PID          int       `json:"pid" yaml:"pid"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	Version      string    `json:"version" yaml:"version"`
	Socket       string    `json:"socket" yaml:"socket"`
	CallbackPort int       `json:"callback_port" yaml:"callback_port"` // Port the companion calls back on
	Attached     int       `json:"attached" yaml:"attached"`
}

// ServerStatus describes the companion server.
type ServerStatus struct {
	State           string    `json:"state" yaml:"state"`
	PID             int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	PeerPort        int       `json:"peer_port,omitempty" yaml:"peer_port,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	LastError       string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	TerminalSession string    `json:"terminal_session,omitempty" yaml:"terminal_session,omitempty"`
}

// WorkspaceInfo describes one open workspace.
type WorkspaceInfo struct {
	Path         string    `json:"path" yaml:"path"`
	Route        string    `json:"route" yaml:"route"`
	URL          string    `json:"url,omitempty" yaml:"url,omitempty"` // Empty until the companion is up
	RegisteredAt time.Time `json:"registered_at" yaml:"registered_at"`
}

// WorkspaceOpenRequest is the payload for workspace.open requests.
type WorkspaceOpenRequest struct {
	Path  string `json:"path"`
	Route string `json:"route,omitempty"` // Default: generate
}

// WorkspaceOpenResponse is the payload for workspace.open responses.
type WorkspaceOpenResponse struct {
	Workspace WorkspaceInfo `json:"workspace"`
	State     string        `json:"state"` // Companion state after the open
}

// WorkspaceCloseRequest is the payload for workspace.close requests.
type WorkspaceCloseRequest struct {
	Path string `json:"path"`
}

// WorkspaceListResponse is the payload for workspace.list responses.
type WorkspaceListResponse struct {
	Workspaces []WorkspaceInfo `json:"workspaces"`
}

// WorkspaceRouteRequest is the payload for workspace.route requests.
type WorkspaceRouteRequest struct {
	Path  string `json:"path"`
	Route string `json:"route"`
}

// WorkspaceRouteResponse is the payload for workspace.route responses.
type WorkspaceRouteResponse struct {
	Workspace WorkspaceInfo `json:"workspace"`
}

// AttachRequest is the payload for attach requests.
type AttachRequest struct {
	Workspaces []string `json:"workspaces,omitempty"` // Filter by workspace path, empty = all
}

// Stream event types.
const (
	EventServerStarted  = "server.started"
	EventServerStopped  = "server.stopped"
	EventServerError    = "server.error"
	EventRoute          = "route"
	EventRouteHidden    = "route.hidden"
	EventTerminalOutput = "terminal.output"
	EventTerminalExit   = "terminal.exit"
)

// StreamEvent is sent to attached clients on behalf of one workspace.
type StreamEvent struct {
	Type      string `json:"type"`
	Workspace string `json:"workspace"`
	Port      int    `json:"port,omitempty"`  // server.started
	URL       string `json:"url,omitempty"`   // route
	Error     string `json:"error,omitempty"` // server.error
	Data      string `json:"data,omitempty"`  // terminal.output
	Code      *int   `json:"code,omitempty"`  // terminal.exit
}
