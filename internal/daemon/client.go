package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client connects to the ngconsole host over Unix socket.
type Client struct {
	socketPath string

	mu sync.Mutex
	// +checklocks:mu
	conn net.Conn
	// +checklocks:mu
	encoder *json.Encoder
	// +checklocks:mu
	decoder *json.Decoder

	// ioMu serializes request/response cycles on the main connection.
	// Must be acquired AFTER mu if both are needed.
	ioMu sync.Mutex

	// session prefixes request IDs so host logs can tell clients apart.
	session string
	reqID   atomic.Uint64

	// Event streaming via dedicated connection
	eventMu sync.Mutex
	// +checklocks:eventMu
	eventConn net.Conn
	// +checklocks:eventMu
	eventDone chan struct{}
}

// NewClient creates a new daemon client.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	return &Client{
		socketPath: socketPath,
		session:    uuid.NewString()[:8],
	}
}

// ConnectTimeout is the default timeout for connecting to the host.
const ConnectTimeout = 5 * time.Second

// RequestTimeout is the default timeout for request/response operations.
const RequestTimeout = 30 * time.Second

// Connect establishes a connection to the host.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil // Already connected
	}

	conn, err := net.DialTimeout("unix", c.socketPath, ConnectTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	return nil
}

// Close closes the connection to the host.
func (c *Client) Close() error {
	c.StopEventStream()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.encoder = nil
	c.decoder = nil
	return err
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SocketPath returns the socket path this client connects to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// nextID generates the next request ID.
func (c *Client) nextID() string {
	return fmt.Sprintf("%s-%d", c.session, c.reqID.Add(1))
}

// decodePayload decodes the response payload into the given type.
// If payload is nil, returns a pointer to the zero value of T.
func decodePayload[T any](payload any) (*T, error) {
	var result T
	if payload == nil {
		return &result, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &result, nil
}

// Send sends a request and waits for the response.
// On connection errors, the connection is closed so that IsConnected() returns false.
func (c *Client) Send(req *Request) (*Response, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	encoder := c.encoder
	decoder := c.decoder
	c.mu.Unlock()

	if req.ID == "" {
		req.ID = c.nextID()
	}

	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if err := conn.SetDeadline(time.Now().Add(RequestTimeout)); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if err := encoder.Encode(req); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		c.closeConn()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, req.Type)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &resp, nil
}

// closeConn closes the main connection and clears connection state.
// Caller must NOT hold c.mu.
func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.encoder = nil
		c.decoder = nil
	}
}

// call sends a request and decodes a successful response's payload into T.
func call[T any](c *Client, op string, msgType MessageType, payload any) (*T, error) {
	resp, err := c.Send(&Request{Type: msgType, Payload: payload})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, NewServerError(op, resp.Error)
	}
	return decodePayload[T](resp.Payload)
}

// Ping checks host connectivity.
func (c *Client) Ping() (*PingResponse, error) {
	return call[PingResponse](c, "ping", MsgPing, nil)
}

// Shutdown asks the host to close every workspace and exit.
func (c *Client) Shutdown(force bool) error {
	_, err := call[struct{}](c, "shutdown", MsgShutdown, ShutdownRequest{Force: force})
	return err
}

// Status gets the host, companion and workspace status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "status", MsgStatus, nil)
}

// WorkspaceOpen registers the workspace at path, starting the companion if
// it is the first.
func (c *Client) WorkspaceOpen(path, route string) (*WorkspaceOpenResponse, error) {
	return call[WorkspaceOpenResponse](c, "workspace open", MsgWorkspaceOpen,
		WorkspaceOpenRequest{Path: path, Route: route})
}

// WorkspaceClose unregisters the workspace at path.
func (c *Client) WorkspaceClose(path string) error {
	_, err := call[struct{}](c, "workspace close", MsgWorkspaceClose, WorkspaceCloseRequest{Path: path})
	return err
}

// WorkspaceList lists open workspaces.
func (c *Client) WorkspaceList() (*WorkspaceListResponse, error) {
	return call[WorkspaceListResponse](c, "workspace list", MsgWorkspaceList, nil)
}

// WorkspaceRoute points the workspace's view at route.
func (c *Client) WorkspaceRoute(path, route string) (*WorkspaceRouteResponse, error) {
	return call[WorkspaceRouteResponse](c, "workspace route", MsgWorkspaceRoute,
		WorkspaceRouteRequest{Path: path, Route: route})
}

// CloseAll closes every workspace and stops the companion.
func (c *Client) CloseAll() error {
	_, err := call[struct{}](c, "close all", MsgCloseAll, nil)
	return err
}

// EventResult contains either a stream event or an error.
type EventResult struct {
	Event *StreamEvent
	Err   error
}

// StreamEvents opens a dedicated connection, attaches it to the given
// workspaces (all when empty) and returns a channel of events. Events are
// received until an error occurs or StopEventStream is called.
func (c *Client) StreamEvents(workspaces []string) (<-chan EventResult, error) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	// Close any existing event stream
	if c.eventConn != nil {
		c.eventConn.Close()
		if c.eventDone != nil {
			close(c.eventDone)
		}
	}

	conn, err := net.DialTimeout("unix", c.socketPath, ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	req := &Request{
		ID:      c.nextID(),
		Type:    MsgAttach,
		Payload: AttachRequest{Workspaces: workspaces},
	}
	if err := encoder.Encode(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode attach request: %w", err)
	}

	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode attach response: %w", err)
	}
	if !resp.Success {
		conn.Close()
		return nil, NewServerError("attach", resp.Error)
	}

	c.eventConn = conn
	c.eventDone = make(chan struct{})
	done := c.eventDone

	events := make(chan EventResult, 16)

	go func() {
		defer close(events)
		defer conn.Close()

		for {
			var event StreamEvent
			if err := decoder.Decode(&event); err != nil {
				select {
				case <-done:
					// Clean shutdown, don't send error
				case events <- EventResult{Err: fmt.Errorf("decode event: %w", err)}:
				}
				return
			}

			select {
			case <-done:
				return
			case events <- EventResult{Event: &event}:
			}
		}
	}()

	return events, nil
}

// StopEventStream stops the event streaming goroutine and closes the event connection.
func (c *Client) StopEventStream() {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	if c.eventDone != nil {
		close(c.eventDone)
		c.eventDone = nil
	}
	if c.eventConn != nil {
		c.eventConn.Close()
		c.eventConn = nil
	}
}
