package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tessro/ngconsole/internal/logging"
)

// readLimit caps one inbound websocket message.
const readLimit = 1 << 20

// RPCPath is where the companion opens its websocket.
const RPCPath = "/rpc"

// Listener is the host's callback endpoint. The companion dials
// ws://127.0.0.1:<Port()>/rpc; the newest connection becomes the
// channel's transport.
type Listener struct {
	log     *slog.Logger
	channel *Channel
	router  *httprouter.Router

	mu sync.Mutex
	// +checklocks:mu
	ln net.Listener
	// +checklocks:mu
	server *http.Server
	// +checklocks:mu
	current *wsTransport
}

// NewListener returns a Listener feeding inbound messages into ch.
func NewListener(ch *Channel) *Listener {
	l := &Listener{
		log:     slog.With("component", "rpc-listener"),
		channel: ch,
		router:  httprouter.New(),
	}
	l.router.GET(RPCPath, l.serveRPC)
	l.router.GET("/healthz", l.healthz)
	return l
}

// Handle mounts an extra handler, e.g. promhttp on /metrics.
// It must be called before Start.
func (l *Listener) Handle(method, path string, h http.Handler) {
	l.router.Handler(method, path, h)
}

// Start binds addr (use port 0 for an ephemeral port) and serves in the background.
func (l *Listener) Start(addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return errors.New("listener already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: l.router}
	l.ln = ln
	l.server = srv

	go func() {
		defer logging.LogPanic("rpc-listener", nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("callback listener stopped", "error", err)
		}
	}()
	l.log.Info("callback listener started", "addr", ln.Addr().String())
	return nil
}

// Port returns the bound TCP port, or 0 before Start.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return 0
	}
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Stop closes the peer connection and shuts the HTTP server down.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv := l.server
	cur := l.current
	l.server = nil
	l.current = nil
	l.mu.Unlock()

	if cur != nil {
		l.channel.ClearTransport(cur)
		cur.conn.Close(websocket.StatusGoingAway, "host stopping")
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (l *Listener) attach(t *wsTransport) {
	l.mu.Lock()
	prev := l.current
	l.current = t
	l.mu.Unlock()

	l.channel.SetTransport(t)
	if prev != nil {
		l.log.Info("replacing peer connection")
		// Close waits on the old peer's handshake; don't hold up the new one.
		go prev.conn.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}
}

func (l *Listener) detach(t *wsTransport) {
	l.mu.Lock()
	if l.current == t {
		l.current = nil
	}
	l.mu.Unlock()
	l.channel.ClearTransport(t)
}

func (l *Listener) serveRPC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		l.log.Debug("error accepting websocket", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)
	l.log.Info("peer connected", "remote", r.RemoteAddr)

	t := &wsTransport{conn: conn}
	l.attach(t)
	defer l.detach(t)

	ctx := r.Context()
	for {
		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			l.log.Info("peer disconnected", "status", websocket.CloseStatus(err))
			return
		}
		if err != nil {
			l.log.Debug("peer read failed", "error", err)
			conn.Close(websocket.StatusInternalError, "read failed")
			return
		}
		if err := l.channel.Deliver(msg); err != nil {
			conn.Close(websocket.StatusGoingAway, "channel closed")
			return
		}
	}
}

func (l *Listener) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"connected": l.channel.Connected(),
	})
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, msg Message) error {
	return wsjson.Write(ctx, t.conn, msg)
}
