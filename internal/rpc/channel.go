package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tessro/ngconsole/internal/logging"
)

var (
	// ErrUnknownCommand is returned by handlers for commands they do not
	// implement. The channel logs it as a warning and moves on.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNoTransport means no peer connection is attached.
	ErrNoTransport = errors.New("rpc transport unavailable")

	// ErrClosed is returned by Deliver after Close.
	ErrClosed = errors.New("rpc channel closed")
)

// DefaultSendTimeout bounds a single outbound write.
const DefaultSendTimeout = 5 * time.Second

// Transport carries outbound messages to the peer.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Handler receives inbound messages for one domain.
type Handler interface {
	HandleCommand(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) HandleCommand(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Channel routes inbound messages to per-domain handlers and sends outbound
// messages over whichever transport is currently attached.
//
// Inbound messages are queued and handled one at a time by a single
// goroutine, in arrival order, so handlers never run concurrently.
type Channel struct {
	log         *slog.Logger
	sendTimeout time.Duration

	mu sync.Mutex
	// +checklocks:mu
	handlers map[string]Handler
	// +checklocks:mu
	transport Transport
	// +checklocks:mu
	pending []Message
	// +checklocks:mu
	closed bool
	// +checklocks:mu
	started bool

	// sendMu keeps outbound writes in call order.
	sendMu sync.Mutex

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel returns a Channel. Call Start to begin dispatching.
func NewChannel() *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		log:         slog.With("component", "rpc"),
		sendTimeout: DefaultSendTimeout,
		handlers:    make(map[string]Handler),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// RegisterDomain installs h for domain, replacing any previous handler.
func (c *Channel) RegisterDomain(domain string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[domain]; ok {
		c.log.Debug("replacing domain handler", "domain", domain)
	}
	c.handlers[domain] = h
}

// UnregisterDomain removes the handler for domain, if any.
func (c *Channel) UnregisterDomain(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, domain)
}

// HasDomain reports whether a handler is installed for domain.
func (c *Channel) HasDomain(domain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[domain]
	return ok
}

// SetTransport attaches t as the outbound transport.
func (c *Channel) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// ClearTransport detaches t if it is still the current transport.
func (c *Channel) ClearTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == t {
		c.transport = nil
	}
}

// Connected reports whether a transport is attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// Send writes a command to the peer. Delivery is best effort: with no
// transport, or on a write error, the message is dropped and logged.
func (c *Channel) Send(domain, command string, args ...any) {
	msg := Message{Domain: domain, Command: command, Args: args}
	if err := c.send(msg); err != nil {
		if errors.Is(err, ErrNoTransport) {
			c.log.Warn("dropping outbound message", "message", msg.String(), "error", err)
			return
		}
		c.log.Error("outbound message failed", "message", msg.String(), "error", err)
	}
}

func (c *Channel) send(msg Message) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrNoTransport
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, c.sendTimeout)
	defer cancel()
	if err := t.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.String(), err)
	}
	return nil
}

// Deliver queues an inbound message for dispatch. It never blocks on handlers.
func (c *Channel) Deliver(msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending = append(c.pending, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the dispatch goroutine. Calling it again is a no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.dispatchLoop()
}

// Close stops dispatching and drops queued messages. It waits for the
// handler currently running, if any, to return.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if started {
		<-c.done
	}
}

func (c *Channel) dispatchLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		for {
			msg, ok := c.next()
			if !ok {
				break
			}
			c.dispatch(msg)
		}
	}
}

func (c *Channel) next() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.pending) == 0 {
		return Message{}, false
	}
	msg := c.pending[0]
	c.pending[0] = Message{}
	c.pending = c.pending[1:]
	return msg, true
}

func (c *Channel) dispatch(msg Message) {
	defer logging.LogPanic("rpc-dispatch", nil)

	c.mu.Lock()
	h, ok := c.handlers[msg.Domain]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("no handler for domain", "domain", msg.Domain, "command", msg.Command)
		return
	}

	err := h.HandleCommand(c.ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownCommand):
		c.log.Warn("ignoring unknown command", "domain", msg.Domain, "command", msg.Command)
	default:
		c.log.Error("command failed", "domain", msg.Domain, "command", msg.Command, "error", err)
	}
}
