package rpc

import (
	"context"
	"fmt"
	"sync"
)

// CommandFunc handles one command.
type CommandFunc func(ctx context.Context, msg Message) error

// CommandMux is a Handler that picks a function by command name.
type CommandMux struct {
	mu       sync.RWMutex
	commands map[string]CommandFunc
}

// NewCommandMux returns an empty mux.
func NewCommandMux() *CommandMux {
	return &CommandMux{commands: make(map[string]CommandFunc)}
}

// Handle registers fn for command, replacing any previous function.
func (m *CommandMux) Handle(command string, fn CommandFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[command] = fn
}

// HandleCommand implements Handler.
func (m *CommandMux) HandleCommand(ctx context.Context, msg Message) error {
	m.mu.RLock()
	fn, ok := m.commands[msg.Command]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, msg.Command)
	}
	return fn(ctx, msg)
}
