package gateway

import (
	"context"
	"sync"
)

// State is a backend connection's position in its lifecycle.
//
// StateConnecting covers the upgrade and admission check. A Connection is
// only built once Admit succeeds, so a live Connection starts at
// StateAuthenticated; a transport that fails admission goes straight to its
// close code through Gate.Reject without ever becoming a Connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one admitted backend connection.
type Connection struct {
	ID       string
	TenantID string

	transport Transport

	mu          sync.Mutex
	state       State
	resourceKey string
	evicted     bool
	pending     map[string]chan Message

	closed    chan struct{}
	closeOnce sync.Once
}

func newConnection(id, tenantID string, transport Transport) *Connection {
	return &Connection{
		ID:        id,
		TenantID:  tenantID,
		transport: transport,
		state:     StateAuthenticated,
		pending:   make(map[string]chan Message),
		closed:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ResourceKey returns the registered resource key, empty before registration.
func (c *Connection) ResourceKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resourceKey
}

// markRegistered moves Authenticated -> Registered. It reports false if the
// connection was already registered or is closed.
func (c *Connection) markRegistered(resourceKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return false
	}
	c.state = StateRegistered
	c.resourceKey = resourceKey
	return true
}

func (c *Connection) markEvicted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted || c.state == StateClosed {
		return false
	}
	c.evicted = true
	return true
}

func (c *Connection) wasEvicted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *Connection) addPending(id string) (chan Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, false
	}
	ch := make(chan Message, 1)
	c.pending[id] = ch
	return ch, true
}

func (c *Connection) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve delivers a result frame to its waiter. Late or unknown ids are dropped.
func (c *Connection) resolve(msg Message) bool {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// markClosed transitions to Closed and wakes every waiter.
func (c *Connection) markClosed() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.pending = make(map[string]chan Message)
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *Connection) write(ctx context.Context, msg Message) error {
	return c.transport.Write(ctx, msg)
}
