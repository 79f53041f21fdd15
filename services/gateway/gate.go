// Package gateway admits backend connections, tracks their lifecycle and
// forwards caller commands to them.
package gateway

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/command-bridge/internal/observability"
	"github.com/upb/command-bridge/models"
	"github.com/upb/command-bridge/services"
	"github.com/upb/command-bridge/services/audit"
	"github.com/upb/command-bridge/services/credentials"
	"github.com/upb/command-bridge/services/sessions"
	"github.com/upb/command-bridge/services/targets"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

// Options configures a Gate.
type Options struct {
	MultiTenant    bool
	CommandTimeout time.Duration
	PingInterval   time.Duration // 0 disables keepalive pings
	WriteTimeout   time.Duration
}

// Gate owns every live backend connection.
type Gate struct {
	opts      Options
	validator credentials.Checker
	registry  *sessions.Registry
	targets   *targets.Store
	recorder  audit.Recorder
	logger    *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool
	wg     sync.WaitGroup

	newID func() string
}

// NewGate creates a Gate and installs itself as the registry's evictor.
func NewGate(opts Options, validator credentials.Checker, registry *sessions.Registry, store *targets.Store, recorder audit.Recorder, logger *zap.Logger) *Gate {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	g := &Gate{
		opts:      opts,
		validator: validator,
		registry:  registry,
		targets:   store,
		recorder:  recorder,
		logger:    logger,
		conns:     make(map[string]*Connection),
		newID:     uuid.NewString,
	}
	registry.SetEvictor(g.evict)
	return g
}

// Admit authenticates a new backend connection and returns its tenant.
// Single-tenant mode admits everyone without a tenant.
func (g *Gate) Admit(ctx context.Context, token string) (string, error) {
	return credentials.ResolveTenant(ctx, g.validator, g.opts.MultiTenant, token)
}

// CloseCodeFor maps an admission error to its close code.
func CloseCodeFor(err error) CloseCode {
	switch {
	case errors.Is(err, services.ErrAuthenticationMissing):
		return CloseTokenMissing
	case errors.Is(err, services.ErrAuthenticationServiceUnavailable):
		return CloseRetryLater
	default:
		return CloseTokenInvalid
	}
}

// Reject closes a transport that failed admission.
func (g *Gate) Reject(t Transport, err error) {
	code := CloseCodeFor(err)
	observability.ConnectionRejectionsTotal.WithLabelValues(strconv.Itoa(int(code))).Inc()
	g.recorder.Record(models.NewConnectionEvent(models.ConnectionEventRejected, "").
		WithReason(services.GetErrorCode(err)).
		WithRemoteAddr(t.RemoteAddr()))

	g.logger.Info("backend connection rejected",
		zap.String("remote_addr", t.RemoteAddr()),
		zap.Int("close_code", int(code)),
		zap.String("reason", services.GetErrorCode(err)))

	_ = t.Close(code, services.GetErrorMessage(err))
}

// ErrGateClosed is returned by Serve once Shutdown has started.
var ErrGateClosed = errors.New("gateway: shutting down")

// Serve runs the message loop for an admitted transport until it disconnects.
// The returned error is the read error that ended the loop.
func (g *Gate) Serve(ctx context.Context, t Transport, tenantID string) error {
	conn := newConnection(g.newID(), tenantID, t)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = t.Close(CloseGoingAway, "server shutting down")
		return ErrGateClosed
	}
	g.conns[conn.ID] = conn
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	observability.BackendConnections.Inc()
	g.recorder.Record(models.NewConnectionEvent(models.ConnectionEventAdmitted, conn.ID).
		WithTenant(tenantID).
		WithRemoteAddr(t.RemoteAddr()))
	g.logger.Info("backend connection admitted",
		zap.String("connection_id", conn.ID),
		zap.String("tenant_id", tenantID),
		zap.String("remote_addr", t.RemoteAddr()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer g.disconnect(conn)

	if g.opts.PingInterval > 0 {
		go g.keepalive(ctx, conn)
	}

	for {
		msg, err := t.Read(ctx)
		if err != nil {
			return err
		}
		g.handle(ctx, conn, msg)
	}
}

func (g *Gate) handle(ctx context.Context, conn *Connection, msg Message) {
	switch msg.Type {
	case TypeRegister:
		g.register(ctx, conn, msg)
	case TypeResult:
		if !conn.resolve(msg) {
			g.logger.Debug("dropping result for unknown command",
				zap.String("connection_id", conn.ID),
				zap.String("command_id", msg.ID))
		}
	case TypePing:
		g.reply(ctx, conn, Message{Type: TypePong, ID: msg.ID})
	case TypePong:
	default:
		g.reply(ctx, conn, Message{Type: TypeError, ID: msg.ID, Error: "unknown message type " + strconv.Quote(string(msg.Type))})
	}
}

func (g *Gate) register(ctx context.Context, conn *Connection, msg Message) {
	if err := utils.ValidateStruct(registerFrame{ResourceKey: msg.ResourceKey}); err != nil {
		g.reply(ctx, conn, Message{Type: TypeError, ID: msg.ID, Error: "register requires a resource_key of at most 256 characters"})
		return
	}
	if !conn.markRegistered(msg.ResourceKey) {
		g.reply(ctx, conn, Message{Type: TypeError, ID: msg.ID, Error: "connection is already registered"})
		return
	}

	evicted := g.registry.Register(conn.ID, msg.ResourceKey, conn.TenantID)

	observability.BackendRegistrationsTotal.WithLabelValues("registered").Inc()
	event := models.NewConnectionEvent(models.ConnectionEventRegistered, conn.ID).
		WithTenant(conn.TenantID).
		WithResourceKey(msg.ResourceKey).
		WithRemoteAddr(conn.transport.RemoteAddr())
	if evicted != "" {
		event.WithDetails(map[string]string{"evicted_connection_id": evicted})
	}
	g.recorder.Record(event)

	g.logger.Info("backend registered",
		zap.String("connection_id", conn.ID),
		zap.String("tenant_id", conn.TenantID),
		zap.String("resource_key", msg.ResourceKey))

	g.reply(ctx, conn, Message{
		Type:         TypeRegistered,
		ID:           msg.ID,
		ConnectionID: conn.ID,
		ResourceKey:  msg.ResourceKey,
	})
}

func (g *Gate) reply(ctx context.Context, conn *Connection, msg Message) {
	wctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
	defer cancel()
	if err := conn.write(wctx, msg); err != nil {
		g.logger.Debug("write to backend failed",
			zap.String("connection_id", conn.ID),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

// evict is the registry's callback for a superseded registration. The notice
// and close run asynchronously so the registering connection is not held up.
func (g *Gate) evict(connID string, key sessions.Key) {
	g.mu.RLock()
	conn := g.conns[connID]
	g.mu.RUnlock()
	if conn == nil || !conn.markEvicted() {
		return
	}

	observability.BackendRegistrationsTotal.WithLabelValues("superseded").Inc()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.opts.WriteTimeout)
		defer cancel()
		_ = conn.write(ctx, Message{
			Type:         TypeEvicted,
			ConnectionID: conn.ID,
			ResourceKey:  key.ResourceKey,
			Error:        "superseded by a newer registration",
		})
		_ = conn.transport.Close(CloseSuperseded, "superseded by a newer registration")
	}()
}

// disconnect removes every trace of conn. It runs once, from Serve.
func (g *Gate) disconnect(conn *Connection) {
	conn.markClosed()

	g.mu.Lock()
	delete(g.conns, conn.ID)
	g.mu.Unlock()

	forgotten := g.targets.Detach(conn.ID, g.registry.Unregister)
	observability.BackendConnections.Dec()

	eventType := models.ConnectionEventDisconnected
	if conn.wasEvicted() {
		eventType = models.ConnectionEventEvicted
	}
	g.recorder.Record(models.NewConnectionEvent(eventType, conn.ID).
		WithTenant(conn.TenantID).
		WithResourceKey(conn.ResourceKey()).
		WithRemoteAddr(conn.transport.RemoteAddr()))

	g.logger.Info("backend connection closed",
		zap.String("connection_id", conn.ID),
		zap.String("tenant_id", conn.TenantID),
		zap.String("resource_key", conn.ResourceKey()),
		zap.Bool("evicted", conn.wasEvicted()),
		zap.Int("selections_cleared", forgotten))
}

func (g *Gate) keepalive(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.closed:
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := conn.transport.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Warn("backend ping failed, closing connection",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
				_ = conn.transport.Close(CloseGoingAway, "ping timeout")
				return
			}
		}
	}
}

// ConnectionCount returns the number of live backend connections.
func (g *Gate) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Connection returns a live connection by id.
func (g *Gate) Connection(connID string) (*Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conn, ok := g.conns[connID]
	return conn, ok
}

// Shutdown closes every backend connection with "going away" and waits for
// their loops to finish or ctx to expire.
func (g *Gate) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Connection, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		go func(c *Connection) { _ = c.transport.Close(CloseGoingAway, "server shutting down") }(conn)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
