// Package sessions holds the directory of registered backend connections.
package sessions

import (
	"sort"
	"sync"

	"github.com/upb/command-bridge/services"
	"go.uber.org/zap"
)

// Key is a registry index key. Tenant is empty in single-tenant mode.
type Key struct {
	TenantID    string
	ResourceKey string
}

// Entry is one live registration.
type Entry struct {
	ConnectionID string `json:"connection_id"`
	ResourceKey  string `json:"resource_key"`
	TenantID     string `json:"tenant_id,omitempty"`
}

// Evictor is signalled when a registration is superseded. It runs outside
// the registry lock and must not block.
type Evictor func(connID string, key Key)

// Registry maps (tenant, resource key) to a live connection id, with a
// reverse index for constant-time cleanup on disconnect.
type Registry struct {
	mu          sync.RWMutex
	multiTenant bool
	byKey       map[Key]string
	byConn      map[string]Key
	onEvict     Evictor
	logger      *zap.Logger
}

// NewRegistry creates an empty registry. onEvict may be nil.
func NewRegistry(multiTenant bool, onEvict Evictor, logger *zap.Logger) *Registry {
	return &Registry{
		multiTenant: multiTenant,
		byKey:       make(map[Key]string),
		byConn:      make(map[string]Key),
		onEvict:     onEvict,
		logger:      logger,
	}
}

// SetEvictor replaces the eviction callback. Call before serving traffic.
func (r *Registry) SetEvictor(onEvict Evictor) {
	r.mu.Lock()
	r.onEvict = onEvict
	r.mu.Unlock()
}

// Register maps connID under (tenantID, resourceKey). A previous holder of
// the same key is evicted and its id returned.
func (r *Registry) Register(connID, resourceKey, tenantID string) (evicted string) {
	key := Key{TenantID: tenantID, ResourceKey: resourceKey}

	r.mu.Lock()
	// A connection re-registering under a new key drops its old mapping.
	if old, ok := r.byConn[connID]; ok && old != key {
		if r.byKey[old] == connID {
			delete(r.byKey, old)
		}
	}
	if prev, ok := r.byKey[key]; ok && prev != connID {
		evicted = prev
		delete(r.byConn, prev)
	}
	r.byKey[key] = connID
	r.byConn[connID] = key
	onEvict := r.onEvict
	r.mu.Unlock()

	if evicted != "" {
		r.logger.Info("registration superseded",
			zap.String("evicted_connection_id", evicted),
			zap.String("connection_id", connID),
			zap.String("resource_key", resourceKey),
			zap.String("tenant_id", tenantID))
		if onEvict != nil {
			onEvict(evicted, key)
		}
	}
	return evicted
}

// GetConnection returns the connection registered under (tenantID, resourceKey).
func (r *Registry) GetConnection(resourceKey, tenantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byKey[Key{TenantID: tenantID, ResourceKey: resourceKey}]
	return connID, ok
}

// Lookup returns the key a connection is registered under.
func (r *Registry) Lookup(connID string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byConn[connID]
	return key, ok
}

// IsLive reports whether connID currently holds a registration.
func (r *Registry) IsLive(connID string) bool {
	_, ok := r.Lookup(connID)
	return ok
}

// ListConnections enumerates registrations. In multi-tenant mode a tenant is
// mandatory; in single-tenant mode it must be empty.
func (r *Registry) ListConnections(tenantID string) ([]Entry, error) {
	if r.multiTenant && tenantID == "" {
		return nil, services.Configurationf("listing connections requires a tenant in multi-tenant mode")
	}
	if !r.multiTenant && tenantID != "" {
		return nil, services.Configurationf("listing connections by tenant is not supported in single-tenant mode")
	}

	r.mu.RLock()
	entries := make([]Entry, 0, len(r.byKey))
	for key, connID := range r.byKey {
		if r.multiTenant && key.TenantID != tenantID {
			continue
		}
		entries = append(entries, Entry{ConnectionID: connID, ResourceKey: key.ResourceKey, TenantID: key.TenantID})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ResourceKey < entries[j].ResourceKey })
	return entries, nil
}

// Count returns the number of live registrations across all tenants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// Sole returns the only registered connection when exactly one exists.
func (r *Registry) Sole() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.byKey) != 1 {
		return Entry{}, false
	}
	for key, connID := range r.byKey {
		return Entry{ConnectionID: connID, ResourceKey: key.ResourceKey, TenantID: key.TenantID}, true
	}
	return Entry{}, false
}

// Unregister removes connID. The index entry is only removed while it still
// points at connID, so a superseded connection never unmaps its successor.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byConn[connID]
	if !ok {
		return false
	}
	delete(r.byConn, connID)
	if r.byKey[key] == connID {
		delete(r.byKey, key)
	}
	return true
}
